// Package github fetches repositories from the GitHub REST API as external project records.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/hylla/mcpcc/internal/adapters/source/httpsource"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultAPIBaseURL is the public GitHub REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com"

// defaultLanguageConcurrency bounds parallel language lookups when none is configured.
const defaultLanguageConcurrency = 4

// pageSize is the GitHub maximum for repository listings.
const pageSize = 100

// maxPages stops runaway pagination on a misbehaving server.
const maxPages = 100

// LanguageTagPrefix prefixes tags derived from repository languages.
const LanguageTagPrefix = "lang:"

// Config holds GitHub source settings.
type Config struct {
	Token               string
	User                string
	APIBaseURL          string
	IncludeLanguages    bool
	LanguageConcurrency int
	HTTPClient          *http.Client
}

// Source lists repositories for the authenticated user, or for Config.User when set.
type Source struct {
	cfg    Config
	client *httpsource.Client
}

// New constructs a GitHub source.
func New(cfg Config) *Source {
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.LanguageConcurrency <= 0 {
		cfg.LanguageConcurrency = defaultLanguageConcurrency
	}
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github.v3+json")
	headers.Set("X-GitHub-Api-Version", "2022-11-28")
	if cfg.Token != "" {
		headers.Set("Authorization", "token "+cfg.Token)
	}
	return &Source{cfg: cfg, client: httpsource.New("github", cfg.HTTPClient, headers)}
}

// Describe reports source status. The source is enabled only when a token is configured.
func (s *Source) Describe() app.SourceInfo {
	return app.SourceInfo{
		Name:           "github",
		Kind:           "github",
		Endpoint:       s.listURL(),
		Enabled:        s.cfg.Token != "",
		HasCredentials: s.cfg.Token != "",
	}
}

// repository is the subset of the GitHub repository payload mapped into records.
type repository struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	HTMLURL       string   `json:"html_url"`
	Description   *string  `json:"description"`
	Language      *string  `json:"language"`
	Topics        []string `json:"topics"`
	Stars         int      `json:"stargazers_count"`
	Private       bool     `json:"private"`
	Fork          bool     `json:"fork"`
	Archived      bool     `json:"archived"`
	DefaultBranch string   `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// FetchAll lists every repository page and maps each repository to one record.
// Any failed request fails the whole fetch so callers never see a partial listing.
func (s *Source) FetchAll(ctx context.Context) ([]domain.ExternalRecord, error) {
	if s.cfg.Token == "" {
		return nil, fmt.Errorf("github token not configured: %w", app.ErrSourceUnavailable)
	}
	repos, err := s.listRepositories(ctx)
	if err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, err)
	}

	var languages [][]string
	if s.cfg.IncludeLanguages {
		languages, err = s.fetchLanguages(ctx, repos)
		if err != nil {
			return nil, errors.Join(app.ErrSourceUnavailable, err)
		}
	}

	out := make([]domain.ExternalRecord, 0, len(repos))
	for i, repo := range repos {
		var langs []string
		if languages != nil {
			langs = languages[i]
		}
		out = append(out, toRecord(repo, langs))
	}
	return out, nil
}

// listRepositories follows Link rel="next" until the listing is exhausted.
func (s *Source) listRepositories(ctx context.Context) ([]repository, error) {
	next := s.listURL() + "?per_page=" + strconv.Itoa(pageSize)
	var out []repository
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("github pagination exceeded %d pages", maxPages)
		}
		var batch []repository
		headers, err := s.client.GetJSON(ctx, next, &batch)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		next = nextPageURL(headers.Get("Link"))
	}
	return out, nil
}

// fetchLanguages looks up languages for every repository with bounded concurrency.
// Results are indexed like repos and sorted by bytes of code, largest first.
func (s *Source) fetchLanguages(ctx context.Context, repos []repository) ([][]string, error) {
	out := make([][]string, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.LanguageConcurrency)
	for i, repo := range repos {
		owner, name := repo.Owner.Login, repo.Name
		if owner == "" || name == "" {
			continue
		}
		g.Go(func() error {
			endpoint := fmt.Sprintf("%s/repos/%s/%s/languages", s.cfg.APIBaseURL, url.PathEscape(owner), url.PathEscape(name))
			var bytesByLang map[string]int64
			if _, err := s.client.GetJSON(gctx, endpoint, &bytesByLang); err != nil {
				return err
			}
			out[i] = rankLanguages(bytesByLang)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// listURL returns the repository listing endpoint without query parameters.
func (s *Source) listURL() string {
	if s.cfg.User != "" {
		return fmt.Sprintf("%s/users/%s/repos", s.cfg.APIBaseURL, url.PathEscape(s.cfg.User))
	}
	return s.cfg.APIBaseURL + "/user/repos"
}

// toRecord maps one repository and its languages into an external record.
func toRecord(repo repository, languages []string) domain.ExternalRecord {
	tags := slices.Clone(repo.Topics)
	for _, lang := range languages {
		tags = append(tags, LanguageTagPrefix+strings.ToLower(lang))
	}
	meta := map[string]any{
		"full_name":      repo.FullName,
		"owner":          repo.Owner.Login,
		"stars":          repo.Stars,
		"private":        repo.Private,
		"fork":           repo.Fork,
		"archived":       repo.Archived,
		"default_branch": repo.DefaultBranch,
	}
	if repo.Description != nil {
		meta["description"] = *repo.Description
	}
	if repo.Language != nil {
		meta["language"] = *repo.Language
	}
	if len(languages) > 0 {
		meta["languages"] = strings.Join(languages, ",")
	}
	externalID := ""
	if repo.ID != 0 {
		externalID = strconv.FormatInt(repo.ID, 10)
	}
	return domain.ExternalRecord{
		ExternalID:   externalID,
		CanonicalURL: repo.HTMLURL,
		DisplayName:  repo.Name,
		Tags:         tags,
		Metadata:     meta,
	}
}

// rankLanguages orders language names by byte count, breaking ties by name.
func rankLanguages(bytesByLang map[string]int64) []string {
	names := make([]string, 0, len(bytesByLang))
	for name := range bytesByLang {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if bytesByLang[a] != bytesByLang[b] {
			if bytesByLang[a] > bytesByLang[b] {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	return names
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		if m := linkNextPattern.FindStringSubmatch(strings.TrimSpace(part)); m != nil {
			return m[1]
		}
	}
	return ""
}
