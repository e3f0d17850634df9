// Package agentfeed reads the project list published by an MCP agent server.
package agentfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/mcpcc/internal/adapters/source/httpsource"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// Config holds agent feed settings.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Source fetches GET {base}/projects from an agent server.
type Source struct {
	cfg    Config
	client *httpsource.Client
}

// New constructs an agent feed source.
func New(cfg Config) *Source {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	headers := http.Header{}
	if cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+cfg.Token)
	}
	return &Source{cfg: cfg, client: httpsource.New("agents", cfg.HTTPClient, headers)}
}

// Describe reports source status. The feed is enabled once a base URL is configured.
func (s *Source) Describe() app.SourceInfo {
	return app.SourceInfo{
		Name:           "agents",
		Kind:           "agentfeed",
		Endpoint:       s.projectsURL(),
		Enabled:        s.cfg.BaseURL != "",
		HasCredentials: s.cfg.Token != "",
	}
}

// feedProject is one project as published by agent servers.
// Older servers send repo_url instead of url and numeric ids.
type feedProject struct {
	ID       json.RawMessage `json:"id"`
	URL      string          `json:"url"`
	RepoURL  string          `json:"repo_url"`
	Name     string          `json:"name"`
	Tags     []string        `json:"tags"`
	Metadata map[string]any  `json:"metadata"`
}

// FetchAll returns every project in the feed.
// The body may be a bare array or an object wrapping it under "projects".
func (s *Source) FetchAll(ctx context.Context) ([]domain.ExternalRecord, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent feed base url not configured: %w", app.ErrSourceUnavailable)
	}
	var raw json.RawMessage
	if _, err := s.client.GetJSON(ctx, s.projectsURL(), &raw); err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, err)
	}
	items, err := decodeProjects(raw)
	if err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, fmt.Errorf("decode agent feed: %w", err))
	}

	out := make([]domain.ExternalRecord, 0, len(items))
	for _, item := range items {
		url := item.URL
		if strings.TrimSpace(url) == "" {
			url = item.RepoURL
		}
		out = append(out, domain.ExternalRecord{
			ExternalID:   rawID(item.ID),
			CanonicalURL: url,
			DisplayName:  item.Name,
			Tags:         item.Tags,
			Metadata:     item.Metadata,
		})
	}
	return out, nil
}

// projectsURL returns the feed endpoint.
func (s *Source) projectsURL() string {
	if s.cfg.BaseURL == "" {
		return ""
	}
	return s.cfg.BaseURL + "/projects"
}

// decodeProjects accepts either a JSON array or {"projects": [...]}.
func decodeProjects(raw json.RawMessage) ([]feedProject, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []feedProject
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var envelope struct {
		Projects []feedProject `json:"projects"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Projects, nil
}

// rawID renders a string or numeric id as text. Anything else is treated as missing.
func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return n.String()
	}
	return ""
}
