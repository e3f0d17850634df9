package domain

import (
	"maps"
	"path"
	"slices"
	"strings"
	"time"
)

// Project represents one locally stored project record.
type Project struct {
	ID             string         `json:"id"`
	CanonicalURL   string         `json:"canonical_url,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Tags           []string       `json:"tags"`
	ExternalID     string         `json:"external_id,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastSyncedAt   *time.Time     `json:"last_synced_at,omitempty"`
}

// NewProject constructs a manually created project. canonicalURL may be empty.
func NewProject(id, name, description, canonicalURL string, tags []string, now time.Time) (Project, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" {
		return Project{}, ErrInvalidID
	}
	if name == "" {
		return Project{}, ErrInvalidName
	}
	canonical := ""
	if strings.TrimSpace(canonicalURL) != "" {
		canonical = NormalizeCanonicalURL(canonicalURL)
		if canonical == "" {
			return Project{}, ErrInvalidCanonicalURL
		}
	}

	return Project{
		ID:           id,
		CanonicalURL: canonical,
		Name:         name,
		Description:  strings.TrimSpace(description),
		Tags:         normalizeTags(tags),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// NewSyncedProject constructs a project from one validated external record.
func NewSyncedProject(id string, rec ExternalRecord, now time.Time) (Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Project{}, ErrInvalidID
	}
	canonical := NormalizeCanonicalURL(rec.CanonicalURL)
	if canonical == "" {
		return Project{}, ErrInvalidCanonicalURL
	}
	ts := now.UTC()
	return Project{
		ID:             id,
		CanonicalURL:   canonical,
		Name:           rec.ResolvedName(),
		Tags:           normalizeTags(rec.Tags),
		ExternalID:     strings.TrimSpace(rec.ExternalID),
		SourceMetadata: maps.Clone(rec.Metadata),
		CreatedAt:      ts,
		UpdatedAt:      ts,
		LastSyncedAt:   &ts,
	}, nil
}

// ApplySync merges one external record into the project.
// Name is overwritten, tags only grow, and the sync timestamp moves to now.
func (p *Project) ApplySync(rec ExternalRecord, now time.Time) {
	ts := now.UTC()
	p.Name = rec.ResolvedName()
	p.Tags = MergeTags(p.Tags, rec.Tags)
	p.ExternalID = strings.TrimSpace(rec.ExternalID)
	p.SourceMetadata = maps.Clone(rec.Metadata)
	p.UpdatedAt = ts
	p.LastSyncedAt = &ts
}

// MatchKey returns the case-insensitive identity key, or "" when the project has no URL.
func (p Project) MatchKey() string {
	return CanonicalKey(p.CanonicalURL)
}

// MergeTags returns the sorted union of existing and incoming tags.
// Every existing tag is kept verbatim so the result is always a superset.
func MergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, tag := range existing {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, tag := range normalizeTags(incoming) {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// normalizeTags trims, drops empty values, and de-duplicates tags.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// nameFromURL derives a display name from the last path segment of a canonical URL.
func nameFromURL(canonical string) string {
	if canonical == "" {
		return ""
	}
	trimmed := strings.TrimRight(canonical, "/")
	base := path.Base(trimmed)
	if base == "." || base == "/" || strings.Contains(base, ":") {
		return ""
	}
	return base
}
