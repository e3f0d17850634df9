package domain

import (
	"fmt"
	"strings"
)

// ExternalRecord is one candidate project fetched from an external source.
type ExternalRecord struct {
	ExternalID   string         `json:"external_id" yaml:"external_id"`
	CanonicalURL string         `json:"canonical_url" yaml:"canonical_url"`
	DisplayName  string         `json:"display_name" yaml:"display_name"`
	Tags         []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate reports whether the record carries a usable identity.
func (r ExternalRecord) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("external_id is empty: %w", ErrInvalidRecord)
	}
	if NormalizeCanonicalURL(r.CanonicalURL) == "" {
		return fmt.Errorf("canonical_url %q is empty or not an absolute url: %w", r.CanonicalURL, ErrInvalidRecord)
	}
	return nil
}

// ResolvedName returns the display name, falling back to the last URL path segment.
func (r ExternalRecord) ResolvedName() string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	if name := nameFromURL(NormalizeCanonicalURL(r.CanonicalURL)); name != "" {
		return name
	}
	return strings.TrimSpace(r.ExternalID)
}
