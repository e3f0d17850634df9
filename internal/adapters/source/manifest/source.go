// Package manifest reads external project records from a local YAML file.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
	"gopkg.in/yaml.v3"
)

// Source loads records from a manifest like:
//
//	projects:
//	  - external_id: demo
//	    canonical_url: https://github.com/example/demo-project
//	    display_name: Demo Project
//	    tags: [demo]
type Source struct {
	path string
}

// New constructs a manifest source reading path.
func New(path string) *Source {
	return &Source{path: strings.TrimSpace(path)}
}

// Describe reports source status. The manifest is enabled once a path is configured.
func (s *Source) Describe() app.SourceInfo {
	return app.SourceInfo{
		Name:     "manifest",
		Kind:     "manifest",
		Endpoint: s.path,
		Enabled:  s.path != "",
	}
}

// document is the manifest file layout.
type document struct {
	Projects []domain.ExternalRecord `yaml:"projects"`
}

// FetchAll reads and decodes the whole manifest. Unknown keys are rejected.
func (s *Source) FetchAll(ctx context.Context) ([]domain.ExternalRecord, error) {
	if s.path == "" {
		return nil, fmt.Errorf("manifest path not configured: %w", app.ErrSourceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, err)
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, fmt.Errorf("read manifest: %w", err))
	}
	records, err := Decode(content)
	if err != nil {
		return nil, errors.Join(app.ErrSourceUnavailable, err)
	}
	return records, nil
}

// Decode parses manifest content.
func Decode(content []byte) ([]domain.ExternalRecord, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []domain.ExternalRecord{}, nil
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if doc.Projects == nil {
		doc.Projects = []domain.ExternalRecord{}
	}
	return doc.Projects, nil
}

// Encode renders records in manifest form.
func Encode(records []domain.ExternalRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{Projects: records}); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
