package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hylla/mcpcc/internal/adapters/storage/sqlite"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// stubSource returns fixed records or a fixed error.
type stubSource struct {
	records []domain.ExternalRecord
	err     error
}

// FetchAll returns the fixture records.
func (s stubSource) FetchAll(context.Context) ([]domain.ExternalRecord, error) {
	return s.records, s.err
}

// Describe reports an always-enabled stub source.
func (s stubSource) Describe() app.SourceInfo {
	return app.SourceInfo{Kind: "stub", Enabled: true}
}

// newTestAdapter wires an adapter over an in-memory repository.
func newTestAdapter(t *testing.T, sources map[string]app.Source, reporter app.Reporter) (*AppServiceAdapter, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if reporter == nil {
		reporter = repo
	}
	svc := app.NewService(repo, ids, func() time.Time { return now }, app.ServiceConfig{
		Sources:  sources,
		Reporter: reporter,
	})
	return NewAppServiceAdapter(svc), repo
}

// TestAppServiceAdapterSyncAndHistory verifies sync outcomes reach the history store.
func TestAppServiceAdapterSyncAndHistory(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]app.Source{
		"manifest": stubSource{records: []domain.ExternalRecord{
			{ExternalID: "1", CanonicalURL: "https://github.com/acme/alpha", DisplayName: "alpha"},
			{ExternalID: "2", CanonicalURL: ""},
		}},
	}, nil)
	ctx := context.Background()

	outcome, err := adapter.Sync(ctx, "manifest")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if outcome.ReportError != "" {
		t.Fatalf("unexpected report error %q", outcome.ReportError)
	}
	if outcome.Run.Result.Created != 1 || len(outcome.Run.Result.Errors) != 1 {
		t.Fatalf("unexpected result %#v", outcome.Run.Result)
	}

	runs, err := adapter.ListSyncRuns(ctx, ListSyncRunsRequest{Source: "manifest"})
	if err != nil {
		t.Fatalf("ListSyncRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != outcome.Run.ID {
		t.Fatalf("unexpected runs %#v", runs)
	}

	projects, err := adapter.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "alpha" {
		t.Fatalf("unexpected projects %#v", projects)
	}
}

// TestAppServiceAdapterSyncReporterFailure verifies a finished run is returned even when reporting fails.
func TestAppServiceAdapterSyncReporterFailure(t *testing.T) {
	failing := app.ReporterFunc(func(context.Context, domain.SyncRun) error { return errors.New("disk full") })
	adapter, _ := newTestAdapter(t, map[string]app.Source{
		"manifest": stubSource{records: []domain.ExternalRecord{{ExternalID: "1", CanonicalURL: "https://x/y"}}},
	}, failing)

	outcome, err := adapter.Sync(context.Background(), "manifest")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if outcome.Run.Result.Created != 1 || outcome.ReportError == "" {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
}

// TestAppServiceAdapterErrorMapping verifies app errors map to transport sentinels.
func TestAppServiceAdapterErrorMapping(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]app.Source{
		"down": stubSource{err: errors.New("connection refused")},
	}, nil)
	ctx := context.Background()

	if _, err := adapter.Sync(ctx, "down"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Sync(down) error = %v, want ErrSourceUnavailable", err)
	}
	if _, err := adapter.Sync(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Sync(nope) error = %v, want ErrNotFound", err)
	}
	if _, err := adapter.Sync(ctx, " "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Sync(blank) error = %v, want ErrInvalidRequest", err)
	}
	if _, err := adapter.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProject() error = %v, want ErrNotFound", err)
	}
	if _, err := adapter.CreateProject(ctx, CreateProjectRequest{Name: "x", CanonicalURL: "not a url"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("CreateProject(bad url) error = %v, want ErrInvalidRequest", err)
	}
	if _, err := adapter.CreateProject(ctx, CreateProjectRequest{Name: "a", CanonicalURL: "https://x/a"}); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := adapter.CreateProject(ctx, CreateProjectRequest{Name: "b", CanonicalURL: "https://X/a/"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateProject(dup) error = %v, want ErrConflict", err)
	}
	if _, err := adapter.RecordAgentUpdate(ctx, RecordAgentUpdateRequest{ProjectID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordAgentUpdate(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := adapter.ListSyncRuns(ctx, ListSyncRunsRequest{Limit: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("ListSyncRuns(-1) error = %v, want ErrInvalidRequest", err)
	}
}

// TestAppServiceAdapterRunInProgress verifies lock contention maps to ErrRunInProgress.
func TestAppServiceAdapterRunInProgress(t *testing.T) {
	adapter, repo := newTestAdapter(t, map[string]app.Source{
		"manifest": stubSource{records: []domain.ExternalRecord{{ExternalID: "1", CanonicalURL: "https://x/y"}}},
	}, nil)
	release, err := repo.AcquireRunLock(context.Background(), "other")
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}
	defer func() { _ = release() }()

	if _, err := adapter.Sync(context.Background(), "manifest"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Sync() error = %v, want ErrRunInProgress", err)
	}
}

// TestAppServiceAdapterAgentUpdates verifies agent updates round-trip through the service.
func TestAppServiceAdapterAgentUpdates(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil)
	ctx := context.Background()
	project, err := adapter.CreateProject(ctx, CreateProjectRequest{Name: "alpha"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	update, err := adapter.RecordAgentUpdate(ctx, RecordAgentUpdateRequest{
		ProjectID: project.ID,
		Source:    "mcp",
		Payload:   map[string]any{"status": "green"},
	})
	if err != nil {
		t.Fatalf("RecordAgentUpdate() error = %v", err)
	}
	if update.Source != domain.UpdateSourceMCP {
		t.Fatalf("unexpected source %q", update.Source)
	}
	updates, err := adapter.ListAgentUpdates(ctx, ListAgentUpdatesRequest{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("ListAgentUpdates() error = %v", err)
	}
	if len(updates) != 1 || updates[0].Payload["status"] != "green" {
		t.Fatalf("unexpected updates %#v", updates)
	}
}
