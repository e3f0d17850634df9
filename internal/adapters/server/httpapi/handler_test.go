package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/mcpcc/internal/adapters/server/common"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// stubService provides deterministic responses for handler tests.
type stubService struct {
	projects   []domain.Project
	sources    []app.SourceInfo
	outcome    common.SyncOutcome
	runs       []domain.SyncRun
	updates    []domain.AgentUpdate
	err        error
	lastID     string
	lastSource string
	lastCreate common.CreateProjectRequest
	lastRuns   common.ListSyncRunsRequest
	lastRecord common.RecordAgentUpdateRequest
	lastList   common.ListAgentUpdatesRequest
}

// ListProjects returns fixture projects.
func (s *stubService) ListProjects(context.Context) ([]domain.Project, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.projects, nil
}

// GetProject returns the fixture project with a matching id.
func (s *stubService) GetProject(_ context.Context, id string) (domain.Project, error) {
	s.lastID = id
	if s.err != nil {
		return domain.Project{}, s.err
	}
	for _, p := range s.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Project{}, fmt.Errorf("project %q: %w", id, common.ErrNotFound)
}

// CreateProject records the request and echoes a project.
func (s *stubService) CreateProject(_ context.Context, in common.CreateProjectRequest) (domain.Project, error) {
	s.lastCreate = in
	if s.err != nil {
		return domain.Project{}, s.err
	}
	return domain.Project{ID: "p-new", Name: in.Name, CanonicalURL: in.CanonicalURL, Tags: in.Tags}, nil
}

// ListSources returns fixture sources.
func (s *stubService) ListSources(context.Context) ([]app.SourceInfo, error) {
	return s.sources, s.err
}

// Sync records the source and returns the fixture outcome.
func (s *stubService) Sync(_ context.Context, source string) (common.SyncOutcome, error) {
	s.lastSource = source
	if s.err != nil {
		return common.SyncOutcome{}, s.err
	}
	return s.outcome, nil
}

// ListSyncRuns records filters and returns fixture runs.
func (s *stubService) ListSyncRuns(_ context.Context, in common.ListSyncRunsRequest) ([]domain.SyncRun, error) {
	s.lastRuns = in
	return s.runs, s.err
}

// RecordAgentUpdate records the request and echoes an update.
func (s *stubService) RecordAgentUpdate(_ context.Context, in common.RecordAgentUpdateRequest) (domain.AgentUpdate, error) {
	s.lastRecord = in
	if s.err != nil {
		return domain.AgentUpdate{}, s.err
	}
	return domain.AgentUpdate{ID: "u1", ProjectID: in.ProjectID, Source: domain.UpdateSourceAgent, Payload: in.Payload}, nil
}

// ListAgentUpdates records filters and returns fixture updates.
func (s *stubService) ListAgentUpdates(_ context.Context, in common.ListAgentUpdatesRequest) ([]domain.AgentUpdate, error) {
	s.lastList = in
	return s.updates, s.err
}

// serve executes one request against a fresh handler.
func serve(t *testing.T, svc common.Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	NewHandler(svc).ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes one structured error response.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return env
}

// TestHandlerListAndGetProjects verifies project read routes.
func TestHandlerListAndGetProjects(t *testing.T) {
	svc := &stubService{projects: []domain.Project{
		{ID: "p1", Name: "alpha", CanonicalURL: "https://github.com/acme/alpha", Tags: []string{"go"}},
	}}

	rec := serve(t, svc, http.MethodGet, "/projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list struct {
		Projects []domain.Project `json:"projects"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(list.Projects) != 1 || list.Projects[0].Name != "alpha" {
		t.Fatalf("unexpected projects %#v", list.Projects)
	}

	rec = serve(t, svc, http.MethodGet, "/projects/p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastID != "p1" {
		t.Fatalf("id = %q, want p1", svc.lastID)
	}

	rec = serve(t, svc, http.MethodGet, "/projects/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", env.Error.Code)
	}
}

// TestHandlerCreateProject verifies strict body decoding and creation.
func TestHandlerCreateProject(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/projects", `{"name":"alpha","canonical_url":"https://x/alpha","tags":["go"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if svc.lastCreate.Name != "alpha" || svc.lastCreate.CanonicalURL != "https://x/alpha" {
		t.Fatalf("unexpected request %#v", svc.lastCreate)
	}

	for _, body := range []string{`{"name":"a","bogus":1}`, `{"name":"a"}{}`, `not json`} {
		rec = serve(t, svc, http.MethodPost, "/projects", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

// TestHandlerSync verifies on-demand sync routing and outcome encoding.
func TestHandlerSync(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubService{outcome: common.SyncOutcome{
		Run: domain.SyncRun{
			ID:         "r1",
			Source:     "github",
			StartedAt:  started,
			FinishedAt: started.Add(time.Second),
			Result:     domain.SyncResult{Created: 2, Updated: 1, Errors: []domain.SyncError{}},
		},
	}}

	rec := serve(t, svc, http.MethodPost, "/sync/github", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastSource != "github" {
		t.Fatalf("source = %q, want github", svc.lastSource)
	}
	var got common.SyncOutcome
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Run.Result.Created != 2 || got.Run.Result.Updated != 1 {
		t.Fatalf("unexpected result %#v", got.Run.Result)
	}

	rec = serve(t, svc, http.MethodGet, "/sync/github", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

// TestHandlerErrorMapping verifies structured status mapping for service errors.
func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "run in progress", err: fmt.Errorf("sync: %w", common.ErrRunInProgress), status: http.StatusConflict, code: "run_in_progress"},
		{name: "conflict", err: common.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{name: "not found", err: common.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "invalid", err: common.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "source unavailable", err: common.ErrSourceUnavailable, status: http.StatusBadGateway, code: "source_unavailable"},
		{name: "internal", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &stubService{err: tc.err}, http.MethodPost, "/sync/github", "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if env := decodeEnvelope(t, rec); env.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.code)
			}
		})
	}
}

// TestHandlerSyncRunsAndSources verifies history filters and source listing.
func TestHandlerSyncRunsAndSources(t *testing.T) {
	svc := &stubService{
		runs:    []domain.SyncRun{{ID: "r1", Source: "manifest"}},
		sources: []app.SourceInfo{{Name: "manifest", Kind: "manifest", Enabled: true}},
	}
	rec := serve(t, svc, http.MethodGet, "/sync/runs?source=manifest&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastRuns.Source != "manifest" || svc.lastRuns.Limit != 5 {
		t.Fatalf("unexpected filters %#v", svc.lastRuns)
	}

	rec = serve(t, svc, http.MethodGet, "/sync/runs?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = serve(t, svc, http.MethodGet, "/sources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sources status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Sources []app.SourceInfo `json:"sources"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(body.Sources) != 1 || !body.Sources[0].Enabled {
		t.Fatalf("unexpected sources %#v", body.Sources)
	}
}

// TestHandlerAgentUpdates verifies agent update ingestion and listing routes.
func TestHandlerAgentUpdates(t *testing.T) {
	svc := &stubService{updates: []domain.AgentUpdate{{ID: "u1", ProjectID: "p1"}}}
	rec := serve(t, svc, http.MethodPost, "/agent-updates", `{"project_id":"p1","payload":{"status":"green"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if svc.lastRecord.ProjectID != "p1" || svc.lastRecord.Payload["status"] != "green" {
		t.Fatalf("unexpected request %#v", svc.lastRecord)
	}

	rec = serve(t, svc, http.MethodGet, "/projects/p1/agent-updates?limit=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastList.ProjectID != "p1" || svc.lastList.Limit != 3 {
		t.Fatalf("unexpected filters %#v", svc.lastList)
	}
}

// TestHandlerUnknownRoute verifies unmatched paths return structured 404s.
func TestHandlerUnknownRoute(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", env.Error.Code)
	}
}

// TestHandlerWithoutService verifies nil service wiring fails closed.
func TestHandlerWithoutService(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
