package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hylla/mcpcc/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	lock      sync.Mutex
	order     []string
	projects  map[string]domain.Project
	runs      []domain.SyncRun
	updates   []domain.AgentUpdate
	insertErr func(domain.Project) error
	updateErr func(domain.Project) error
	findErr   error
	lockErr   error
	acquired  int
	released  int
	mutations int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{projects: map[string]domain.Project{}}
}

func (f *fakeRepo) seed(p domain.Project) {
	f.order = append(f.order, p.ID)
	f.projects[p.ID] = p
}

func (f *fakeRepo) FindProjectsByCanonicalURL(_ context.Context, url string) ([]domain.Project, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	key := domain.CanonicalKey(url)
	out := []domain.Project{}
	for _, id := range f.order {
		p := f.projects[id]
		if p.MatchKey() == key {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertProject(_ context.Context, p domain.Project) error {
	if f.insertErr != nil {
		if err := f.insertErr(p); err != nil {
			return err
		}
	}
	if _, ok := f.projects[p.ID]; ok {
		return fmt.Errorf("duplicate id %s: %w", p.ID, ErrPersistenceConflict)
	}
	f.mutations++
	f.seed(p)
	return nil
}

func (f *fakeRepo) UpdateProject(_ context.Context, p domain.Project) error {
	if f.updateErr != nil {
		if err := f.updateErr(p); err != nil {
			return err
		}
	}
	if _, ok := f.projects[p.ID]; !ok {
		return ErrNotFound
	}
	f.mutations++
	f.projects[p.ID] = p
	return nil
}

func (f *fakeRepo) AcquireRunLock(_ context.Context, _ string) (func() error, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	if !f.lock.TryLock() {
		return nil, ErrRunInProgress
	}
	f.acquired++
	return func() error {
		f.released++
		f.lock.Unlock()
		return nil
	}, nil
}

func (f *fakeRepo) GetProject(_ context.Context, id string) (domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListProjects(_ context.Context) ([]domain.Project, error) {
	out := make([]domain.Project, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.projects[id])
	}
	return out, nil
}

func (f *fakeRepo) ListSyncRuns(_ context.Context, source string, _ int) ([]domain.SyncRun, error) {
	out := []domain.SyncRun{}
	for _, run := range f.runs {
		if source == "" || run.Source == source {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRepo) ReportSync(_ context.Context, run domain.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRepo) CreateAgentUpdate(_ context.Context, u domain.AgentUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeRepo) ListAgentUpdates(_ context.Context, projectID string, _ int) ([]domain.AgentUpdate, error) {
	out := []domain.AgentUpdate{}
	for _, u := range f.updates {
		if u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeSource struct {
	records []domain.ExternalRecord
	err     error
	block   bool
	info    SourceInfo
	calls   int
}

func (s *fakeSource) FetchAll(ctx context.Context) ([]domain.ExternalRecord, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.records), nil
}

func (s *fakeSource) Describe() SourceInfo {
	info := s.info
	if info.Kind == "" {
		info.Kind = "fake"
		info.Enabled = true
	}
	return info
}

func sequentialIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func fixedClock(now time.Time) Clock {
	return func() time.Time { return now }
}

func TestServiceSyncReportsRun(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{records: []domain.ExternalRecord{
		{ExternalID: "1", CanonicalURL: "https://github.com/x/a", DisplayName: "a"},
		{ExternalID: "2", CanonicalURL: "https://github.com/x/b", DisplayName: "b"},
	}}
	svc := NewService(repo, sequentialIDs("id"), fixedClock(now), ServiceConfig{
		Sources:  map[string]Source{"GitHub": src},
		Reporter: repo,
	})

	run, err := svc.Sync(context.Background(), " github ")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if run.Source != "github" || run.Result.Created != 2 {
		t.Fatalf("unexpected run %#v", run)
	}
	if len(repo.runs) != 1 || repo.runs[0].ID != run.ID {
		t.Fatalf("expected reported run, got %#v", repo.runs)
	}
	if repo.acquired != 1 || repo.released != 1 {
		t.Fatalf("lock acquired=%d released=%d, want 1/1", repo.acquired, repo.released)
	}
}

func TestServiceSyncSourceUnavailableLeavesStoreUntouched(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{err: errors.New("401 bad credentials")}
	svc := NewService(repo, sequentialIDs("id"), nil, ServiceConfig{
		Sources:  map[string]Source{"github": src},
		Reporter: repo,
	})

	run, err := svc.Sync(context.Background(), "github")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if !run.FinishedAt.IsZero() || run.ID != "" {
		t.Fatalf("expected no run on fetch failure, got %#v", run)
	}
	if repo.mutations != 0 || len(repo.runs) != 0 || repo.acquired != 0 {
		t.Fatalf("store touched on fetch failure: mutations=%d runs=%d locks=%d", repo.mutations, len(repo.runs), repo.acquired)
	}
}

func TestServiceSyncFetchTimeoutIsSourceUnavailable(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{block: true}
	svc := NewService(repo, sequentialIDs("id"), nil, ServiceConfig{
		Sources:      map[string]Source{"agents": src},
		FetchTimeout: 10 * time.Millisecond,
	})

	_, err := svc.Sync(context.Background(), "agents")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
}

func TestServiceSyncUnknownAndDisabledSources(t *testing.T) {
	repo := newFakeRepo()
	disabled := &fakeSource{info: SourceInfo{Kind: "github", Enabled: false}}
	svc := NewService(repo, nil, nil, ServiceConfig{
		Sources: map[string]Source{"github": disabled},
	})

	if _, err := svc.Sync(context.Background(), "gitlab"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := svc.Sync(context.Background(), "github"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if disabled.calls != 0 {
		t.Fatalf("disabled source fetched %d times", disabled.calls)
	}
}

func TestServiceSyncReturnsRunWhenReporterFails(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{records: []domain.ExternalRecord{{ExternalID: "1", CanonicalURL: "https://x/y"}}}
	reportErr := errors.New("disk full")
	svc := NewService(repo, sequentialIDs("id"), nil, ServiceConfig{
		Sources: map[string]Source{"manifest": src},
		Reporter: ReporterFunc(func(context.Context, domain.SyncRun) error {
			return reportErr
		}),
	})

	run, err := svc.Sync(context.Background(), "manifest")
	if !errors.Is(err, reportErr) {
		t.Fatalf("expected reporter error, got %v", err)
	}
	if run.Result.Created != 1 {
		t.Fatalf("expected completed run alongside error, got %#v", run)
	}
}

func TestServiceSyncAllJoinsErrors(t *testing.T) {
	repo := newFakeRepo()
	good := &fakeSource{records: []domain.ExternalRecord{{ExternalID: "1", CanonicalURL: "https://x/y"}}}
	bad := &fakeSource{err: errors.New("boom")}
	svc := NewService(repo, sequentialIDs("id"), nil, ServiceConfig{
		Sources: map[string]Source{"good": good, "bad": bad},
	})

	runs, err := svc.SyncAll(context.Background(), nil)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected joined ErrSourceUnavailable, got %v", err)
	}
	if len(runs) != 1 || runs[0].Source != "good" {
		t.Fatalf("unexpected runs %#v", runs)
	}
}

func TestServiceListSourcesSorted(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil, ServiceConfig{
		Sources: map[string]Source{"manifest": &fakeSource{}, "agents": &fakeSource{}, "": &fakeSource{}, "nil": nil},
	})
	infos := svc.ListSources()
	if len(infos) != 2 || infos[0].Name != "agents" || infos[1].Name != "manifest" {
		t.Fatalf("unexpected sources %#v", infos)
	}
}

func TestServiceCreateProjectRejectsDuplicateURL(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo, sequentialIDs("p"), fixedClock(now), ServiceConfig{})

	project, err := svc.CreateProject(context.Background(), CreateProjectInput{
		Name:         "Demo",
		CanonicalURL: "https://github.com/example/demo",
		Tags:         []string{"demo"},
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if project.ID != "p-1" {
		t.Fatalf("unexpected id %q", project.ID)
	}

	_, err = svc.CreateProject(context.Background(), CreateProjectInput{
		Name:         "Demo again",
		CanonicalURL: "HTTPS://github.com/Example/Demo/",
	})
	if !errors.Is(err, ErrPersistenceConflict) {
		t.Fatalf("expected ErrPersistenceConflict, got %v", err)
	}
	if _, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if repo.acquired != repo.released {
		t.Fatalf("lock leak: acquired=%d released=%d", repo.acquired, repo.released)
	}
}

func TestServiceAgentUpdates(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo, sequentialIDs("id"), fixedClock(now), ServiceConfig{})
	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "Demo"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	update, err := svc.RecordAgentUpdate(context.Background(), RecordAgentUpdateInput{
		ProjectID: project.ID,
		Source:    domain.UpdateSourceMCP,
		Payload:   map[string]any{"feature": "auth"},
	})
	if err != nil {
		t.Fatalf("RecordAgentUpdate() error = %v", err)
	}
	if update.Source != domain.UpdateSourceMCP {
		t.Fatalf("unexpected source %q", update.Source)
	}

	if _, err := svc.RecordAgentUpdate(context.Background(), RecordAgentUpdateInput{ProjectID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RecordAgentUpdate(context.Background(), RecordAgentUpdateInput{ProjectID: project.ID, Source: "fax"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	updates, err := svc.ListAgentUpdates(context.Background(), project.ID, 10)
	if err != nil {
		t.Fatalf("ListAgentUpdates() error = %v", err)
	}
	if len(updates) != 1 || updates[0].ID != update.ID {
		t.Fatalf("unexpected updates %#v", updates)
	}
	if _, err := svc.ListAgentUpdates(context.Background(), "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
