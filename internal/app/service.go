package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/mcpcc/internal/domain"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Sources      map[string]Source
	Reporter     Reporter
	FetchTimeout time.Duration
	LockOwner    string
}

// Service orchestrates fetch, reconciliation, and reporting over one repository.
type Service struct {
	repo         Repository
	idGen        IDGenerator
	clock        Clock
	sources      map[string]Source
	reporter     Reporter
	fetchTimeout time.Duration
	reconciler   *Reconciler
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	sources := make(map[string]Source, len(cfg.Sources))
	for name, src := range cfg.Sources {
		name = normalizeSourceName(name)
		if name == "" || src == nil {
			continue
		}
		sources[name] = src
	}

	return &Service{
		repo:         repo,
		idGen:        idGen,
		clock:        clock,
		sources:      sources,
		reporter:     cfg.Reporter,
		fetchTimeout: cfg.FetchTimeout,
		reconciler:   NewReconciler(idGen, clock, cfg.LockOwner),
	}
}

// ListSources describes every configured source, sorted by name.
func (s *Service) ListSources() []SourceInfo {
	out := make([]SourceInfo, 0, len(s.sources))
	for name, src := range s.sources {
		info := src.Describe()
		info.Name = name
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SourceInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Sync fetches every record from the named source, reconciles them, and reports the run.
// A failed fetch returns an error wrapping ErrSourceUnavailable and leaves the store untouched.
// When reporting fails the completed run is still returned alongside the error.
func (s *Service) Sync(ctx context.Context, sourceName string) (domain.SyncRun, error) {
	name := normalizeSourceName(sourceName)
	src, ok := s.sources[name]
	if !ok {
		return domain.SyncRun{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}
	if info := src.Describe(); !info.Enabled {
		return domain.SyncRun{}, fmt.Errorf("source %q is disabled: %w", name, ErrSourceUnavailable)
	}

	started := s.clock()
	records, err := s.fetch(ctx, src)
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("fetch %s: %w", name, err)
	}

	result, err := s.reconciler.Reconcile(ctx, records, s.repo)
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("reconcile %s: %w", name, err)
	}

	run := domain.SyncRun{
		ID:         s.idGen(),
		Source:     name,
		StartedAt:  started.UTC(),
		FinishedAt: s.clock().UTC(),
		Result:     result,
	}
	if s.reporter != nil {
		if err := s.reporter.ReportSync(context.WithoutCancel(ctx), run); err != nil {
			return run, fmt.Errorf("report sync run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// SyncAll runs Sync for each named source in order and joins their errors.
// An empty name list syncs every enabled source.
func (s *Service) SyncAll(ctx context.Context, names []string) ([]domain.SyncRun, error) {
	if len(names) == 0 {
		for _, info := range s.ListSources() {
			if info.Enabled {
				names = append(names, info.Name)
			}
		}
	}
	runs := make([]domain.SyncRun, 0, len(names))
	var errs []error
	for _, name := range names {
		run, err := s.Sync(ctx, name)
		if !run.FinishedAt.IsZero() {
			runs = append(runs, run)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return runs, errors.Join(errs...)
}

// fetch calls FetchAll under the configured timeout and classifies failures.
func (s *Service) fetch(ctx context.Context, src Source) ([]domain.ExternalRecord, error) {
	fetchCtx := ctx
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	records, err := src.FetchAll(fetchCtx)
	if err == nil {
		err = fetchCtx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			err = errors.Join(ErrSourceUnavailable, err)
		}
		return nil, err
	}
	return records, nil
}

// CreateProjectInput holds input values for create project operations.
type CreateProjectInput struct {
	Name         string
	Description  string
	CanonicalURL string
	Tags         []string
}

// CreateProject creates one project outside of a sync run.
// It takes the run lock so it cannot race a reconciliation on the same URL.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	project, err := domain.NewProject(s.idGen(), in.Name, in.Description, in.CanonicalURL, in.Tags, s.clock())
	if err != nil {
		return domain.Project{}, errors.Join(ErrInvalidInput, err)
	}

	release, err := s.repo.AcquireRunLock(ctx, "create-project")
	if err != nil {
		return domain.Project{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		_ = release()
	}()

	if project.CanonicalURL != "" {
		existing, err := s.repo.FindProjectsByCanonicalURL(ctx, project.CanonicalURL)
		if err != nil {
			return domain.Project{}, err
		}
		if _, found, err := ResolveIdentity(domain.ExternalRecord{CanonicalURL: project.CanonicalURL}, existing); err != nil || found {
			return domain.Project{}, fmt.Errorf("canonical url %q is already in use: %w", project.CanonicalURL, ErrPersistenceConflict)
		}
	}
	if err := s.repo.InsertProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// GetProject returns project.
func (s *Service) GetProject(ctx context.Context, id string) (domain.Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, fmt.Errorf("project id is required: %w", ErrInvalidInput)
	}
	return s.repo.GetProject(ctx, id)
}

// ListProjects lists projects.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx)
}

// ListSyncRuns lists recent sync runs, optionally filtered by source.
func (s *Service) ListSyncRuns(ctx context.Context, source string, limit int) ([]domain.SyncRun, error) {
	return s.repo.ListSyncRuns(ctx, normalizeSourceName(source), limit)
}

// RecordAgentUpdateInput holds input values for agent update operations.
type RecordAgentUpdateInput struct {
	ProjectID string
	Source    domain.UpdateSource
	Payload   map[string]any
}

// RecordAgentUpdate stores one agent update against an existing project.
func (s *Service) RecordAgentUpdate(ctx context.Context, in RecordAgentUpdateInput) (domain.AgentUpdate, error) {
	update, err := domain.NewAgentUpdate(s.idGen(), in.ProjectID, in.Source, in.Payload, s.clock())
	if err != nil {
		return domain.AgentUpdate{}, errors.Join(ErrInvalidInput, err)
	}
	if _, err := s.repo.GetProject(ctx, update.ProjectID); err != nil {
		return domain.AgentUpdate{}, fmt.Errorf("project %q: %w", update.ProjectID, err)
	}
	if err := s.repo.CreateAgentUpdate(ctx, update); err != nil {
		return domain.AgentUpdate{}, err
	}
	return update, nil
}

// ListAgentUpdates lists recent agent updates for one project.
func (s *Service) ListAgentUpdates(ctx context.Context, projectID string, limit int) ([]domain.AgentUpdate, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required: %w", ErrInvalidInput)
	}
	return s.repo.ListAgentUpdates(ctx, projectID, limit)
}

// normalizeSourceName canonicalizes one source name.
func normalizeSourceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
