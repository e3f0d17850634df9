package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListProjects lists every stored project.
func (a *AppServiceAdapter) ListProjects(ctx context.Context) ([]domain.Project, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	projects, err := a.service.ListProjects(ctx)
	if err != nil {
		return nil, mapAppError("list projects", err)
	}
	return projects, nil
}

// GetProject returns one project by id.
func (a *AppServiceAdapter) GetProject(ctx context.Context, id string) (domain.Project, error) {
	if err := a.ready(); err != nil {
		return domain.Project{}, err
	}
	project, err := a.service.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, mapAppError("get project", err)
	}
	return project, nil
}

// CreateProject creates one project outside of a sync run.
func (a *AppServiceAdapter) CreateProject(ctx context.Context, in CreateProjectRequest) (domain.Project, error) {
	if err := a.ready(); err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Project{}, fmt.Errorf("create project: name is required: %w", ErrInvalidRequest)
	}
	project, err := a.service.CreateProject(ctx, app.CreateProjectInput{
		Name:         in.Name,
		Description:  in.Description,
		CanonicalURL: in.CanonicalURL,
		Tags:         in.Tags,
	})
	if err != nil {
		return domain.Project{}, mapAppError("create project", err)
	}
	return project, nil
}

// ListSources describes every configured source.
func (a *AppServiceAdapter) ListSources(_ context.Context) ([]app.SourceInfo, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.service.ListSources(), nil
}

// Sync runs one source. A run whose reporter failed is still returned, with ReportError set.
func (a *AppServiceAdapter) Sync(ctx context.Context, source string) (SyncOutcome, error) {
	if err := a.ready(); err != nil {
		return SyncOutcome{}, err
	}
	if strings.TrimSpace(source) == "" {
		return SyncOutcome{}, fmt.Errorf("sync: source is required: %w", ErrInvalidRequest)
	}
	run, err := a.service.Sync(ctx, source)
	if err != nil {
		if !run.FinishedAt.IsZero() {
			return SyncOutcome{Run: run, ReportError: err.Error()}, nil
		}
		return SyncOutcome{}, mapAppError("sync "+source, err)
	}
	return SyncOutcome{Run: run}, nil
}

// ListSyncRuns lists recent sync runs.
func (a *AppServiceAdapter) ListSyncRuns(ctx context.Context, in ListSyncRunsRequest) ([]domain.SyncRun, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("list sync runs: limit must be >= 0: %w", ErrInvalidRequest)
	}
	runs, err := a.service.ListSyncRuns(ctx, in.Source, in.Limit)
	if err != nil {
		return nil, mapAppError("list sync runs", err)
	}
	return runs, nil
}

// RecordAgentUpdate stores one agent update.
func (a *AppServiceAdapter) RecordAgentUpdate(ctx context.Context, in RecordAgentUpdateRequest) (domain.AgentUpdate, error) {
	if err := a.ready(); err != nil {
		return domain.AgentUpdate{}, err
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return domain.AgentUpdate{}, fmt.Errorf("record agent update: project_id is required: %w", ErrInvalidRequest)
	}
	update, err := a.service.RecordAgentUpdate(ctx, app.RecordAgentUpdateInput{
		ProjectID: in.ProjectID,
		Source:    domain.UpdateSource(in.Source),
		Payload:   in.Payload,
	})
	if err != nil {
		return domain.AgentUpdate{}, mapAppError("record agent update", err)
	}
	return update, nil
}

// ListAgentUpdates lists recent agent updates for one project.
func (a *AppServiceAdapter) ListAgentUpdates(ctx context.Context, in ListAgentUpdatesRequest) ([]domain.AgentUpdate, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("list agent updates: limit must be >= 0: %w", ErrInvalidRequest)
	}
	updates, err := a.service.ListAgentUpdates(ctx, in.ProjectID, in.Limit)
	if err != nil {
		return nil, mapAppError("list agent updates", err)
	}
	return updates, nil
}

// ready reports whether the adapter has a backing service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return nil
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrRunInProgress):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrRunInProgress, err))
	case errors.Is(err, app.ErrSourceUnavailable):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrSourceUnavailable, err))
	case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrUnknownSource):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrPersistenceConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidCanonicalURL),
		errors.Is(err, domain.ErrInvalidUpdateSource):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
