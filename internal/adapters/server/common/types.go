// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// ErrNotFound reports missing transport-visible resources, including unknown sources.
var ErrNotFound = errors.New("not found")

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrConflict reports a canonical URL or id collision with stored data.
var ErrConflict = errors.New("conflict")

// ErrSourceUnavailable reports that an external source could not be fetched or is disabled.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrRunInProgress reports that another reconciliation holds the run lock.
var ErrRunInProgress = errors.New("run in progress")

// CreateProjectRequest stores transport input for manual project creation.
type CreateProjectRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	CanonicalURL string   `json:"canonical_url,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// ListSyncRunsRequest captures sync history filters.
type ListSyncRunsRequest struct {
	Source string
	Limit  int
}

// SyncOutcome is one completed run as seen by transports.
// ReportError is set when the run finished but a reporter failed to record it.
type SyncOutcome struct {
	Run         domain.SyncRun `json:"run"`
	ReportError string         `json:"report_error,omitempty"`
}

// RecordAgentUpdateRequest stores transport input for agent updates.
type RecordAgentUpdateRequest struct {
	ProjectID string         `json:"project_id"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// ListAgentUpdatesRequest captures agent update filters.
type ListAgentUpdatesRequest struct {
	ProjectID string
	Limit     int
}

// ProjectService exposes project reads and manual creation.
type ProjectService interface {
	ListProjects(context.Context) ([]domain.Project, error)
	GetProject(context.Context, string) (domain.Project, error)
	CreateProject(context.Context, CreateProjectRequest) (domain.Project, error)
}

// SyncService exposes source status, on-demand runs, and run history.
type SyncService interface {
	ListSources(context.Context) ([]app.SourceInfo, error)
	Sync(context.Context, string) (SyncOutcome, error)
	ListSyncRuns(context.Context, ListSyncRunsRequest) ([]domain.SyncRun, error)
}

// AgentUpdateService exposes agent update ingestion and listing.
type AgentUpdateService interface {
	RecordAgentUpdate(context.Context, RecordAgentUpdateRequest) (domain.AgentUpdate, error)
	ListAgentUpdates(context.Context, ListAgentUpdatesRequest) ([]domain.AgentUpdate, error)
}

// Service is the full surface served by serve mode.
type Service interface {
	ProjectService
	SyncService
	AgentUpdateService
}
