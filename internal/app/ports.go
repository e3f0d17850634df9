package app

import (
	"context"

	"github.com/hylla/mcpcc/internal/domain"
)

// ProjectStore is the capability set the reconciliation engine needs from persistence.
// InsertProject and UpdateProject report uniqueness races as ErrPersistenceConflict.
type ProjectStore interface {
	FindProjectsByCanonicalURL(context.Context, string) ([]domain.Project, error)
	InsertProject(context.Context, domain.Project) error
	UpdateProject(context.Context, domain.Project) error
	// AcquireRunLock grants exclusive reconciliation access or fails with ErrRunInProgress.
	AcquireRunLock(ctx context.Context, owner string) (release func() error, err error)
}

// Repository extends ProjectStore with the read and history operations used by Service.
type Repository interface {
	ProjectStore
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context) ([]domain.Project, error)
	ListSyncRuns(context.Context, string, int) ([]domain.SyncRun, error)
	CreateAgentUpdate(context.Context, domain.AgentUpdate) error
	ListAgentUpdates(context.Context, string, int) ([]domain.AgentUpdate, error)
}

// Source fetches the full candidate record set from one external system.
// FetchAll either returns a complete slice or an error wrapping ErrSourceUnavailable.
type Source interface {
	FetchAll(context.Context) ([]domain.ExternalRecord, error)
	Describe() SourceInfo
}

// SourceInfo describes one configured source for status surfaces.
type SourceInfo struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Endpoint       string `json:"endpoint,omitempty"`
	Enabled        bool   `json:"enabled"`
	HasCredentials bool   `json:"has_credentials"`
}

// Reporter consumes the outcome of one completed run.
type Reporter interface {
	ReportSync(context.Context, domain.SyncRun) error
}

// ReporterFunc adapts a function into a Reporter.
type ReporterFunc func(context.Context, domain.SyncRun) error

// ReportSync calls f.
func (f ReporterFunc) ReportSync(ctx context.Context, run domain.SyncRun) error {
	return f(ctx, run)
}
