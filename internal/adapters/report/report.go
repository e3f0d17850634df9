// Package report holds app.Reporter implementations that do not persist state.
package report

import (
	"context"
	"errors"

	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
)

// Logger is the structured logging surface used by LogReporter.
// *github.com/charmbracelet/log.Logger satisfies it.
type Logger interface {
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// LogReporter writes one summary line per run and one line per recorded error.
type LogReporter struct {
	logger Logger
}

// NewLogReporter constructs a LogReporter. A nil logger discards output.
func NewLogReporter(logger Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// ReportSync implements app.Reporter.
func (r *LogReporter) ReportSync(_ context.Context, run domain.SyncRun) error {
	if r == nil || r.logger == nil {
		return nil
	}
	res := run.Result
	r.logger.Info(
		"sync run complete",
		"run_id", run.ID,
		"source", run.Source,
		"records", res.Total(),
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
		"duration", run.Duration(),
	)
	for _, e := range res.Errors {
		keyvals := []any{"run_id", run.ID, "source", run.Source, "external_id", e.ExternalID, "kind", string(e.Kind), "message", e.Message}
		if len(e.CandidateIDs) > 0 {
			keyvals = append(keyvals, "candidates", e.CandidateIDs)
		}
		r.logger.Warn("sync record rejected", keyvals...)
	}
	return nil
}

// Fanout delivers each run to every reporter in order, even after one fails.
type Fanout []app.Reporter

// ReportSync implements app.Reporter and joins every reporter failure.
func (f Fanout) ReportSync(ctx context.Context, run domain.SyncRun) error {
	var errs []error
	for _, reporter := range f {
		if reporter == nil {
			continue
		}
		if err := reporter.ReportSync(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
