package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hylla/mcpcc/internal/domain"
)

// Reconciler applies external records to a ProjectStore with create-or-update semantics.
type Reconciler struct {
	idGen IDGenerator
	clock Clock
	owner string
}

// NewReconciler constructs a reconciler. owner labels the run lock it takes.
func NewReconciler(idGen IDGenerator, clock Clock, owner string) *Reconciler {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if owner == "" {
		owner = "mcpcc"
	}
	return &Reconciler{idGen: idGen, clock: clock, owner: owner}
}

// Reconcile processes records in input order against store and returns the run summary.
// Per-record failures are recorded in the result and never stop the run; the only returned
// error is a failure to take the store's exclusive run lock.
func (r *Reconciler) Reconcile(ctx context.Context, records []domain.ExternalRecord, store ProjectStore) (domain.SyncResult, error) {
	release, err := store.AcquireRunLock(ctx, r.owner)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		_ = release()
	}()

	// A started run always finishes over the fetched records.
	runCtx := context.WithoutCancel(ctx)

	var res domain.SyncResult
	for _, rec := range records {
		r.reconcileOne(runCtx, rec, store, &res)
	}
	return res.Clone(), nil
}

// reconcileOne resolves and persists one record, accumulating its outcome into res.
func (r *Reconciler) reconcileOne(ctx context.Context, rec domain.ExternalRecord, store ProjectStore, res *domain.SyncResult) {
	if err := rec.Validate(); err != nil {
		res.Errors = append(res.Errors, domain.SyncError{
			ExternalID: rec.ExternalID,
			Kind:       domain.ErrorKindInvalidRecord,
			Message:    err.Error(),
		})
		return
	}

	existing, err := store.FindProjectsByCanonicalURL(ctx, rec.CanonicalURL)
	if err != nil {
		r.skip(res, rec, domain.ErrorKindPersistenceConflict, fmt.Sprintf("lookup canonical url: %v", err), nil)
		return
	}

	project, found, err := ResolveIdentity(rec, existing)
	if err != nil {
		var ambiguous *AmbiguousMatchError
		if errors.As(err, &ambiguous) {
			r.skip(res, rec, domain.ErrorKindAmbiguityConflict, ambiguous.Error(), slices.Clone(ambiguous.CandidateIDs))
			return
		}
		r.skip(res, rec, domain.ErrorKindPersistenceConflict, err.Error(), nil)
		return
	}

	now := r.clock()
	if !found {
		created, err := domain.NewSyncedProject(r.idGen(), rec, now)
		if err != nil {
			r.skip(res, rec, domain.ErrorKindPersistenceConflict, fmt.Sprintf("build project: %v", err), nil)
			return
		}
		if err := store.InsertProject(ctx, created); err != nil {
			r.skip(res, rec, domain.ErrorKindPersistenceConflict, fmt.Sprintf("insert project: %v", err), nil)
			return
		}
		res.Created++
		return
	}

	project.ApplySync(rec, now)
	if err := store.UpdateProject(ctx, project); err != nil {
		r.skip(res, rec, domain.ErrorKindPersistenceConflict, fmt.Sprintf("update project %s: %v", project.ID, err), nil)
		return
	}
	res.Updated++
}

// skip records one recoverable failure that counts toward the skipped total.
func (r *Reconciler) skip(res *domain.SyncResult, rec domain.ExternalRecord, kind domain.ErrorKind, msg string, candidates []string) {
	res.Skipped++
	res.Errors = append(res.Errors, domain.SyncError{
		ExternalID:   rec.ExternalID,
		Kind:         kind,
		Message:      msg,
		CandidateIDs: candidates,
	})
}
