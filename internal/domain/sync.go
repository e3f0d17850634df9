package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrorKind classifies one per-record reconciliation failure.
type ErrorKind string

// ErrorKindInvalidRecord and related constants enumerate recoverable per-record failures.
const (
	ErrorKindInvalidRecord       ErrorKind = "invalid_record"
	ErrorKindAmbiguityConflict   ErrorKind = "ambiguity_conflict"
	ErrorKindPersistenceConflict ErrorKind = "persistence_conflict"
)

// SyncError records one skipped or rejected external record.
type SyncError struct {
	ExternalID   string    `json:"external_id"`
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	CandidateIDs []string  `json:"candidate_ids,omitempty"`
}

// String renders the error as "<external_id> <kind>: <message>".
func (e SyncError) String() string {
	id := e.ExternalID
	if strings.TrimSpace(id) == "" {
		id = "<none>"
	}
	return fmt.Sprintf("%s %s: %s", id, e.Kind, e.Message)
}

// SyncResult is the outcome of one reconciliation run.
// Values are never modified after construction; Errors preserves encounter order.
type SyncResult struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Skipped int         `json:"skipped"`
	Errors  []SyncError `json:"errors"`
}

// Total returns the number of records that reached a counter or an error entry.
func (r SyncResult) Total() int {
	invalid := 0
	for _, e := range r.Errors {
		if e.Kind == ErrorKindInvalidRecord {
			invalid++
		}
	}
	return r.Created + r.Updated + r.Skipped + invalid
}

// ErrorCount returns the number of errors of one kind.
func (r SyncResult) ErrorCount(kind ErrorKind) int {
	n := 0
	for _, e := range r.Errors {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Clone returns a deep copy that shares no slices with r.
func (r SyncResult) Clone() SyncResult {
	out := r
	out.Errors = make([]SyncError, 0, len(r.Errors))
	for _, e := range r.Errors {
		e.CandidateIDs = slices.Clone(e.CandidateIDs)
		out.Errors = append(out.Errors, e)
	}
	return out
}

// SyncRun wraps one reconciliation result with run bookkeeping for reporters.
type SyncRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Result     SyncResult `json:"result"`
}

// Duration returns the wall time spent in the run.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
