package app

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrRunInProgress       = errors.New("sync run already in progress")
	ErrUnknownSource       = errors.New("unknown source")
)

// AmbiguousMatchError reports that more than one local project shares a canonical URL.
// It is a local data integrity problem; the engine converts it into an ambiguity conflict entry.
type AmbiguousMatchError struct {
	CanonicalURL string
	CandidateIDs []string
}

// Error implements error.
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("canonical url %q matches %d local projects: %s", e.CanonicalURL, len(e.CandidateIDs), strings.Join(e.CandidateIDs, ", "))
}
