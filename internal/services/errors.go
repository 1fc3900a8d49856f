package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the prediction record does not exist
	ErrNotFound = errors.New("prediction not found")
	// ErrNotCommitted means the record has no ledger commit and cannot be
	// resolved or verified yet
	ErrNotCommitted = errors.New("prediction has no ledger commit")
	// ErrAlreadyCommitted rejects a second commit attempt; there is already
	// exactly one ledger proof for this record
	ErrAlreadyCommitted = errors.New("prediction already committed")
	// ErrAlreadyResolved rejects a second resolution attempt
	ErrAlreadyResolved = errors.New("prediction already resolved")
)

// InvalidInputError reports caller data that violates an invariant.
// Surfaced immediately, never retried, and raised before any network call.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// LedgerCommitError means the commit memo never landed after all retry
// attempts. The database row is untouched, so the whole call is safe to
// retry.
type LedgerCommitError struct {
	Err error
}

func (e *LedgerCommitError) Error() string {
	return fmt.Sprintf("ledger commit failed: %v", e.Err)
}

func (e *LedgerCommitError) Unwrap() error { return e.Err }

// LedgerResolveError means the resolution memo never landed. Nothing was
// persisted, so resolution can be retried whole.
type LedgerResolveError struct {
	Err error
}

func (e *LedgerResolveError) Error() string {
	return fmt.Sprintf("ledger resolve failed: %v", e.Err)
}

func (e *LedgerResolveError) Unwrap() error { return e.Err }

// DivergenceError means the ledger write landed but the paired database
// write did not. It carries the confirmed signature so a repair can later
// update the database without ever re-submitting to the ledger.
type DivergenceError struct {
	RecordID  uuid.UUID
	LedgerRef string
	Err       error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("ledger write %s confirmed but database update for record %s failed: %v",
		e.LedgerRef, e.RecordID, e.Err)
}

func (e *DivergenceError) Unwrap() error { return e.Err }
