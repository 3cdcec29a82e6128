// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity with the same id is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidFormat indicates a malformed date key or external date field.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrNotAuthenticated indicates a mutating operation without a current user.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrFetchFailed indicates the external calendar payload could not be obtained or decoded.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrValidation indicates input rejected by service-level checks.
	ErrValidation = errors.New("validation")

	// ErrPartialReconciliation matches any *PartialReconciliationError.
	ErrPartialReconciliation = errors.New("partial reconciliation failure")
)

// PartialReconciliationError reports a reconciliation that stopped part-way.
// Deleted and Created count the operations that succeeded before the failure;
// RolledBack is set when the store discarded them again.
type PartialReconciliationError struct {
	CategoryID string
	Deleted    int
	Created    int
	WantDelete int
	WantCreate int
	RolledBack bool
	Err        error
}

func (e *PartialReconciliationError) Error() string {
	state := "applied"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("reconcile category %s: deleted %d/%d, created %d/%d (%s): %v",
		e.CategoryID, e.Deleted, e.WantDelete, e.Created, e.WantCreate, state, e.Err)
}

// Unwrap exposes the underlying store error.
func (e *PartialReconciliationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPartialReconciliation) match.
func (e *PartialReconciliationError) Is(target error) bool {
	return target == ErrPartialReconciliation
}
