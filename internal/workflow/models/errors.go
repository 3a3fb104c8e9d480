package models

import (
	"fmt"

	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
)

// Workflow errors are returned as typed values so callers can recover the
// structured detail with errors.As. Each also carries a domain code.

// NotFoundError reports that the referenced curation does not exist.
type NotFoundError struct {
	CurationID id.CurationID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("curation %s not found", e.CurationID)
}

func (e *NotFoundError) DomainCode() dErrors.Code { return dErrors.CodeNotFound }

// InvalidTransitionError reports an edge absent from the transition table.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) DomainCode() dErrors.Code { return dErrors.CodeInvalidTransition }

// UnauthorizedTransitionError reports an actor lacking the edge's required role.
type UnauthorizedTransitionError struct {
	Actor        id.ActorID
	From         Stage
	To           Stage
	RequiredRole Role
}

func (e *UnauthorizedTransitionError) Error() string {
	return fmt.Sprintf("actor %s lacks role %s required for %s -> %s", e.Actor, e.RequiredRole, e.From, e.To)
}

func (e *UnauthorizedTransitionError) DomainCode() dErrors.Code { return dErrors.CodeForbidden }

// FourEyesViolation reports a review attempted by the record's own submitter,
// or a review of a record with no recorded submitter.
type FourEyesViolation struct {
	CurationID  id.CurationID
	Actor       id.ActorID
	SubmittedBy id.ActorID
}

func (e *FourEyesViolation) Error() string {
	if e.SubmittedBy.IsZero() {
		return fmt.Sprintf("curation %s has no recorded submitter; review refused", e.CurationID)
	}
	return fmt.Sprintf("actor %s submitted curation %s and cannot review it", e.Actor, e.CurationID)
}

func (e *FourEyesViolation) DomainCode() dErrors.Code { return dErrors.CodeFourEyesViolation }

// ConflictError reports an optimistic-lock mismatch. TheirRecord is the
// current persisted state so the caller can offer discard, overwrite, or merge.
type ConflictError struct {
	CurationID      id.CurationID
	ExpectedVersion int64
	TheirVersion    int64
	TheirRecord     *CurationRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("curation %s was modified: expected version %d, current version %d",
		e.CurationID, e.ExpectedVersion, e.TheirVersion)
}

func (e *ConflictError) DomainCode() dErrors.Code { return dErrors.CodeConflict }

// SlotConflictError reports that the active slot could not be claimed within
// the bounded number of attempts. Safe to retry from the top.
type SlotConflictError struct {
	GeneID   id.GeneID
	ScopeID  id.ScopeID
	Attempts int
	Err      error
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("active slot for gene %s in scope %s contended after %d attempts", e.GeneID, e.ScopeID, e.Attempts)
}

func (e *SlotConflictError) Unwrap() error { return e.Err }

func (e *SlotConflictError) DomainCode() dErrors.Code { return dErrors.CodeSlotConflict }
