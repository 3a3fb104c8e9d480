// Package concurrency implements optimistic concurrency control for curation
// records: the version check and the compare-and-swap bump that every
// mutating workflow operation goes through.
package concurrency

import (
	"context"
	"errors"

	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/sentinel"
)

// VersionedStore is the slice of the persistence contract the guard needs.
// CompareAndSwap must write record only if the persisted version still equals
// expectedVersion, and must return sentinel.ErrConflict otherwise.
type VersionedStore interface {
	FindByID(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error)
	CompareAndSwap(ctx context.Context, record *models.CurationRecord, expectedVersion int64) error
}

// Guard detects and rejects stale writes. It holds no state.
type Guard struct{}

func New() *Guard {
	return &Guard{}
}

// Check compares the observed version against the caller's expectation
// without touching storage.
func (g *Guard) Check(observed *models.CurationRecord, expectedVersion int64) error {
	if observed.LockVersion != expectedVersion {
		return conflict(observed, expectedVersion)
	}
	return nil
}

// CheckAndBump persists candidate with LockVersion = expectedVersion+1 if and
// only if the stored version still equals expectedVersion. candidate must be
// derived from the observed record, so its LockVersion is the observed
// version on entry. On mismatch the stored record is left untouched and a
// *models.ConflictError carrying the current persisted state is returned.
func (g *Guard) CheckAndBump(ctx context.Context, store VersionedStore, candidate *models.CurationRecord, expectedVersion int64) (int64, error) {
	if candidate.LockVersion != expectedVersion {
		return 0, g.reloadConflict(ctx, store, candidate, expectedVersion)
	}

	candidate.LockVersion = expectedVersion + 1
	err := store.CompareAndSwap(ctx, candidate, expectedVersion)
	if err == nil {
		return candidate.LockVersion, nil
	}
	candidate.LockVersion = expectedVersion

	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return 0, g.reloadConflict(ctx, store, candidate, expectedVersion)
	case errors.Is(err, sentinel.ErrNotFound):
		return 0, &models.NotFoundError{CurationID: candidate.ID}
	case errors.Is(err, sentinel.ErrContention):
		return 0, err
	default:
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist curation")
	}
}

// reloadConflict builds the conflict from the freshest persisted state so the
// caller can render an accurate merge prompt without re-querying.
func (g *Guard) reloadConflict(ctx context.Context, store VersionedStore, stale *models.CurationRecord, expectedVersion int64) error {
	current, err := store.FindByID(ctx, stale.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &models.NotFoundError{CurationID: stale.ID}
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload curation after version conflict")
	}
	return conflict(current, expectedVersion)
}

func conflict(current *models.CurationRecord, expectedVersion int64) *models.ConflictError {
	return &models.ConflictError{
		CurationID:      current.ID,
		ExpectedVersion: expectedVersion,
		TheirVersion:    current.LockVersion,
		TheirRecord:     current.Clone(),
	}
}
