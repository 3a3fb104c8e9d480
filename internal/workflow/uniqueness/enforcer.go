// Package uniqueness guarantees at most one active curation per
// (gene, scope). Serialization is delegated to the storage layer's atomic
// slot primitive; this package adds the bounded retry around it.
package uniqueness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/sentinel"
)

// DefaultMaxAttempts bounds slot-claim retries before surfacing SlotConflict.
const DefaultMaxAttempts = 3

// SlotStore is the slice of the persistence contract the enforcer needs.
//
// ClaimActiveSlot must run inside the same transaction as the stage mutation.
// If another record holds the slot it is demoted to the superseded marker
// (its LockVersion bumped) and its ID returned. A nil ID means the slot was
// free or already held by incoming. Transient races are reported as
// sentinel.ErrContention.
type SlotStore interface {
	ClaimActiveSlot(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error)
}

// Enforcer claims active slots with bounded retry.
type Enforcer struct {
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

type Option func(*Enforcer)

// WithMaxAttempts overrides the retry bound. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Enforcer) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between attempts; attempt n waits n*base.
func WithBackoff(d time.Duration) Option {
	return func(e *Enforcer) {
		e.backoff = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		e.logger = logger
	}
}

func New(opts ...Option) *Enforcer {
	e := &Enforcer{maxAttempts: DefaultMaxAttempts, backoff: 5 * time.Millisecond}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the configured retry bound.
func (e *Enforcer) MaxAttempts() int {
	return e.maxAttempts
}

// ClaimActiveSlot claims the (gene, scope) slot for incoming, returning the
// ID of the record it superseded, if any. Fails with *models.SlotConflictError
// when every attempt hit contention.
func (e *Enforcer) ClaimActiveSlot(ctx context.Context, store SlotStore, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		superseded, err := store.ClaimActiveSlot(ctx, geneID, scopeID, incoming, now)
		if err == nil {
			return superseded, nil
		}
		if !errors.Is(err, sentinel.ErrContention) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim active slot")
		}
		lastErr = err
		if e.logger != nil {
			e.logger.WarnContext(ctx, "active slot claim contended",
				"gene_id", geneID.String(),
				"scope_id", scopeID.String(),
				"curation_id", incoming.String(),
				"attempt", attempt,
			)
		}
		if attempt < e.maxAttempts {
			if err := e.wait(ctx, attempt); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "slot claim aborted")
			}
		}
	}
	return nil, &models.SlotConflictError{
		GeneID:   geneID,
		ScopeID:  scopeID,
		Attempts: e.maxAttempts,
		Err:      lastErr,
	}
}

// Retry runs attempt up to the bound while it fails with contention or a
// SlotConflictError. Backends whose contention only surfaces at commit
// (a failed statement aborts a SQL transaction; a watched Redis key
// changed) wrap the whole transaction in Retry.
func (e *Enforcer) Retry(ctx context.Context, attempt func() error) error {
	var err error
	for i := 1; i <= e.maxAttempts; i++ {
		err = attempt()
		if err == nil || !isContention(err) {
			return err
		}
		if i < e.maxAttempts {
			if werr := e.wait(ctx, i); werr != nil {
				return dErrors.Wrap(werr, dErrors.CodeTimeout, "slot claim aborted")
			}
		}
	}
	var slotErr *models.SlotConflictError
	if errors.As(err, &slotErr) {
		return slotErr
	}
	return &models.SlotConflictError{Attempts: e.maxAttempts, Err: err}
}

func isContention(err error) bool {
	var slotErr *models.SlotConflictError
	return errors.Is(err, sentinel.ErrContention) || errors.As(err, &slotErr)
}

func (e *Enforcer) wait(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(attempt) * e.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
