package uniqueness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/sentinel"
)

type scriptedSlots struct {
	results []error
	holder  *id.CurationID
	calls   int
}

func (s *scriptedSlots) ClaimActiveSlot(_ context.Context, _ id.GeneID, _ id.ScopeID, _ id.CurationID, _ time.Time) (*id.CurationID, error) {
	s.calls++
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.holder, nil
}

func TestClaimActiveSlot(t *testing.T) {
	ctx := context.Background()
	gene := id.GeneID(uuid.New())
	scope := id.ScopeID(uuid.New())
	incoming := id.NewCurationID()
	now := time.Now()

	t.Run("free slot is claimed on first attempt", func(t *testing.T) {
		store := &scriptedSlots{}
		superseded, err := New(WithBackoff(0)).ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		require.NoError(t, err)
		assert.Nil(t, superseded)
		assert.Equal(t, 1, store.calls)
	})

	t.Run("returns the superseded holder", func(t *testing.T) {
		previous := id.NewCurationID()
		store := &scriptedSlots{holder: &previous}
		superseded, err := New(WithBackoff(0)).ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		require.NoError(t, err)
		require.NotNil(t, superseded)
		assert.Equal(t, previous, *superseded)
	})

	t.Run("retries contention within the bound", func(t *testing.T) {
		store := &scriptedSlots{results: []error{sentinel.ErrContention, fmt.Errorf("wrapped: %w", sentinel.ErrContention)}}
		_, err := New(WithBackoff(0)).ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		require.NoError(t, err)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("surfaces SlotConflict after the bound", func(t *testing.T) {
		store := &scriptedSlots{results: []error{sentinel.ErrContention, sentinel.ErrContention, sentinel.ErrContention, nil}}
		_, err := New(WithBackoff(0)).ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		var slotErr *models.SlotConflictError
		require.True(t, errors.As(err, &slotErr))
		assert.Equal(t, 3, slotErr.Attempts)
		assert.Equal(t, gene, slotErr.GeneID)
		assert.True(t, dErrors.Retryable(err))
		assert.Equal(t, 3, store.calls)
	})

	t.Run("honours a custom bound", func(t *testing.T) {
		store := &scriptedSlots{results: []error{sentinel.ErrContention, sentinel.ErrContention}}
		e := New(WithBackoff(0), WithMaxAttempts(2))
		_, err := e.ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		require.Error(t, err)
		assert.Equal(t, 2, store.calls)
		assert.Equal(t, 2, e.MaxAttempts())
	})

	t.Run("non-contention failures are not retried", func(t *testing.T) {
		store := &scriptedSlots{results: []error{errors.New("disk full")}}
		_, err := New(WithBackoff(0)).ClaimActiveSlot(ctx, store, gene, scope, incoming, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
		assert.Equal(t, 1, store.calls)
	})

	t.Run("stops waiting when the context is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		store := &scriptedSlots{results: []error{sentinel.ErrContention, sentinel.ErrContention}}
		_, err := New(WithBackoff(time.Second)).ClaimActiveSlot(cctx, store, gene, scope, incoming, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.Equal(t, 1, store.calls)
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("reruns contended attempts", func(t *testing.T) {
		calls := 0
		err := New(WithBackoff(0)).Retry(ctx, func() error {
			calls++
			if calls < 3 {
				return sentinel.ErrContention
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("passes other errors straight through", func(t *testing.T) {
		conflict := &models.ConflictError{TheirVersion: 4}
		calls := 0
		err := New(WithBackoff(0)).Retry(ctx, func() error {
			calls++
			return conflict
		})
		assert.Same(t, conflict, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("converts exhausted contention into SlotConflict", func(t *testing.T) {
		err := New(WithBackoff(0)).Retry(ctx, func() error { return sentinel.ErrContention })
		var slotErr *models.SlotConflictError
		require.True(t, errors.As(err, &slotErr))
		assert.ErrorIs(t, err, sentinel.ErrContention)
	})
}
