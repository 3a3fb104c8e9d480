//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/service"
	redisstore "genecuration/internal/workflow/store/redis"
	id "genecuration/pkg/domain"
	"genecuration/pkg/platform/sentinel"
	"genecuration/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *redisstore.RedisStore
	svc   *service.Service
	gene  id.GeneID
	scope id.ScopeID
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = redisstore.New(s.redis.Client)
	s.svc = service.New(s.store, s.store)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.gene = id.GeneID(uuid.New())
	s.scope = id.ScopeID(uuid.New())
}

func (s *RedisStoreSuite) seed(stage models.Stage, version int64, submittedBy id.ActorID) *models.CurationRecord {
	r, err := models.NewCurationRecord(id.NewCurationID(), s.gene, s.scope, "carol", json.RawMessage(`{"b":2,"a":1}`), time.Now().UTC())
	s.Require().NoError(err)
	r.Stage = stage
	r.LockVersion = version
	r.SubmittedBy = submittedBy
	s.Require().NoError(s.store.Create(context.Background(), r))
	return r
}

func (s *RedisStoreSuite) activeCount(records ...*models.CurationRecord) int {
	n := 0
	for _, r := range records {
		found, err := s.store.FindByID(context.Background(), r.ID)
		s.Require().NoError(err)
		if found.IsActive() {
			n++
		}
	}
	return n
}

func (s *RedisStoreSuite) TestRoundTripKeepsPayloadBytes() {
	r := s.seed(models.StageEntry, 0, "")
	found, err := s.store.FindByID(context.Background(), r.ID)
	s.Require().NoError(err)
	s.Equal(`{"b":2,"a":1}`, string(found.EvidencePayload))
	s.True(r.CreatedAt.Equal(found.CreatedAt))

	_, err = s.store.FindByID(context.Background(), id.NewCurationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Create(context.Background(), r), sentinel.ErrAlreadyUsed)
}

func (s *RedisStoreSuite) TestCompareAndSwapOutcomes() {
	ctx := context.Background()
	r := s.seed(models.StageCuration, 2, "")

	next := r.Clone()
	next.Stage = models.StageReview
	next.LockVersion = 3
	s.Require().NoError(s.store.CompareAndSwap(ctx, next, 2))
	s.ErrorIs(s.store.CompareAndSwap(ctx, next, 2), sentinel.ErrConflict)

	ghost := r.Clone()
	ghost.ID = id.NewCurationID()
	s.ErrorIs(s.store.CompareAndSwap(ctx, ghost, 0), sentinel.ErrNotFound)
}

// TestWatchedKeyChangeAbortsTransaction changes a watched record from a
// second client between the read and EXEC.
func (s *RedisStoreSuite) TestWatchedKeyChangeAbortsTransaction() {
	ctx := context.Background()
	r := s.seed(models.StageCuration, 0, "")

	err := s.store.RunInTx(ctx, func(tx service.Store) error {
		current, err := tx.FindByID(ctx, r.ID)
		if err != nil {
			return err
		}
		concurrent := current.Clone()
		concurrent.LockVersion = 1
		s.Require().NoError(s.store.CompareAndSwap(ctx, concurrent, 0))

		next := current.Clone()
		next.Stage = models.StageReview
		next.LockVersion = 1
		return tx.CompareAndSwap(ctx, next, 0)
	})
	s.ErrorIs(err, sentinel.ErrContention)

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StageCuration, found.Stage)
	s.Equal(int64(1), found.LockVersion)
}

func (s *RedisStoreSuite) TestConcurrentTransitionsOneWinner() {
	r := s.seed(models.StageCuration, 2, "")
	ctx := context.Background()

	const writers = 10
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			actor := models.Actor{ID: id.ActorID(uuid.NewString()), Roles: []models.Role{models.RoleCurator}}
			_, err := s.svc.Transition(ctx, r.ID, 2, models.StageReview, actor, nil)
			var conflict *models.ConflictError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &conflict):
				conflicts.Add(1)
			default:
				s.T().Logf("writer %d: unexpected error: %v", i, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(writers-1), conflicts.Load())

	entries, err := s.store.ListAudit(ctx, r.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *RedisStoreSuite) TestConcurrentApprovalsKeepOneActive() {
	ctx := context.Background()
	all := []*models.CurationRecord{s.seed(models.StageActive, 0, "dave")}

	const contenders = 6
	for range contenders {
		all = append(all, s.seed(models.StageReview, 1, "carol"))
	}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes atomic.Int32
		slotFails atomic.Int32
	)
	reviewer := models.Actor{ID: "rita", Roles: []models.Role{models.RoleReviewer}}
	for _, r := range all[1:] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.svc.Transition(ctx, r.ID, 1, models.StageActive, reviewer, nil)
			var slot *models.SlotConflictError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &slot):
				slotFails.Add(1)
			default:
				s.T().Logf("approval of %s: unexpected error: %v", r.ID, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(contenders), successes.Load()+slotFails.Load())
	s.Positive(successes.Load())
	s.Equal(1, s.activeCount(all...))
}

func (s *RedisStoreSuite) TestApprovalSupersedesPreviousHolder() {
	ctx := context.Background()
	r1 := s.seed(models.StageActive, 3, "dave")
	r2 := s.seed(models.StageReview, 1, "carol")

	_, err := s.svc.Transition(ctx, r2.ID, 1, models.StageActive, models.Actor{ID: "rita", Roles: []models.Role{models.RoleReviewer}}, nil)
	s.Require().NoError(err)

	demoted, err := s.store.FindByID(ctx, r1.ID)
	s.Require().NoError(err)
	s.Equal(models.StageSuperseded, demoted.Stage)
	s.Equal(int64(4), demoted.LockVersion)
	s.Require().NotNil(demoted.SupersededBy)
	s.Equal(r2.ID, *demoted.SupersededBy)

	entries, err := s.store.ListAudit(ctx, r2.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Require().NotNil(entries[0].SupersededID)
	s.Equal(r1.ID, *entries[0].SupersededID)
}

func (s *RedisStoreSuite) TestFailedTransactionLeavesNoTrace() {
	ctx := context.Background()
	holder := s.seed(models.StageActive, 0, "dave")
	incoming := s.seed(models.StageReview, 1, "carol")
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(tx service.Store) error {
		if _, err := tx.ClaimActiveSlot(ctx, s.gene, s.scope, incoming.ID, time.Now()); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	found, err := s.store.FindByID(ctx, holder.ID)
	s.Require().NoError(err)
	s.Equal(models.StageActive, found.Stage)
	s.Equal(int64(0), found.LockVersion)
}
