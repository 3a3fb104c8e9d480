package review

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
)

func recordInReview(submitter id.ActorID) *models.CurationRecord {
	return &models.CurationRecord{
		ID:          id.NewCurationID(),
		Stage:       models.StageReview,
		SubmittedBy: submitter,
		LockVersion: 5,
	}
}

func TestAuthorizeReview(t *testing.T) {
	c := NewCoordinator(nil)

	t.Run("distinct reviewer may approve or reject", func(t *testing.T) {
		rec := recordInReview("alice")
		require.NoError(t, c.AuthorizeReview(rec, "bob", models.StageActive))
		require.NoError(t, c.AuthorizeReview(rec, "bob", models.StageRejected))
	})

	t.Run("submitter cannot review own curation", func(t *testing.T) {
		rec := recordInReview("alice")
		for _, target := range []models.Stage{models.StageActive, models.StageRejected} {
			err := c.AuthorizeReview(rec, "alice", target)
			var violation *models.FourEyesViolation
			require.True(t, errors.As(err, &violation), "target %s", target)
			assert.Equal(t, id.ActorID("alice"), violation.SubmittedBy)
		}
	})

	t.Run("missing submitter fails closed", func(t *testing.T) {
		rec := recordInReview("")
		err := c.AuthorizeReview(rec, "bob", models.StageActive)
		var violation *models.FourEyesViolation
		require.True(t, errors.As(err, &violation))
		assert.Contains(t, err.Error(), "no recorded submitter")
	})

	t.Run("anonymous reviewer fails closed", func(t *testing.T) {
		rec := recordInReview("alice")
		err := c.AuthorizeReview(rec, "", models.StageActive)
		var violation *models.FourEyesViolation
		require.True(t, errors.As(err, &violation))
	})

	t.Run("only applies to review decisions", func(t *testing.T) {
		rec := recordInReview("alice")
		rec.Stage = models.StageCuration
		err := c.AuthorizeReview(rec, "bob", models.StageActive)
		var invalid *models.InvalidTransitionError
		require.True(t, errors.As(err, &invalid))
	})

	t.Run("does not mutate the record", func(t *testing.T) {
		rec := recordInReview("alice")
		before := *rec
		_ = c.AuthorizeReview(rec, "bob", models.StageActive)
		_ = c.AuthorizeReview(rec, "alice", models.StageActive)
		assert.Equal(t, before, *rec)
	})
}

func TestIsReviewDecision(t *testing.T) {
	c := NewCoordinator(nil)
	assert.True(t, c.IsReviewDecision(models.StageReview, models.StageActive))
	assert.True(t, c.IsReviewDecision(models.StageReview, models.StageRejected))
	assert.False(t, c.IsReviewDecision(models.StageCuration, models.StageReview))
	assert.False(t, c.IsReviewDecision(models.StageEntry, models.StageActive))
}

func TestProvenanceStamps(t *testing.T) {
	c := NewCoordinator(nil)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rec := &models.CurationRecord{ReviewedBy: "carol", ReviewedAt: &now}

	c.RecordSubmission(rec, "alice", now)
	assert.Equal(t, id.ActorID("alice"), rec.SubmittedBy)
	assert.Equal(t, now, *rec.SubmittedAt)
	assert.True(t, rec.ReviewedBy.IsZero())
	assert.Nil(t, rec.ReviewedAt)

	c.RecordDecision(rec, "bob", now)
	assert.Equal(t, id.ActorID("bob"), rec.ReviewedBy)

	c.RecordReopen(rec)
	assert.True(t, rec.ReviewedBy.IsZero())
	assert.Equal(t, id.ActorID("alice"), rec.SubmittedBy)
}
