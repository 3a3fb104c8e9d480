// Package review enforces the four-eyes principle on reviewer decisions and
// records review provenance on the candidate record.
package review

import (
	"time"

	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/transitions"
	id "genecuration/pkg/domain"
)

// Coordinator authorizes review decisions. It holds no state.
type Coordinator struct {
	table *transitions.Table
}

func NewCoordinator(table *transitions.Table) *Coordinator {
	if table == nil {
		table = transitions.Default()
	}
	return &Coordinator{table: table}
}

// IsReviewDecision reports whether record -> target is a reviewer decision
// edge and therefore subject to AuthorizeReview.
func (c *Coordinator) IsReviewDecision(from, target models.Stage) bool {
	edge, ok := c.table.Lookup(from, target)
	return ok && edge.Kind == transitions.KindReview
}

// AuthorizeReview fails with *models.FourEyesViolation when actor is the
// record's submitter. The comparison is identity only: role, seniority and
// admin status are irrelevant. A record with no recorded submitter fails
// closed.
func (c *Coordinator) AuthorizeReview(record *models.CurationRecord, actor id.ActorID, target models.Stage) error {
	if record.Stage != models.StageReview || !c.IsReviewDecision(record.Stage, target) {
		return &models.InvalidTransitionError{From: record.Stage, To: target}
	}
	if record.SubmittedBy.IsZero() || actor.IsZero() || record.SubmittedBy == actor {
		return &models.FourEyesViolation{
			CurationID:  record.ID,
			Actor:       actor,
			SubmittedBy: record.SubmittedBy,
		}
	}
	return nil
}

// RecordSubmission stamps the submitter on a record entering review.
func (c *Coordinator) RecordSubmission(candidate *models.CurationRecord, actor id.ActorID, now time.Time) {
	candidate.SubmittedBy = actor
	candidate.SubmittedAt = &now
	candidate.ReviewedBy = ""
	candidate.ReviewedAt = nil
}

// RecordDecision stamps the reviewer on a record leaving review.
func (c *Coordinator) RecordDecision(candidate *models.CurationRecord, actor id.ActorID, now time.Time) {
	candidate.ReviewedBy = actor
	candidate.ReviewedAt = &now
}

// RecordReopen clears the previous review so a fresh cycle starts. The audit
// trail keeps the earlier reviewer.
func (c *Coordinator) RecordReopen(candidate *models.CurationRecord) {
	candidate.ReviewedBy = ""
	candidate.ReviewedAt = nil
}
