package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"genecuration/internal/workflow/metrics"
	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/transitions"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/requestcontext"
)

var tracer = otel.Tracer("genecuration.workflow")

// Transition moves a record along one edge of the transition table.
//
// Legality, role and four-eyes checks run against the freshly loaded record.
// The active-slot claim, the version compare-and-swap and the audit append
// then run in one transaction, with the compare-and-swap as the single point
// where staleness is detected. On any error nothing is persisted.
//
// Failures are typed: *models.NotFoundError, *models.InvalidTransitionError,
// *models.UnauthorizedTransitionError, *models.FourEyesViolation,
// *models.ConflictError and *models.SlotConflictError.
func (s *Service) Transition(ctx context.Context, curationID id.CurationID, expectedVersion int64, target models.Stage, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error) {
	ctx, span := tracer.Start(ctx, "workflow.Transition",
		trace.WithAttributes(
			attribute.String("curation.id", curationID.String()),
			attribute.String("curation.target_stage", target.String()),
			attribute.Int64("curation.expected_version", expectedVersion),
		),
	)
	defer span.End()
	start := time.Now()

	record, edge, err := s.authorize(ctx, curationID, expectedVersion, target, actor)
	if err != nil {
		var from models.Stage
		if record != nil {
			from = record.Stage
		}
		s.reject(ctx, span, curationID, from, target, actor, start, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("curation.from_stage", record.Stage.String()))

	persisted, superseded, err := s.apply(ctx, record, edge, expectedVersion, actor, payload)
	if err != nil {
		err = s.normalize(err, "failed to apply transition")
		s.reject(ctx, span, curationID, record.Stage, target, actor, start, err)
		return nil, err
	}

	attrs := []any{
		"curation_id", persisted.ID.String(),
		"gene_id", persisted.GeneID.String(),
		"scope_id", persisted.ScopeID.String(),
		"from_stage", record.Stage.String(),
		"to_stage", persisted.Stage.String(),
		"actor", actor.ID.String(),
		"lock_version", persisted.LockVersion,
	}
	if superseded != nil {
		attrs = append(attrs, "superseded_curation_id", superseded.String())
		span.SetAttributes(attribute.String("curation.superseded_id", superseded.String()))
		s.metrics.IncrementSupersession()
	}
	s.logAudit(ctx, "curation_transitioned", attrs...)
	s.metrics.ObserveTransition(record.Stage.String(), target.String(), metrics.OutcomeSuccess, time.Since(start))
	span.SetStatus(codes.Ok, "")
	return persisted, nil
}

// authorize performs steps that need only the observed record: load,
// legality, role and four-eyes. It never writes.
//
// A caller whose expectedVersion is already behind the observed record gets
// the ConflictError up front: its view of the stage is stale, so judging
// legality against it would produce a misleading error. The compare-and-swap
// in apply still catches writers that race in after this read.
func (s *Service) authorize(ctx context.Context, curationID id.CurationID, expectedVersion int64, target models.Stage, actor models.Actor) (*models.CurationRecord, transitions.Edge, error) {
	record, err := s.load(ctx, curationID)
	if err != nil {
		return nil, transitions.Edge{}, err
	}
	if err := s.guard.Check(record, expectedVersion); err != nil {
		return record, transitions.Edge{}, err
	}

	edge, ok := s.table.Lookup(record.Stage, target)
	if !ok {
		return record, transitions.Edge{}, &models.InvalidTransitionError{From: record.Stage, To: target}
	}
	if !actor.HasRole(edge.RequiredRole) {
		return record, edge, &models.UnauthorizedTransitionError{
			Actor:        actor.ID,
			From:         record.Stage,
			To:           target,
			RequiredRole: edge.RequiredRole,
		}
	}
	if edge.Kind == transitions.KindReview {
		if err := s.coordinator.AuthorizeReview(record, actor.ID, target); err != nil {
			return record, edge, err
		}
	}
	return record, edge, nil
}

// apply runs the mutating steps in one transaction, retrying the whole
// transaction a bounded number of times on slot contention.
func (s *Service) apply(ctx context.Context, record *models.CurationRecord, edge transitions.Edge, expectedVersion int64, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, *id.CurationID, error) {
	var (
		persisted  *models.CurationRecord
		superseded *id.CurationID
		attempt    int
	)
	now := requestcontext.Now(ctx)
	requestID := requestcontext.RequestID(ctx)

	err := s.enforcer.Retry(ctx, func() error {
		attempt++
		if attempt > 1 {
			s.metrics.IncrementSlotRetry()
		}
		candidate := s.candidate(record, edge, actor.ID, payload, now)
		persisted, superseded = nil, nil

		return s.tx.RunInTx(ctx, func(store Store) error {
			var held *id.CurationID
			if edge.ClaimsActiveSlot() {
				var err error
				held, err = s.enforcer.ClaimActiveSlot(ctx, store, record.GeneID, record.ScopeID, record.ID, now)
				if err != nil {
					return err
				}
			}
			if _, err := s.guard.CheckAndBump(ctx, store, candidate, expectedVersion); err != nil {
				return err
			}
			entry := models.NewAuditEntry(record, candidate, actor.ID, held, requestID, now)
			if err := store.AppendAudit(ctx, entry); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
			}
			persisted, superseded = candidate, held
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return persisted, superseded, nil
}

// candidate derives the fully mutated record from the observed one. It is
// rebuilt for every attempt so a retried transaction starts clean.
func (s *Service) candidate(record *models.CurationRecord, edge transitions.Edge, actor id.ActorID, payload json.RawMessage, now time.Time) *models.CurationRecord {
	c := record.Clone()
	c.Stage = edge.To
	c.UpdatedAt = now
	switch edge.Kind {
	case transitions.KindSubmit:
		s.coordinator.RecordSubmission(c, actor, now)
	case transitions.KindReview:
		s.coordinator.RecordDecision(c, actor, now)
	case transitions.KindReopen:
		s.coordinator.RecordReopen(c)
	}
	c.ReplaceEvidence(payload)
	return c
}

func (s *Service) reject(ctx context.Context, span trace.Span, curationID id.CurationID, from, to models.Stage, actor models.Actor, start time.Time, err error) {
	outcome := outcomeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	if outcome == metrics.OutcomeConflict {
		s.metrics.IncrementConflict("transition")
	}
	s.metrics.ObserveTransition(from.String(), to.String(), outcome, time.Since(start))
	if s.logger == nil {
		return
	}
	attrs := []any{
		"curation_id", curationID.String(),
		"from_stage", from.String(),
		"to_stage", to.String(),
		"actor", actor.ID.String(),
		"outcome", outcome,
		"error", err,
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if outcome == metrics.OutcomeError {
		s.logger.ErrorContext(ctx, "curation transition failed", attrs...)
		return
	}
	s.logger.WarnContext(ctx, "curation transition rejected", attrs...)
}

func outcomeOf(err error) string {
	var (
		notFound     *models.NotFoundError
		invalid      *models.InvalidTransitionError
		unauthorized *models.UnauthorizedTransitionError
		fourEyes     *models.FourEyesViolation
		conflict     *models.ConflictError
		slot         *models.SlotConflictError
	)
	switch {
	case errors.As(err, &notFound):
		return metrics.OutcomeNotFound
	case errors.As(err, &invalid):
		return metrics.OutcomeInvalidTransition
	case errors.As(err, &unauthorized):
		return metrics.OutcomeUnauthorized
	case errors.As(err, &fourEyes):
		return metrics.OutcomeFourEyes
	case errors.As(err, &conflict):
		return metrics.OutcomeConflict
	case errors.As(err, &slot):
		return metrics.OutcomeSlotConflict
	default:
		return metrics.OutcomeError
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}
