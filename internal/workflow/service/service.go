// Package service is the curation workflow engine. It validates and applies
// stage transitions by composing the transition table, the review
// coordinator, the uniqueness enforcer and the concurrency guard over an
// injected store. The engine holds no per-record state between calls.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"genecuration/internal/workflow/concurrency"
	"genecuration/internal/workflow/metrics"
	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/review"
	"genecuration/internal/workflow/transitions"
	"genecuration/internal/workflow/uniqueness"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/sentinel"
	"genecuration/pkg/requestcontext"
)

// Store is the persistence contract of the engine: point read, versioned
// compare-and-swap, atomic active-slot claim and append-only audit insert.
// Create and ListAudit serve the record lifecycle around the engine.
type Store interface {
	FindByID(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error)
	Create(ctx context.Context, record *models.CurationRecord) error
	CompareAndSwap(ctx context.Context, record *models.CurationRecord, expectedVersion int64) error
	ClaimActiveSlot(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error)
}

// StoreTx provides the transactional boundary for a transition. Everything
// fn writes through the supplied Store commits together or not at all.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Service is the workflow engine.
type Service struct {
	store       Store
	tx          StoreTx
	table       *transitions.Table
	guard       *concurrency.Guard
	coordinator *review.Coordinator
	enforcer    *uniqueness.Enforcer
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEnforcer replaces the default uniqueness enforcer (3 attempts).
func WithEnforcer(e *uniqueness.Enforcer) Option {
	return func(s *Service) {
		if e != nil {
			s.enforcer = e
		}
	}
}

// New constructs the engine over store. tx must hand out views of the same
// underlying storage.
func New(store Store, tx StoreTx, opts ...Option) *Service {
	table := transitions.Default()
	s := &Service{
		store:       store,
		tx:          tx,
		table:       table,
		guard:       concurrency.New(),
		coordinator: review.NewCoordinator(table),
		enforcer:    uniqueness.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new record at the initial stage with version 0. Creation
// is not a transition and appends no audit entry.
func (s *Service) Create(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error) {
	if !actor.HasRole(models.RoleCurator) {
		return nil, dErrors.New(dErrors.CodeForbidden, "curator role required to create a curation")
	}
	record, err := models.NewCurationRecord(id.NewCurationID(), geneID, scopeID, actor.ID, payload, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "curation already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create curation")
	}
	s.logAudit(ctx, "curation_created",
		"curation_id", record.ID.String(),
		"gene_id", record.GeneID.String(),
		"scope_id", record.ScopeID.String(),
		"actor", actor.ID.String(),
	)
	s.metrics.IncrementCreated()
	return record, nil
}

// Get returns the current persisted record.
func (s *Service) Get(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	return s.load(ctx, curationID)
}

// History returns the record's audit entries, oldest first.
func (s *Service) History(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	if _, err := s.load(ctx, curationID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, curationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}

// UpdateEvidence replaces the evidence payload of a record still being
// edited. The write is version-guarded like a transition but leaves the
// stage alone and appends no audit entry.
func (s *Service) UpdateEvidence(ctx context.Context, curationID id.CurationID, expectedVersion int64, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error) {
	if payload == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence payload is required")
	}
	record, err := s.load(ctx, curationID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(record, expectedVersion); err != nil {
		s.metrics.IncrementConflict("update_evidence")
		return nil, err
	}
	if !record.Stage.IsEditable() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "evidence is read-only in stage "+record.Stage.String())
	}
	if !actor.HasRole(models.RoleCurator) {
		return nil, &models.UnauthorizedTransitionError{
			Actor:        actor.ID,
			From:         record.Stage,
			To:           record.Stage,
			RequiredRole: models.RoleCurator,
		}
	}

	var persisted *models.CurationRecord
	err = s.tx.RunInTx(ctx, func(store Store) error {
		candidate := record.Clone()
		candidate.ReplaceEvidence(payload)
		candidate.UpdatedAt = requestcontext.Now(ctx)
		if _, err := s.guard.CheckAndBump(ctx, store, candidate, expectedVersion); err != nil {
			return err
		}
		persisted = candidate
		return nil
	})
	if err != nil {
		if isConflict(err) {
			s.metrics.IncrementConflict("update_evidence")
		}
		return nil, s.normalize(err, "failed to update evidence")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "curation evidence updated",
			"curation_id", persisted.ID.String(),
			"lock_version", persisted.LockVersion,
			"actor", actor.ID.String(),
		)
	}
	return persisted, nil
}

func (s *Service) load(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	record, err := s.store.FindByID(ctx, curationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, &models.NotFoundError{CurationID: curationID}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load curation")
	}
	return record, nil
}

// normalize leaves coded errors alone and wraps anything else as internal.
func (s *Service) normalize(err error, message string) error {
	var coded dErrors.Coded
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, message)
}

func isConflict(err error) bool {
	var conflict *models.ConflictError
	return errors.As(err, &conflict)
}
