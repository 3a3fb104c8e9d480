// Package postgres implements the workflow store on PostgreSQL through
// database/sql. Either the lib/pq or the pgx stdlib driver may back the
// *sql.DB.
//
// The active-slot claim locks a row of curation_active_slots, so two claims
// for the same (gene, scope) serialize across processes. A partial unique
// index on curations is the backstop. Audit entries are written together
// with an outbox row that the relay publishes to Kafka.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/service"
	id "genecuration/pkg/domain"
	"genecuration/pkg/platform/sentinel"
	txcontext "genecuration/pkg/platform/tx"
)

const (
	outboxAggregateType = "curation"
	outboxEventType     = "curation.transitioned"
)

// PostgresStore persists curation records, slots and audit entries.
type PostgresStore struct {
	db        *sql.DB
	q         dbExecutor
	txTimeout time.Duration
}

type Option func(*PostgresStore)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *PostgresStore) {
		s.txTimeout = d
	}
}

// New constructs a PostgreSQL-backed curation store.
func New(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, q: db, txTimeout: txcontext.DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer prefers a transaction carried on ctx, then the store's own
// executor (the bound transaction for views handed out by RunInTx).
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.q
}

// RunInTx runs fn against a view of the store bound to one transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	return txcontext.Run(ctx, s.db, s.txTimeout, func(txCtx context.Context) error {
		tx, _ := txcontext.From(txCtx)
		return fn(&PostgresStore{db: s.db, q: tx, txTimeout: s.txTimeout})
	})
}

const curationColumns = `
	id, gene_id, scope_id, stage, lock_version, created_by,
	submitted_by, submitted_at, reviewed_by, reviewed_at,
	superseded_by, superseded_at, evidence_payload, created_at, updated_at
`

func (s *PostgresStore) FindByID(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	query := `SELECT ` + curationColumns + ` FROM curations WHERE id = $1`
	record, err := scanCuration(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(curationID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find curation by id: %w", err)
	}
	return record, nil
}

// Create inserts a record. An active record also takes its pair's slot in
// the same statement.
func (s *PostgresStore) Create(ctx context.Context, record *models.CurationRecord) error {
	query := `
		WITH inserted AS (
			INSERT INTO curations (` + curationColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING id, gene_id, scope_id, stage, created_at
		)
		INSERT INTO curation_active_slots (gene_id, scope_id, curation_id, claimed_at)
		SELECT gene_id, scope_id, id, created_at FROM inserted WHERE stage = $16
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.GeneID),
		uuid.UUID(record.ScopeID),
		string(record.Stage),
		record.LockVersion,
		string(record.CreatedBy),
		string(record.SubmittedBy),
		record.SubmittedAt,
		string(record.ReviewedBy),
		record.ReviewedAt,
		nullableCurationID(record.SupersededBy),
		record.SupersededAt,
		payloadBytes(record.EvidencePayload),
		record.CreatedAt,
		record.UpdatedAt,
		string(models.StageActive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert curation: %w", err)
	}
	return nil
}

// CompareAndSwap writes every mutable column if the stored version still
// equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, record *models.CurationRecord, expectedVersion int64) error {
	query := `
		UPDATE curations SET
			stage = $3,
			lock_version = $4,
			submitted_by = $5,
			submitted_at = $6,
			reviewed_by = $7,
			reviewed_at = $8,
			superseded_by = $9,
			superseded_at = $10,
			evidence_payload = $11,
			updated_at = $12
		WHERE id = $1 AND lock_version = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		expectedVersion,
		string(record.Stage),
		record.LockVersion,
		string(record.SubmittedBy),
		record.SubmittedAt,
		string(record.ReviewedBy),
		record.ReviewedAt,
		nullableCurationID(record.SupersededBy),
		record.SupersededAt,
		payloadBytes(record.EvidencePayload),
		record.UpdatedAt,
	)
	if err != nil {
		if isContention(err) {
			return fmt.Errorf("compare and swap curation: %w", sentinel.ErrContention)
		}
		return fmt.Errorf("compare and swap curation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare and swap rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	err = s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM curations WHERE id = $1)`, uuid.UUID(record.ID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check curation existence: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

// ClaimActiveSlot must run inside RunInTx: the slot row lock is held until
// the transaction ends.
func (s *PostgresStore) ClaimActiveSlot(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	q := s.execer(ctx)

	var holder uuid.UUID
	err := q.QueryRowContext(ctx, `
		SELECT curation_id FROM curation_active_slots
		WHERE gene_id = $1 AND scope_id = $2
		FOR UPDATE
	`, uuid.UUID(geneID), uuid.UUID(scopeID)).Scan(&holder)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx, `
			INSERT INTO curation_active_slots (gene_id, scope_id, curation_id, claimed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (gene_id, scope_id) DO NOTHING
		`, uuid.UUID(geneID), uuid.UUID(scopeID), uuid.UUID(incoming), now)
		if err != nil {
			return nil, fmt.Errorf("insert active slot: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert active slot rows affected: %w", err)
		}
		if rows == 0 {
			// A concurrent claimer created the row first; the next attempt
			// will find and lock it.
			return nil, sentinel.ErrContention
		}
		return nil, nil
	case err != nil:
		if isContention(err) {
			return nil, fmt.Errorf("lock active slot: %w", sentinel.ErrContention)
		}
		return nil, fmt.Errorf("lock active slot: %w", err)
	}

	if id.CurationID(holder) == incoming {
		return nil, nil
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE curation_active_slots SET curation_id = $3, claimed_at = $4
		WHERE gene_id = $1 AND scope_id = $2
	`, uuid.UUID(geneID), uuid.UUID(scopeID), uuid.UUID(incoming), now); err != nil {
		return nil, fmt.Errorf("reassign active slot: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE curations SET
			stage = $2,
			superseded_by = $3,
			superseded_at = $4,
			updated_at = $4,
			lock_version = lock_version + 1
		WHERE id = $1 AND stage = $5
	`, holder, string(models.StageSuperseded), uuid.UUID(incoming), now, string(models.StageActive))
	if err != nil {
		return nil, fmt.Errorf("supersede active curation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("supersede rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	superseded := id.CurationID(holder)
	return &superseded, nil
}

// auditPayload is the JSON document published for each audit entry.
type auditPayload struct {
	ID                   string  `json:"id"`
	CurationID           string  `json:"curation_id"`
	GeneID               string  `json:"gene_id"`
	ScopeID              string  `json:"scope_id"`
	FromStage            string  `json:"from_stage"`
	ToStage              string  `json:"to_stage"`
	Actor                string  `json:"actor"`
	Timestamp            string  `json:"timestamp"`
	LockVersionBefore    int64   `json:"lock_version_before"`
	LockVersionAfter     int64   `json:"lock_version_after"`
	SupersededCurationID *string `json:"superseded_curation_id,omitempty"`
	RequestID            string  `json:"request_id,omitempty"`
}

// AppendAudit inserts the entry and its outbox row. Call it inside RunInTx so
// both commit with the transition.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	q := s.execer(ctx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO curation_audit (
			id, curation_id, gene_id, scope_id, from_stage, to_stage, actor,
			occurred_at, lock_version_before, lock_version_after,
			superseded_curation_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.CurationID),
		uuid.UUID(entry.GeneID),
		uuid.UUID(entry.ScopeID),
		string(entry.FromStage),
		string(entry.ToStage),
		string(entry.Actor),
		entry.Timestamp,
		entry.LockVersionBefore,
		entry.LockVersionAfter,
		nullableCurationID(entry.SupersededID),
		entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload := auditPayload{
		ID:                entry.ID.String(),
		CurationID:        entry.CurationID.String(),
		GeneID:            entry.GeneID.String(),
		ScopeID:           entry.ScopeID.String(),
		FromStage:         entry.FromStage.String(),
		ToStage:           entry.ToStage.String(),
		Actor:             entry.Actor.String(),
		Timestamp:         entry.Timestamp.UTC().Format(time.RFC3339Nano),
		LockVersionBefore: entry.LockVersionBefore,
		LockVersionAfter:  entry.LockVersionAfter,
		RequestID:         entry.RequestID,
	}
	if entry.SupersededID != nil {
		superseded := entry.SupersededID.String()
		payload.SupersededCurationID = &superseded
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		outboxAggregateType,
		entry.CurationID.String(),
		outboxEventType,
		payloadBytes,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListAudit returns a record's audit entries in insertion order.
func (s *PostgresStore) ListAudit(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, curation_id, gene_id, scope_id, from_stage, to_stage, actor,
			   occurred_at, lock_version_before, lock_version_after,
			   superseded_curation_id, request_id
		FROM curation_audit
		WHERE curation_id = $1
		ORDER BY seq
	`, uuid.UUID(curationID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			entry                           models.AuditEntry
			entryID, curID, geneID, scopeID uuid.UUID
			fromStage, toStage, actor       string
			superseded                      uuid.NullUUID
		)
		if err := rows.Scan(
			&entryID, &curID, &geneID, &scopeID,
			&fromStage, &toStage, &actor,
			&entry.Timestamp, &entry.LockVersionBefore, &entry.LockVersionAfter,
			&superseded, &entry.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = id.AuditID(entryID)
		entry.CurationID = id.CurationID(curID)
		entry.GeneID = id.GeneID(geneID)
		entry.ScopeID = id.ScopeID(scopeID)
		entry.FromStage = models.Stage(fromStage)
		entry.ToStage = models.Stage(toStage)
		entry.Actor = id.ActorID(actor)
		if superseded.Valid {
			supersededID := id.CurationID(superseded.UUID)
			entry.SupersededID = &supersededID
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCuration(row rowScanner) (*models.CurationRecord, error) {
	var (
		r                                models.CurationRecord
		recordID, geneID, scopeID        uuid.UUID
		stage, createdBy                 string
		submittedBy, reviewedBy          string
		submittedAt, reviewedAt, superAt sql.NullTime
		supersededBy                     uuid.NullUUID
		payload                          []byte
	)
	if err := row.Scan(
		&recordID, &geneID, &scopeID, &stage, &r.LockVersion, &createdBy,
		&submittedBy, &submittedAt, &reviewedBy, &reviewedAt,
		&supersededBy, &superAt, &payload, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ID = id.CurationID(recordID)
	r.GeneID = id.GeneID(geneID)
	r.ScopeID = id.ScopeID(scopeID)
	r.Stage = models.Stage(stage)
	r.CreatedBy = id.ActorID(createdBy)
	r.SubmittedBy = id.ActorID(submittedBy)
	r.ReviewedBy = id.ActorID(reviewedBy)
	r.SubmittedAt = timePtr(submittedAt)
	r.ReviewedAt = timePtr(reviewedAt)
	r.SupersededAt = timePtr(superAt)
	if supersededBy.Valid {
		by := id.CurationID(supersededBy.UUID)
		r.SupersededBy = &by
	}
	if payload != nil {
		r.EvidencePayload = json.RawMessage(payload)
	}
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableCurationID(c *id.CurationID) uuid.NullUUID {
	if c == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*c), Valid: true}
}

func payloadBytes(p json.RawMessage) []byte {
	if p == nil {
		return nil
	}
	return []byte(p)
}
