// Package redis implements the workflow store on Redis using WATCH/MULTI
// optimistic transactions. Every key a transaction reads is watched before
// it is read; writes are buffered and applied in one MULTI/EXEC. If any
// watched key changes before EXEC the transaction reports
// sentinel.ErrContention and the engine retries it from the top.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/service"
	id "genecuration/pkg/domain"
	"genecuration/pkg/platform/sentinel"
)

const (
	recordKeyPrefix = "curation:record:"
	slotKeyPrefix   = "curation:slot:"
	auditKeyPrefix  = "curation:audit:"
)

func recordKey(curationID id.CurationID) string {
	return recordKeyPrefix + curationID.String()
}

func slotKey(geneID id.GeneID, scopeID id.ScopeID) string {
	return slotKeyPrefix + geneID.String() + ":" + scopeID.String()
}

func auditKey(curationID id.CurationID) string {
	return auditKeyPrefix + curationID.String()
}

// RedisStore is a Redis-backed curation store for deployments that share
// workflow state across instances without a relational database.
type RedisStore struct {
	client *redis.Client
}

// New constructs a Redis-backed curation store.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// storedRecord keeps the evidence payload as raw bytes so opaque payloads
// survive the JSON envelope unchanged.
type storedRecord struct {
	models.CurationRecord
	EvidencePayload []byte `json:"evidence_payload,omitempty"`
}

func encodeRecord(r *models.CurationRecord) (string, error) {
	b, err := json.Marshal(storedRecord{CurationRecord: *r, EvidencePayload: r.EvidencePayload})
	if err != nil {
		return "", fmt.Errorf("marshal curation: %w", err)
	}
	return string(b), nil
}

func decodeRecord(raw string) (*models.CurationRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		return nil, fmt.Errorf("unmarshal curation: %w", err)
	}
	r := sr.CurationRecord
	r.EvidencePayload = sr.EvidencePayload
	return &r, nil
}

func (s *RedisStore) FindByID(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	raw, err := s.client.Get(ctx, recordKey(curationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get curation: %w", err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) Create(ctx context.Context, record *models.CurationRecord) error {
	return s.RunInTx(ctx, func(tx service.Store) error {
		return tx.Create(ctx, record)
	})
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, record *models.CurationRecord, expectedVersion int64) error {
	return s.RunInTx(ctx, func(tx service.Store) error {
		return tx.CompareAndSwap(ctx, record, expectedVersion)
	})
}

func (s *RedisStore) ClaimActiveSlot(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	var superseded *id.CurationID
	err := s.RunInTx(ctx, func(tx service.Store) error {
		var err error
		superseded, err = tx.ClaimActiveSlot(ctx, geneID, scopeID, incoming, now)
		return err
	})
	return superseded, err
}

func (s *RedisStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := s.client.RPush(ctx, auditKey(entry.CurationID), raw).Err(); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAudit(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	return listAudit(ctx, s.client, curationID)
}

// RunInTx runs fn inside one WATCH/MULTI/EXEC round. A transaction that
// lost a watched key returns an error wrapping sentinel.ErrContention.
func (s *RedisStore) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		view := &txStore{tx: tx, pending: make(map[string]string)}
		if err := fn(view); err != nil {
			return err
		}
		if len(view.ops) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range view.ops {
				op(ctx, pipe)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis transaction: %w", sentinel.ErrContention)
	}
	return err
}

func listAudit(ctx context.Context, c redis.Cmdable, curationID id.CurationID) ([]*models.AuditEntry, error) {
	raws, err := c.LRange(ctx, auditKey(curationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	entries := make([]*models.AuditEntry, 0, len(raws))
	for _, raw := range raws {
		var entry models.AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// txStore is the view handed to RunInTx callbacks. Reads watch their key
// first; writes are queued and also recorded in pending so later reads in
// the same transaction observe them.
type txStore struct {
	tx      *redis.Tx
	ops     []func(context.Context, redis.Pipeliner)
	pending map[string]string
}

func (t *txStore) get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := t.pending[key]; ok {
		return v, true, nil
	}
	if err := t.tx.Watch(ctx, key).Err(); err != nil {
		return "", false, fmt.Errorf("watch %s: %w", key, err)
	}
	v, err := t.tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (t *txStore) set(key, value string) {
	t.pending[key] = value
	t.ops = append(t.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Set(ctx, key, value, 0)
	})
}

func (t *txStore) FindByID(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	raw, ok, err := t.get(ctx, recordKey(curationID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return decodeRecord(raw)
}

func (t *txStore) Create(ctx context.Context, record *models.CurationRecord) error {
	key := recordKey(record.ID)
	if _, exists, err := t.get(ctx, key); err != nil {
		return err
	} else if exists {
		return sentinel.ErrAlreadyUsed
	}
	if record.IsActive() {
		sk := slotKey(record.GeneID, record.ScopeID)
		if _, held, err := t.get(ctx, sk); err != nil {
			return err
		} else if held {
			return sentinel.ErrAlreadyUsed
		}
		t.set(sk, record.ID.String())
	}
	raw, err := encodeRecord(record)
	if err != nil {
		return err
	}
	t.set(key, raw)
	return nil
}

func (t *txStore) CompareAndSwap(ctx context.Context, record *models.CurationRecord, expectedVersion int64) error {
	current, err := t.FindByID(ctx, record.ID)
	if err != nil {
		return err
	}
	if current.LockVersion != expectedVersion {
		return sentinel.ErrConflict
	}
	raw, err := encodeRecord(record)
	if err != nil {
		return err
	}
	t.set(recordKey(record.ID), raw)
	return nil
}

func (t *txStore) ClaimActiveSlot(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	sk := slotKey(geneID, scopeID)
	rawHolder, held, err := t.get(ctx, sk)
	if err != nil {
		return nil, err
	}
	if held && rawHolder == incoming.String() {
		return nil, nil
	}
	t.set(sk, incoming.String())
	if !held {
		return nil, nil
	}

	holderID, err := id.ParseCurationID(rawHolder)
	if err != nil {
		return nil, fmt.Errorf("parse slot holder: %w", err)
	}
	holder, err := t.FindByID(ctx, holderID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !holder.IsActive() {
		return nil, nil
	}
	holder.ApplySupersession(incoming, now)
	holder.LockVersion++
	raw, err := encodeRecord(holder)
	if err != nil {
		return nil, err
	}
	t.set(recordKey(holderID), raw)
	return &holderID, nil
}

func (t *txStore) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	key := auditKey(entry.CurationID)
	t.ops = append(t.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.RPush(ctx, key, raw)
	})
	return nil
}

func (t *txStore) ListAudit(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	return listAudit(ctx, t.tx, curationID)
}
