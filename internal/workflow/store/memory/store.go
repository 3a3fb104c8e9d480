// Package memory is an in-process implementation of the workflow store.
// A single RWMutex serializes writers; RunInTx holds it for the whole
// transaction and restores a snapshot if fn fails.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"genecuration/internal/workflow/models"
	"genecuration/internal/workflow/service"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/sentinel"
)

type slotKey struct {
	gene  id.GeneID
	scope id.ScopeID
}

// InMemoryStore keeps curation records, active-slot holders and the audit
// log in maps guarded by one lock. Records are stored and returned as
// clones; stored pointers are replaced, never mutated.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.CurationID]*models.CurationRecord
	slots   map[slotKey]id.CurationID
	audit   []*models.AuditEntry
}

func New() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[id.CurationID]*models.CurationRecord),
		slots:   make(map[slotKey]id.CurationID),
	}
}

func (s *InMemoryStore) FindByID(_ context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByID(curationID)
}

func (s *InMemoryStore) Create(_ context.Context, record *models.CurationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(record)
}

func (s *InMemoryStore) CompareAndSwap(_ context.Context, record *models.CurationRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compareAndSwap(record, expectedVersion)
}

func (s *InMemoryStore) ClaimActiveSlot(_ context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimActiveSlot(geneID, scopeID, incoming, now)
}

func (s *InMemoryStore) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(entry)
}

func (s *InMemoryStore) ListAudit(_ context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAudit(curationID), nil
}

// ActiveCount returns how many records of (geneID, scopeID) are active.
func (s *InMemoryStore) ActiveCount(geneID id.GeneID, scopeID id.ScopeID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.GeneID == geneID && r.ScopeID == scopeID && r.IsActive() {
			n++
		}
	}
	return n
}

// AuditLen returns the total number of audit entries across all records.
func (s *InMemoryStore) AuditLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.audit)
}

// RunInTx runs fn with exclusive access to the store. If fn returns an error
// or the context ends, every write fn made is discarded.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := maps.Clone(s.records)
	slots := maps.Clone(s.slots)
	auditLen := len(s.audit)

	err := fn(&txStore{s: s})
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = dErrors.Wrap(cerr, dErrors.CodeTimeout, "transaction aborted before commit")
		}
	}
	if err != nil {
		s.records = records
		s.slots = slots
		s.audit = s.audit[:auditLen]
		return err
	}
	return nil
}

func (s *InMemoryStore) findByID(curationID id.CurationID) (*models.CurationRecord, error) {
	r, ok := s.records[curationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) create(record *models.CurationRecord) error {
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if record.IsActive() {
		key := slotKey{gene: record.GeneID, scope: record.ScopeID}
		if _, held := s.slots[key]; held {
			return sentinel.ErrAlreadyUsed
		}
		s.slots[key] = record.ID
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *InMemoryStore) compareAndSwap(record *models.CurationRecord, expectedVersion int64) error {
	current, ok := s.records[record.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.LockVersion != expectedVersion {
		return sentinel.ErrConflict
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *InMemoryStore) claimActiveSlot(geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	key := slotKey{gene: geneID, scope: scopeID}
	holderID, held := s.slots[key]
	s.slots[key] = incoming
	if !held || holderID == incoming {
		return nil, nil
	}
	holder, ok := s.records[holderID]
	if !ok || !holder.IsActive() {
		return nil, nil
	}
	demoted := holder.Clone()
	demoted.ApplySupersession(incoming, now)
	demoted.LockVersion++
	s.records[holderID] = demoted
	return &holderID, nil
}

func (s *InMemoryStore) appendAudit(entry *models.AuditEntry) error {
	e := *entry
	s.audit = append(s.audit, &e)
	return nil
}

func (s *InMemoryStore) listAudit(curationID id.CurationID) []*models.AuditEntry {
	var out []*models.AuditEntry
	for _, e := range s.audit {
		if e.CurationID == curationID {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

// txStore is the view handed to RunInTx callbacks. The enclosing RunInTx
// already holds the write lock, so its methods do not lock.
type txStore struct {
	s *InMemoryStore
}

func (t *txStore) FindByID(_ context.Context, curationID id.CurationID) (*models.CurationRecord, error) {
	return t.s.findByID(curationID)
}

func (t *txStore) Create(_ context.Context, record *models.CurationRecord) error {
	return t.s.create(record)
}

func (t *txStore) CompareAndSwap(_ context.Context, record *models.CurationRecord, expectedVersion int64) error {
	return t.s.compareAndSwap(record, expectedVersion)
}

func (t *txStore) ClaimActiveSlot(_ context.Context, geneID id.GeneID, scopeID id.ScopeID, incoming id.CurationID, now time.Time) (*id.CurationID, error) {
	return t.s.claimActiveSlot(geneID, scopeID, incoming, now)
}

func (t *txStore) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	return t.s.appendAudit(entry)
}

func (t *txStore) ListAudit(_ context.Context, curationID id.CurationID) ([]*models.AuditEntry, error) {
	return t.s.listAudit(curationID), nil
}
