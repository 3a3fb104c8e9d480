package models

import (
	"encoding/json"
	"time"

	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
)

// CurationRecord is the aggregate the workflow engine governs.
//
// Invariants:
//   - LockVersion increases by exactly 1 per successful mutation
//   - At most one record per (GeneID, ScopeID) has Stage == StageActive
//   - ReviewedBy != SubmittedBy whenever a record leaves Review
//   - Stage changes only along TransitionTable edges (or to the superseded marker)
//
// The engine exclusively owns Stage, LockVersion, SubmittedBy and ReviewedBy.
// EvidencePayload is opaque: it is stored and forwarded, never inspected.
type CurationRecord struct {
	ID              id.CurationID   `json:"id"`
	GeneID          id.GeneID       `json:"gene_id"`
	ScopeID         id.ScopeID      `json:"scope_id"`
	Stage           Stage           `json:"stage"`
	LockVersion     int64           `json:"lock_version"`
	CreatedBy       id.ActorID      `json:"created_by"`
	SubmittedBy     id.ActorID      `json:"submitted_by,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ReviewedBy      id.ActorID      `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	SupersededBy    *id.CurationID  `json:"superseded_by,omitempty"`
	SupersededAt    *time.Time      `json:"superseded_at,omitempty"`
	EvidencePayload json.RawMessage `json:"evidence_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewCurationRecord builds a record in the initial stage at version 0.
func NewCurationRecord(curationID id.CurationID, geneID id.GeneID, scopeID id.ScopeID, createdBy id.ActorID, payload json.RawMessage, now time.Time) (*CurationRecord, error) {
	if curationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "curation ID cannot be nil")
	}
	if geneID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "gene ID cannot be nil")
	}
	if scopeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scope ID cannot be nil")
	}
	if createdBy.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creator cannot be empty")
	}
	return &CurationRecord{
		ID:              curationID,
		GeneID:          geneID,
		ScopeID:         scopeID,
		Stage:           InitialStage,
		LockVersion:     0,
		CreatedBy:       createdBy,
		EvidencePayload: clonePayload(payload),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsActive reports whether the record currently holds its active slot.
func (r *CurationRecord) IsActive() bool {
	return r.Stage == StageActive
}

// IsSuperseded reports whether the record was demoted out of the active slot.
func (r *CurationRecord) IsSuperseded() bool {
	return r.Stage == StageSuperseded
}

// Clone returns a deep copy so callers can build a candidate without
// aliasing the observed state.
func (r *CurationRecord) Clone() *CurationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	c.SupersededAt = cloneTime(r.SupersededAt)
	if r.SupersededBy != nil {
		by := *r.SupersededBy
		c.SupersededBy = &by
	}
	c.EvidencePayload = clonePayload(r.EvidencePayload)
	return &c
}

// ApplySupersession demotes an active record out of its slot. The caller is
// the storage layer's slot claim, which also bumps LockVersion.
func (r *CurationRecord) ApplySupersession(by id.CurationID, now time.Time) {
	r.Stage = StageSuperseded
	r.SupersededBy = &by
	r.SupersededAt = &now
	r.UpdatedAt = now
}

// ReplaceEvidence swaps the opaque payload. A nil payload keeps the current one.
func (r *CurationRecord) ReplaceEvidence(payload json.RawMessage) {
	if payload == nil {
		return
	}
	r.EvidencePayload = clonePayload(payload)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	return append(json.RawMessage(nil), p...)
}
