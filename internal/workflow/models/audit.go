package models

import (
	"time"

	id "genecuration/pkg/domain"
)

// AuditEntry records one successful transition. Entries are append-only:
// created exactly once per successful transition, never for failed attempts,
// and never updated or deleted afterwards.
type AuditEntry struct {
	ID                id.AuditID     `json:"id"`
	CurationID        id.CurationID  `json:"curation_id"`
	GeneID            id.GeneID      `json:"gene_id"`
	ScopeID           id.ScopeID     `json:"scope_id"`
	FromStage         Stage          `json:"from_stage"`
	ToStage           Stage          `json:"to_stage"`
	Actor             id.ActorID     `json:"actor"`
	Timestamp         time.Time      `json:"timestamp"`
	LockVersionBefore int64          `json:"lock_version_before"`
	LockVersionAfter  int64          `json:"lock_version_after"`
	SupersededID      *id.CurationID `json:"superseded_curation_id,omitempty"`
	RequestID         string         `json:"request_id,omitempty"`
}

// NewAuditEntry captures a transition from the observed record to the
// persisted candidate.
func NewAuditEntry(before, after *CurationRecord, actor id.ActorID, superseded *id.CurationID, requestID string, now time.Time) *AuditEntry {
	return &AuditEntry{
		ID:                id.NewAuditID(),
		CurationID:        after.ID,
		GeneID:            after.GeneID,
		ScopeID:           after.ScopeID,
		FromStage:         before.Stage,
		ToStage:           after.Stage,
		Actor:             actor,
		Timestamp:         now,
		LockVersionBefore: before.LockVersion,
		LockVersionAfter:  after.LockVersion,
		SupersededID:      superseded,
		RequestID:         requestID,
	}
}
