package handler

import (
	"encoding/json"
	"strings"

	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
)

type CreateCurationRequest struct {
	GeneID          string          `json:"gene_id"`
	ScopeID         string          `json:"scope_id"`
	EvidencePayload json.RawMessage `json:"evidence_payload"`
}

func (r *CreateCurationRequest) parse() (id.GeneID, id.ScopeID, error) {
	geneID, err := id.ParseGeneID(strings.TrimSpace(r.GeneID))
	if err != nil {
		return id.GeneID{}, id.ScopeID{}, err
	}
	scopeID, err := id.ParseScopeID(strings.TrimSpace(r.ScopeID))
	if err != nil {
		return id.GeneID{}, id.ScopeID{}, err
	}
	return geneID, scopeID, nil
}

// TransitionRequest asks to move a record to TargetStage. ExpectedVersion is
// the lockVersion the caller last read and is required.
type TransitionRequest struct {
	ExpectedVersion *int64          `json:"expected_version"`
	TargetStage     string          `json:"target_stage"`
	EvidencePayload json.RawMessage `json:"evidence_payload,omitempty"`
}

func (r *TransitionRequest) parse() (int64, models.Stage, error) {
	if r.ExpectedVersion == nil {
		return 0, "", dErrors.New(dErrors.CodeValidation, "expected_version is required")
	}
	target, err := models.ParseStage(strings.TrimSpace(r.TargetStage))
	if err != nil {
		return 0, "", err
	}
	return *r.ExpectedVersion, target, nil
}

type UpdateEvidenceRequest struct {
	ExpectedVersion *int64          `json:"expected_version"`
	EvidencePayload json.RawMessage `json:"evidence_payload"`
}

// ConflictResponse is returned with 409 so the caller can discard, overwrite
// or merge against the current persisted record.
type ConflictResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	ExpectedVersion  int64                  `json:"expected_version"`
	TheirVersion     int64                  `json:"their_version"`
	TheirRecord      *models.CurationRecord `json:"their_record,omitempty"`
}

type AuditResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
}
