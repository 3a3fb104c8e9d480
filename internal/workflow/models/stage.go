package models

import (
	"strings"

	dErrors "genecuration/pkg/domain-errors"
)

// Stage is one discrete state of the curation lifecycle.
type Stage string

const (
	StageEntry       Stage = "entry"
	StagePrecuration Stage = "precuration"
	StageCuration    Stage = "curation"
	StageReview      Stage = "review"
	StageActive      Stage = "active"
	StageRejected    Stage = "rejected"

	// StageSuperseded is the archival marker applied to a previously active
	// record when another record claims its (gene, scope) slot. It is not a
	// workflow stage: no edge leads into or out of it.
	StageSuperseded Stage = "superseded"
)

// WorkflowStages lists the six stages the transition graph is defined over.
var WorkflowStages = []Stage{
	StageEntry,
	StagePrecuration,
	StageCuration,
	StageReview,
	StageActive,
	StageRejected,
}

// InitialStage is the unique stage new records are created in.
const InitialStage = StageEntry

func (s Stage) String() string { return string(s) }

// IsWorkflowStage reports whether s is one of the six workflow stages.
func (s Stage) IsWorkflowStage() bool {
	for _, st := range WorkflowStages {
		if st == s {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a workflow stage or the superseded marker.
func (s Stage) IsValid() bool {
	return s.IsWorkflowStage() || s == StageSuperseded
}

// IsEditable reports whether the evidence payload may be revised in place.
func (s Stage) IsEditable() bool {
	switch s {
	case StageEntry, StagePrecuration, StageCuration:
		return true
	default:
		return false
	}
}

// ParseStage validates a stage name at a trust boundary. Only workflow stages
// are accepted; the superseded marker can never be requested.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsWorkflowStage() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown stage: "+raw)
	}
	return s, nil
}
