package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "genecuration/pkg/domain-errors"
)

// Typed identifiers keep curation, gene, and scope keys from being swapped at
// call sites. All three are UUID-backed; ActorID is an opaque identity string
// issued by the authentication layer.
type (
	CurationID uuid.UUID
	GeneID     uuid.UUID
	ScopeID    uuid.UUID
	AuditID    uuid.UUID
)

// ActorID identifies a human actor (curator, reviewer). Identity equality on
// ActorID is what the four-eyes rule compares.
type ActorID string

const maxActorIDLength = 256

func NewCurationID() CurationID { return CurationID(uuid.New()) }
func NewAuditID() AuditID       { return AuditID(uuid.New()) }

func (id CurationID) String() string { return uuid.UUID(id).String() }
func (id CurationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id GeneID) String() string     { return uuid.UUID(id).String() }
func (id GeneID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ScopeID) String() string    { return uuid.UUID(id).String() }
func (id ScopeID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) String() string    { return uuid.UUID(id).String() }
func (id AuditID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

func (a ActorID) String() string { return string(a) }
func (a ActorID) IsZero() bool   { return a == "" }

// MarshalText lets typed IDs serialize as plain UUID strings in JSON.
func (id CurationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id GeneID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id ScopeID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id AuditID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *CurationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *GeneID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ScopeID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AuditID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }

func ParseCurationID(s string) (CurationID, error) {
	u, err := parseUUID(s, "curation ID")
	return CurationID(u), err
}

func ParseGeneID(s string) (GeneID, error) {
	u, err := parseUUID(s, "gene ID")
	return GeneID(u), err
}

func ParseScopeID(s string) (ScopeID, error) {
	u, err := parseUUID(s, "scope ID")
	return ScopeID(u), err
}

// ParseActorID validates an actor identifier taken from a trust boundary
// (token subject, request body).
func ParseActorID(s string) (ActorID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor ID is required")
	}
	if len(s) > maxActorIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor ID is too long")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "actor ID contains invalid characters")
		}
	}
	return ActorID(s), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}
