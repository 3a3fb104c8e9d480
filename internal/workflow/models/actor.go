package models

import (
	"slices"
	"strings"

	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
)

// Role is a workflow capability held by an actor.
type Role string

const (
	RoleCurator  Role = "curator"
	RoleReviewer Role = "reviewer"
	// RoleAdmin exists in the wider platform but satisfies no transition edge.
	RoleAdmin Role = "admin"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleCurator, RoleReviewer, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor is the already-authenticated caller of a workflow operation.
type Actor struct {
	ID    id.ActorID
	Roles []Role
}

// NewActor builds an Actor from raw claim values. Unknown role names are
// dropped rather than rejected so new platform roles do not break callers.
func NewActor(actorID id.ActorID, roles []string) (Actor, error) {
	if actorID.IsZero() {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor identity required")
	}
	parsed := make([]Role, 0, len(roles))
	for _, raw := range roles {
		r := Role(strings.ToLower(strings.TrimSpace(raw)))
		if r.IsValid() && !slices.Contains(parsed, r) {
			parsed = append(parsed, r)
		}
	}
	return Actor{ID: actorID, Roles: parsed}, nil
}

// HasRole is exact membership. Admin does not imply any other role.
func (a Actor) HasRole(role Role) bool {
	return slices.Contains(a.Roles, role)
}
