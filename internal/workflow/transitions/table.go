// Package transitions holds the fixed curation transition graph: which
// (from, to) edges exist and which role may traverse each one.
//
// The graph is domain knowledge, not configuration. There is deliberately no
// way to register edges at runtime, and no role (admin included) can reach a
// stage through an edge that is not listed here.
package transitions

import (
	"genecuration/internal/workflow/models"
)

// Kind classifies what an edge means to the engine.
type Kind string

const (
	// KindAdvance moves a draft forward without side effects on provenance.
	KindAdvance Kind = "advance"
	// KindSubmit hands a curation to review; the actor becomes the submitter.
	KindSubmit Kind = "submit"
	// KindReview is a reviewer decision; the four-eyes rule applies.
	KindReview Kind = "review"
	// KindReopen returns a rejected curation to revision.
	KindReopen Kind = "reopen"
)

// Edge is one legal transition.
type Edge struct {
	From         models.Stage
	To           models.Stage
	RequiredRole models.Role
	Kind         Kind
}

// ClaimsActiveSlot reports whether traversing the edge must claim the
// (gene, scope) active slot.
func (e Edge) ClaimsActiveSlot() bool {
	return e.To == models.StageActive
}

type edgeKey struct {
	from models.Stage
	to   models.Stage
}

var edges = []Edge{
	{From: models.StageEntry, To: models.StagePrecuration, RequiredRole: models.RoleCurator, Kind: KindAdvance},
	{From: models.StagePrecuration, To: models.StageCuration, RequiredRole: models.RoleCurator, Kind: KindAdvance},
	{From: models.StageCuration, To: models.StageReview, RequiredRole: models.RoleCurator, Kind: KindSubmit},
	{From: models.StageReview, To: models.StageActive, RequiredRole: models.RoleReviewer, Kind: KindReview},
	{From: models.StageReview, To: models.StageRejected, RequiredRole: models.RoleReviewer, Kind: KindReview},
	{From: models.StageRejected, To: models.StageCuration, RequiredRole: models.RoleCurator, Kind: KindReopen},
}

// Table is the immutable lookup over the transition graph. The zero value is
// not usable; call Default.
type Table struct {
	byKey map[edgeKey]Edge
	next  map[models.Stage][]models.Stage
}

var defaultTable = build(edges)

// Default returns the shared transition table.
func Default() *Table {
	return defaultTable
}

func build(list []Edge) *Table {
	t := &Table{
		byKey: make(map[edgeKey]Edge, len(list)),
		next:  make(map[models.Stage][]models.Stage),
	}
	for _, e := range list {
		t.byKey[edgeKey{e.From, e.To}] = e
		t.next[e.From] = append(t.next[e.From], e.To)
	}
	return t
}

// Lookup returns the edge from -> to, if it exists.
func (t *Table) Lookup(from, to models.Stage) (Edge, bool) {
	e, ok := t.byKey[edgeKey{from, to}]
	return e, ok
}

// IsLegal reports whether from -> to is an edge of the graph.
func (t *Table) IsLegal(from, to models.Stage) bool {
	_, ok := t.byKey[edgeKey{from, to}]
	return ok
}

// RequiredRole returns the role needed to traverse from -> to. The second
// result is false when the edge does not exist.
func (t *Table) RequiredRole(from, to models.Stage) (models.Role, bool) {
	e, ok := t.byKey[edgeKey{from, to}]
	if !ok {
		return "", false
	}
	return e.RequiredRole, true
}

// Next lists the stages reachable from a stage in one step.
func (t *Table) Next(from models.Stage) []models.Stage {
	return append([]models.Stage(nil), t.next[from]...)
}

// Edges returns a copy of every legal edge.
func (t *Table) Edges() []Edge {
	return append([]Edge(nil), edges...)
}
