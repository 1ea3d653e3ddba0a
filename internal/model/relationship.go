package model

// RelationshipType classifies a parent→child edge.
//
// The values are stored verbatim in the EDGE table, so renaming a
// constant is a schema migration, not a refactor.
type RelationshipType string

const (
	// TypeUnspecifiedParent marks an edge discovered through the
	// persons endpoint before any relationship facts were seen.
	TypeUnspecifiedParent RelationshipType = "UnspecifiedParentType"

	// TypeAssumedBiological marks an edge whose relationship record
	// was fetched but carried no parent facts. Treated as biological
	// until evidence says otherwise.
	TypeAssumedBiological RelationshipType = "AssumedBiological"

	// TypeBiologicalParent marks an edge with an explicit
	// BiologicalParent fact.
	TypeBiologicalParent RelationshipType = "BiologicalParent"

	// TypeNonBiological marks an edge with an explicit non-biological
	// fact (adoptive, step, foster, guardian, sociological, surrogate).
	TypeNonBiological RelationshipType = "NonBiological"

	// TypeResolve marks an edge flagged ambiguous: the child carries
	// more than two biological-ish parents and the relationship record
	// must be fetched to decide which are real.
	TypeResolve RelationshipType = "Resolve"

	// TypeUntypedCouple marks a couple (marriage) edge discovered
	// through the persons endpoint. Couple edges are excluded from the
	// bloodline follow set, but their endpoints still join the frontier
	// so spouses are crawled.
	TypeUntypedCouple RelationshipType = "UntypedCouple"
)

// BiologicalIsh reports whether edges of this type are followed by
// downstream graph readers.
func (t RelationshipType) BiologicalIsh() bool {
	switch t {
	case TypeUnspecifiedParent, TypeAssumedBiological, TypeBiologicalParent:
		return true
	default:
		return false
	}
}

// BiologicalIshTypes is the follow set in a stable order, for building
// SQL IN clauses.
var BiologicalIshTypes = []RelationshipType{
	TypeUnspecifiedParent,
	TypeAssumedBiological,
	TypeBiologicalParent,
}

// Precedence ranks relationship types so that conflicting sources can
// be merged deterministically. Higher rank wins.
//
// The rule set was never explicit in the FamilySearch API contract, so
// the ordering is injectable rather than hard-coded: callers that
// disagree with the default can supply their own.
type Precedence map[RelationshipType]int

// DefaultPrecedence returns the standard ranking:
// BiologicalParent > AssumedBiological > UnspecifiedParentType.
// NonBiological does not appear; it overrides lower types only when a
// resolver response states it explicitly (see Merge).
func DefaultPrecedence() Precedence {
	return Precedence{
		TypeBiologicalParent:  3,
		TypeAssumedBiological: 2,
		TypeUnspecifiedParent: 1,
	}
}

// Merge decides the edge type when an existing stored type and a newly
// resolved type disagree. The resolved type wins if it outranks the
// current one; an explicit NonBiological always replaces a
// biological-ish or Resolve type.
func (p Precedence) Merge(current, resolved RelationshipType) RelationshipType {
	if resolved == TypeNonBiological {
		return TypeNonBiological
	}
	if current == TypeResolve {
		return resolved
	}
	if p[resolved] >= p[current] {
		return resolved
	}
	return current
}

// Edge is a directed link between two persons. For parent→child edges
// Source is the parent and Destination the child; for couple edges the
// direction follows the order the service reported. RelID is the
// FamilySearch identifier of the relationship record and keys the edge
// together with the endpoints.
type Edge struct {
	Source      PID
	Destination PID
	RelID       string
	Type        RelationshipType
}
