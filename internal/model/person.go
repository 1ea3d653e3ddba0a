package model

import "fmt"

// PID is a person identifier assigned by FamilySearch.
// It is an opaque short string (e.g. "KWQS-BB7"); equality is exact
// string equality and no structure beyond that may be assumed.
type PID string

// String returns the identifier as a plain string.
func (p PID) String() string { return string(p) }

// Color is the vertex color used by the downstream red/black graph
// reader. It is derived from the GedcomX gender type of a person.
//
// Design decision: We persist the color as a small integer rather than
// the GedcomX URI because:
//  1. The downstream reader joins on it in hot queries
//  2. The URI form carries no extra information
//  3. It matches the on-disk format consumed by existing tooling
type Color int

const (
	// ColorUnknown is used when FamilySearch reports no gender or an
	// unknown gender for a person.
	ColorUnknown Color = 0

	// ColorMale marks a male vertex.
	ColorMale Color = 1

	// ColorFemale marks a female vertex.
	ColorFemale Color = -1
)

// GedcomX gender type URIs returned by the persons endpoint.
const (
	genderTypeMale    = "http://gedcomx.org/Male"
	genderTypeFemale  = "http://gedcomx.org/Female"
	genderTypeUnknown = "http://gedcomx.org/Unknown"
)

// ParseGenderType maps a GedcomX gender type URI to a Color.
// Unrecognized URIs map to ColorUnknown; the crawl must not fail on
// vocabulary drift in the remote service.
func ParseGenderType(uri string) Color {
	switch uri {
	case genderTypeMale:
		return ColorMale
	case genderTypeFemale:
		return ColorFemale
	default:
		return ColorUnknown
	}
}

// String returns a human-readable color name.
func (c Color) String() string {
	switch c {
	case ColorMale:
		return "male"
	case ColorFemale:
		return "female"
	default:
		return "unknown"
	}
}

// Individual is the fully resolved record for one person: a vertex in
// the crawl graph.
type Individual struct {
	// ID is the FamilySearch person identifier.
	ID PID

	// Color is the vertex color derived from the person's gender.
	Color Color

	// Surname is the family name. May be empty.
	Surname string

	// GivenName is the given name. May be empty.
	GivenName string

	// Lifespan is the free-form lifespan string reported by
	// FamilySearch (e.g. "1823-1901"). May be empty.
	Lifespan string

	// Iteration is the hop at which this person was promoted out of
	// the frontier. Seeds are iteration 0.
	Iteration int
}

// DisplayName returns "Surname, GivenName" for logs and reports.
func (i *Individual) DisplayName() string {
	return fmt.Sprintf("%s, %s", i.Surname, i.GivenName)
}
