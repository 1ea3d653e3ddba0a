package fsapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/redblackgraph/fscrawl/internal/model"
)

// GedcomX type URIs used by the FamilySearch platform.
const (
	uriGivenPart   = "http://gedcomx.org/Given"
	uriSurnamePart = "http://gedcomx.org/Surname"

	uriParentChild = "http://gedcomx.org/ParentChild"
	uriCouple      = "http://gedcomx.org/Couple"

	uriBiologicalParent = "http://gedcomx.org/BiologicalParent"
)

// resourceRef points at a person record inside a relationship.
type resourceRef struct {
	ResourceID string `json:"resourceId"`
}

// factRecord is a single relationship fact. Only the type matters here;
// dates and places stay with the service.
type factRecord struct {
	Type string `json:"type"`
}

// personsPayload mirrors the slice of the Persons resource response the
// crawl consumes. Unknown fields are ignored by encoding/json, which is
// what keeps this layer stable against additive API changes.
type personsPayload struct {
	Persons []struct {
		ID     string `json:"id"`
		Gender struct {
			Type string `json:"type"`
		} `json:"gender"`
		Names []struct {
			NameForms []struct {
				Parts []struct {
					Type  string `json:"type"`
					Value string `json:"value"`
				} `json:"parts"`
			} `json:"nameForms"`
		} `json:"names"`
		Display struct {
			Lifespan string `json:"lifespan"`
		} `json:"display"`
	} `json:"persons"`
	Relationships []struct {
		ID      string      `json:"id"`
		Type    string      `json:"type"`
		Person1 resourceRef `json:"person1"`
		Person2 resourceRef `json:"person2"`
	} `json:"relationships"`
}

// PersonsResult is one parsed persons payload, ready for the store.
type PersonsResult struct {
	// Individuals are the resolved persons, iteration left unset; the
	// engine stamps the current hop before writing.
	Individuals []model.Individual

	// ParentChild are parent→child edges, typed UnspecifiedParentType
	// until resolution.
	ParentChild []model.Edge

	// Couples are marriage edges. Stored for the downstream reader,
	// never followed.
	Couples []model.Edge
}

// ParsePersons decodes a persons payload into individuals and edges.
//
// Name parts are NFC-normalized so that the same name always produces
// the same bytes in the vertex table regardless of how the contributor
// typed it. Relationships missing an endpoint are dropped with a
// warning rather than failing the whole payload.
func ParsePersons(data []byte, logger *slog.Logger) (*PersonsResult, error) {
	var payload personsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("corrupt persons payload: %w", err)
	}

	result := &PersonsResult{}
	for _, p := range payload.Persons {
		if p.ID == "" {
			logger.Warn("persons payload carried a person without an id, skipping")
			continue
		}
		person := model.Individual{
			ID:       model.PID(p.ID),
			Color:    model.ParseGenderType(p.Gender.Type),
			Lifespan: p.Display.Lifespan,
		}
		// The first name form of the first name is the preferred one.
		if len(p.Names) > 0 && len(p.Names[0].NameForms) > 0 {
			for _, part := range p.Names[0].NameForms[0].Parts {
				switch part.Type {
				case uriGivenPart:
					person.GivenName = norm.NFC.String(part.Value)
				case uriSurnamePart:
					person.Surname = norm.NFC.String(part.Value)
				}
			}
		}
		result.Individuals = append(result.Individuals, person)
	}

	for _, r := range payload.Relationships {
		if r.Person1.ResourceID == "" || r.Person2.ResourceID == "" {
			logger.Warn("relationship missing an endpoint, skipping",
				slog.String("relationship_id", r.ID))
			continue
		}
		switch r.Type {
		case uriParentChild:
			result.ParentChild = append(result.ParentChild, model.Edge{
				Source:      model.PID(r.Person1.ResourceID),
				Destination: model.PID(r.Person2.ResourceID),
				RelID:       trimRelationshipID(r.ID),
				Type:        model.TypeUnspecifiedParent,
			})
		case uriCouple:
			result.Couples = append(result.Couples, model.Edge{
				Source:      model.PID(r.Person1.ResourceID),
				Destination: model.PID(r.Person2.ResourceID),
				RelID:       r.ID,
				Type:        model.TypeUntypedCouple,
			})
		default:
			logger.Debug("ignoring relationship of unknown type",
				slog.String("relationship_id", r.ID),
				slog.String("type", r.Type))
		}
	}
	return result, nil
}

// trimRelationshipID strips the two-character marker the persons
// payload prefixes onto parent-child relationship ids, so the id joins
// against the child-and-parents resource it came from.
func trimRelationshipID(id string) string {
	if len(id) > 2 {
		return id[2:]
	}
	return id
}

// childAndParentsPayload mirrors the child-and-parents relationship
// resource response.
type childAndParentsPayload struct {
	ChildAndParentsRelationships []struct {
		ID           string       `json:"id"`
		Parent1      resourceRef  `json:"parent1"`
		Parent2      resourceRef  `json:"parent2"`
		Child        resourceRef  `json:"child"`
		Parent1Facts []factRecord `json:"parent1Facts"`
		Parent2Facts []factRecord `json:"parent2Facts"`
	} `json:"childAndParentsRelationships"`
}

// ResolvedRelationship is one parsed child-and-parents record. Each
// present parent contributes one edge carrying the type its facts
// establish.
type ResolvedRelationship struct {
	ID    string
	Edges []model.Edge
}

// ParseRelationship decodes a child-and-parents payload. The resource
// addresses a single record, so only the first entry is read.
func ParseRelationship(data []byte, logger *slog.Logger) (*ResolvedRelationship, error) {
	var payload childAndParentsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("corrupt relationship payload: %w", err)
	}
	if len(payload.ChildAndParentsRelationships) == 0 {
		return nil, fmt.Errorf("relationship payload carried no records")
	}

	r := payload.ChildAndParentsRelationships[0]
	resolved := &ResolvedRelationship{ID: r.ID}
	if r.Child.ResourceID == "" {
		return nil, fmt.Errorf("relationship %s has no child", r.ID)
	}
	child := model.PID(r.Child.ResourceID)

	for _, side := range []struct {
		parent resourceRef
		facts  []factRecord
	}{
		{r.Parent1, r.Parent1Facts},
		{r.Parent2, r.Parent2Facts},
	} {
		if side.parent.ResourceID == "" {
			continue
		}
		resolved.Edges = append(resolved.Edges, model.Edge{
			Source:      model.PID(side.parent.ResourceID),
			Destination: child,
			RelID:       r.ID,
			Type:        classifyFacts(r.ID, side.facts, logger),
		})
	}
	return resolved, nil
}

// classifyFacts maps a parent's relationship facts onto an edge type.
// No facts means the record is silent, which the crawl treats as
// biological. An explicit non-biological fact wins over a biological
// one on the same side; contributors do record both, and the
// conservative reading is the one that keeps the edge out of the
// bloodline graph.
func classifyFacts(relID string, facts []factRecord, logger *slog.Logger) model.RelationshipType {
	if len(facts) == 0 {
		return model.TypeAssumedBiological
	}
	var biological, nonBiological bool
	for _, f := range facts {
		if f.Type == uriBiologicalParent {
			biological = true
		} else if strings.HasPrefix(f.Type, "http://gedcomx.org/") {
			nonBiological = true
		}
	}
	switch {
	case biological && nonBiological:
		logger.Warn("conflicting parent facts, treating as non-biological",
			slog.String("relationship_id", relID))
		return model.TypeNonBiological
	case nonBiological:
		return model.TypeNonBiological
	default:
		return model.TypeBiologicalParent
	}
}
