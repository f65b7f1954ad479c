// Package graph implements the triplet graph store driver backed by FalkorDB.
//
// Entities are nodes under a single label per store instance, identified by
// an indexed `id` property. Relationships are typed directed edges between
// entities. The store exposes triplet-level operations (Get, RelMap,
// UpsertTriplet, Delete) plus a narrower entry-oriented view (LoadEntry,
// LoadEntries, UpsertNode, DeleteNode) for callers that only think in nodes.
package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultNodeLabel is the node label used when none is configured.
const DefaultNodeLabel = "Entity"

// Entry is the single-node view of an entity: its identifier plus an open
// property mapping.
type Entry struct {
	ID         string
	Properties map[string]any
}

// Relation is one outgoing edge of a subject: the relationship type and the
// object's identifier.
type Relation struct {
	Rel      string
	ObjectID string
}

// tokenPattern matches identifiers safe to splice into query text as labels,
// relationship types, or property keys. Node ids and property values never
// need this; they travel as bound parameters.
var tokenPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NormalizeRelation turns a free-form relation label into a storable edge
// type token: spaces become underscores, the result is upper-cased.
func NormalizeRelation(rel string) string {
	return strings.ToUpper(strings.ReplaceAll(rel, " ", "_"))
}

// relationToken normalizes rel and rejects anything that is not a valid edge
// type token. Labels are spliced into query text (the engine cannot bind
// them), so this is the injection guard.
func relationToken(rel string) (string, error) {
	token := NormalizeRelation(rel)
	if !tokenPattern.MatchString(token) {
		return "", fmt.Errorf("invalid relation label %q (normalized %q)", rel, token)
	}
	return token, nil
}

// isPrimitive reports whether v can be stored as a node property: a scalar
// primitive or a list of them.
func isPrimitive(v any) bool {
	switch val := v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	case []string:
		return true
	case []any:
		for _, elem := range val {
			switch elem.(type) {
			case string, bool, int, int32, int64, float32, float64:
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}
