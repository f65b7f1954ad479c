package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrInvalidBound is returned when a traversal bound (depth or limit) is not
// a positive integer.
var ErrInvalidBound = errors.New("traversal bound must be a positive integer")

const (
	DefaultRelMapDepth = 2
	DefaultRelMapLimit = 30
)

// Store is the triplet graph store driver. One instance serves one node
// label on one graph; concurrent callers may share it, with the backing
// store arbitrating write consistency.
type Store struct {
	client   Querier
	label    string
	getQuery string

	// schema caches the last RefreshSchema output. Deliberately unguarded:
	// concurrent refreshes race and the last write wins, which is fine for
	// an advisory description.
	schema string
}

// NewStore bootstraps a store over client: it validates the node label and
// ensures the id index exists. An "already indexed" response from the engine
// is logged and absorbed so repeated startups stay idempotent; any other
// bootstrap error aborts construction.
func NewStore(ctx context.Context, client Querier, nodeLabel string) (*Store, error) {
	if nodeLabel == "" {
		nodeLabel = DefaultNodeLabel
	}
	if !tokenPattern.MatchString(nodeLabel) {
		return nil, fmt.Errorf("invalid node label %q", nodeLabel)
	}

	s := &Store{
		client: client,
		label:  nodeLabel,
		getQuery: fmt.Sprintf(
			"MATCH (n1:`%s`)-[r]->(n2:`%s`) WHERE n1.id = $subj RETURN type(r), n2.id",
			nodeLabel, nodeLabel,
		),
	}

	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	query := fmt.Sprintf("CREATE INDEX FOR (n:`%s`) ON (n.id)", s.label)
	if _, err := s.client.Query(ctx, query, nil); err != nil {
		if isIndexExists(err) {
			log.Printf("graph: index on %s.id already exists: %v", s.label, err)
			return nil
		}
		return fmt.Errorf("failed to create index on %s.id: %w", s.label, err)
	}
	return nil
}

func isIndexExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already indexed") || strings.Contains(msg, "already exists")
}

// Get returns the single-hop outgoing edges of subj. An unknown subject
// yields an empty slice, not an error.
func (s *Store) Get(ctx context.Context, subj string) ([]Relation, error) {
	rs, err := s.client.Query(ctx, s.getQuery, map[string]any{"subj": subj})
	if err != nil {
		return nil, fmt.Errorf("get triplets for %q: %w", subj, err)
	}

	relations := make([]Relation, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if len(row) < 2 {
			continue
		}
		rel, _ := row[0].(string)
		obj, _ := row[1].(string)
		relations = append(relations, Relation{Rel: rel, ObjectID: obj})
	}
	return relations, nil
}

// RelMap returns, for each subject with outgoing paths, the paths reachable
// within depth hops as alternating [rel1, node1, rel2, node2, ...] sequences.
// At most limit paths are returned across all subjects. Subjects without
// paths are absent from the result. An empty or nil subject list
// short-circuits without touching the store. Non-positive depth or limit is
// rejected.
func (s *Store) RelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][][]string, error) {
	relMap := map[string][][]string{}
	if len(subjs) == 0 {
		return relMap, nil
	}
	if depth < 1 {
		return nil, fmt.Errorf("depth %d: %w", depth, ErrInvalidBound)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidBound)
	}

	// Depth and LIMIT cannot be bound as parameters; they are validated
	// integers formatted directly into the query text.
	query := fmt.Sprintf(
		"MATCH (n1:`%s`) WHERE n1.id IN $subjs "+
			"MATCH p = (n1)-[*1..%d]->() "+
			"RETURN [n IN nodes(p) | n.id], [r IN relationships(p) | type(r)] "+
			"LIMIT %d",
		s.label, depth, limit,
	)

	rs, err := s.client.Query(ctx, query, map[string]any{"subjs": subjs})
	if err != nil {
		return nil, fmt.Errorf("get relationship map: %w", err)
	}

	for _, row := range rs.Rows {
		if len(row) < 2 {
			continue
		}
		nodeIDs := toStrings(row[0])
		relTypes := toStrings(row[1])
		if len(nodeIDs) != len(relTypes)+1 || len(relTypes) == 0 {
			continue
		}

		subjID := nodeIDs[0]
		path := make([]string, 0, 2*len(relTypes))
		for i, rel := range relTypes {
			path = append(path, rel, nodeIDs[i+1])
		}
		relMap[subjID] = append(relMap[subjID], path)
	}
	return relMap, nil
}

// UpsertTriplet merge-creates both entities and the typed edge between them.
// Merge semantics make it idempotent: repeating the call never duplicates
// nodes or edges.
func (s *Store) UpsertTriplet(ctx context.Context, subj, rel, obj string) error {
	relToken, err := relationToken(rel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		"MERGE (n1:`%s` {id: $subj}) MERGE (n2:`%s` {id: $obj}) MERGE (n1)-[:`%s`]->(n2)",
		s.label, s.label, relToken,
	)
	if _, err := s.client.Query(ctx, query, map[string]any{"subj": subj, "obj": obj}); err != nil {
		return fmt.Errorf("upsert triplet (%s)-[%s]->(%s): %w", subj, relToken, obj, err)
	}
	return nil
}

// Delete removes the typed edge between subj and obj, then removes each of
// the two entities that is left with no incident edges. The edge goes first;
// the two orphan checks are independent of each other.
func (s *Store) Delete(ctx context.Context, subj, rel, obj string) error {
	relToken, err := relationToken(rel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		"MATCH (n1:`%s`)-[r:`%s`]->(n2:`%s`) WHERE n1.id = $subj AND n2.id = $obj DELETE r",
		s.label, relToken, s.label,
	)
	if _, err := s.client.Query(ctx, query, map[string]any{"subj": subj, "obj": obj}); err != nil {
		return fmt.Errorf("delete edge (%s)-[%s]->(%s): %w", subj, relToken, obj, err)
	}

	for _, entity := range []string{subj, obj} {
		if err := s.deleteIfOrphaned(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteIfOrphaned(ctx context.Context, entity string) error {
	count, err := s.incidentEdgeCount(ctx, entity)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	query := fmt.Sprintf("MATCH (n:`%s`) WHERE n.id = $entity DELETE n", s.label)
	if _, err := s.client.Query(ctx, query, map[string]any{"entity": entity}); err != nil {
		return fmt.Errorf("delete orphaned entity %q: %w", entity, err)
	}
	return nil
}

// incidentEdgeCount counts edges touching entity in either direction, of any
// type.
func (s *Store) incidentEdgeCount(ctx context.Context, entity string) (int64, error) {
	query := fmt.Sprintf("MATCH (n:`%s`)--() WHERE n.id = $entity RETURN count(*)", s.label)
	rs, err := s.client.Query(ctx, query, map[string]any{"entity": entity})
	if err != nil {
		return 0, fmt.Errorf("count edges for %q: %w", entity, err)
	}
	if rs.Empty() || len(rs.Rows[0]) == 0 {
		return 0, nil
	}
	count, _ := toInt64(rs.Rows[0][0])
	return count, nil
}

// RefreshSchema recomputes the cached schema description from the engine's
// property key and relationship type catalogs.
func (s *Store) RefreshSchema(ctx context.Context) error {
	props, err := s.client.Query(ctx, "CALL db.propertyKeys()", nil)
	if err != nil {
		return fmt.Errorf("list property keys: %w", err)
	}
	rels, err := s.client.Query(ctx, "CALL db.relationshipTypes()", nil)
	if err != nil {
		return fmt.Errorf("list relationship types: %w", err)
	}

	s.schema = fmt.Sprintf(
		"Properties: %s\nRelationships: %s\n",
		strings.Join(flattenColumn(props), ", "),
		strings.Join(flattenColumn(rels), ", "),
	)
	return nil
}

// Schema returns the cached human-readable schema description, recomputing
// it when the cache is empty or refresh is requested.
func (s *Store) Schema(ctx context.Context, refresh bool) (string, error) {
	if s.schema != "" && !refresh {
		return s.schema, nil
	}
	if err := s.RefreshSchema(ctx); err != nil {
		return "", err
	}
	return s.schema, nil
}

func flattenColumn(rs *ResultSet) []string {
	var out []string
	for _, row := range rs.Rows {
		for _, cell := range row {
			if s, ok := cell.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Query runs an arbitrary Cypher query against the store's graph and returns
// the raw result set.
func (s *Store) Query(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	return s.client.Query(ctx, query, params)
}
