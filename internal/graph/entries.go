package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// The entry-oriented operations give node-only callers a view over the same
// primitives without them needing to know about triplets.

// LoadEntry fetches one entity by id. A missing entity is a nil entry, not
// an error.
func (s *Store) LoadEntry(ctx context.Context, nodeID string) (*Entry, error) {
	query := fmt.Sprintf("MATCH (n:`%s`) WHERE n.id = $id RETURN n", s.label)
	rs, err := s.client.Query(ctx, query, map[string]any{"id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("load entry %q: %w", nodeID, err)
	}
	if rs.Empty() || len(rs.Rows[0]) == 0 {
		return nil, nil
	}

	node, ok := rs.Rows[0][0].(Node)
	if !ok {
		return nil, fmt.Errorf("load entry %q: unexpected cell type %T", nodeID, rs.Rows[0][0])
	}
	return &Entry{ID: nodeID, Properties: node.Properties}, nil
}

// LoadEntries returns every entity under the store's label.
func (s *Store) LoadEntries(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf("MATCH (n:`%s`) RETURN n", s.label)
	rs, err := s.client.Query(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	entries := make([]Entry, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if len(row) == 0 {
			continue
		}
		node, ok := row[0].(Node)
		if !ok {
			continue
		}
		id, _ := node.Properties["id"].(string)
		entries = append(entries, Entry{ID: id, Properties: node.Properties})
	}
	return entries, nil
}

// UpsertNode create-or-touches a bare node: merge on the id, then set the
// given properties. Property values must be primitives or lists of
// primitives; property keys are validated because they are spliced into the
// SET clause.
func (s *Store) UpsertNode(ctx context.Context, entry Entry) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("upsert node: id is required")
	}

	params := map[string]any{"id": entry.ID}
	keys := make([]string, 0, len(entry.Properties))
	for key, value := range entry.Properties {
		if key == "id" {
			continue
		}
		if !tokenPattern.MatchString(key) {
			return "", fmt.Errorf("upsert node %q: invalid property key %q", entry.ID, key)
		}
		if !isPrimitive(value) {
			return "", fmt.Errorf("upsert node %q: property %q must be a primitive or a list of primitives", entry.ID, key)
		}
		keys = append(keys, key)
		params[key] = value
	}
	sort.Strings(keys)

	query := fmt.Sprintf("MERGE (n:`%s` {id: $id})", s.label)
	if len(keys) > 0 {
		clauses := make([]string, len(keys))
		for i, key := range keys {
			clauses[i] = fmt.Sprintf("n.`%s` = $%s", key, key)
		}
		query += " SET " + strings.Join(clauses, ", ")
	}

	if _, err := s.client.Query(ctx, query, params); err != nil {
		return "", fmt.Errorf("upsert node %q: %w", entry.ID, err)
	}
	return entry.ID, nil
}

// DeleteNode removes the entity and its incident edges, then sweeps any
// neighbor the removal left without edges.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	neighbors, err := s.neighborIDs(ctx, nodeID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("MATCH (n:`%s`) WHERE n.id = $id DETACH DELETE n", s.label)
	if _, err := s.client.Query(ctx, query, map[string]any{"id": nodeID}); err != nil {
		return fmt.Errorf("delete node %q: %w", nodeID, err)
	}

	for _, neighbor := range neighbors {
		if err := s.deleteIfOrphaned(ctx, neighbor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) neighborIDs(ctx context.Context, nodeID string) ([]string, error) {
	query := fmt.Sprintf(
		"MATCH (n:`%s`)--(m:`%s`) WHERE n.id = $id RETURN DISTINCT m.id",
		s.label, s.label,
	)
	rs, err := s.client.Query(ctx, query, map[string]any{"id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("list neighbors of %q: %w", nodeID, err)
	}

	ids := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id != nodeID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
