package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier records issued queries and answers them through a
// test-provided handler.
type fakeQuerier struct {
	queries []string
	params  []map[string]any
	handler func(call int, query string, params map[string]any) (*ResultSet, error)
}

func (f *fakeQuerier) Query(_ context.Context, query string, params map[string]any) (*ResultSet, error) {
	call := len(f.queries)
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	if f.handler == nil {
		return &ResultSet{}, nil
	}
	return f.handler(call, query, params)
}

func newTestStore(t *testing.T, q *fakeQuerier) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), q, "")
	require.NoError(t, err)
	return store
}

func TestBootstrapCreatesIDIndex(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	require.NotNil(t, store)
	require.Len(t, q.queries, 1)
	assert.Equal(t, "CREATE INDEX FOR (n:`Entity`) ON (n.id)", q.queries[0])
}

func TestBootstrapAbsorbsExistingIndex(t *testing.T) {
	q := &fakeQuerier{
		handler: func(int, string, map[string]any) (*ResultSet, error) {
			return nil, errors.New("Attribute 'id' is already indexed")
		},
	}

	store, err := NewStore(context.Background(), q, "Entity")
	require.NoError(t, err, "existing index is not a bootstrap failure")
	require.NotNil(t, store)
}

func TestBootstrapPropagatesOtherErrors(t *testing.T) {
	q := &fakeQuerier{
		handler: func(int, string, map[string]any) (*ResultSet, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := NewStore(context.Background(), q, "Entity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBootstrapRejectsInvalidLabel(t *testing.T) {
	q := &fakeQuerier{}
	_, err := NewStore(context.Background(), q, "Entity` {x:1})-- DROP")
	require.Error(t, err)
	assert.Empty(t, q.queries, "no query issued for an invalid label")
}

func TestGetReturnsOutgoingEdges(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, _ string, _ map[string]any) (*ResultSet, error) {
			if call == 0 {
				return &ResultSet{}, nil // bootstrap
			}
			return &ResultSet{
				Columns: []string{"type(r)", "n2.id"},
				Rows: [][]any{
					{"KNOWS", "b"},
					{"WORKS_WITH", "c"},
				},
			}, nil
		},
	}
	store := newTestStore(t, q)

	relations, err := store.Get(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, []Relation{
		{Rel: "KNOWS", ObjectID: "b"},
		{Rel: "WORKS_WITH", ObjectID: "c"},
	}, relations)
	assert.Equal(t, map[string]any{"subj": "a"}, q.params[1])
}

func TestGetUnknownSubjectIsEmptyNotError(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	relations, err := store.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.Empty(t, relations)
}

func TestRelMapShortCircuitsOnEmptySubjects(t *testing.T) {
	for name, subjs := range map[string][]string{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			q := &fakeQuerier{}
			store := newTestStore(t, q)

			relMap, err := store.RelMap(context.Background(), subjs, 2, 30)

			require.NoError(t, err)
			assert.Empty(t, relMap)
			assert.Len(t, q.queries, 1, "only the bootstrap query may run")
		})
	}
}

func TestRelMapRejectsNonPositiveBounds(t *testing.T) {
	cases := []struct {
		name         string
		depth, limit int
	}{
		{"zero depth", 0, 30},
		{"negative depth", -1, 30},
		{"zero limit", 2, 0},
		{"negative limit", 2, -5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQuerier{}
			store := newTestStore(t, q)

			_, err := store.RelMap(context.Background(), []string{"a"}, tc.depth, tc.limit)

			require.ErrorIs(t, err, ErrInvalidBound)
			assert.Len(t, q.queries, 1, "no traversal query issued")
		})
	}
}

func TestRelMapBuildsAlternatingPaths(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, _ string, _ map[string]any) (*ResultSet, error) {
			if call == 0 {
				return &ResultSet{}, nil
			}
			return &ResultSet{
				Rows: [][]any{
					{[]any{"a", "b", "c"}, []any{"KNOWS", "EMPLOYS"}},
					{[]any{"a", "d"}, []any{"OWNS"}},
				},
			}, nil
		},
	}
	store := newTestStore(t, q)

	relMap, err := store.RelMap(context.Background(), []string{"a"}, 2, 30)

	require.NoError(t, err)
	assert.Equal(t, map[string][][]string{
		"a": {
			{"KNOWS", "b", "EMPLOYS", "c"},
			{"OWNS", "d"},
		},
	}, relMap)

	query := q.queries[1]
	assert.Contains(t, query, "[*1..2]")
	assert.Contains(t, query, "LIMIT 30")
	assert.Equal(t, map[string]any{"subjs": []string{"a"}}, q.params[1])
}

func TestUpsertTripletNormalizesRelation(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	err := store.UpsertTriplet(context.Background(), "x", "has parent", "y")

	require.NoError(t, err)
	require.Len(t, q.queries, 2)
	query := q.queries[1]
	assert.Contains(t, query, "MERGE (n1:`Entity` {id: $subj})")
	assert.Contains(t, query, "MERGE (n2:`Entity` {id: $obj})")
	assert.Contains(t, query, "MERGE (n1)-[:`HAS_PARENT`]->(n2)")
	assert.Equal(t, map[string]any{"subj": "x", "obj": "y"}, q.params[1])
}

func TestUpsertTripletRejectsUnsafeRelation(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	err := store.UpsertTriplet(context.Background(), "x", "r`]->() DELETE", "y")

	require.Error(t, err)
	assert.Len(t, q.queries, 1, "no query issued for an invalid relation")
}

func TestDeleteRemovesOrphanedEntities(t *testing.T) {
	// Only (a)-[R]->(b) exists, so deleting the edge orphans both entities.
	q := &fakeQuerier{
		handler: func(call int, query string, _ map[string]any) (*ResultSet, error) {
			if strings.Contains(query, "count(*)") {
				return &ResultSet{Rows: [][]any{{int64(0)}}}, nil
			}
			return &ResultSet{}, nil
		},
	}
	store := newTestStore(t, q)

	err := store.Delete(context.Background(), "a", "r", "b")

	require.NoError(t, err)
	// bootstrap, edge delete, count(a), delete(a), count(b), delete(b)
	require.Len(t, q.queries, 6)
	assert.Contains(t, q.queries[1], "DELETE r")
	assert.Contains(t, q.queries[1], "[r:`R`]")
	assert.Contains(t, q.queries[2], "count(*)")
	assert.Equal(t, map[string]any{"entity": "a"}, q.params[3])
	assert.Contains(t, q.queries[3], "DELETE n")
	assert.Equal(t, map[string]any{"entity": "b"}, q.params[5])
}

func TestDeleteKeepsConnectedEntities(t *testing.T) {
	// a keeps an edge to c; only b is orphaned by deleting (a)-[R]->(b).
	counts := map[string]int64{"a": 1, "b": 0}
	q := &fakeQuerier{}
	q.handler = func(call int, query string, params map[string]any) (*ResultSet, error) {
		if strings.Contains(query, "count(*)") {
			entity := params["entity"].(string)
			return &ResultSet{Rows: [][]any{{counts[entity]}}}, nil
		}
		return &ResultSet{}, nil
	}
	store := newTestStore(t, q)

	err := store.Delete(context.Background(), "a", "r", "b")

	require.NoError(t, err)
	// bootstrap, edge delete, count(a), count(b), delete(b)
	require.Len(t, q.queries, 5)
	for _, query := range q.queries {
		if strings.Contains(query, "DELETE n") {
			assert.Equal(t, map[string]any{"entity": "b"}, q.params[len(q.queries)-1])
		}
	}
}

func TestDeleteEdgeAlwaysPrecedesOrphanChecks(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, query string, _ map[string]any) (*ResultSet, error) {
			if strings.Contains(query, "count(*)") {
				return &ResultSet{Rows: [][]any{{int64(3)}}}, nil
			}
			return &ResultSet{}, nil
		},
	}
	store := newTestStore(t, q)

	err := store.Delete(context.Background(), "a", "likes", "b")

	require.NoError(t, err)
	require.Len(t, q.queries, 4)
	assert.Contains(t, q.queries[1], "DELETE r")
	assert.Contains(t, q.queries[2], "count(*)")
	assert.Contains(t, q.queries[3], "count(*)")
}

func TestSchemaCachesUntilRefresh(t *testing.T) {
	catalogCalls := 0
	q := &fakeQuerier{}
	q.handler = func(call int, query string, _ map[string]any) (*ResultSet, error) {
		switch {
		case strings.Contains(query, "propertyKeys"):
			catalogCalls++
			return &ResultSet{Rows: [][]any{{"id"}, {"transcript"}}}, nil
		case strings.Contains(query, "relationshipTypes"):
			return &ResultSet{Rows: [][]any{{"KNOWS"}}}, nil
		default:
			return &ResultSet{}, nil
		}
	}
	store := newTestStore(t, q)

	schema, err := store.Schema(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, schema, "Properties: id, transcript")
	assert.Contains(t, schema, "Relationships: KNOWS")
	assert.Equal(t, 1, catalogCalls)

	// Cached: no new catalog queries.
	_, err = store.Schema(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, catalogCalls)

	_, err = store.Schema(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, catalogCalls, "refresh recomputes")
}

func TestLoadEntry(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, query string, _ map[string]any) (*ResultSet, error) {
			if call == 0 {
				return &ResultSet{}, nil
			}
			return &ResultSet{
				Rows: [][]any{{Node{
					ID:         7,
					Labels:     []string{"Entity"},
					Properties: map[string]any{"id": "a", "name": "Ada"},
				}}},
			}, nil
		},
	}
	store := newTestStore(t, q)

	entry, err := store.LoadEntry(context.Background(), "a")

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "a", entry.ID)
	assert.Equal(t, "Ada", entry.Properties["name"])
}

func TestLoadEntryAbsentIsNil(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	entry, err := store.LoadEntry(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLoadEntries(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, _ string, _ map[string]any) (*ResultSet, error) {
			if call == 0 {
				return &ResultSet{}, nil
			}
			return &ResultSet{
				Rows: [][]any{
					{Node{ID: 1, Properties: map[string]any{"id": "a"}}},
					{Node{ID: 2, Properties: map[string]any{"id": "b", "name": "Bob"}}},
				},
			}, nil
		},
	}
	store := newTestStore(t, q)

	entries, err := store.LoadEntries(context.Background())

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
	assert.Equal(t, "Bob", entries[1].Properties["name"])
}

func TestUpsertNodeMergesAndSetsProperties(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	id, err := store.UpsertNode(context.Background(), Entry{
		ID: "call:42",
		Properties: map[string]any{
			"transcript": "hello",
			"provider":   "vosk",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "call:42", id)
	require.Len(t, q.queries, 2)
	assert.Equal(t,
		"MERGE (n:`Entity` {id: $id}) SET n.`provider` = $provider, n.`transcript` = $transcript",
		q.queries[1])
	assert.Equal(t, map[string]any{
		"id":         "call:42",
		"transcript": "hello",
		"provider":   "vosk",
	}, q.params[1])
}

func TestUpsertNodeBareNode(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	_, err := store.UpsertNode(context.Background(), Entry{ID: "a"})

	require.NoError(t, err)
	assert.Equal(t, "MERGE (n:`Entity` {id: $id})", q.queries[1])
}

func TestUpsertNodeValidation(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
	}{
		{"missing id", Entry{}},
		{"unsafe property key", Entry{ID: "a", Properties: map[string]any{"k` = 1 DELETE n //": "v"}}},
		{"non-primitive property", Entry{ID: "a", Properties: map[string]any{"nested": map[string]any{"x": 1}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQuerier{}
			store := newTestStore(t, q)

			_, err := store.UpsertNode(context.Background(), tc.entry)

			require.Error(t, err)
			assert.Len(t, q.queries, 1, "no query issued")
		})
	}
}

func TestUpsertTripletIdempotenceUsesMergeOnly(t *testing.T) {
	q := &fakeQuerier{}
	store := newTestStore(t, q)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.UpsertTriplet(context.Background(), "a", "r", "b"))
	}

	require.Len(t, q.queries, 3)
	assert.Equal(t, q.queries[1], q.queries[2], "repeat upserts issue the identical merge")
	assert.NotContains(t, q.queries[1], "CREATE", "merge semantics, never insert")
}

func TestDeleteNodeSweepsOrphanedNeighbors(t *testing.T) {
	q := &fakeQuerier{}
	q.handler = func(call int, query string, params map[string]any) (*ResultSet, error) {
		switch {
		case strings.Contains(query, "RETURN DISTINCT m.id"):
			return &ResultSet{Rows: [][]any{{"b"}}}, nil
		case strings.Contains(query, "count(*)"):
			return &ResultSet{Rows: [][]any{{int64(0)}}}, nil
		default:
			return &ResultSet{}, nil
		}
	}
	store := newTestStore(t, q)

	err := store.DeleteNode(context.Background(), "a")

	require.NoError(t, err)
	// bootstrap, neighbors, detach delete, count(b), delete(b)
	require.Len(t, q.queries, 5)
	assert.Contains(t, q.queries[2], "DETACH DELETE")
	assert.Equal(t, map[string]any{"entity": "b"}, q.params[4])
}

func TestNormalizeRelation(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"has parent", "HAS_PARENT"},
		{"KNOWS", "KNOWS"},
		{"works with team", "WORKS_WITH_TEAM"},
		{"likes", "LIKES"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeRelation(tc.in))
		})
	}
}

func TestQueryPassthroughPropagatesErrors(t *testing.T) {
	q := &fakeQuerier{
		handler: func(call int, _ string, _ map[string]any) (*ResultSet, error) {
			if call == 0 {
				return &ResultSet{}, nil
			}
			return nil, fmt.Errorf("connection reset")
		},
	}
	store := newTestStore(t, q)

	_, err := store.Query(context.Background(), "MATCH (n) RETURN n", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
