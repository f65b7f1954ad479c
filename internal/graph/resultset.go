package graph

import (
	"fmt"
)

// ResultSet is a decoded GRAPH.QUERY reply: ordered column names, rows of
// heterogeneous cells, and the trailing execution statistics. Cells are nil,
// int64, float64, string, []any, Node, or Edge.
type ResultSet struct {
	Columns []string
	Rows    [][]any
	Stats   []string
}

// Empty reports whether the result carries no data rows.
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Rows) == 0
}

// Node is a graph node cell.
type Node struct {
	ID         int64
	Labels     []string
	Properties map[string]any
}

// Edge is a relationship cell.
type Edge struct {
	ID         int64
	Type       string
	SrcNode    int64
	DestNode   int64
	Properties map[string]any
}

// parseResultSet decodes the verbose-mode GRAPH.QUERY reply tree. Write-only
// queries reply with a single statistics array; read queries reply with
// [header, rows, statistics].
func parseResultSet(raw any) (*ResultSet, error) {
	top, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph reply type %T", raw)
	}

	rs := &ResultSet{}
	switch len(top) {
	case 1:
		rs.Stats = toStrings(top[0])
		return rs, nil
	case 3:
		// handled below
	default:
		return nil, fmt.Errorf("unexpected graph reply shape (%d elements)", len(top))
	}

	header, ok := top[0].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph header type %T", top[0])
	}
	for _, col := range header {
		switch c := col.(type) {
		case string:
			rs.Columns = append(rs.Columns, c)
		case []any:
			// Compact-style header entry: [column type, name].
			if len(c) > 0 {
				if name, ok := c[len(c)-1].(string); ok {
					rs.Columns = append(rs.Columns, name)
					continue
				}
			}
			return nil, fmt.Errorf("unexpected graph header entry %v", c)
		default:
			return nil, fmt.Errorf("unexpected graph header entry type %T", col)
		}
	}

	rows, ok := top[1].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected graph rows type %T", top[1])
	}
	for _, r := range rows {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected graph row type %T", r)
		}
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = decodeValue(cell)
		}
		rs.Rows = append(rs.Rows, cells)
	}

	rs.Stats = toStrings(top[2])
	return rs, nil
}

// decodeValue maps a reply cell to its Go representation. Arrays are sniffed
// for the node and edge shapes the verbose protocol uses (field-name/value
// pairs) before falling back to a plain list.
func decodeValue(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	if node, ok := decodeNode(arr); ok {
		return node
	}
	if edge, ok := decodeEdge(arr); ok {
		return edge
	}
	out := make([]any, len(arr))
	for i, elem := range arr {
		out[i] = decodeValue(elem)
	}
	return out
}

func decodeNode(arr []any) (Node, bool) {
	fields, ok := fieldMap(arr, "id", "labels", "properties")
	if !ok {
		return Node{}, false
	}
	node := Node{Properties: map[string]any{}}
	node.ID, ok = toInt64(fields["id"])
	if !ok {
		return Node{}, false
	}
	node.Labels = toStrings(fields["labels"])
	node.Properties = decodeProperties(fields["properties"])
	return node, true
}

func decodeEdge(arr []any) (Edge, bool) {
	fields, ok := fieldMap(arr, "id", "type", "src_node", "dest_node", "properties")
	if !ok {
		return Edge{}, false
	}
	edge := Edge{}
	if edge.ID, ok = toInt64(fields["id"]); !ok {
		return Edge{}, false
	}
	if edge.Type, ok = fields["type"].(string); !ok {
		return Edge{}, false
	}
	edge.SrcNode, _ = toInt64(fields["src_node"])
	edge.DestNode, _ = toInt64(fields["dest_node"])
	edge.Properties = decodeProperties(fields["properties"])
	return edge, true
}

// fieldMap matches arr against an exact list of [name, value] pairs and
// returns the values by name. Reports false on any shape mismatch, which is
// how plain lists are told apart from entities.
func fieldMap(arr []any, names ...string) (map[string]any, bool) {
	if len(arr) != len(names) {
		return nil, false
	}
	fields := make(map[string]any, len(names))
	for i, name := range names {
		pair, ok := arr[i].([]any)
		if !ok || len(pair) != 2 {
			return nil, false
		}
		key, ok := pair[0].(string)
		if !ok || key != name {
			return nil, false
		}
		fields[name] = pair[1]
	}
	return fields, true
}

func decodeProperties(v any) map[string]any {
	props := map[string]any{}
	pairs, ok := v.([]any)
	if !ok {
		return props
	}
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		key, ok := pair[0].(string)
		if !ok {
			continue
		}
		props[key] = decodeValue(pair[len(pair)-1])
	}
	return props
}

func toStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", elem))
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
