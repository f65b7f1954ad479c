package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Querier is the seam between the store logic and the wire client. Tests
// substitute a fake; production uses FalkorClient.
type Querier interface {
	Query(ctx context.Context, query string, params map[string]any) (*ResultSet, error)
}

// FalkorClient issues Cypher queries to one FalkorDB graph over the Redis
// protocol (GRAPH.QUERY). Parameters are bound through the CYPHER header the
// FalkorDB clients use.
type FalkorClient struct {
	rdb   *redis.Client
	graph string
}

// NewFalkorClient wraps an existing Redis client. The client's lifecycle
// stays with the caller.
func NewFalkorClient(rdb *redis.Client, graph string) *FalkorClient {
	return &FalkorClient{
		rdb:   rdb,
		graph: graph,
	}
}

// Connect dials FalkorDB at addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, graph string) (*FalkorClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to FalkorDB at %s: %w", addr, err)
	}
	return NewFalkorClient(rdb, graph), nil
}

// Close releases the underlying Redis connection pool.
func (c *FalkorClient) Close() error {
	return c.rdb.Close()
}

func (c *FalkorClient) Query(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	full := query
	if len(params) > 0 {
		header, err := encodeParams(params)
		if err != nil {
			return nil, err
		}
		full = header + " " + query
	}

	raw, err := c.rdb.Do(ctx, "GRAPH.QUERY", c.graph, full).Result()
	if err != nil {
		return nil, fmt.Errorf("graph query on %s: %w", c.graph, err)
	}
	return parseResultSet(raw)
}

// encodeParams renders the CYPHER parameter header. Keys are emitted in
// sorted order so queries are reproducible in logs and tests.
func encodeParams(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !tokenPattern.MatchString(k) {
			return "", fmt.Errorf("invalid parameter name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER")
	for _, k := range keys {
		val, err := encodeParamValue(params[k])
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", k, err)
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(val)
	}
	return b.String(), nil
}

func encodeParamValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quoteString(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			enc, err := encodeParamValue(elem)
			if err != nil {
				return "", err
			}
			parts[i] = enc
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
