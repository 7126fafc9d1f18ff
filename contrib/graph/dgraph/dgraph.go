// Package dgraph adapts a Dgraph cluster to the graph.Store contract.
// Relationships are reified as their own nodes so typed-edge filtering works
// without per-type predicates. Traversal intent stays structured in Go; only
// node and edge fetches are serialised to DQL.
package dgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	grapherrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds Dgraph connection configuration.
type Config struct {
	AlphaURL string // gRPC endpoint of a Dgraph alpha, e.g. "localhost:9080"
}

// DgraphStore implements graph.Store backed by Dgraph over gRPC.
type DgraphStore struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphStore connects to Dgraph and ensures the schema exists.
func NewDgraphStore(config *Config) (*DgraphStore, error) {
	if config == nil || config.AlphaURL == "" {
		return nil, fmt.Errorf("dgraph alpha URL is required")
	}

	conn, err := grpc.NewClient(config.AlphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	store := &DgraphStore{client: client, conn: conn}

	if err := store.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *DgraphStore) initSchema(ctx context.Context) error {
	schema := `
		type Node {
			node.id
			node.name
			node.labels
			node.props
		}

		type Relationship {
			rel.id
			rel.type
			rel.props
			rel.from
			rel.to
		}

		node.id: string @index(exact) @upsert .
		node.name: string @index(fulltext, term) .
		node.labels: [string] @index(exact) .
		node.props: string .

		rel.id: string @index(exact) .
		rel.type: string @index(exact) .
		rel.props: string .
		rel.from: uid @reverse .
		rel.to: uid @reverse .
	`
	return s.client.Alter(ctx, &api.Operation{Schema: schema})
}

type dgraphNode struct {
	ID     string   `json:"node.id"`
	Name   string   `json:"node.name"`
	Labels []string `json:"node.labels"`
	Props  string   `json:"node.props"`
}

type dgraphRel struct {
	ID    string       `json:"rel.id"`
	Type  string       `json:"rel.type"`
	Props string       `json:"rel.props"`
	From  []dgraphNode `json:"rel.from"`
	To    []dgraphNode `json:"rel.to"`
}

// GetNode looks a node up by id.
func (s *DgraphStore) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	const q = `query Node($id: string) {
		nodes(func: eq(node.id, $id), first: 1) {
			node.id node.name node.labels node.props
		}
	}`

	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$id": id})
	if err != nil {
		return nil, fmt.Errorf("dgraph query failed: %w", err)
	}

	var payload struct {
		Nodes []dgraphNode `json:"nodes"`
	}
	if err := json.Unmarshal(resp.Json, &payload); err != nil {
		return nil, fmt.Errorf("dgraph response decode failed: %w", err)
	}
	if len(payload.Nodes) == 0 {
		return nil, grapherrors.ErrNotFound
	}
	return toGraphNode(payload.Nodes[0]), nil
}

// FindNodes returns nodes matching the filter. Label and name-substring
// filters run in DQL; property filters run on the decoded props payload.
func (s *DgraphStore) FindNodes(ctx context.Context, filter graph.NodeFilter) ([]*graph.Node, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	vars := map[string]string{"$label": "", "$name": ""}
	if len(filter.Labels) > 0 {
		conditions = append(conditions, "eq(node.labels, $label)")
		vars["$label"] = filter.Labels[0]
	}
	if filter.NameContains != "" {
		conditions = append(conditions, "anyofterms(node.name, $name)")
		vars["$name"] = filter.NameContains
	}

	root := "type(Node)"
	q := fmt.Sprintf(`query Nodes($label: string, $name: string) {
		nodes(func: %s, first: %d)%s {
			node.id node.name node.labels node.props
		}
	}`, root, limit, filterClause(conditions))

	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, vars)
	if err != nil {
		return nil, fmt.Errorf("dgraph query failed: %w", err)
	}

	var payload struct {
		Nodes []dgraphNode `json:"nodes"`
	}
	if err := json.Unmarshal(resp.Json, &payload); err != nil {
		return nil, fmt.Errorf("dgraph response decode failed: %w", err)
	}

	var out []*graph.Node
	for _, raw := range payload.Nodes {
		node := toGraphNode(raw)
		if !propsMatch(node, filter) {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

// Relationships returns edges attached to a node via the reverse edges on the
// reified relationship records.
func (s *DgraphStore) Relationships(ctx context.Context, nodeID string, types []string, dir graph.Direction) ([]*graph.Relationship, error) {
	const q = `query Rels($id: string) {
		nodes(func: eq(node.id, $id)) {
			outgoing: ~rel.from {
				rel.id rel.type rel.props
				rel.from { node.id }
				rel.to { node.id }
			}
			incoming: ~rel.to {
				rel.id rel.type rel.props
				rel.from { node.id }
				rel.to { node.id }
			}
		}
	}`

	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$id": nodeID})
	if err != nil {
		return nil, fmt.Errorf("dgraph query failed: %w", err)
	}

	var payload struct {
		Nodes []struct {
			Outgoing []dgraphRel `json:"outgoing"`
			Incoming []dgraphRel `json:"incoming"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(resp.Json, &payload); err != nil {
		return nil, fmt.Errorf("dgraph response decode failed: %w", err)
	}
	if len(payload.Nodes) == 0 {
		return nil, nil
	}

	var rels []*graph.Relationship
	appendRels := func(raws []dgraphRel) {
		for _, raw := range raws {
			rel := toGraphRel(raw)
			if rel == nil {
				continue
			}
			if len(types) > 0 && !containsType(types, rel.Type) {
				continue
			}
			rels = append(rels, rel)
		}
	}
	if dir == graph.DirectionOutgoing || dir == graph.DirectionBoth {
		appendRels(payload.Nodes[0].Outgoing)
	}
	if dir == graph.DirectionIncoming || dir == graph.DirectionBoth {
		appendRels(payload.Nodes[0].Incoming)
	}
	return rels, nil
}

// Traverse performs a bounded breadth-first walk using per-hop edge fetches.
// Visited nodes are never expanded twice, so cyclic data terminates.
func (s *DgraphStore) Traverse(ctx context.Context, req graph.TraversalRequest) ([]graph.Path, error) {
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	var paths []graph.Path
	for _, startID := range req.StartIDs {
		start, err := s.GetNode(ctx, startID)
		if err != nil {
			continue
		}

		visited := map[string]bool{startID: true}
		frontier := []graph.Path{{Nodes: []*graph.Node{start}}}

		for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
			var next []graph.Path
			for _, path := range frontier {
				tail := path.End()
				rels, err := s.Relationships(ctx, tail.ID, req.RelTypes, req.Direction)
				if err != nil {
					return nil, err
				}
				for _, rel := range rels {
					if containsType(req.ExcludeRelTypes, rel.Type) {
						continue
					}
					otherID := rel.ToID
					if otherID == tail.ID {
						otherID = rel.FromID
					}
					if visited[otherID] {
						continue
					}
					other, err := s.GetNode(ctx, otherID)
					if err != nil {
						continue
					}
					visited[otherID] = true
					extended := graph.Path{
						Nodes:         append(append([]*graph.Node{}, path.Nodes...), other),
						Relationships: append(append([]*graph.Relationship{}, path.Relationships...), rel),
					}
					paths = append(paths, extended)
					next = append(next, extended)
					if req.Limit > 0 && len(paths) >= req.Limit {
						return paths, nil
					}
				}
			}
			frontier = next
		}
	}
	return paths, nil
}

// Close releases the gRPC connection.
func (s *DgraphStore) Close() error {
	return s.conn.Close()
}

func toGraphNode(raw dgraphNode) *graph.Node {
	props := map[string]any{}
	if raw.Props != "" {
		_ = json.Unmarshal([]byte(raw.Props), &props)
	}
	if raw.Name != "" {
		props["name"] = raw.Name
	}
	return &graph.Node{
		ID:     raw.ID,
		Labels: raw.Labels,
		Props:  props,
	}
}

func toGraphRel(raw dgraphRel) *graph.Relationship {
	if len(raw.From) == 0 || len(raw.To) == 0 {
		return nil
	}
	props := map[string]any{}
	if raw.Props != "" {
		_ = json.Unmarshal([]byte(raw.Props), &props)
	}
	return &graph.Relationship{
		ID:     raw.ID,
		Type:   raw.Type,
		FromID: raw.From[0].ID,
		ToID:   raw.To[0].ID,
		Props:  props,
	}
}

func propsMatch(node *graph.Node, filter graph.NodeFilter) bool {
	for _, label := range filter.Labels[min(1, len(filter.Labels)):] {
		if !node.HasLabel(label) {
			return false
		}
	}
	for k, want := range filter.Props {
		got, ok := node.Props[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func filterClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " @filter(" + strings.Join(conditions, " AND ") + ")"
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
