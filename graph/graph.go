// Package graph defines the read contract against the property graph that the
// retrieval and reasoning agents consume. Traversal intent stays structured;
// adapters serialise it to their store's native query language at the boundary.
package graph

import "context"

// Direction constrains which relationship directions a traversal follows.
type Direction int

const (
	DirectionBoth Direction = iota
	DirectionOutgoing
	DirectionIncoming
)

// Node is a property-graph node record.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	if n == nil {
		return false
	}
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Name returns the node's name property, falling back to its id.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	if name, ok := n.Props["name"].(string); ok && name != "" {
		return name
	}
	return n.ID
}

// Relationship is a directed, typed edge between two nodes.
type Relationship struct {
	ID     string
	Type   string
	FromID string
	ToID   string
	Props  map[string]any
}

// Confidence returns the edge confidence property, defaulting to 1.0 when the
// ingestion pipeline did not record one.
func (r *Relationship) Confidence() float64 {
	if r == nil || r.Props == nil {
		return 1.0
	}
	switch v := r.Props["confidence"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 1.0
}

// NodeFilter selects nodes by label, exact property match, and/or a
// case-insensitive name substring.
type NodeFilter struct {
	Labels       []string
	Props        map[string]any
	NameContains string
	Limit        int
}

// TraversalRequest captures bounded traversal intent: where to start, how far
// to walk, and which relationship types to follow or skip.
type TraversalRequest struct {
	StartIDs        []string
	MaxDepth        int
	RelTypes        []string
	ExcludeRelTypes []string
	Direction       Direction
	Limit           int
}

// Path is one traversed walk through the graph. Nodes has one more element
// than Relationships; Nodes[0] is the start node.
type Path struct {
	Nodes         []*Node
	Relationships []*Relationship
}

// Hops returns the number of edges crossed.
func (p *Path) Hops() int {
	return len(p.Relationships)
}

// End returns the terminal node of the path.
func (p *Path) End() *Node {
	if len(p.Nodes) == 0 {
		return nil
	}
	return p.Nodes[len(p.Nodes)-1]
}

// Store is the read-only graph query interface.
type Store interface {
	// GetNode looks a node up by id; errors.ErrNotFound when absent.
	GetNode(ctx context.Context, id string) (*Node, error)

	// FindNodes returns nodes matching the filter.
	FindNodes(ctx context.Context, filter NodeFilter) ([]*Node, error)

	// Relationships returns edges attached to a node, optionally restricted
	// by type and direction.
	Relationships(ctx context.Context, nodeID string, types []string, dir Direction) ([]*Relationship, error)

	// Traverse walks outward from the start nodes up to the request's hop
	// bound and returns every distinct path reached. Implementations must
	// terminate on cyclic data and truncate rather than error when the bound
	// is hit.
	Traverse(ctx context.Context, req TraversalRequest) ([]Path, error)
}
