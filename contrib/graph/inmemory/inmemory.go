// Package inmemory provides a mutex-guarded property graph satisfying
// graph.Store. It backs tests and small single-process deployments.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	grapherrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
)

// InMemoryGraphStore implements graph.Store using in-memory adjacency maps.
type InMemoryGraphStore struct {
	mu       sync.RWMutex
	nodes    map[string]*graph.Node
	outgoing map[string][]*graph.Relationship
	incoming map[string][]*graph.Relationship
}

// NewInMemoryGraphStore creates an empty in-memory graph store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		nodes:    make(map[string]*graph.Node),
		outgoing: make(map[string][]*graph.Relationship),
		incoming: make(map[string][]*graph.Relationship),
	}
}

// AddNode inserts or replaces a node.
func (s *InMemoryGraphStore) AddNode(node *graph.Node) {
	if node == nil || node.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = node
}

// AddRelationship inserts a directed edge. Endpoints need not exist yet.
func (s *InMemoryGraphStore) AddRelationship(rel *graph.Relationship) {
	if rel == nil || rel.FromID == "" || rel.ToID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing[rel.FromID] = append(s.outgoing[rel.FromID], rel)
	s.incoming[rel.ToID] = append(s.incoming[rel.ToID], rel)
}

// GetNode looks a node up by id.
func (s *InMemoryGraphStore) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, grapherrors.ErrNotFound
	}
	return node, nil
}

// FindNodes returns nodes matching the filter, ordered by id for determinism.
func (s *InMemoryGraphStore) FindNodes(ctx context.Context, filter graph.NodeFilter) ([]*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graph.Node
	for _, node := range s.nodes {
		if !matchesFilter(node, filter) {
			continue
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Relationships returns edges attached to a node.
func (s *InMemoryGraphStore) Relationships(ctx context.Context, nodeID string, types []string, dir graph.Direction) ([]*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rels []*graph.Relationship
	if dir == graph.DirectionOutgoing || dir == graph.DirectionBoth {
		rels = append(rels, s.outgoing[nodeID]...)
	}
	if dir == graph.DirectionIncoming || dir == graph.DirectionBoth {
		rels = append(rels, s.incoming[nodeID]...)
	}

	if len(types) == 0 {
		return rels, nil
	}
	var filtered []*graph.Relationship
	for _, rel := range rels {
		if containsType(types, rel.Type) {
			filtered = append(filtered, rel)
		}
	}
	return filtered, nil
}

// Traverse performs a breadth-first walk from the start nodes, bounded by
// MaxDepth. Visited nodes are never expanded twice, so cyclic data terminates.
func (s *InMemoryGraphStore) Traverse(ctx context.Context, req graph.TraversalRequest) ([]graph.Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	var paths []graph.Path
	for _, startID := range req.StartIDs {
		start, ok := s.nodes[startID]
		if !ok {
			continue
		}

		visited := map[string]bool{startID: true}
		frontier := []graph.Path{{Nodes: []*graph.Node{start}}}

		for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
			var next []graph.Path
			for _, path := range frontier {
				tail := path.End()
				for _, step := range s.expand(tail.ID, req) {
					if visited[step.node.ID] {
						continue
					}
					visited[step.node.ID] = true
					extended := extendPath(path, step.rel, step.node)
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

type expansion struct {
	rel  *graph.Relationship
	node *graph.Node
}

func (s *InMemoryGraphStore) expand(nodeID string, req graph.TraversalRequest) []expansion {
	var steps []expansion
	appendRels := func(rels []*graph.Relationship, pickFrom bool) {
		for _, rel := range rels {
			if len(req.RelTypes) > 0 && !containsType(req.RelTypes, rel.Type) {
				continue
			}
			if containsType(req.ExcludeRelTypes, rel.Type) {
				continue
			}
			otherID := rel.ToID
			if pickFrom {
				otherID = rel.FromID
			}
			other, ok := s.nodes[otherID]
			if !ok {
				continue
			}
			steps = append(steps, expansion{rel: rel, node: other})
		}
	}

	if req.Direction == graph.DirectionOutgoing || req.Direction == graph.DirectionBoth {
		appendRels(s.outgoing[nodeID], false)
	}
	if req.Direction == graph.DirectionIncoming || req.Direction == graph.DirectionBoth {
		appendRels(s.incoming[nodeID], true)
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].rel.Type != steps[j].rel.Type {
			return steps[i].rel.Type < steps[j].rel.Type
		}
		return steps[i].node.ID < steps[j].node.ID
	})
	return steps
}

func extendPath(path graph.Path, rel *graph.Relationship, node *graph.Node) graph.Path {
	nodes := make([]*graph.Node, len(path.Nodes), len(path.Nodes)+1)
	copy(nodes, path.Nodes)
	rels := make([]*graph.Relationship, len(path.Relationships), len(path.Relationships)+1)
	copy(rels, path.Relationships)
	return graph.Path{
		Nodes:         append(nodes, node),
		Relationships: append(rels, rel),
	}
}

func matchesFilter(node *graph.Node, filter graph.NodeFilter) bool {
	for _, label := range filter.Labels {
		if !node.HasLabel(label) {
			return false
		}
	}
	for k, want := range filter.Props {
		got, ok := node.Props[k]
		if !ok || got != want {
			return false
		}
	}
	if filter.NameContains != "" {
		if !strings.Contains(strings.ToLower(node.Name()), strings.ToLower(filter.NameContains)) {
			return false
		}
	}
	return true
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
