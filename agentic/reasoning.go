package agentic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
	"github.com/peace0627/GRAG/pkg/logging"
)

// ReasoningMode selects which graph-native algorithm the reasoning agent runs.
type ReasoningMode string

const (
	ReasonRelationships ReasoningMode = "relationship_discovery"
	ReasonPath          ReasoningMode = "path_finding"
	ReasonTemporal      ReasoningMode = "temporal"
	ReasonCausal        ReasoningMode = "causal"
)

// causalRelTypes are the edge types the causal mode follows transitively.
var causalRelTypes = []string{"CAUSES", "LEADS_TO", "RESULTS_IN"}

// ReasoningAgent runs structured reasoning over the graph store. Unknown
// entities yield empty results, not errors; only an unreachable store errors.
type ReasoningAgent struct {
	graph       graph.Store
	maxDepth    int
	causalDepth int
	logger      *slog.Logger
}

// NewReasoningAgent builds the agent with the configured hop bounds.
func NewReasoningAgent(graphStore graph.Store, cfg *Config) *ReasoningAgent {
	return &ReasoningAgent{
		graph:       graphStore,
		maxDepth:    cfg.MaxGraphDepth,
		causalDepth: cfg.MaxCausalDepth,
		logger:      logging.WithComponent("reasoning"),
	}
}

// Reason dispatches to the requested mode and returns the evidence plus the
// structured result the synthesizer can reference.
func (a *ReasoningAgent) Reason(ctx context.Context, mode ReasoningMode, entities []string, params map[string]any) ([]Evidence, *ReasoningResult, error) {
	if a.graph == nil {
		return nil, nil, fmt.Errorf("reasoning: %w", graperrors.ErrBackendUnavailable)
	}

	switch mode {
	case ReasonRelationships:
		return a.discoverRelationships(ctx, entities)
	case ReasonPath:
		return a.findPath(ctx, entities)
	case ReasonTemporal:
		return a.orderEvents(ctx, stringParam(params, "time_scope"))
	case ReasonCausal:
		depth := intParam(params, "max_depth", a.causalDepth)
		return a.causalChains(ctx, entities, depth)
	}
	a.logger.Warn("unknown reasoning mode, defaulting to relationship discovery", "mode", mode)
	return a.discoverRelationships(ctx, entities)
}

// discoverRelationships finds direct and up-to-2-hop relationships for the
// given entities, ranked by specificity, edge confidence, then type name.
func (a *ReasoningAgent) discoverRelationships(ctx context.Context, entities []string) ([]Evidence, *ReasoningResult, error) {
	nodes, err := a.resolveEntities(ctx, entities)
	if err != nil {
		return nil, nil, err
	}
	result := &ReasoningResult{Mode: ReasonRelationships}
	if len(nodes) == 0 {
		result.Trace = "no matching entities in the graph"
		return nil, result, nil
	}

	seen := map[string]bool{}
	var findings []RelationFinding
	for _, node := range nodes {
		rels, err := a.graph.Relationships(ctx, node.ID, nil, graph.DirectionBoth)
		if err != nil {
			return nil, nil, fmt.Errorf("relationship discovery: %w: %v", graperrors.ErrBackendUnavailable, err)
		}
		for _, rel := range rels {
			if seen[rel.ID] {
				continue
			}
			seen[rel.ID] = true
			findings = append(findings, a.toFinding(ctx, rel))
		}

		paths, err := a.graph.Traverse(ctx, graph.TraversalRequest{
			StartIDs:  []string{node.ID},
			MaxDepth:  minInt(a.maxDepth, 2),
			Direction: graph.DirectionBoth,
			Limit:     25,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("relationship discovery: %w: %v", graperrors.ErrBackendUnavailable, err)
		}
		for _, path := range paths {
			for _, rel := range path.Relationships {
				if seen[rel.ID] {
					continue
				}
				seen[rel.ID] = true
				findings = append(findings, a.toFinding(ctx, rel))
			}
		}
	}

	rankFindings(findings)
	result.Relations = findings
	result.Confidence = reasoningConfidence(len(findings), len(nodes), false)
	result.Trace = fmt.Sprintf("discovered %d relationships around %d entities", len(findings), len(nodes))

	evidence := make([]Evidence, 0, len(findings))
	for _, f := range findings {
		evidence = append(evidence, NewEvidence(
			SourceGraphStore,
			fmt.Sprintf("%s -[%s]-> %s", f.From, f.Type, f.To),
			f.Confidence*relSpecificity(f.Type),
			map[string]any{"relation_type": f.Type},
		))
	}
	return evidence, result, nil
}

// findPath runs a bounded shortest-path search between the first two resolved
// entities. The traversal layer explores breadth-first, so the first path that
// reaches the target is minimal in hops.
func (a *ReasoningAgent) findPath(ctx context.Context, entities []string) ([]Evidence, *ReasoningResult, error) {
	nodes, err := a.resolveEntities(ctx, entities)
	if err != nil {
		return nil, nil, err
	}
	result := &ReasoningResult{Mode: ReasonPath}
	if len(nodes) < 2 {
		result.Trace = "path finding needs two resolvable entities"
		return nil, result, nil
	}
	from, to := nodes[0], nodes[1]

	paths, err := a.graph.Traverse(ctx, graph.TraversalRequest{
		StartIDs:  []string{from.ID},
		MaxDepth:  a.maxDepth + 2,
		Direction: graph.DirectionBoth,
		Limit:     200,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("path finding: %w: %v", graperrors.ErrBackendUnavailable, err)
	}

	var best *graph.Path
	for i := range paths {
		if paths[i].End() != nil && paths[i].End().ID == to.ID {
			if best == nil || paths[i].Hops() < best.Hops() {
				p := paths[i]
				best = &p
			}
		}
	}
	if best == nil {
		result.Trace = fmt.Sprintf("no path between %s and %s within %d hops", from.Name(), to.Name(), a.maxDepth+2)
		return nil, result, nil
	}

	for _, node := range best.Nodes {
		result.Path = append(result.Path, node.Name())
	}
	result.Confidence = reasoningConfidence(best.Hops(), len(best.Nodes), true)
	result.Trace = fmt.Sprintf("path %s found in %d hops", strings.Join(result.Path, " -> "), best.Hops())

	ev := pathEvidence(*best)
	return []Evidence{ev}, result, nil
}

// orderEvents returns Event nodes in chronological order, optionally filtered
// to a time window. Window bounds compare lexically, which holds for ISO-8601
// timestamps.
func (a *ReasoningAgent) orderEvents(ctx context.Context, timeScope string) ([]Evidence, *ReasoningResult, error) {
	events, err := a.graph.FindNodes(ctx, graph.NodeFilter{Labels: []string{"Event"}, Limit: 100})
	if err != nil {
		return nil, nil, fmt.Errorf("temporal reasoning: %w: %v", graperrors.ErrBackendUnavailable, err)
	}

	type timedEvent struct {
		node *graph.Node
		ts   string
	}
	var timed []timedEvent
	for _, event := range events {
		ts := eventTimestamp(event)
		if ts == "" {
			continue
		}
		if timeScope != "" && !strings.Contains(ts, timeScope) {
			continue
		}
		timed = append(timed, timedEvent{node: event, ts: ts})
	}
	sort.Slice(timed, func(i, j int) bool {
		if timed[i].ts != timed[j].ts {
			return timed[i].ts < timed[j].ts
		}
		return timed[i].node.ID < timed[j].node.ID
	})

	result := &ReasoningResult{Mode: ReasonTemporal}
	var evidence []Evidence
	for _, te := range timed {
		result.Path = append(result.Path, te.node.Name())
		evidence = append(evidence, NewEvidence(
			SourceGraphStore,
			fmt.Sprintf("%s (%s)", te.node.Name(), te.ts),
			0.8,
			map[string]any{"node_id": te.node.ID, "timestamp": te.ts},
		))
	}
	result.Confidence = reasoningConfidence(0, len(timed), len(timed) > 1)
	result.Trace = fmt.Sprintf("ordered %d events chronologically", len(timed))
	return evidence, result, nil
}

// causalChains walks causal edges transitively. Chains are discovered by
// following incoming causal edges from each target entity, so the reported
// chain reads root cause first. The hop bound and the traversal layer's
// visited set keep cyclic data from looping.
func (a *ReasoningAgent) causalChains(ctx context.Context, entities []string, maxDepth int) ([]Evidence, *ReasoningResult, error) {
	if maxDepth <= 0 || maxDepth > a.causalDepth {
		maxDepth = a.causalDepth
	}
	nodes, err := a.resolveEntities(ctx, entities)
	if err != nil {
		return nil, nil, err
	}
	result := &ReasoningResult{Mode: ReasonCausal}
	if len(nodes) == 0 {
		result.Trace = "no matching entities for causal analysis"
		return nil, result, nil
	}

	var evidence []Evidence
	var longest []string
	for _, node := range nodes {
		paths, err := a.graph.Traverse(ctx, graph.TraversalRequest{
			StartIDs:  []string{node.ID},
			MaxDepth:  maxDepth,
			RelTypes:  causalRelTypes,
			Direction: graph.DirectionIncoming,
			Limit:     50,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("causal reasoning: %w: %v", graperrors.ErrBackendUnavailable, err)
		}
		for _, path := range paths {
			chain := reverseChain(path)
			if len(chain) > len(longest) {
				longest = chain
			}
			for _, rel := range path.Relationships {
				from, to := a.nodeName(ctx, rel.FromID), a.nodeName(ctx, rel.ToID)
				result.Relations = append(result.Relations, RelationFinding{
					From: from, Type: rel.Type, To: to, Confidence: rel.Confidence(),
				})
				evidence = append(evidence, NewEvidence(
					SourceGraphStore,
					fmt.Sprintf("%s -[%s]-> %s", from, rel.Type, to),
					rel.Confidence(),
					map[string]any{"relation_type": rel.Type, "causal": true},
				))
			}
		}
	}

	result.Path = longest
	result.Confidence = reasoningConfidence(len(result.Relations), len(longest), len(longest) > 0)
	if len(longest) > 0 {
		result.Trace = "causal chain: " + strings.Join(longest, " -> ")
	} else {
		result.Trace = "no causal relationships found"
	}
	return dedupeEvidenceByContent(evidence), result, nil
}

func (a *ReasoningAgent) resolveEntities(ctx context.Context, refs []string) ([]*graph.Node, error) {
	var nodes []*graph.Node
	seen := map[string]bool{}
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if node, err := a.graph.GetNode(ctx, ref); err == nil {
			if !seen[node.ID] {
				seen[node.ID] = true
				nodes = append(nodes, node)
			}
			continue
		}
		found, err := a.graph.FindNodes(ctx, graph.NodeFilter{NameContains: ref, Limit: 3})
		if err != nil {
			return nil, fmt.Errorf("entity resolution: %w: %v", graperrors.ErrBackendUnavailable, err)
		}
		for _, node := range found {
			if !seen[node.ID] {
				seen[node.ID] = true
				nodes = append(nodes, node)
			}
		}
	}
	return nodes, nil
}

func (a *ReasoningAgent) toFinding(ctx context.Context, rel *graph.Relationship) RelationFinding {
	return RelationFinding{
		From:       a.nodeName(ctx, rel.FromID),
		Type:       rel.Type,
		To:         a.nodeName(ctx, rel.ToID),
		Confidence: rel.Confidence(),
	}
}

func (a *ReasoningAgent) nodeName(ctx context.Context, id string) string {
	node, err := a.graph.GetNode(ctx, id)
	if err != nil {
		return id
	}
	return node.Name()
}

// rankFindings orders relationships by specificity, then edge confidence,
// then lexicographic type name so results are reproducible.
func rankFindings(findings []RelationFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		si, sj := relSpecificity(findings[i].Type), relSpecificity(findings[j].Type)
		if si != sj {
			return si > sj
		}
		if findings[i].Confidence != findings[j].Confidence {
			return findings[i].Confidence > findings[j].Confidence
		}
		return findings[i].Type < findings[j].Type
	})
}

// reverseChain renders an incoming-edge path as a forward cause -> effect list.
func reverseChain(path graph.Path) []string {
	names := make([]string, 0, len(path.Nodes))
	for i := len(path.Nodes) - 1; i >= 0; i-- {
		names = append(names, path.Nodes[i].Name())
	}
	return names
}

func eventTimestamp(node *graph.Node) string {
	for _, key := range []string{"timestamp", "date", "time"} {
		if v, ok := node.Props[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// reasoningConfidence mirrors the heuristic used across modes: relation and
// node counts build the score, with a bonus when a concrete path was found.
func reasoningConfidence(relations, nodes int, hasPath bool) float64 {
	score := minFloat(float64(relations)*0.1, 0.5) + minFloat(float64(nodes)*0.05, 0.3)
	if hasPath {
		score += 0.2
	}
	return clamp01(score)
}

func dedupeEvidenceByContent(items []Evidence) []Evidence {
	seen := map[string]bool{}
	out := items[:0]
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item.Content))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
