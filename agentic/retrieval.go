package agentic

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/peace0627/GRAG/cache"
	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
	"github.com/peace0627/GRAG/pkg/logging"
	"github.com/peace0627/GRAG/vector"
)

// genericRelWeights down-weights fallback relationship types so a specific
// domain edge like HAS_FINANCIAL_METRIC outranks a generic RELATED_TO.
var genericRelWeights = map[string]float64{
	"RELATED_TO":      0.7,
	"MENTIONS":        0.7,
	"ASSOCIATED_WITH": 0.75,
}

// hopDecay is the per-hop confidence multiplier for graph evidence.
const hopDecay = 0.85

// RetrievalAgent executes vector similarity search and graph lookups and maps
// the hits to Evidence. Store failures surface as errors to the tool layer,
// which records them and degrades to zero evidence for the step.
type RetrievalAgent struct {
	embedder vector.Embedder
	vectors  vector.Store
	graph    graph.Store
	cache    cache.Cache
	cacheTTL time.Duration
	topK     int
	maxDepth int
	logger   *slog.Logger
}

// NewRetrievalAgent wires the agent against the two stores. The cache is
// optional; without one every search hits the stores.
func NewRetrievalAgent(embedder vector.Embedder, vectors vector.Store, graphStore graph.Store, cfg *Config) *RetrievalAgent {
	return &RetrievalAgent{
		embedder: embedder,
		vectors:  vectors,
		graph:    graphStore,
		cache:    cfg.cache,
		cacheTTL: cfg.CacheTTL,
		topK:     cfg.TopK,
		maxDepth: cfg.MaxGraphDepth,
		logger:   logging.WithComponent("retrieval"),
	}
}

// VectorSearch embeds the query, runs a bounded similarity search, and maps
// each hit to Evidence with confidence = clamped similarity.
func (r *RetrievalAgent) VectorSearch(ctx context.Context, query string, params map[string]any) ([]Evidence, error) {
	if r.embedder == nil || r.vectors == nil {
		return nil, fmt.Errorf("vector search: %w", graperrors.ErrBackendUnavailable)
	}

	topK := intParam(params, "top_k", r.topK)
	filters := filterParams(params)

	cacheKey := r.cacheKey("vector", query, topK, filters)
	if cached, ok := r.cachedEvidence(ctx, cacheKey); ok {
		r.logger.Debug("vector search cache hit", "query", trimForLog(query, 80))
		return cached, nil
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %v", graperrors.ErrBackendUnavailable, err)
	}

	matches, err := r.vectors.Search(ctx, queryVector, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w: %v", graperrors.ErrBackendUnavailable, err)
	}

	evidence := make([]Evidence, 0, len(matches))
	for _, match := range matches {
		if match.Embedding == nil {
			continue
		}
		metadata := map[string]any{"match_id": match.Embedding.ID}
		for k, v := range match.Embedding.Metadata {
			metadata[k] = v
		}
		evidence = append(evidence, NewEvidence(
			SourceVectorStore,
			match.Embedding.Content,
			float64(match.Similarity),
			metadata,
		))
	}

	r.storeEvidence(ctx, cacheKey, evidence)
	r.logger.Debug("vector search completed", "query", trimForLog(query, 80), "hits", len(evidence))
	return evidence, nil
}

// GraphLookup resolves entity references (explicit or derived from the query
// text), then walks the graph around them. Direct node matches carry full
// confidence; traversed paths decay per hop and are weighted by relationship
// specificity.
func (r *RetrievalAgent) GraphLookup(ctx context.Context, query string, params map[string]any) ([]Evidence, error) {
	if r.graph == nil {
		return nil, fmt.Errorf("graph lookup: %w", graperrors.ErrBackendUnavailable)
	}

	maxDepth := intParam(params, "max_depth", r.maxDepth)
	refs := stringsParam(params, "entities")
	if len(refs) == 0 {
		refs = deriveSearchTerms(query)
	}

	cacheKey := r.cacheKey("graph", strings.Join(refs, "|"), maxDepth, nil)
	if cached, ok := r.cachedEvidence(ctx, cacheKey); ok {
		return cached, nil
	}

	var evidence []Evidence
	var startIDs []string
	for _, ref := range refs {
		nodes, err := r.resolveNodes(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			startIDs = append(startIDs, node.ID)
			evidence = append(evidence, nodeEvidence(node, 1.0))
		}
	}
	if len(startIDs) == 0 {
		r.logger.Debug("graph lookup found no matching entities", "refs", refs)
		return nil, nil
	}

	paths, err := r.graph.Traverse(ctx, graph.TraversalRequest{
		StartIDs:  startIDs,
		MaxDepth:  maxDepth,
		Direction: graph.DirectionBoth,
		Limit:     50,
	})
	if err != nil {
		return nil, fmt.Errorf("graph traversal: %w: %v", graperrors.ErrBackendUnavailable, err)
	}
	for _, path := range paths {
		evidence = append(evidence, pathEvidence(path))
	}

	r.storeEvidence(ctx, cacheKey, evidence)
	r.logger.Debug("graph lookup completed", "start_nodes", len(startIDs), "paths", len(paths))
	return evidence, nil
}

// resolveNodes finds graph nodes for one entity reference: exact id first,
// then name-contains match.
func (r *RetrievalAgent) resolveNodes(ctx context.Context, ref string) ([]*graph.Node, error) {
	if node, err := r.graph.GetNode(ctx, ref); err == nil {
		return []*graph.Node{node}, nil
	}
	nodes, err := r.graph.FindNodes(ctx, graph.NodeFilter{NameContains: ref, Limit: 5})
	if err != nil {
		return nil, fmt.Errorf("graph lookup: %w: %v", graperrors.ErrBackendUnavailable, err)
	}
	return nodes, nil
}

func nodeEvidence(node *graph.Node, confidence float64) Evidence {
	content := node.Name()
	if desc, ok := node.Props["description"].(string); ok && desc != "" {
		content = content + ": " + desc
	}
	return NewEvidence(SourceGraphStore, content, confidence, map[string]any{
		"node_id": node.ID,
		"labels":  node.Labels,
	})
}

func pathEvidence(path graph.Path) Evidence {
	var b strings.Builder
	weight := 1.0
	for i, rel := range path.Relationships {
		if i < len(path.Nodes) {
			b.WriteString(path.Nodes[i].Name())
		}
		fmt.Fprintf(&b, " -[%s]-> ", rel.Type)
		weight *= relSpecificity(rel.Type) * rel.Confidence()
	}
	if end := path.End(); end != nil {
		b.WriteString(end.Name())
	}

	confidence := weight
	for i := 0; i < path.Hops(); i++ {
		confidence *= hopDecay
	}
	return NewEvidence(SourceGraphStore, b.String(), confidence, map[string]any{
		"hops": path.Hops(),
	})
}

func relSpecificity(relType string) float64 {
	if w, ok := genericRelWeights[strings.ToUpper(relType)]; ok {
		return w
	}
	return 1.0
}

// deriveSearchTerms extracts candidate entity terms from raw query text when
// the plan carries no explicit references: capitalised words and long tokens.
func deriveSearchTerms(query string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, field := range strings.Fields(query) {
		token := strings.Trim(field, ".,!?;:\"'()")
		if len(token) < 4 {
			continue
		}
		lower := strings.ToLower(token)
		if stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		terms = append(terms, token)
		if len(terms) >= 4 {
			break
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "does": true,
	"show": true, "tell": true, "about": true, "this": true, "that": true,
	"with": true, "from": true, "have": true, "happen": true, "happened": true,
	"total": true, "there": true, "their": true, "were": true, "will": true,
}

func (r *RetrievalAgent) cacheKey(kind, query string, bound int, filters map[string]any) string {
	payload := fmt.Sprintf("%s|%s|%d|%v", kind, strings.ToLower(strings.TrimSpace(query)), bound, filters)
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (r *RetrievalAgent) cachedEvidence(ctx context.Context, key string) ([]Evidence, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var evidence []Evidence
	if err := json.Unmarshal(raw, &evidence); err != nil {
		return nil, false
	}
	return evidence, true
}

func (r *RetrievalAgent) storeEvidence(ctx context.Context, key string, evidence []Evidence) {
	if r.cache == nil || len(evidence) == 0 {
		return
	}
	raw, err := json.Marshal(evidence)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.cacheTTL); err != nil {
		r.logger.Debug("retrieval cache write failed", "error", err)
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func stringsParam(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// filterParams assembles metadata filters from step parameters. Only modality
// is mapped today; callers can pass an explicit "filters" map for the rest.
func filterParams(params map[string]any) map[string]any {
	filters := map[string]any{}
	if m, ok := params["filters"].(map[string]any); ok {
		for k, v := range m {
			filters[k] = v
		}
	}
	if modality := stringParam(params, "modality"); modality != "" {
		filters["modality"] = modality
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

// sortEvidenceByConfidence orders evidence best-first with a deterministic
// id tie-break.
func sortEvidenceByConfidence(items []Evidence) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].ID < items[j].ID
	})
}
