package agentic

import "strings"

// routerMaxWords bounds how long a query can be and still take the fast path.
const routerMaxWords = 8

// Router is the cheap pre-planning heuristic: short factual lookups skip the
// full plan/reflect loop and run a single vector search. Everything else goes
// through the full pipeline.
type Router struct {
	enabled bool
	topK    int
}

// NewRouter builds the router; it stays inert unless smart routing is enabled.
func NewRouter(cfg *Config) *Router {
	return &Router{
		enabled: cfg.EnableSmartRouting,
		topK:    cfg.TopK,
	}
}

// FastPath reports whether the classified query qualifies for the
// single-tool route.
func (r *Router) FastPath(query string, cls Classification) bool {
	if !r.enabled {
		return false
	}
	if cls.QueryType != QueryFactual {
		return false
	}
	if cls.Intent.NeedsComparison || cls.Intent.MultimodalRequired {
		return false
	}
	return len(strings.Fields(query)) <= routerMaxWords
}

// FastPlan is the single-step plan used on the fast path.
func (r *Router) FastPlan() *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "fast_vector_search",
			Description: "Single-pass semantic search (fast path)",
			Tool:        ToolVectorSearch,
			Params:      map[string]any{"top_k": r.topK},
			Required:    true,
		},
	}}
}
