package agentic

import "fmt"

// Planner turns a classified query into an ordered execution plan. It is a
// pure lookup table over QueryType, parameterised with intent fields; calling
// it twice with identical input yields an identical plan.
type Planner struct {
	topK        int
	maxDepth    int
	causalDepth int
}

// NewPlanner builds a planner with the configured search bounds.
func NewPlanner(cfg *Config) *Planner {
	return &Planner{
		topK:        cfg.TopK,
		maxDepth:    cfg.MaxGraphDepth,
		causalDepth: cfg.MaxCausalDepth,
	}
}

// Plan emits the template step list for the query type. Unknown types route
// through the factual template plus a generic vector-search safety net.
func (p *Planner) Plan(queryType QueryType, intent Intent) *Plan {
	switch queryType {
	case QueryFactual:
		return p.factualPlan(intent)
	case QueryVisual:
		return p.visualPlan(intent)
	case QueryTemporal:
		return p.temporalPlan(intent)
	case QueryAnalytical:
		return p.analyticalPlan(intent)
	case QueryCausal:
		return p.causalPlan(intent)
	case QueryComparative:
		return p.comparativePlan(intent)
	case QueryPredictive:
		return p.predictivePlan(intent)
	case QueryComplex:
		return p.complexPlan(intent)
	}

	plan := p.factualPlan(intent)
	plan.Steps = append(plan.Steps, PlanStep{
		ID:          "vector_search_fallback",
		Description: "Generic semantic search safety net",
		Tool:        ToolVectorSearch,
		Params:      map[string]any{"top_k": p.topK},
	})
	return plan
}

func (p *Planner) factualPlan(intent Intent) *Plan {
	// The two lookups are independent and run concurrently.
	return &Plan{Steps: []PlanStep{
		{
			ID:          "vector_search_1",
			Description: "Semantic search over document chunks",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK),
			Required:    true,
		},
		{
			ID:          "graph_lookup_1",
			Description: "Knowledge-graph lookup for mentioned entities",
			Tool:        ToolGraphTraversal,
			Params:      graphParams(intent, p.maxDepth),
		},
	}}
}

func (p *Planner) visualPlan(intent Intent) *Plan {
	return &Plan{
		MultimodalRequired: true,
		Steps: []PlanStep{
			{
				ID:          "vector_search_visual",
				Description: "Search visual-fact embeddings",
				Tool:        ToolVectorSearch,
				Params:      withModality(searchParams(intent, minInt(p.topK, 5)), "visual"),
				Required:    true,
			},
			{
				ID:          "vlm_rerun_1",
				Description: "Re-run VLM analysis for visual elements",
				Tool:        ToolVLMRerun,
				Params:      map[string]any{"entities": intent.TargetEntities},
			},
			{
				ID:          "graph_lookup_visual",
				Description: "Look up entities referenced by visual facts",
				Tool:        ToolGraphTraversal,
				Params:      graphParams(intent, p.maxDepth),
				DependsOn:   []string{"vector_search_visual"},
			},
		},
	}
}

func (p *Planner) temporalPlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "graph_temporal_1",
			Description: "Order event nodes chronologically",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":       string(ReasonTemporal),
				"entities":   intent.TargetEntities,
				"time_scope": intent.TimeScope,
			},
			Required: true,
		},
		{
			ID:          "vector_search_temporal",
			Description: "Semantic search for time-scoped context",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK),
		},
	}}
}

func (p *Planner) analyticalPlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "vector_search_analytical",
			Description: "Broad semantic search",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK+5),
			Required:    true,
		},
		{
			ID:          "graph_reasoning_1",
			Description: "Discover relationships between retrieved entities",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":     string(ReasonRelationships),
				"entities": intent.TargetEntities,
			},
			DependsOn: []string{"vector_search_analytical"},
		},
	}}
}

func (p *Planner) causalPlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "graph_lookup_causal",
			Description: "Resolve entities involved in the causal question",
			Tool:        ToolGraphTraversal,
			Params:      graphParams(intent, p.maxDepth),
		},
		{
			ID:          "graph_causal_1",
			Description: "Follow causal relationships transitively",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":      string(ReasonCausal),
				"entities":  intent.TargetEntities,
				"max_depth": p.causalDepth,
			},
			DependsOn: []string{"graph_lookup_causal"},
			Required:  true,
		},
		{
			ID:          "vector_search_causal",
			Description: "Semantic search for supporting narrative",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK),
		},
	}}
}

func (p *Planner) comparativePlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "vector_search_compare",
			Description: "Retrieve material for each comparison side",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK+5),
			Required:    true,
		},
		{
			ID:          "graph_relationship_compare",
			Description: "Discover relationships between compared entities",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":     string(ReasonRelationships),
				"entities": intent.TargetEntities,
			},
		},
	}}
}

func (p *Planner) predictivePlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "vector_search_trend",
			Description: "Retrieve historical trend material",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK+5),
			Required:    true,
		},
		{
			ID:          "graph_temporal_trend",
			Description: "Order historical events feeding the forecast",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":       string(ReasonTemporal),
				"entities":   intent.TargetEntities,
				"time_scope": intent.TimeScope,
			},
		},
	}}
}

func (p *Planner) complexPlan(intent Intent) *Plan {
	return &Plan{Steps: []PlanStep{
		{
			ID:          "vector_search_broad",
			Description: "Broad semantic search",
			Tool:        ToolVectorSearch,
			Params:      searchParams(intent, p.topK*2),
			Required:    true,
		},
		{
			ID:          "graph_explore_1",
			Description: "Explore the knowledge graph around mentioned entities",
			Tool:        ToolGraphTraversal,
			Params:      graphParams(intent, p.maxDepth+2),
		},
		{
			ID:          "graph_reasoning_synthesis",
			Description: "Relate findings across the explored subgraph",
			Tool:        ToolGraphReasoning,
			Params: map[string]any{
				"mode":     string(ReasonRelationships),
				"entities": intent.TargetEntities,
			},
			DependsOn: []string{"vector_search_broad", "graph_explore_1"},
		},
	}}
}

func searchParams(intent Intent, topK int) map[string]any {
	params := map[string]any{"top_k": topK}
	if intent.TargetMetric != "" {
		params["target_metric"] = intent.TargetMetric
	}
	if intent.TimeScope != "" {
		params["time_scope"] = intent.TimeScope
	}
	return params
}

func graphParams(intent Intent, maxDepth int) map[string]any {
	return map[string]any{
		"max_depth": maxDepth,
		"entities":  intent.TargetEntities,
	}
}

func withModality(params map[string]any, modality string) map[string]any {
	params["modality"] = modality
	return params
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// describePlan renders a short log line for a plan.
func describePlan(plan *Plan) string {
	if plan == nil {
		return "none"
	}
	return fmt.Sprintf("%d steps (multimodal=%t)", len(plan.Steps), plan.MultimodalRequired)
}
