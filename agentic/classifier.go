package agentic

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/peace0627/GRAG/llm"
	"github.com/peace0627/GRAG/message"
	"github.com/peace0627/GRAG/pkg/logging"
)

// Classifier maps raw query text onto the closed QueryType set plus a
// structural intent. It is total for non-empty input: the LLM tier is
// preferred, and any failure there falls through silently to a deterministic
// keyword tier.
type Classifier struct {
	llm         llm.Client
	prompt      string
	timeout     time.Duration
	temperature float64
	logger      *slog.Logger
}

// NewClassifier builds a classifier. A nil LLM client is allowed and pins the
// classifier to the keyword tier.
func NewClassifier(client llm.Client, cfg *Config) *Classifier {
	return &Classifier{
		llm:         client,
		prompt:      cfg.ClassifierPrompt,
		timeout:     cfg.LLMTimeout,
		temperature: cfg.Temperature,
		logger:      logging.WithComponent("classifier"),
	}
}

type llmClassification struct {
	QueryType string `json:"query_type"`
	Intent    Intent `json:"intent"`
}

// classificationSchema is the JSON schema the LLM tier is asked to conform to.
func classificationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query_type": map[string]any{
				"type": "string",
				"enum": []string{"factual", "analytical", "visual", "temporal",
					"complex", "causal", "comparative", "predictive"},
			},
			"intent": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"primary_action":      map[string]any{"type": "string"},
					"target_metric":       map[string]any{"type": "string"},
					"target_entities":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"group_by":            map[string]any{"type": "string"},
					"time_scope":          map[string]any{"type": "string"},
					"preferred_sources":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"needs_comparison":    map[string]any{"type": "boolean"},
					"complexity_level":    map[string]any{"type": "string"},
					"multimodal_required": map[string]any{"type": "boolean"},
				},
			},
		},
		"required": []string{"query_type", "intent"},
	}
}

// Classify never fails: the worst case is the keyword fallback.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	if c.llm != nil {
		if cls, ok := c.classifyLLM(ctx, query); ok {
			return cls
		}
	}
	return c.classifyKeywords(query)
}

func (c *Classifier) classifyLLM(ctx context.Context, query string) (Classification, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []*message.Message{
		message.NewMessage(message.RoleSystem, c.prompt),
		message.NewMessage(message.RoleUser, "Query: "+query+"\nReturn JSON only."),
	}
	resp, err := c.llm.Generate(ctx, messages, &llm.GenerateOptions{
		ResponseSchema: classificationSchema(),
		Temperature:    c.temperature,
	})
	if err != nil || resp == nil {
		c.logger.Debug("llm classification unavailable, using keyword fallback", "error", err)
		return Classification{}, false
	}

	parsed, err := decodeJSON[llmClassification](resp.Text())
	if err != nil {
		c.logger.Debug("llm classification output invalid, using keyword fallback", "error", err)
		return Classification{}, false
	}

	qt := ParseQueryType(strings.ToLower(strings.TrimSpace(parsed.QueryType)))
	intent := parsed.Intent
	if intent.PrimaryAction == "" {
		intent.PrimaryAction = "find"
	}
	if qt == QueryVisual {
		intent.MultimodalRequired = true
	}
	c.logger.Debug("query classified via llm", "query_type", qt, "query", trimForLog(query, 80))
	return Classification{QueryType: qt, Intent: intent}, true
}

// keywordSets drives the fallback tier: the type with the most marker-term
// hits wins, ties resolved by declaration order, default factual.
var keywordSets = []struct {
	queryType QueryType
	markers   []string
}{
	{QueryVisual, []string{"chart", "graph", "image", "figure", "visual", "diagram", "picture", "圖表", "圖片", "圖形"}},
	{QueryCausal, []string{"why", "cause", "because", "reason", "lead to", "led to", "result of", "為什麼", "原因"}},
	{QueryComparative, []string{"compare", "comparison", "difference", "versus", " vs ", "better than", "比較", "對比", "差異"}},
	{QueryPredictive, []string{"predict", "forecast", "will ", "future", "expect", "projection", "預測", "趨勢"}},
	{QueryTemporal, []string{"when", "time", "date", "period", "quarter", "year", "month", "timeline", "時間", "日期", "季度"}},
	{QueryAnalytical, []string{"how", "analyze", "analysis", "explain", "evaluate", "如何", "分析"}},
	{QueryComplex, []string{"relationship", "between", "impact", "correlat", "influence", "關係", "影響"}},
}

func (c *Classifier) classifyKeywords(query string) Classification {
	lower := strings.ToLower(query)

	best := QueryFactual
	bestHits := 0
	for _, set := range keywordSets {
		hits := 0
		for _, marker := range set.markers {
			if strings.Contains(lower, marker) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = set.queryType
		}
	}
	// Long questions with no clear marker usually need multi-step handling.
	if bestHits == 0 && len(strings.Fields(query)) > 20 {
		best = QueryComplex
	}

	intent := Intent{PrimaryAction: "find"}
	switch best {
	case QueryVisual:
		intent.MultimodalRequired = true
		intent.PreferredSources = []string{"charts", "figures"}
	case QueryCausal:
		intent.PrimaryAction = "explain"
	case QueryComparative:
		intent.NeedsComparison = true
		intent.PrimaryAction = "compare"
	}

	c.logger.Debug("query classified via keywords", "query_type", best, "hits", bestHits)
	return Classification{QueryType: best, Intent: intent, Fallback: true}
}
