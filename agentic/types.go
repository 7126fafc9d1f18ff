// Package agentic implements the agentic RAG control loop: a query is
// classified, planned, executed against the vector and graph stores, reflected
// on for evidence gaps, and synthesized into a confidence-scored answer. The
// orchestrator owns one QueryState per query; nothing here is shared across
// queries.
package agentic

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryType classifies what kind of answer a query needs. The set is closed;
// anything the classifier cannot place lands on QueryFactual.
type QueryType string

const (
	QueryFactual     QueryType = "factual"
	QueryAnalytical  QueryType = "analytical"
	QueryVisual      QueryType = "visual"
	QueryTemporal    QueryType = "temporal"
	QueryComplex     QueryType = "complex"
	QueryCausal      QueryType = "causal"
	QueryComparative QueryType = "comparative"
	QueryPredictive  QueryType = "predictive"
)

// ParseQueryType maps a raw string onto the closed QueryType set, falling back
// to QueryFactual for anything unrecognised.
func ParseQueryType(raw string) QueryType {
	switch QueryType(raw) {
	case QueryFactual, QueryAnalytical, QueryVisual, QueryTemporal,
		QueryComplex, QueryCausal, QueryComparative, QueryPredictive:
		return QueryType(raw)
	}
	return QueryFactual
}

// ToolType identifies a registered tool the plan can dispatch to.
type ToolType string

const (
	ToolVectorSearch   ToolType = "vector_search"
	ToolGraphTraversal ToolType = "graph_traversal"
	ToolGraphReasoning ToolType = "graph_reasoning"
	ToolVLMRerun       ToolType = "vlm_rerun"
	ToolOCRProcess     ToolType = "ocr_process"
	ToolTextChunk      ToolType = "text_chunk"
)

// SourceType tags where a piece of evidence came from.
type SourceType string

const (
	SourceVectorStore  SourceType = "vector_store"
	SourceGraphStore   SourceType = "graph_store"
	SourceReprocessing SourceType = "reprocessing"
)

// Evidence is one provenance-tagged unit of retrieved content. Immutable once
// created; agents hand references into QueryState.Evidence.
type Evidence struct {
	ID         string         `json:"evidence_id"`
	SourceType SourceType     `json:"source_type"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewEvidence builds an evidence item with a fresh id and a clamped confidence.
func NewEvidence(source SourceType, content string, confidence float64, metadata map[string]any) Evidence {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Evidence{
		ID:         uuid.NewString(),
		SourceType: source,
		Content:    content,
		Confidence: clamp01(confidence),
		Metadata:   metadata,
	}
}

// Intent captures the structure the classifier extracts from a query.
type Intent struct {
	PrimaryAction      string   `json:"primary_action"`
	TargetMetric       string   `json:"target_metric,omitempty"`
	TargetEntities     []string `json:"target_entities,omitempty"`
	GroupBy            string   `json:"group_by,omitempty"`
	TimeScope          string   `json:"time_scope,omitempty"`
	PreferredSources   []string `json:"preferred_sources,omitempty"`
	NeedsComparison    bool     `json:"needs_comparison,omitempty"`
	ComplexityLevel    string   `json:"complexity_level,omitempty"`
	MultimodalRequired bool     `json:"multimodal_required,omitempty"`
}

// Classification is the classifier's output. Fallback marks results produced
// by the keyword tier rather than the LLM tier.
type Classification struct {
	QueryType QueryType
	Intent    Intent
	Fallback  bool
}

// PlanStep is one planned tool invocation with bound parameters.
type PlanStep struct {
	ID          string         `json:"step_id"`
	Description string         `json:"description"`
	Tool        ToolType       `json:"tool_type"`
	Params      map[string]any `json:"parameters,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Required    bool           `json:"required,omitempty"`
}

// Plan is the ordered step list the planner emits for one query.
type Plan struct {
	Steps              []PlanStep
	MultimodalRequired bool
}

// Stage names one state of the orchestrator's per-query state machine.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageClassified   Stage = "CLASSIFIED"
	StagePlanned      Stage = "PLANNED"
	StageExecuting    Stage = "EXECUTING"
	StageReflecting   Stage = "REFLECTING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// QueryState is the working memory of one query's execution. It is owned
// exclusively by the orchestrator for the query's lifetime, so it carries no
// locks; tool results are merged in only after concurrent steps have joined.
type QueryState struct {
	QueryID       string
	OriginalQuery string
	QueryType     QueryType
	Intent        Intent
	Stage         Stage

	Plan          *Plan
	ExecutedSteps []string
	Evidence      []Evidence
	Intermediate  map[string]any
	Context       map[string]any

	FinalAnswer            string
	Confidence             float64
	NeedsClarification     bool
	ClarificationQuestions []string

	ReflectionRounds int
}

// NewQueryState initialises the state for a freshly classified query. The
// query id embeds the classified type for traceability.
func NewQueryState(query string, cls Classification, callerContext map[string]any) *QueryState {
	if callerContext == nil {
		callerContext = map[string]any{}
	}
	return &QueryState{
		QueryID:       fmt.Sprintf("%s_%s", cls.QueryType, uuid.NewString()[:8]),
		OriginalQuery: query,
		QueryType:     cls.QueryType,
		Intent:        cls.Intent,
		Stage:         StageClassified,
		Intermediate:  map[string]any{},
		Context:       callerContext,
	}
}

// HasExecuted reports whether the step already ran (successfully or not).
func (s *QueryState) HasExecuted(stepID string) bool {
	for _, id := range s.ExecutedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// MarkExecuted appends the step to the executed log exactly once.
func (s *QueryState) MarkExecuted(stepID string) {
	if !s.HasExecuted(stepID) {
		s.ExecutedSteps = append(s.ExecutedSteps, stepID)
	}
}

// AddEvidence appends evidence to the append-only collection.
func (s *QueryState) AddEvidence(items ...Evidence) {
	s.Evidence = append(s.Evidence, items...)
}

// RecordError notes a step failure in the intermediate scratch space so the
// reflector can see what went wrong without the query crashing.
func (s *QueryState) RecordError(stepID string, err error) {
	s.Intermediate["error_"+stepID] = err.Error()
}

// MeanConfidence averages the confidence of all collected evidence.
func (s *QueryState) MeanConfidence() float64 {
	if len(s.Evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range s.Evidence {
		sum += e.Confidence
	}
	return sum / float64(len(s.Evidence))
}

// SourceTypes returns the distinct evidence source types collected so far.
func (s *QueryState) SourceTypes() []SourceType {
	seen := map[SourceType]bool{}
	var out []SourceType
	for _, e := range s.Evidence {
		if !seen[e.SourceType] {
			seen[e.SourceType] = true
			out = append(out, e.SourceType)
		}
	}
	return out
}

// ToolResult is the uniform outcome of one tool invocation.
type ToolResult struct {
	StepID   string
	Tool     ToolType
	Success  bool
	Evidence []Evidence
	Data     any
	Err      string
	Duration time.Duration
}

// ReflectionResult is the reflector's verdict on the collected evidence.
type ReflectionResult struct {
	ContextSufficient      bool
	GapsIdentified         []string
	ConfidenceAssessment   map[string]float64
	SupplementarySteps     []PlanStep
	NeedsClarification     bool
	ClarificationQuestions []string
}

// Overall returns the reflector's blended overall confidence.
func (r ReflectionResult) Overall() float64 {
	if r.ConfidenceAssessment == nil {
		return 0
	}
	return r.ConfidenceAssessment["overall"]
}

// RelationFinding is one discovered edge in a reasoning result.
type RelationFinding struct {
	From       string  `json:"from"`
	Type       string  `json:"type"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// ReasoningResult is the structured output of a reasoning-agent mode, kept in
// intermediate results alongside the evidence it produced.
type ReasoningResult struct {
	Mode       ReasoningMode     `json:"mode"`
	Path       []string          `json:"reasoning_path,omitempty"`
	Relations  []RelationFinding `json:"inferred_relations,omitempty"`
	Trace      string            `json:"reasoning_trace,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Response is the caller-facing result of HandleQuery. It is always
// well-formed; Success is false only on total backend outage.
type Response struct {
	QueryID                string        `json:"query_id"`
	QueryType              QueryType     `json:"query_type"`
	FinalAnswer            string        `json:"final_answer"`
	ConfidenceScore        float64       `json:"confidence_score"`
	EvidenceCount          int           `json:"evidence_count"`
	Evidence               []Evidence    `json:"evidence,omitempty"`
	ExecutionTime          time.Duration `json:"execution_time"`
	NeedsClarification     bool          `json:"needs_clarification"`
	ClarificationQuestions []string      `json:"clarification_questions,omitempty"`
	Success                bool          `json:"success"`
	Error                  string        `json:"error,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
