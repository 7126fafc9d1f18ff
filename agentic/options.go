package agentic

import (
	"strings"
	"time"

	"github.com/peace0627/GRAG/cache"
	"github.com/peace0627/GRAG/history"
	"github.com/peace0627/GRAG/tokenizer"
)

// Config groups the knobs of the whole pipeline so callers can construct
// reproducible orchestrators from a single struct.
type Config struct {
	Name string // Logical name for tracing/logging

	TopK                int     // Vector search result cap
	MaxGraphDepth       int     // Hop bound for traversal and relationship discovery
	MaxCausalDepth      int     // Hard bound for transitive causal chains
	MaxReflectionRounds int     // Extra execution rounds the reflector may trigger
	MinEvidenceCount    int     // Evidence items required before context counts as sufficient
	MinMeanConfidence   float64 // Mean evidence confidence required for sufficiency
	MaxResponseEvidence int     // Evidence items included in the caller response

	ToolTimeout  time.Duration // Per-tool invocation timeout
	LLMTimeout   time.Duration // Per-LLM-call timeout
	QueryTimeout time.Duration // Outer deadline; exceeding it forces early synthesis

	PromptTokenBudget int     // Token budget for the synthesis evidence block
	Temperature       float64 // Sampling temperature for all LLM calls
	MaxTokens         int64   // Completion cap for synthesis

	EnableSmartRouting bool          // Short factual queries skip planning/reflection
	CacheTTL           time.Duration // Retrieval result cache TTL

	ClassifierPrompt string // System prompt for the structured-parse tier
	SynthesisPrompt  string // System prompt for answer synthesis
	NoAnswerMessage  string // Deterministic fallback answer

	tokenizer    tokenizer.Tokenizer
	cache        cache.Cache
	history      history.Store
	reprocessors map[ToolType]Reprocessor
}

// Option customises the orchestrator configuration.
type Option func(*Config)

// WithTopK overrides how many vector hits each search step pulls.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithMaxGraphDepth bounds traversal and relationship-discovery hops.
func WithMaxGraphDepth(depth int) Option {
	return func(cfg *Config) {
		if depth > 0 {
			cfg.MaxGraphDepth = depth
		}
	}
}

// WithMaxCausalDepth bounds transitive causal-chain walks.
func WithMaxCausalDepth(depth int) Option {
	return func(cfg *Config) {
		if depth > 0 {
			cfg.MaxCausalDepth = depth
		}
	}
}

// WithMaxReflectionRounds caps how many supplementary execution rounds the
// reflector may trigger. Zero disables the retry loop entirely.
func WithMaxReflectionRounds(rounds int) Option {
	return func(cfg *Config) {
		if rounds >= 0 {
			cfg.MaxReflectionRounds = rounds
		}
	}
}

// WithMinEvidenceCount sets the sufficiency floor on collected evidence.
func WithMinEvidenceCount(count int) Option {
	return func(cfg *Config) {
		if count >= 0 {
			cfg.MinEvidenceCount = count
		}
	}
}

// WithMinMeanConfidence sets the mean-confidence sufficiency threshold.
func WithMinMeanConfidence(threshold float64) Option {
	return func(cfg *Config) {
		if threshold >= 0 && threshold <= 1 {
			cfg.MinMeanConfidence = threshold
		}
	}
}

// WithMaxResponseEvidence caps the evidence items echoed back to the caller.
func WithMaxResponseEvidence(max int) Option {
	return func(cfg *Config) {
		if max > 0 {
			cfg.MaxResponseEvidence = max
		}
	}
}

// WithToolTimeout sets the per-tool invocation timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.ToolTimeout = d
		}
	}
}

// WithLLMTimeout sets the per-LLM-call timeout.
func WithLLMTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.LLMTimeout = d
		}
	}
}

// WithQueryTimeout sets the outer per-query deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.QueryTimeout = d
		}
	}
}

// WithPromptTokenBudget bounds the evidence block fed to synthesis.
func WithPromptTokenBudget(budget int) Option {
	return func(cfg *Config) {
		if budget > 0 {
			cfg.PromptTokenBudget = budget
		}
	}
}

// WithTemperature sets the sampling temperature for LLM calls.
func WithTemperature(t float64) Option {
	return func(cfg *Config) {
		if t >= 0 {
			cfg.Temperature = t
		}
	}
}

// WithMaxTokens caps the synthesis completion length.
func WithMaxTokens(max int64) Option {
	return func(cfg *Config) {
		if max > 0 {
			cfg.MaxTokens = max
		}
	}
}

// WithSmartRouting toggles the single-tool fast path for short factual queries.
func WithSmartRouting(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableSmartRouting = enabled
	}
}

// WithCacheTTL sets how long retrieval results stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *Config) {
		if ttl > 0 {
			cfg.CacheTTL = ttl
		}
	}
}

// WithClassifierPrompt overrides the structured-parse system prompt.
func WithClassifierPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.ClassifierPrompt = prompt
		}
	}
}

// WithSynthesisPrompt overrides the synthesis system prompt.
func WithSynthesisPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.SynthesisPrompt = prompt
		}
	}
}

// WithNoAnswerMessage customises the deterministic fallback answer.
func WithNoAnswerMessage(message string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(message) != "" {
			cfg.NoAnswerMessage = message
		}
	}
}

// WithTokenizer plugs in a real tokenizer for prompt budgeting.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(cfg *Config) {
		if t != nil {
			cfg.tokenizer = t
		}
	}
}

// WithCache plugs in a shared retrieval result cache.
func WithCache(c cache.Cache) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.cache = c
		}
	}
}

// WithHistory plugs in a query history store; writes are best-effort.
func WithHistory(h history.Store) Option {
	return func(cfg *Config) {
		if h != nil {
			cfg.history = h
		}
	}
}

// WithReprocessor registers an external reprocessing tool (vlm_rerun,
// ocr_process, text_chunk). Absent registration degrades to zero evidence.
func WithReprocessor(tool ToolType, r Reprocessor) Option {
	return func(cfg *Config) {
		if r != nil {
			if cfg.reprocessors == nil {
				cfg.reprocessors = map[ToolType]Reprocessor{}
			}
			cfg.reprocessors[tool] = r
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:                "agentic-rag",
		TopK:                10,
		MaxGraphDepth:       2,
		MaxCausalDepth:      4,
		MaxReflectionRounds: 1,
		MinEvidenceCount:    3,
		MinMeanConfidence:   0.6,
		MaxResponseEvidence: 10,
		ToolTimeout:         12 * time.Second,
		LLMTimeout:          15 * time.Second,
		QueryTimeout:        60 * time.Second,
		PromptTokenBudget:   3000,
		Temperature:         0.2,
		MaxTokens:           1024,
		CacheTTL:            5 * time.Minute,
		ClassifierPrompt: `You are a query analysis assistant. Convert the user's natural-language question into a structured JSON object describing what kind of retrieval it needs.
Return JSON only, matching:
{"query_type":"factual|analytical|visual|temporal|complex|causal|comparative|predictive","intent":{"primary_action":"find|explain|compare|summarize","target_metric":"...","target_entities":["..."],"group_by":"...","time_scope":"...","preferred_sources":["..."],"needs_comparison":false,"complexity_level":"low|medium|high","multimodal_required":false}}
Rules:
- "visual" is for questions that need charts, figures, or image content; set multimodal_required true for those.
- "causal" is for why/because questions, "comparative" for explicit comparisons, "temporal" for time-ordered questions, "predictive" for forecasts.
- List concrete entity names mentioned in the question under target_entities.
- Never invent fields and never add prose outside the JSON object.`,
		SynthesisPrompt: `You are the answer writer for a retrieval system. Answer the user's question using ONLY the supplied evidence.
Guidelines:
1. Ground every factual claim in the evidence and cite it with [E#] markers at the end of the supporting sentence.
2. Evidence items are tagged with their source (vector_store, graph_store, reprocessing); weigh graph relationships for structural questions and text chunks for factual detail.
3. Format the answer as concise Markdown with short sections or lists when multiple themes exist.
4. If the evidence cannot answer the question, say so explicitly and state what is missing instead of guessing.`,
		NoAnswerMessage: "I could not find sufficient evidence to answer this question confidently.",
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
