package agentic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peace0627/GRAG/llm"
	"github.com/peace0627/GRAG/message"
	"github.com/peace0627/GRAG/pkg/logging"
	"github.com/peace0627/GRAG/tokenizer"
)

// Synthesizer fuses the collected evidence, builds a source-aware prompt
// within the token budget, and asks the LLM for a grounded Markdown answer.
// LLM failure degrades to a deterministic fallback answer with confidence 0.
type Synthesizer struct {
	llm         llm.Client
	tok         tokenizer.Tokenizer
	prompt      string
	noAnswer    string
	budget      int
	timeout     time.Duration
	temperature float64
	maxTokens   int64
	logger      *slog.Logger
}

// NewSynthesizer builds a synthesizer; without an explicit tokenizer the
// heuristic counter budgets the prompt.
func NewSynthesizer(client llm.Client, cfg *Config) *Synthesizer {
	tok := cfg.tokenizer
	if tok == nil {
		tok = tokenizer.NewHeuristic()
	}
	return &Synthesizer{
		llm:         client,
		tok:         tok,
		prompt:      cfg.SynthesisPrompt,
		noAnswer:    cfg.NoAnswerMessage,
		budget:      cfg.PromptTokenBudget,
		timeout:     cfg.LLMTimeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logging.WithComponent("synthesizer"),
	}
}

// Synthesize produces the final answer and confidence for the query. The
// returned error marks LLM failure for outage accounting; even then the
// answer and confidence are valid (fallback text, confidence 0).
func (s *Synthesizer) Synthesize(ctx context.Context, state *QueryState, reflection ReflectionResult) (string, float64, error) {
	fused := FuseEvidence(state.Evidence)

	if len(fused) == 0 {
		// Nothing to ground an answer in; skip the LLM entirely.
		confidence := minFloat(reflection.Overall(), 0.2)
		s.logger.Info("no evidence collected, returning fallback answer", "query_id", state.QueryID)
		return s.noAnswer, confidence, nil
	}

	answer, err := s.compose(ctx, state, reflection, fused)
	if err != nil {
		s.logger.Error("synthesis LLM call failed, using fallback answer",
			"query_id", state.QueryID, "error", err)
		return s.noAnswer, 0, err
	}
	return answer, s.confidence(fused, reflection), nil
}

func (s *Synthesizer) compose(ctx context.Context, state *QueryState, reflection ReflectionResult, fused []Evidence) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("synthesizer LLM is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Question:\n%s\n\nEvidence:\n%s%s",
		state.OriginalQuery,
		s.evidenceBlock(fused),
		s.reasoningBlock(state),
	)
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, s.prompt),
		message.NewMessage(message.RoleUser, userPrompt),
	}

	resp, err := s.llm.Generate(ctx, msgs, &llm.GenerateOptions{
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("synthesizer returned empty answer")
	}
	return answer, nil
}

// evidenceBlock renders each evidence item with its source tag, stopping once
// the token budget is spent. Items arrive fused and best-first, so truncation
// drops the weakest evidence.
func (s *Synthesizer) evidenceBlock(fused []Evidence) string {
	var b strings.Builder
	used := 0
	for i, ev := range fused {
		entry := fmt.Sprintf("[E%d | source=%s | confidence=%.2f]\n%s\n---\n",
			i+1, ev.SourceType, ev.Confidence, ev.Content)
		cost := s.tok.CountTokens(entry)
		if used+cost > s.budget && used > 0 {
			s.logger.Debug("evidence truncated by token budget", "included", i, "total", len(fused))
			break
		}
		b.WriteString(entry)
		used += cost
	}
	return b.String()
}

// reasoningBlock appends structured reasoning results when a reasoning step
// ran, so the LLM can reference discovered chains directly.
func (s *Synthesizer) reasoningBlock(state *QueryState) string {
	var b strings.Builder
	for key, value := range state.Intermediate {
		result, ok := value.(*ReasoningResult)
		if !ok || result == nil || result.Trace == "" {
			continue
		}
		fmt.Fprintf(&b, "\nReasoning (%s, step %s): %s\n", result.Mode, key, result.Trace)
	}
	return b.String()
}

// confidence blends the reflector's overall assessment with mean evidence
// confidence. Fewer than two evidence items cap the score at 0.5; the weights
// are tunable heuristics, not calibrated probabilities.
func (s *Synthesizer) confidence(fused []Evidence, reflection ReflectionResult) float64 {
	var mean float64
	for _, e := range fused {
		mean += e.Confidence
	}
	mean /= float64(len(fused))

	score := 0.5*reflection.Overall() + 0.5*mean
	if len(fused) < 2 {
		score = minFloat(score, 0.5)
	}
	return clamp01(score)
}
