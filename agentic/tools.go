package agentic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/pkg/logging"
)

// Reprocessor is an external reprocessing tool (VLM re-run, OCR, re-chunking)
// invoked through the tool registry. Implementations live outside this module.
type Reprocessor interface {
	Invoke(ctx context.Context, params map[string]any) (string, error)
}

// ToolFunc is one registered tool implementation.
type ToolFunc func(ctx context.Context, step PlanStep, state *QueryState) ([]Evidence, any, error)

// ToolAgent owns the tool registry and uniform failure isolation: a failing
// or timed-out tool is recorded and treated as zero evidence, and the rest of
// the plan proceeds.
type ToolAgent struct {
	registry map[ToolType]ToolFunc
	timeout  time.Duration
	logger   *slog.Logger
}

// NewToolAgent builds the registry over the retrieval and reasoning agents
// plus any registered reprocessors.
func NewToolAgent(retrieval *RetrievalAgent, reasoning *ReasoningAgent, cfg *Config) *ToolAgent {
	t := &ToolAgent{
		registry: map[ToolType]ToolFunc{},
		timeout:  cfg.ToolTimeout,
		logger:   logging.WithComponent("tools"),
	}

	t.registry[ToolVectorSearch] = func(ctx context.Context, step PlanStep, state *QueryState) ([]Evidence, any, error) {
		evidence, err := retrieval.VectorSearch(ctx, stepQuery(step, state), step.Params)
		return evidence, len(evidence), err
	}
	t.registry[ToolGraphTraversal] = func(ctx context.Context, step PlanStep, state *QueryState) ([]Evidence, any, error) {
		evidence, err := retrieval.GraphLookup(ctx, stepQuery(step, state), step.Params)
		return evidence, len(evidence), err
	}
	t.registry[ToolGraphReasoning] = func(ctx context.Context, step PlanStep, state *QueryState) ([]Evidence, any, error) {
		mode := ReasoningMode(stringParam(step.Params, "mode"))
		if mode == "" {
			mode = ReasonRelationships
		}
		entities := stringsParam(step.Params, "entities")
		if len(entities) == 0 {
			entities = state.Intent.TargetEntities
		}
		if len(entities) == 0 {
			entities = deriveSearchTerms(state.OriginalQuery)
		}
		evidence, result, err := reasoning.Reason(ctx, mode, entities, step.Params)
		return evidence, result, err
	}

	for _, tool := range []ToolType{ToolVLMRerun, ToolOCRProcess, ToolTextChunk} {
		t.registry[tool] = t.reprocessorFunc(tool, cfg.reprocessors[tool])
	}
	return t
}

func (t *ToolAgent) reprocessorFunc(tool ToolType, r Reprocessor) ToolFunc {
	return func(ctx context.Context, step PlanStep, state *QueryState) ([]Evidence, any, error) {
		if r == nil {
			return nil, nil, fmt.Errorf("%s: %w", tool, graperrors.ErrToolNotFound)
		}
		params := map[string]any{"query": state.OriginalQuery}
		for k, v := range step.Params {
			params[k] = v
		}
		content, err := r.Invoke(ctx, params)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", tool, err)
		}
		if content == "" {
			return nil, content, nil
		}
		ev := NewEvidence(SourceReprocessing, content, 0.75, map[string]any{
			"tool": string(tool),
		})
		return []Evidence{ev}, content, nil
	}
}

// Execute runs a single step under the per-tool timeout. Failures never
// propagate: the result carries the error string and zero evidence.
func (t *ToolAgent) Execute(ctx context.Context, step PlanStep, state *QueryState) ToolResult {
	result := ToolResult{StepID: step.ID, Tool: step.Tool}
	start := time.Now()

	fn, ok := t.registry[step.Tool]
	if !ok {
		result.Err = graperrors.ErrToolNotFound.Error()
		result.Duration = time.Since(start)
		t.logger.Warn("tool missing from registry", "tool", step.Tool, "step", step.ID)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	evidence, data, err := fn(ctx, step, state)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err.Error()
		t.logger.Warn("tool execution failed", "tool", step.Tool, "step", step.ID, "error", err)
		return result
	}

	for i := range evidence {
		if evidence[i].Metadata == nil {
			evidence[i].Metadata = map[string]any{}
		}
		evidence[i].Metadata["step_id"] = step.ID
	}
	result.Success = true
	result.Evidence = evidence
	result.Data = data
	t.logger.Debug("tool executed", "tool", step.Tool, "step", step.ID,
		"evidence", len(evidence), "duration", result.Duration)
	return result
}

// ExecutePlan runs the remaining plan steps in dependency order. Steps whose
// dependencies are all executed form a round and run concurrently; state is
// mutated only after the round joins, so QueryState stays single-owner.
func (t *ToolAgent) ExecutePlan(ctx context.Context, state *QueryState) {
	if state.Plan == nil {
		return
	}

	for {
		ready := t.readySteps(state)
		if len(ready) == 0 {
			break
		}

		results := make([]ToolResult, len(ready))
		var wg sync.WaitGroup
		for i, step := range ready {
			wg.Add(1)
			go func(i int, step PlanStep) {
				defer wg.Done()
				results[i] = t.Execute(ctx, step, state)
			}(i, step)
		}
		wg.Wait()

		for _, res := range results {
			state.MarkExecuted(res.StepID)
			if res.Success {
				state.Intermediate[res.StepID] = res.Data
				state.AddEvidence(res.Evidence...)
			} else {
				state.Intermediate["error_"+res.StepID] = res.Err
			}
		}
	}
}

// readySteps returns unexecuted steps whose dependencies have all run. When
// only steps with unsatisfiable dependencies remain (a dependency id that is
// not in the plan), they are released anyway rather than deadlocking.
func (t *ToolAgent) readySteps(state *QueryState) []PlanStep {
	var ready, pending []PlanStep
	for _, step := range state.Plan.Steps {
		if state.HasExecuted(step.ID) {
			continue
		}
		pending = append(pending, step)
		satisfied := true
		for _, dep := range step.DependsOn {
			if !state.HasExecuted(dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step)
		}
	}
	if len(ready) == 0 && len(pending) > 0 {
		t.logger.Warn("releasing steps with unsatisfiable dependencies", "count", len(pending))
		return pending
	}
	return ready
}

func stepQuery(step PlanStep, state *QueryState) string {
	if q := stringParam(step.Params, "query"); q != "" {
		return q
	}
	return state.OriginalQuery
}
