package agentic

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	graphmem "github.com/peace0627/GRAG/contrib/graph/inmemory"
	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
)

func newTestState(plan *Plan) *QueryState {
	state := NewQueryState("test query", Classification{QueryType: QueryFactual, Intent: Intent{PrimaryAction: "find"}}, nil)
	state.Plan = plan
	return state
}

func TestExecutePlanIsolatesToolFailure(t *testing.T) {
	graphStore := graphmem.NewInMemoryGraphStore()
	graphStore.AddNode(&graph.Node{ID: "alpha", Props: map[string]any{"name": "Alpha"}})

	cfg := defaultConfig()
	retrieval := NewRetrievalAgent(&keywordEmbedder{}, &failingVectorStore{}, graphStore, cfg)
	reasoning := NewReasoningAgent(graphStore, cfg)
	agent := NewToolAgent(retrieval, reasoning, cfg)

	state := newTestState(&Plan{Steps: []PlanStep{
		{ID: "s_vec", Tool: ToolVectorSearch, Required: true},
		{ID: "s_graph", Tool: ToolGraphTraversal, Params: map[string]any{"entities": []string{"alpha"}}},
	}})
	agent.ExecutePlan(context.Background(), state)

	if !state.HasExecuted("s_vec") || !state.HasExecuted("s_graph") {
		t.Fatalf("both steps should be marked executed, got %v", state.ExecutedSteps)
	}
	if _, ok := state.Intermediate["error_s_vec"]; !ok {
		t.Fatalf("vector failure should be recorded, got %v", state.Intermediate)
	}
	if len(state.Evidence) == 0 {
		t.Fatalf("graph step should still contribute evidence")
	}
	for _, ev := range state.Evidence {
		if ev.Metadata["step_id"] != "s_graph" {
			t.Fatalf("evidence not annotated with its step: %#v", ev.Metadata)
		}
	}
}

func TestExecuteMissingReprocessor(t *testing.T) {
	cfg := defaultConfig()
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	state := newTestState(nil)
	result := agent.Execute(context.Background(), PlanStep{ID: "vlm_1", Tool: ToolVLMRerun}, state)
	if result.Success {
		t.Fatalf("missing reprocessor must fail the step")
	}
	if !strings.Contains(result.Err, graperrors.ErrToolNotFound.Error()) {
		t.Fatalf("error = %q, want tool-not-found", result.Err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	cfg := defaultConfig()
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	result := agent.Execute(context.Background(), PlanStep{ID: "s1", Tool: ToolType("teleport")}, newTestState(nil))
	if result.Success || result.Err == "" {
		t.Fatalf("unknown tool should fail cleanly, got %+v", result)
	}
}

func TestExecuteReprocessorProducesEvidence(t *testing.T) {
	cfg := defaultConfig()
	cfg.reprocessors = map[ToolType]Reprocessor{
		ToolVLMRerun: &scriptedReprocessor{output: "The chart shows Q3 revenue at $1.2M."},
	}
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	result := agent.Execute(context.Background(), PlanStep{ID: "vlm_1", Tool: ToolVLMRerun}, newTestState(nil))
	if !result.Success || len(result.Evidence) != 1 {
		t.Fatalf("expected one reprocessing evidence item, got %+v", result)
	}
	ev := result.Evidence[0]
	if ev.SourceType != SourceReprocessing || ev.Confidence != 0.75 {
		t.Fatalf("unexpected reprocessing evidence: %+v", ev)
	}
	if ev.Metadata["step_id"] != "vlm_1" {
		t.Fatalf("missing step annotation: %v", ev.Metadata)
	}
}

// orderedReprocessor appends its tag to a shared log on every invocation.
type orderedReprocessor struct {
	mu  *sync.Mutex
	log *[]string
	tag string
}

func (o *orderedReprocessor) Invoke(ctx context.Context, params map[string]any) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.log = append(*o.log, o.tag)
	return o.tag + " output", nil
}

func TestExecutePlanHonorsDependencies(t *testing.T) {
	var mu sync.Mutex
	var log []string
	cfg := defaultConfig()
	cfg.reprocessors = map[ToolType]Reprocessor{
		ToolVLMRerun:   &orderedReprocessor{mu: &mu, log: &log, tag: "vlm"},
		ToolOCRProcess: &orderedReprocessor{mu: &mu, log: &log, tag: "ocr"},
	}
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	state := newTestState(&Plan{Steps: []PlanStep{
		{ID: "second", Tool: ToolOCRProcess, DependsOn: []string{"first"}},
		{ID: "first", Tool: ToolVLMRerun},
	}})
	agent.ExecutePlan(context.Background(), state)

	if len(log) != 2 || log[0] != "vlm" || log[1] != "ocr" {
		t.Fatalf("dependency order violated: %v", log)
	}
	if state.Intermediate["second"] != "ocr output" {
		t.Fatalf("intermediate result missing: %v", state.Intermediate)
	}
}

func TestExecutePlanReleasesUnsatisfiableDependencies(t *testing.T) {
	cfg := defaultConfig()
	cfg.reprocessors = map[ToolType]Reprocessor{
		ToolVLMRerun: &scriptedReprocessor{output: "done"},
	}
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	state := newTestState(&Plan{Steps: []PlanStep{
		{ID: "orphan", Tool: ToolVLMRerun, DependsOn: []string{"ghost"}},
	}})
	agent.ExecutePlan(context.Background(), state)

	if !state.HasExecuted("orphan") {
		t.Fatalf("step with unknown dependency should still run")
	}
}

// blockingReprocessor waits out the context to exercise the tool timeout.
type blockingReprocessor struct{}

func (b *blockingReprocessor) Invoke(ctx context.Context, params map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "too late", nil
	}
}

func TestExecuteEnforcesToolTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.ToolTimeout = 20 * time.Millisecond
	cfg.reprocessors = map[ToolType]Reprocessor{ToolVLMRerun: &blockingReprocessor{}}
	agent := NewToolAgent(NewRetrievalAgent(nil, nil, nil, cfg), NewReasoningAgent(nil, cfg), cfg)

	result := agent.Execute(context.Background(), PlanStep{ID: "slow", Tool: ToolVLMRerun}, newTestState(nil))
	if result.Success {
		t.Fatalf("timed-out tool must be reported as failed")
	}
	if !strings.Contains(result.Err, context.DeadlineExceeded.Error()) {
		t.Fatalf("error = %q, want deadline exceeded", result.Err)
	}
}
