package agentic

import (
	"math"
	"strings"
	"testing"
)

// sufficientState builds a state that clears every sufficiency check: enough
// evidence, high confidence, two sources, and the required step covered.
func sufficientState() *QueryState {
	state := newTestState(&Plan{Steps: []PlanStep{
		{ID: "s1", Tool: ToolVectorSearch, Required: true},
		{ID: "s2", Tool: ToolGraphTraversal},
	}})
	state.MarkExecuted("s1")
	state.MarkExecuted("s2")
	state.Intermediate["s1"] = 2
	state.Intermediate["s2"] = 1
	state.AddEvidence(
		NewEvidence(SourceVectorStore, "chunk one", 0.9, map[string]any{"step_id": "s1"}),
		NewEvidence(SourceVectorStore, "chunk two", 0.8, map[string]any{"step_id": "s1"}),
		NewEvidence(SourceGraphStore, "edge one", 0.85, map[string]any{"step_id": "s2"}),
	)
	return state
}

func TestReflectApprovesSufficientContext(t *testing.T) {
	reflector := NewReflector(defaultConfig())

	result := reflector.Reflect(sufficientState(), 0)
	if !result.ContextSufficient {
		t.Fatalf("expected sufficient context, gaps: %v", result.GapsIdentified)
	}
	if len(result.SupplementarySteps) != 0 || result.NeedsClarification {
		t.Fatalf("sufficient context must not trigger retries or clarification: %+v", result)
	}
}

func TestReflectSchedulesSupplementaryStepsBelowRetryBound(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := newTestState(&Plan{Steps: []PlanStep{{ID: "s1", Tool: ToolVectorSearch, Required: true}}})
	state.MarkExecuted("s1")
	state.Intermediate["s1"] = 0

	result := reflector.Reflect(state, 0)
	if result.ContextSufficient {
		t.Fatalf("empty evidence should be insufficient")
	}
	if result.NeedsClarification {
		t.Fatalf("round 0 is below the retry bound, clarification is premature")
	}
	if len(result.SupplementarySteps) == 0 {
		t.Fatalf("expected supplementary steps for the first retry")
	}
	for _, step := range result.SupplementarySteps {
		if !strings.HasPrefix(step.ID, "reflect_") || !strings.HasSuffix(step.ID, "_r1") {
			t.Fatalf("unexpected supplementary step id %q", step.ID)
		}
	}
}

func TestReflectAsksForClarificationPastRetryBound(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := newTestState(&Plan{Steps: []PlanStep{{ID: "s1", Tool: ToolVectorSearch, Required: true}}})
	state.MarkExecuted("s1")
	state.Intermediate["s1"] = 0

	result := reflector.Reflect(state, defaultConfig().MaxReflectionRounds)
	if !result.NeedsClarification {
		t.Fatalf("expected clarification past the retry bound")
	}
	if len(result.ClarificationQuestions) == 0 || len(result.ClarificationQuestions) > 3 {
		t.Fatalf("expected 1-3 questions, got %d", len(result.ClarificationQuestions))
	}
	if len(result.SupplementarySteps) != 0 {
		t.Fatalf("no more retries past the bound")
	}
}

func TestReflectFlagsMissingVisualEvidence(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := sufficientState()
	state.Plan.MultimodalRequired = true

	result := reflector.Reflect(state, 0)
	if result.ContextSufficient {
		t.Fatalf("multimodal query without visual evidence should be insufficient")
	}
	var visualGap, visualStep bool
	for _, gap := range result.GapsIdentified {
		if gap == gapMissingVisual {
			visualGap = true
		}
	}
	for _, step := range result.SupplementarySteps {
		if step.Tool == ToolVLMRerun {
			visualStep = true
		}
	}
	if !visualGap || !visualStep {
		t.Fatalf("expected visual gap and vlm retry, got %v / %v", result.GapsIdentified, result.SupplementarySteps)
	}

	// Reprocessing output satisfies the multimodal requirement.
	state.AddEvidence(NewEvidence(SourceReprocessing, "chart description", 0.75, nil))
	result = reflector.Reflect(state, 0)
	for _, gap := range result.GapsIdentified {
		if gap == gapMissingVisual {
			t.Fatalf("visual gap should be closed by reprocessing evidence")
		}
	}
}

func TestReflectFlagsRequiredStepWithoutEvidence(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := sufficientState()
	// Re-tag all evidence to the optional step; the required one is now bare.
	for i := range state.Evidence {
		state.Evidence[i].Metadata["step_id"] = "s2"
	}

	result := reflector.Reflect(state, 0)
	var requiredGap bool
	for _, gap := range result.GapsIdentified {
		if gap == gapMissingRequired {
			requiredGap = true
		}
	}
	if !requiredGap {
		t.Fatalf("expected missing-required gap, got %v", result.GapsIdentified)
	}
}

func TestReflectConfidenceAssessment(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := sufficientState()

	result := reflector.Reflect(state, 0)
	mean := (0.9 + 0.8 + 0.85) / 3
	want := mean*0.6 + 0.2*0.25 + 0.2*0.15 // two sources, full plan completeness
	if got := result.Overall(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("overall confidence = %.4f, want %.4f", got, want)
	}
	if _, ok := result.ConfidenceAssessment[string(SourceVectorStore)]; !ok {
		t.Fatalf("missing per-source assessment: %v", result.ConfidenceAssessment)
	}
}

func TestReflectDoesNotDuplicatePlannedSteps(t *testing.T) {
	reflector := NewReflector(defaultConfig())
	state := newTestState(&Plan{Steps: []PlanStep{
		{ID: "s1", Tool: ToolVectorSearch, Required: true},
		{ID: "reflect_vector_r1", Tool: ToolVectorSearch},
	}})
	state.MarkExecuted("s1")
	state.MarkExecuted("reflect_vector_r1")
	state.Intermediate["s1"] = 0
	state.Intermediate["reflect_vector_r1"] = 0

	result := reflector.Reflect(state, 0)
	for _, step := range result.SupplementarySteps {
		if step.ID == "reflect_vector_r1" {
			t.Fatalf("supplementary step collides with an already-planned id")
		}
	}
}
