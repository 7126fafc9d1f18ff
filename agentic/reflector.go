package agentic

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/peace0627/GRAG/pkg/logging"
)

// Gap identifiers the reflector reports.
const (
	gapInsufficientEvidence = "insufficient_evidence"
	gapLowConfidence        = "low_confidence"
	gapLimitedDiversity     = "limited_source_diversity"
	gapMissingRequired      = "missing_required_evidence"
	gapMissingVisual        = "missing_visual_evidence"
)

// Reflector inspects the collected evidence against the query's requirements
// and either approves synthesis, proposes supplementary steps, or signals
// that clarification is needed.
type Reflector struct {
	minEvidence   int
	minConfidence float64
	maxRounds     int
	topK          int
	maxDepth      int
	logger        *slog.Logger
}

// NewReflector builds a reflector with the configured sufficiency thresholds.
func NewReflector(cfg *Config) *Reflector {
	return &Reflector{
		minEvidence:   cfg.MinEvidenceCount,
		minConfidence: cfg.MinMeanConfidence,
		maxRounds:     cfg.MaxReflectionRounds,
		topK:          cfg.TopK,
		maxDepth:      cfg.MaxGraphDepth,
		logger:        logging.WithComponent("reflector"),
	}
}

// Reflect evaluates sufficiency after execution round `round` (0-based).
// Below the retry bound it emits supplementary steps; past it, clarification
// questions describing the specific gaps.
func (r *Reflector) Reflect(state *QueryState, round int) ReflectionResult {
	gaps := r.identifyGaps(state)
	result := ReflectionResult{
		ContextSufficient:    len(gaps) == 0,
		GapsIdentified:       gaps,
		ConfidenceAssessment: r.assessConfidence(state),
	}

	if result.ContextSufficient {
		r.logger.Debug("context sufficient", "evidence", len(state.Evidence),
			"overall", result.Overall())
		return result
	}

	if round < r.maxRounds {
		result.SupplementarySteps = r.supplementarySteps(state, gaps, round)
		r.logger.Info("context insufficient, scheduling supplementary steps",
			"gaps", strings.Join(gaps, ","), "steps", len(result.SupplementarySteps))
		return result
	}

	result.NeedsClarification = true
	result.ClarificationQuestions = r.clarificationQuestions(state, gaps)
	r.logger.Info("context insufficient past retry bound, asking for clarification",
		"gaps", strings.Join(gaps, ","))
	return result
}

func (r *Reflector) identifyGaps(state *QueryState) []string {
	var gaps []string

	if len(state.Evidence) < r.minEvidence {
		gaps = append(gaps, gapInsufficientEvidence)
	}
	if len(state.Evidence) > 0 && state.MeanConfidence() < r.minConfidence {
		gaps = append(gaps, gapLowConfidence)
	}
	if successfulSteps(state) < 2 && len(state.SourceTypes()) < 2 {
		gaps = append(gaps, gapLimitedDiversity)
	}
	if missing := r.missingRequiredSteps(state); len(missing) > 0 {
		gaps = append(gaps, gapMissingRequired)
	}
	if state.Plan != nil && state.Plan.MultimodalRequired && !hasVisualEvidence(state.Evidence) {
		gaps = append(gaps, gapMissingVisual)
	}
	return gaps
}

// missingRequiredSteps lists required plan steps that produced no evidence.
func (r *Reflector) missingRequiredSteps(state *QueryState) []string {
	if state.Plan == nil {
		return nil
	}
	covered := map[string]bool{}
	for _, e := range state.Evidence {
		if stepID, ok := e.Metadata["step_id"].(string); ok {
			covered[stepID] = true
		}
	}
	var missing []string
	for _, step := range state.Plan.Steps {
		if step.Required && state.HasExecuted(step.ID) && !covered[step.ID] {
			missing = append(missing, step.ID)
		}
	}
	return missing
}

// assessConfidence blends evidence quality, source diversity, and plan
// completeness into per-source and overall scores.
func (r *Reflector) assessConfidence(state *QueryState) map[string]float64 {
	assessment := map[string]float64{}

	perSource := map[SourceType][]float64{}
	for _, e := range state.Evidence {
		perSource[e.SourceType] = append(perSource[e.SourceType], e.Confidence)
	}
	for source, scores := range perSource {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		assessment[string(source)] = sum / float64(len(scores))
	}

	completeness := 0.0
	if state.Plan != nil && len(state.Plan.Steps) > 0 {
		completeness = float64(len(state.ExecutedSteps)) / float64(len(state.Plan.Steps)) * 0.2
	}
	assessment["overall"] = clamp01(
		state.MeanConfidence()*0.6 +
			DiversityBonus(state.Evidence)*0.25 +
			completeness*0.15,
	)
	return assessment
}

// supplementarySteps proposes a relaxed retry per gap: widened top-k with
// filters dropped, a broader graph hop, or a visual reprocess. The relaxation
// policy is a tunable default, not a contract.
func (r *Reflector) supplementarySteps(state *QueryState, gaps []string, round int) []PlanStep {
	var steps []PlanStep
	suffix := fmt.Sprintf("r%d", round+1)

	for _, gap := range gaps {
		switch gap {
		case gapInsufficientEvidence, gapLowConfidence:
			steps = append(steps, PlanStep{
				ID:          "reflect_vector_" + suffix,
				Description: "Widened semantic search with filters dropped",
				Tool:        ToolVectorSearch,
				Params:      map[string]any{"top_k": r.topK * 2},
			})
		case gapLimitedDiversity:
			steps = append(steps, PlanStep{
				ID:          "reflect_graph_" + suffix,
				Description: "Broader graph exploration for a second source",
				Tool:        ToolGraphTraversal,
				Params: map[string]any{
					"max_depth": r.maxDepth + 1,
					"entities":  state.Intent.TargetEntities,
				},
			})
		case gapMissingVisual:
			steps = append(steps, PlanStep{
				ID:          "reflect_vlm_" + suffix,
				Description: "Re-run visual analysis to fill the multimodal gap",
				Tool:        ToolVLMRerun,
				Params:      map[string]any{},
			})
		}
	}

	// Drop anything that collides with an already-planned step id.
	var fresh []PlanStep
	for _, step := range steps {
		if !state.HasExecuted(step.ID) && !planContains(state.Plan, step.ID) {
			fresh = append(fresh, step)
		}
	}
	return fresh
}

func (r *Reflector) clarificationQuestions(state *QueryState, gaps []string) []string {
	var questions []string
	for _, gap := range gaps {
		switch gap {
		case gapMissingVisual:
			questions = append(questions,
				"No visual evidence was found for a query that needs chart or figure analysis. Could you point to the document or page containing the visual?")
		case gapInsufficientEvidence:
			questions = append(questions,
				"Could you provide more specific details about what you're looking for?")
		case gapLowConfidence:
			questions = append(questions,
				"The information found has low confidence. Could you provide more context or narrow the question?")
		case gapLimitedDiversity:
			questions = append(questions,
				"Would you like me to search additional related information?")
		}
	}
	if len(questions) == 0 {
		questions = append(questions, "Could you rephrase your question to help me understand better?")
	}
	if len(questions) > 3 {
		questions = questions[:3]
	}
	return questions
}

// successfulSteps counts executed steps that produced a result rather than an
// error annotation.
func successfulSteps(state *QueryState) int {
	count := 0
	for key := range state.Intermediate {
		if !strings.HasPrefix(key, "error_") {
			count++
		}
	}
	return count
}

func hasVisualEvidence(items []Evidence) bool {
	for _, e := range items {
		if e.SourceType == SourceReprocessing {
			return true
		}
		if modality, ok := e.Metadata["modality"].(string); ok && modality == "visual" {
			return true
		}
	}
	return false
}

func planContains(plan *Plan, stepID string) bool {
	if plan == nil {
		return false
	}
	for _, step := range plan.Steps {
		if step.ID == stepID {
			return true
		}
	}
	return false
}
