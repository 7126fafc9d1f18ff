package agentic

import (
	"context"
	"log/slog"
	"strings"
	"time"

	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
	"github.com/peace0627/GRAG/history"
	"github.com/peace0627/GRAG/llm"
	"github.com/peace0627/GRAG/pkg/logging"
	"github.com/peace0627/GRAG/pkg/telemetry"
	"github.com/peace0627/GRAG/vector"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator drives the full control loop for one query at a time:
// RECEIVED -> CLASSIFIED -> PLANNED -> EXECUTING -> REFLECTING (bounded loop)
// -> SYNTHESIZING -> DONE. Each query owns its QueryState; orchestrators are
// safe for concurrent HandleQuery calls.
type Orchestrator struct {
	cfg         *Config
	classifier  *Classifier
	planner     *Planner
	tools       *ToolAgent
	reflector   *Reflector
	synthesizer *Synthesizer
	router      *Router
	history     history.Store
	logger      *slog.Logger
	tracer      trace.Tracer
}

// QueryOptions carries caller-supplied parameters for one query.
type QueryOptions struct {
	// Context is auxiliary caller data kept in QueryState.Context, e.g. a
	// pre-supplied document filter.
	Context map[string]any
	// MaxEvidence overrides how many evidence items the response echoes back.
	MaxEvidence int
}

// NewOrchestrator wires the whole pipeline against the provided backends.
// Any backend may be nil; the corresponding tools then degrade at runtime
// instead of failing construction.
func NewOrchestrator(client llm.Client, embedder vector.Embedder, vectors vector.Store, graphStore graph.Store, opts ...Option) *Orchestrator {
	cfg := applyOptions(nil, opts)

	retrieval := NewRetrievalAgent(embedder, vectors, graphStore, cfg)
	reasoning := NewReasoningAgent(graphStore, cfg)

	return &Orchestrator{
		cfg:         cfg,
		classifier:  NewClassifier(client, cfg),
		planner:     NewPlanner(cfg),
		tools:       NewToolAgent(retrieval, reasoning, cfg),
		reflector:   NewReflector(cfg),
		synthesizer: NewSynthesizer(client, cfg),
		router:      NewRouter(cfg),
		history:     cfg.history,
		logger:      logging.WithComponent("orchestrator").With("pipeline", cfg.Name),
		tracer:      telemetry.Tracer("agentic"),
	}
}

// HandleQuery is the single entry point. It always returns a well-formed
// response; Success is false only when every backend and the LLM were
// unreachable and no answer could be constructed at all.
func (o *Orchestrator) HandleQuery(ctx context.Context, query string, opts *QueryOptions) *Response {
	start := time.Now()
	query = strings.TrimSpace(query)
	if opts == nil {
		opts = &QueryOptions{}
	}
	if query == "" {
		return &Response{
			QueryID:       "invalid_" + time.Now().Format("150405"),
			QueryType:     QueryFactual,
			FinalAnswer:   o.cfg.NoAnswerMessage,
			ExecutionTime: time.Since(start),
			Success:       false,
			Error:         graperrors.ErrInvalidInput.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "agentic.handle_query")
	defer span.End()

	o.logger.Info("query received", "query", trimForLog(query, 120))

	// RECEIVED -> CLASSIFIED: the classifier is total for non-empty input.
	cls := o.stageClassify(ctx, query)
	state := NewQueryState(query, cls, opts.Context)
	span.SetAttributes(
		attribute.String("query.id", state.QueryID),
		attribute.String("query.type", string(state.QueryType)),
	)

	// CLASSIFIED -> PLANNED: pure and deterministic.
	fastPath := o.stagePlan(ctx, state, cls)

	// PLANNED -> EXECUTING <-> REFLECTING, bounded by the retry count and by
	// the outer deadline, which forces early synthesis.
	reflection := o.stageExecuteAndReflect(ctx, state, fastPath)

	// REFLECTING -> SYNTHESIZING -> DONE.
	synthErr := o.stageSynthesize(ctx, state, reflection)

	response := o.buildResponse(state, opts, start, synthErr)
	o.appendHistory(state, response)

	o.logger.Info("query completed",
		"query_id", state.QueryID,
		"stage", state.Stage,
		"evidence", response.EvidenceCount,
		"confidence", response.ConfidenceScore,
		"duration", response.ExecutionTime,
		"success", response.Success,
	)
	return response
}

func (o *Orchestrator) stageClassify(ctx context.Context, query string) Classification {
	ctx, span := o.tracer.Start(ctx, "agentic.classify")
	defer telemetry.End(span, nil)

	cls := o.classifier.Classify(ctx, query)
	span.SetAttributes(
		attribute.String("query.type", string(cls.QueryType)),
		attribute.Bool("classifier.fallback", cls.Fallback),
	)
	return cls
}

// stagePlan sets the plan on the state and reports whether the fast path was
// taken (which skips the reflection loop).
func (o *Orchestrator) stagePlan(ctx context.Context, state *QueryState, cls Classification) bool {
	_, span := o.tracer.Start(ctx, "agentic.plan")
	defer telemetry.End(span, nil)

	fastPath := o.router.FastPath(state.OriginalQuery, cls)
	if fastPath {
		state.Plan = o.router.FastPlan()
	} else {
		state.Plan = o.planner.Plan(state.QueryType, state.Intent)
	}
	state.Stage = StagePlanned
	span.SetAttributes(
		attribute.Int("plan.steps", len(state.Plan.Steps)),
		attribute.Bool("plan.fast_path", fastPath),
	)
	o.logger.Debug("plan generated", "query_id", state.QueryID,
		"plan", describePlan(state.Plan), "fast_path", fastPath)
	return fastPath
}

func (o *Orchestrator) stageExecuteAndReflect(ctx context.Context, state *QueryState, fastPath bool) ReflectionResult {
	var reflection ReflectionResult
	for round := 0; ; round++ {
		state.Stage = StageExecuting
		execCtx, execSpan := o.tracer.Start(ctx, "agentic.execute")
		o.tools.ExecutePlan(execCtx, state)
		execSpan.SetAttributes(attribute.Int("evidence.count", len(state.Evidence)))
		telemetry.End(execSpan, nil)

		state.Stage = StageReflecting
		_, reflectSpan := o.tracer.Start(ctx, "agentic.reflect")
		reflection = o.reflector.Reflect(state, round)
		reflectSpan.SetAttributes(
			attribute.Bool("context.sufficient", reflection.ContextSufficient),
			attribute.Float64("confidence.overall", reflection.Overall()),
		)
		telemetry.End(reflectSpan, nil)

		if reflection.ContextSufficient || fastPath {
			break
		}
		if len(reflection.SupplementarySteps) == 0 {
			break
		}
		if ctx.Err() != nil {
			o.logger.Warn("query deadline reached, forcing early synthesis",
				"query_id", state.QueryID, "round", round)
			break
		}
		state.Plan.Steps = append(state.Plan.Steps, reflection.SupplementarySteps...)
		state.ReflectionRounds++
	}

	if reflection.NeedsClarification {
		state.NeedsClarification = true
		state.ClarificationQuestions = reflection.ClarificationQuestions
	}
	return reflection
}

func (o *Orchestrator) stageSynthesize(ctx context.Context, state *QueryState, reflection ReflectionResult) error {
	state.Stage = StageSynthesizing
	ctx, span := o.tracer.Start(ctx, "agentic.synthesize")

	// The outer deadline may already be spent; give synthesis its own floor
	// so a slow retrieval phase cannot starve the final answer entirely.
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 2*time.Second {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LLMTimeout)
		defer cancel()
	}

	answer, confidence, err := o.synthesizer.Synthesize(ctx, state, reflection)
	telemetry.End(span, err)

	state.FinalAnswer = answer
	state.Confidence = confidence
	if o.totalOutage(state) {
		state.Stage = StageFailed
	} else {
		state.Stage = StageDone
	}
	return err
}

// totalOutage reports whether every executed step failed and no evidence was
// collected, i.e. both stores were unreachable.
func (o *Orchestrator) totalOutage(state *QueryState) bool {
	if len(state.ExecutedSteps) == 0 || len(state.Evidence) > 0 {
		return false
	}
	for _, stepID := range state.ExecutedSteps {
		if _, failed := state.Intermediate["error_"+stepID]; !failed {
			return false
		}
	}
	return true
}

func (o *Orchestrator) buildResponse(state *QueryState, opts *QueryOptions, start time.Time, synthErr error) *Response {
	maxEvidence := opts.MaxEvidence
	if maxEvidence <= 0 {
		maxEvidence = o.cfg.MaxResponseEvidence
	}
	echoed := FuseEvidence(state.Evidence)
	if len(echoed) > maxEvidence {
		echoed = echoed[:maxEvidence]
	}

	response := &Response{
		QueryID:                state.QueryID,
		QueryType:              state.QueryType,
		FinalAnswer:            state.FinalAnswer,
		ConfidenceScore:        state.Confidence,
		EvidenceCount:          len(state.Evidence),
		Evidence:               echoed,
		ExecutionTime:          time.Since(start),
		NeedsClarification:     state.NeedsClarification,
		ClarificationQuestions: state.ClarificationQuestions,
		Success:                true,
	}

	if state.Stage == StageFailed {
		response.Success = false
		response.Error = graperrors.ErrBackendUnavailable.Error()
		if synthErr != nil {
			response.Error += ": " + synthErr.Error()
		}
	}
	return response
}

// appendHistory records the handled query best-effort; a history failure
// never affects the response.
func (o *Orchestrator) appendHistory(state *QueryState, response *Response) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	record := &history.Record{
		QueryID:       state.QueryID,
		Query:         state.OriginalQuery,
		QueryType:     string(state.QueryType),
		Answer:        response.FinalAnswer,
		Confidence:    response.ConfidenceScore,
		EvidenceCount: response.EvidenceCount,
		Success:       response.Success,
		Duration:      response.ExecutionTime,
		CreatedAt:     time.Now(),
	}
	if err := o.history.Append(ctx, record); err != nil {
		o.logger.Warn("history write failed", "query_id", state.QueryID, "error", err)
	}
}
