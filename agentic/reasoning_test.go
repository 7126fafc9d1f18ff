package agentic

import (
	"context"
	"errors"
	"strings"
	"testing"

	graphmem "github.com/peace0627/GRAG/contrib/graph/inmemory"
	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
)

// causalFixture builds Config Error -CAUSES-> Memory Leak -CAUSES-> Server Outage.
func causalFixture() *graphmem.InMemoryGraphStore {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "config_error", Props: map[string]any{"name": "Config Error"}})
	store.AddNode(&graph.Node{ID: "memory_leak", Props: map[string]any{"name": "Memory Leak"}})
	store.AddNode(&graph.Node{ID: "server_outage", Props: map[string]any{"name": "Server Outage"}})
	store.AddRelationship(&graph.Relationship{
		ID: "c1", Type: "CAUSES", FromID: "config_error", ToID: "memory_leak",
		Props: map[string]any{"confidence": 0.9},
	})
	store.AddRelationship(&graph.Relationship{
		ID: "c2", Type: "CAUSES", FromID: "memory_leak", ToID: "server_outage",
		Props: map[string]any{"confidence": 0.85},
	})
	return store
}

func TestCausalChainReadsRootCauseFirst(t *testing.T) {
	agent := NewReasoningAgent(causalFixture(), defaultConfig())

	evidence, result, err := agent.Reason(context.Background(), ReasonCausal, []string{"Server Outage"}, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	wantChain := []string{"Config Error", "Memory Leak", "Server Outage"}
	if len(result.Path) != len(wantChain) {
		t.Fatalf("chain = %v, want %v", result.Path, wantChain)
	}
	for i, name := range wantChain {
		if result.Path[i] != name {
			t.Fatalf("chain = %v, want %v", result.Path, wantChain)
		}
	}
	if !strings.Contains(result.Trace, "Config Error -> Memory Leak -> Server Outage") {
		t.Fatalf("trace = %q", result.Trace)
	}

	var sawRootEdge bool
	for _, ev := range evidence {
		if ev.Content == "Config Error -[CAUSES]-> Memory Leak" {
			sawRootEdge = true
		}
		if ev.Metadata["causal"] != true {
			t.Fatalf("causal evidence not tagged: %#v", ev.Metadata)
		}
	}
	if !sawRootEdge {
		t.Fatalf("root-cause edge missing from evidence: %#v", evidence)
	}
}

func TestCausalChainIgnoresNonCausalEdges(t *testing.T) {
	store := causalFixture()
	store.AddNode(&graph.Node{ID: "ops_team", Props: map[string]any{"name": "Ops Team"}})
	store.AddRelationship(&graph.Relationship{ID: "m1", Type: "MENTIONS", FromID: "ops_team", ToID: "server_outage"})

	agent := NewReasoningAgent(store, defaultConfig())
	evidence, _, err := agent.Reason(context.Background(), ReasonCausal, []string{"Server Outage"}, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	for _, ev := range evidence {
		if strings.Contains(ev.Content, "MENTIONS") {
			t.Fatalf("non-causal edge followed: %q", ev.Content)
		}
	}
}

func TestCausalChainTerminatesOnCycles(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "a", Props: map[string]any{"name": "Alpha"}})
	store.AddNode(&graph.Node{ID: "b", Props: map[string]any{"name": "Beta"}})
	store.AddRelationship(&graph.Relationship{ID: "r1", Type: "CAUSES", FromID: "a", ToID: "b"})
	store.AddRelationship(&graph.Relationship{ID: "r2", Type: "CAUSES", FromID: "b", ToID: "a"})

	agent := NewReasoningAgent(store, defaultConfig())
	_, result, err := agent.Reason(context.Background(), ReasonCausal, []string{"Beta"}, map[string]any{"max_depth": 10})
	if err != nil {
		t.Fatalf("cyclic causal data must terminate cleanly: %v", err)
	}
	if len(result.Path) == 0 {
		t.Fatalf("expected a chain despite the cycle")
	}
}

func TestCausalUnknownEntity(t *testing.T) {
	agent := NewReasoningAgent(causalFixture(), defaultConfig())
	evidence, result, err := agent.Reason(context.Background(), ReasonCausal, []string{"nonexistent"}, nil)
	if err != nil {
		t.Fatalf("unknown entity must not error: %v", err)
	}
	if len(evidence) != 0 || len(result.Path) != 0 {
		t.Fatalf("expected empty result, got %v / %v", evidence, result.Path)
	}
}

func TestTemporalOrderingSortsByTimestamp(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "e2", Labels: []string{"Event"}, Props: map[string]any{"name": "Launch", "timestamp": "2024-03-01"}})
	store.AddNode(&graph.Node{ID: "e1", Labels: []string{"Event"}, Props: map[string]any{"name": "Beta", "date": "2023-11-15"}})
	store.AddNode(&graph.Node{ID: "e3", Labels: []string{"Event"}, Props: map[string]any{"name": "Announcement", "timestamp": "2023-06-01"}})
	store.AddNode(&graph.Node{ID: "x1", Props: map[string]any{"name": "Not An Event"}})

	agent := NewReasoningAgent(store, defaultConfig())
	evidence, result, err := agent.Reason(context.Background(), ReasonTemporal, nil, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	want := []string{"Announcement", "Beta", "Launch"}
	if len(result.Path) != 3 {
		t.Fatalf("ordered events = %v, want %v", result.Path, want)
	}
	for i, name := range want {
		if result.Path[i] != name {
			t.Fatalf("ordered events = %v, want %v", result.Path, want)
		}
	}
	if len(evidence) != 3 {
		t.Fatalf("expected one evidence item per event, got %d", len(evidence))
	}
}

func TestTemporalOrderingHonorsTimeScope(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "e1", Labels: []string{"Event"}, Props: map[string]any{"name": "Old", "timestamp": "2022-01-01"}})
	store.AddNode(&graph.Node{ID: "e2", Labels: []string{"Event"}, Props: map[string]any{"name": "Recent", "timestamp": "2024-05-01"}})

	agent := NewReasoningAgent(store, defaultConfig())
	_, result, err := agent.Reason(context.Background(), ReasonTemporal, nil, map[string]any{"time_scope": "2024"})
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	if len(result.Path) != 1 || result.Path[0] != "Recent" {
		t.Fatalf("time scope filter failed: %v", result.Path)
	}
}

func TestFindPathPrefersShortestRoute(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "alpha", Props: map[string]any{"name": "Alpha"}})
	store.AddNode(&graph.Node{ID: "beta", Props: map[string]any{"name": "Beta"}})
	store.AddNode(&graph.Node{ID: "via", Props: map[string]any{"name": "Via"}})
	store.AddRelationship(&graph.Relationship{ID: "r1", Type: "LINKS", FromID: "alpha", ToID: "via"})
	store.AddRelationship(&graph.Relationship{ID: "r2", Type: "LINKS", FromID: "via", ToID: "beta"})
	store.AddRelationship(&graph.Relationship{ID: "r3", Type: "PARTNERS_WITH", FromID: "alpha", ToID: "beta"})

	agent := NewReasoningAgent(store, defaultConfig())
	evidence, result, err := agent.Reason(context.Background(), ReasonPath, []string{"Alpha", "Beta"}, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	if len(result.Path) != 2 {
		t.Fatalf("path = %v, want direct Alpha -> Beta", result.Path)
	}
	if len(evidence) != 1 {
		t.Fatalf("expected one path evidence item, got %d", len(evidence))
	}
}

func TestFindPathNeedsTwoEntities(t *testing.T) {
	agent := NewReasoningAgent(causalFixture(), defaultConfig())
	evidence, result, err := agent.Reason(context.Background(), ReasonPath, []string{"Memory Leak"}, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	if len(evidence) != 0 || len(result.Path) != 0 {
		t.Fatalf("single entity should yield no path, got %v", result.Path)
	}
}

func TestRelationshipDiscoveryRanksSpecificFirst(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "acme", Props: map[string]any{"name": "Acme"}})
	store.AddNode(&graph.Node{ID: "rev", Props: map[string]any{"name": "Revenue"}})
	store.AddNode(&graph.Node{ID: "blog", Props: map[string]any{"name": "Blog Post"}})
	store.AddRelationship(&graph.Relationship{ID: "r1", Type: "RELATED_TO", FromID: "acme", ToID: "blog"})
	store.AddRelationship(&graph.Relationship{ID: "r2", Type: "HAS_FINANCIAL_METRIC", FromID: "acme", ToID: "rev"})

	agent := NewReasoningAgent(store, defaultConfig())
	_, result, err := agent.Reason(context.Background(), ReasonRelationships, []string{"Acme"}, nil)
	if err != nil {
		t.Fatalf("Reason error: %v", err)
	}
	if len(result.Relations) != 2 {
		t.Fatalf("expected 2 relations, got %d", len(result.Relations))
	}
	if result.Relations[0].Type != "HAS_FINANCIAL_METRIC" {
		t.Fatalf("specific relation should rank first, got %v", result.Relations)
	}
}

func TestReasoningUnavailableBackend(t *testing.T) {
	agent := NewReasoningAgent(nil, defaultConfig())
	_, _, err := agent.Reason(context.Background(), ReasonCausal, []string{"x"}, nil)
	if !errors.Is(err, graperrors.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	agent = NewReasoningAgent(&failingGraphStore{}, defaultConfig())
	_, _, err = agent.Reason(context.Background(), ReasonRelationships, []string{"x"}, nil)
	if !errors.Is(err, graperrors.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable from store, got %v", err)
	}
}

func TestReasoningConfidenceBounds(t *testing.T) {
	if got := reasoningConfidence(0, 0, false); got != 0 {
		t.Fatalf("empty reasoning confidence = %.2f", got)
	}
	if got := reasoningConfidence(100, 100, true); got < 0.99 || got > 1.0 {
		t.Fatalf("saturated reasoning confidence = %.2f, want capped near 1.0", got)
	}
}
