package agentic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/peace0627/GRAG/cache"
	graphmem "github.com/peace0627/GRAG/contrib/graph/inmemory"
	vecmem "github.com/peace0627/GRAG/contrib/vector/inmemory"
	graperrors "github.com/peace0627/GRAG/errors"
	"github.com/peace0627/GRAG/graph"
	"github.com/peace0627/GRAG/vector"
)

func seedVectorStore(t *testing.T, store *vecmem.InMemoryVectorStore, embedder vector.Embedder, id, content string, metadata map[string]any) {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("embed %s: %v", id, err)
	}
	err = store.Add(context.Background(), &vector.Embedding{
		ID:       id,
		Vector:   vec,
		Content:  content,
		Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func TestVectorSearchMapsSimilarityToConfidence(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	store := vecmem.NewInMemoryVectorStore()
	seedVectorStore(t, store, embedder, "c1", "Total revenue in Q3 was $1.2M.", nil)
	seedVectorStore(t, store, embedder, "c2", "Q3 revenue growth was driven by subscriptions.", nil)

	agent := NewRetrievalAgent(embedder, store, nil, defaultConfig())
	evidence, err := agent.VectorSearch(ctx, "What was the total revenue in Q3?", map[string]any{"top_k": 5})
	if err != nil {
		t.Fatalf("VectorSearch error: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(evidence))
	}
	for _, ev := range evidence {
		if ev.SourceType != SourceVectorStore {
			t.Fatalf("source type = %s", ev.SourceType)
		}
		if ev.Confidence <= 0 || ev.Confidence > 1 {
			t.Fatalf("confidence out of range: %.3f", ev.Confidence)
		}
		if ev.Metadata["match_id"] == nil {
			t.Fatalf("evidence missing match_id metadata: %v", ev.Metadata)
		}
	}
}

func TestVectorSearchModalityFilter(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	store := vecmem.NewInMemoryVectorStore()
	seedVectorStore(t, store, embedder, "text1", "Q3 revenue discussion.", nil)
	seedVectorStore(t, store, embedder, "vis1", "Revenue chart: Q3 bar is tallest.", map[string]any{"modality": "visual"})

	agent := NewRetrievalAgent(embedder, store, nil, defaultConfig())
	evidence, err := agent.VectorSearch(ctx, "revenue chart", map[string]any{"modality": "visual"})
	if err != nil {
		t.Fatalf("VectorSearch error: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Metadata["match_id"] != "vis1" {
		t.Fatalf("modality filter not applied: %#v", evidence)
	}
}

func TestVectorSearchUnavailableBackend(t *testing.T) {
	agent := NewRetrievalAgent(nil, nil, nil, defaultConfig())
	_, err := agent.VectorSearch(context.Background(), "anything", nil)
	if !errors.Is(err, graperrors.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	agent = NewRetrievalAgent(&keywordEmbedder{}, &failingVectorStore{}, nil, defaultConfig())
	_, err = agent.VectorSearch(context.Background(), "anything", nil)
	if !errors.Is(err, graperrors.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable from store failure, got %v", err)
	}
}

func TestVectorSearchServesCachedResults(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	store := vecmem.NewInMemoryVectorStore()
	seedVectorStore(t, store, embedder, "c1", "Total revenue in Q3 was $1.2M.", nil)

	cfg := defaultConfig()
	cfg.cache = cache.NewMemoryCache()
	agent := NewRetrievalAgent(embedder, store, nil, cfg)

	first, err := agent.VectorSearch(ctx, "q3 revenue", nil)
	if err != nil || len(first) != 1 {
		t.Fatalf("priming search failed: %v (%d hits)", err, len(first))
	}

	// The store is emptied; only the cache can answer now.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear store: %v", err)
	}
	second, err := agent.VectorSearch(ctx, "q3 revenue", nil)
	if err != nil {
		t.Fatalf("cached search failed: %v", err)
	}
	if len(second) != 1 || second[0].Content != first[0].Content {
		t.Fatalf("expected cached evidence, got %#v", second)
	}
}

func TestGraphLookupResolvesNodesAndPaths(t *testing.T) {
	ctx := context.Background()
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{
		ID:     "q3_revenue",
		Labels: []string{"Metric"},
		Props:  map[string]any{"name": "Q3 Revenue", "description": "Quarterly revenue figure"},
	})
	store.AddNode(&graph.Node{
		ID:    "q3_report",
		Props: map[string]any{"name": "Q3 Report"},
	})
	store.AddRelationship(&graph.Relationship{
		ID: "r1", Type: "REPORTED_IN", FromID: "q3_revenue", ToID: "q3_report",
		Props: map[string]any{"confidence": 0.9},
	})

	agent := NewRetrievalAgent(nil, nil, store, defaultConfig())
	evidence, err := agent.GraphLookup(ctx, "", map[string]any{"entities": []string{"Q3 Revenue"}})
	if err != nil {
		t.Fatalf("GraphLookup error: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected node + path evidence, got %d items", len(evidence))
	}

	node := evidence[0]
	if node.Confidence != 1.0 || node.Metadata["node_id"] != "q3_revenue" {
		t.Fatalf("direct node match should carry full confidence: %#v", node)
	}

	path := evidence[1]
	want := 0.9 * hopDecay // specific edge, one hop
	if diff := path.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("path confidence = %.4f, want %.4f", path.Confidence, want)
	}
}

func TestGraphLookupDowngradesGenericRelationships(t *testing.T) {
	ctx := context.Background()
	store := graphmem.NewInMemoryGraphStore()
	store.AddNode(&graph.Node{ID: "a", Props: map[string]any{"name": "Alpha"}})
	store.AddNode(&graph.Node{ID: "b", Props: map[string]any{"name": "Beta"}})
	store.AddRelationship(&graph.Relationship{ID: "r1", Type: "RELATED_TO", FromID: "a", ToID: "b"})

	agent := NewRetrievalAgent(nil, nil, store, defaultConfig())
	evidence, err := agent.GraphLookup(ctx, "", map[string]any{"entities": []string{"a"}, "max_depth": 1})
	if err != nil {
		t.Fatalf("GraphLookup error: %v", err)
	}
	// Node evidence + one generic path.
	if len(evidence) != 2 {
		t.Fatalf("expected 2 items, got %d", len(evidence))
	}
	want := 0.7 * hopDecay // generic weight, full edge confidence, one hop
	got := evidence[1].Confidence
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("generic path confidence = %.4f, want %.4f", got, want)
	}
}

func TestGraphLookupUnknownEntitiesYieldNoEvidence(t *testing.T) {
	store := graphmem.NewInMemoryGraphStore()
	agent := NewRetrievalAgent(nil, nil, store, defaultConfig())

	evidence, err := agent.GraphLookup(context.Background(), "completely unknown subject", nil)
	if err != nil {
		t.Fatalf("unknown entities must not error: %v", err)
	}
	if len(evidence) != 0 {
		t.Fatalf("expected no evidence, got %d", len(evidence))
	}
}

func TestGraphLookupUnavailableBackend(t *testing.T) {
	agent := NewRetrievalAgent(nil, nil, &failingGraphStore{}, defaultConfig())
	_, err := agent.GraphLookup(context.Background(), "", map[string]any{"entities": []string{"anything"}})
	if !errors.Is(err, graperrors.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDeriveSearchTerms(t *testing.T) {
	terms := deriveSearchTerms("What caused the revenue decline in EMEA?")
	found := map[string]bool{}
	for _, term := range terms {
		found[strings.ToLower(term)] = true
		if stopWords[strings.ToLower(term)] {
			t.Fatalf("stop word %q leaked into derived terms", term)
		}
		if len(term) < 4 {
			t.Fatalf("short token %q leaked into derived terms", term)
		}
	}
	if !found["revenue"] || !found["decline"] {
		t.Fatalf("expected revenue and decline among derived terms, got %v", terms)
	}
}
