package agentic

import (
	"context"
	"fmt"
	"strings"

	"github.com/peace0627/GRAG/graph"
	"github.com/peace0627/GRAG/llm"
	"github.com/peace0627/GRAG/message"
	"github.com/peace0627/GRAG/vector"
)

// stubLLM replays scripted responses in call order; past the script it keeps
// returning the last one. A non-nil err makes every call fail.
type stubLLM struct {
	responses []string
	err       error
	calls     int
}

func (s *stubLLM) Generate(ctx context.Context, messages []*message.Message, opts *llm.GenerateOptions) (*message.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return message.NewMessage(message.RoleAssistant, ""), nil
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return message.NewMessage(message.RoleAssistant, s.responses[idx]), nil
}

// promptCapturingLLM records the user prompt it was handed and answers with a
// fixed string.
type promptCapturingLLM struct {
	answer   string
	captured *string
}

func (p *promptCapturingLLM) Generate(ctx context.Context, messages []*message.Message, opts *llm.GenerateOptions) (*message.Message, error) {
	for _, msg := range messages {
		if msg.Role == message.RoleUser {
			*p.captured = msg.Text()
		}
	}
	return message.NewMessage(message.RoleAssistant, p.answer), nil
}

// keywordEmbedder maps text onto a fixed keyword space so similarity is a
// deterministic function of shared terms.
type keywordEmbedder struct{}

var keywordSpace = []string{"revenue", "q3", "growth", "margin", "chart", "outage"}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(keywordSpace))
	lower := strings.ToLower(text)
	for idx, kw := range keywordSpace {
		if strings.Contains(lower, kw) {
			vec[idx] = 1
		}
	}
	return vec, nil
}

func (k *keywordEmbedder) Dimension() int {
	return len(keywordSpace)
}

// failingEmbedder simulates an unreachable embedding backend.
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding service unreachable")
}

func (f *failingEmbedder) Dimension() int { return 0 }

// failingVectorStore simulates an unreachable vector backend.
type failingVectorStore struct{}

func (f *failingVectorStore) Add(ctx context.Context, embedding *vector.Embedding) error {
	return fmt.Errorf("vector store unreachable")
}

func (f *failingVectorStore) Search(ctx context.Context, queryVector []float32, topK int, filters map[string]any) ([]vector.Match, error) {
	return nil, fmt.Errorf("vector store unreachable")
}

func (f *failingVectorStore) Count(ctx context.Context) (int, error) {
	return 0, fmt.Errorf("vector store unreachable")
}

func (f *failingVectorStore) Clear(ctx context.Context) error {
	return fmt.Errorf("vector store unreachable")
}

// failingGraphStore simulates an unreachable graph backend.
type failingGraphStore struct{}

func (f *failingGraphStore) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	return nil, fmt.Errorf("graph store unreachable")
}

func (f *failingGraphStore) FindNodes(ctx context.Context, filter graph.NodeFilter) ([]*graph.Node, error) {
	return nil, fmt.Errorf("graph store unreachable")
}

func (f *failingGraphStore) Relationships(ctx context.Context, nodeID string, types []string, dir graph.Direction) ([]*graph.Relationship, error) {
	return nil, fmt.Errorf("graph store unreachable")
}

func (f *failingGraphStore) Traverse(ctx context.Context, req graph.TraversalRequest) ([]graph.Path, error) {
	return nil, fmt.Errorf("graph store unreachable")
}

// scriptedReprocessor returns a fixed output or error.
type scriptedReprocessor struct {
	output string
	err    error
	calls  int
}

func (s *scriptedReprocessor) Invoke(ctx context.Context, params map[string]any) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func factualClassificationJSON() string {
	return `{"query_type":"factual","intent":{"primary_action":"find","target_metric":"revenue","target_entities":["Q3 Revenue"]}}`
}
