// Package llm defines the text-completion contract the pipeline consumes.
// Concrete providers live under contrib/provider.
package llm

import (
	"context"

	"github.com/peace0627/GRAG/message"
)

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	// ResponseSchema, when non-nil, asks the provider to constrain output to
	// a JSON object matching the given JSON schema. Providers that cannot
	// enforce a schema fall back to instruction-following; callers must still
	// validate the decoded payload.
	ResponseSchema map[string]any
	Temperature    float64
	MaxTokens      int64
}

// Client is the minimal completion interface used by every agent.
type Client interface {
	Generate(ctx context.Context, messages []*message.Message, opts *GenerateOptions) (*message.Message, error)
}
