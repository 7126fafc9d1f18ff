// Package tokenizer provides the token counting contract the synthesizer uses
// to keep evidence prompts within a model budget.
package tokenizer

import "strings"

// Tokenizer counts tokens for budget enforcement.
type Tokenizer interface {
	CountTokens(text string) int
}

// Heuristic approximates token counts without a model vocabulary: one token
// per word plus one per eight characters. It overestimates slightly, which is
// the safe direction for budgeting.
type Heuristic struct{}

// NewHeuristic returns the fallback tokenizer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// CountTokens implements Tokenizer.
func (h *Heuristic) CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)
	approx := words + chars/8
	if approx < 1 {
		approx = 1
	}
	return approx
}
