// Package token provides a deterministic token-count estimate for LLM
// inputs, per model family (spec §4.1). There is no general tokenizer
// dependency anywhere in the example corpus — every reference implementation
// that needs a token estimate (e.g. the teacher's SimpleTokenCounter) uses a
// characters-per-token heuristic, so this package follows suit rather than
// importing an unseen tokenizer.
package token

import "strings"

// family holds the chars-per-token ratio and per-message overhead (in
// tokens) for one model family.
type family struct {
	charsPerToken float64
	messageOverhead int
}

// families is intentionally conservative: unknown models fall back to
// defaultFamily, which over-counts by design (about 10% relative to the
// gpt family's ratio).
var families = map[string]family{
	"gpt":      {charsPerToken: 4.0, messageOverhead: 4},
	"claude":   {charsPerToken: 3.8, messageOverhead: 5},
	"deepseek": {charsPerToken: 3.5, messageOverhead: 4},
	"llama":    {charsPerToken: 3.8, messageOverhead: 3},
	"qwen":     {charsPerToken: 2.0, messageOverhead: 4}, // CJK-heavy corpora skew denser
}

// defaultFamily is used for unrecognized models. Its ratio is 4.0/1.1, so
// its estimate is about 10% above the gpt family's and below the gpt,
// claude and llama families' ratios; the deepseek and qwen ratios are
// denser still.
var defaultFamily = family{charsPerToken: 3.64, messageOverhead: 5}

// Message mirrors the minimal shape needed to estimate per-message overhead;
// callers from other packages (llm, context) adapt their richer message
// types into this one.
type Message struct {
	Role    string
	Content string
}

// Counter estimates token counts for a specific model family.
type Counter struct {
	model string
	fam   family
}

// NewCounter resolves the family for model (by substring match on known
// family prefixes) and returns a Counter bound to it.
func NewCounter(model string) *Counter {
	lower := strings.ToLower(model)
	for prefix, fam := range families {
		if strings.Contains(lower, prefix) {
			return &Counter{model: model, fam: fam}
		}
	}
	return &Counter{model: model, fam: defaultFamily}
}

// Count returns a deterministic token estimate for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len([]rune(text)))/c.fam.charsPerToken + 0.999999)
	if n < 1 {
		n = 1
	}
	return n
}

// CountMessages returns a deterministic token estimate for a set of
// messages, including the family's fixed per-message role/formatting
// overhead.
func (c *Counter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Content) + c.fam.messageOverhead
	}
	return total
}

// Count is a package-level convenience that resolves a Counter for model
// and estimates text in one call. Prefer NewCounter when counting
// repeatedly for the same model to avoid re-resolving the family table.
func Count(text, model string) int {
	return NewCounter(model).Count(text)
}

// CountMessages is the package-level convenience form of Counter.CountMessages.
func CountMessages(messages []Message, model string) int {
	return NewCounter(model).CountMessages(messages)
}
