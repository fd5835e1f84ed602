package reasoning

import "strings"

// rate holds USD-per-1000-token pricing for one model family. There is no
// pricing/billing library anywhere in the example corpus (cost accounting
// is always a flat table, e.g. the teacher's aistats cost computation), so
// this follows the same family-table shape internal/token uses for
// tokenization rather than a per-model lookup service.
type rate struct {
	promptPer1K     float64
	completionPer1K float64
}

var rates = map[string]rate{
	"gpt-4o-mini": {promptPer1K: 0.00015, completionPer1K: 0.0006},
	"gpt-4o":      {promptPer1K: 0.0025, completionPer1K: 0.01},
	"gpt-4":       {promptPer1K: 0.03, completionPer1K: 0.06},
	"claude":      {promptPer1K: 0.003, completionPer1K: 0.015},
	"deepseek":    {promptPer1K: 0.00014, completionPer1K: 0.00028},
	"qwen":        {promptPer1K: 0.0003, completionPer1K: 0.0006},
	"llama":       {promptPer1K: 0.0002, completionPer1K: 0.0002},
}

var defaultRate = rate{promptPer1K: 0.001, completionPer1K: 0.002}

// estimateCost prices one LLM call using the longest matching rates key.
// Unknown models fall back to defaultRate, which over-prices relative to
// most known families so a budget check never under-counts.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	r := defaultRate
	lower := strings.ToLower(model)
	best := ""
	for prefix, known := range rates {
		if strings.Contains(lower, prefix) && (len(prefix) > len(best) || (len(prefix) == len(best) && prefix < best)) {
			best = prefix
			r = known
		}
	}
	return float64(promptTokens)/1000*r.promptPer1K + float64(completionTokens)/1000*r.completionPer1K
}
