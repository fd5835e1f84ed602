// Package attention implements the Attentional Bias scorer (spec C4):
// multi-factor relevance scoring over memory items, selectable by mode.
package attention

import (
	"math"
	"strings"
	"time"

	"github.com/kestrelai/agentcore/model"
)

// ModeParams holds one mode's factor weights plus its time constants.
// τ (temporal decay constant, hours) and σ (access-recency decay constant,
// hours) are not pinned by a published default anywhere in the source
// material; this package uses τ=σ=72h for every mode except
// TEMPORAL_HEAVY (τ=24h, σ=48h) and EMOTIONAL (σ=48h).
type ModeParams struct {
	WSemantic   float64
	WTemporal   float64
	WImportance float64
	WAccess     float64
	WCategory   float64
	Tau         time.Duration
	Sigma       time.Duration
}

var modeTable = map[model.AttentionMode]ModeParams{
	model.ModeStandard:        {0.40, 0.15, 0.20, 0.15, 0.10, 72 * time.Hour, 72 * time.Hour},
	model.ModeSemanticHeavy:   {0.65, 0.05, 0.15, 0.10, 0.05, 72 * time.Hour, 72 * time.Hour},
	model.ModeTemporalHeavy:   {0.25, 0.45, 0.10, 0.15, 0.05, 24 * time.Hour, 48 * time.Hour},
	model.ModeImportanceHeavy: {0.25, 0.10, 0.45, 0.10, 0.10, 72 * time.Hour, 72 * time.Hour},
	model.ModeEmotional:       {0.30, 0.10, 0.15, 0.15, 0.30, 72 * time.Hour, 48 * time.Hour},
}

// categoryAffinity scores how well a category fits a mode's intent, in
// [0,1]. EMOTIONAL favors emotion/relationship content; IMPORTANCE_HEAVY
// favors insight/preference; other modes are neutral across categories.
var categoryAffinity = map[model.AttentionMode]map[model.Category]float64{
	model.ModeEmotional: {
		model.CategoryEmotion:             1.0,
		model.CategoryRelationshipMoment:  0.9,
		model.CategoryPreference:          0.5,
		model.CategoryInsight:             0.3,
		model.CategoryFact:                0.1,
		model.CategoryEvent:               0.2,
	},
	model.ModeImportanceHeavy: {
		model.CategoryInsight:             0.9,
		model.CategoryPreference:          0.7,
		model.CategoryRelationshipMoment:  0.6,
		model.CategoryEmotion:             0.5,
		model.CategoryFact:                0.4,
		model.CategoryEvent:               0.3,
	},
}

func affinity(mode model.AttentionMode, cat model.Category) float64 {
	if table, ok := categoryAffinity[mode]; ok {
		if v, ok := table[cat]; ok {
			return v
		}
		return 0.3
	}
	return 0.5 // STANDARD/SEMANTIC_HEAVY/TEMPORAL_HEAVY are category-neutral
}

// Score computes the relevance of item to queryEmbedding under mode, as of now.
func Score(mode model.AttentionMode, queryEmbedding []float32, item *model.MemoryItem, now time.Time) float64 {
	p, ok := modeTable[mode]
	if !ok {
		p = modeTable[model.ModeStandard]
	}

	semantic := 0.0
	if len(item.Embedding) > 0 && len(queryEmbedding) > 0 {
		semantic = cosineSimilarity(queryEmbedding, item.Embedding)
	}

	ageHours := now.Sub(item.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	temporal := math.Exp(-ageHours / p.Tau.Hours())

	importance := item.Importance / 10

	sinceAccessHours := now.Sub(item.LastAccessedAt).Hours()
	if sinceAccessHours < 0 {
		sinceAccessHours = 0
	}
	access := math.Exp(-sinceAccessHours / p.Sigma.Hours())

	category := affinity(mode, item.Category)

	return p.WSemantic*semantic + p.WTemporal*temporal + p.WImportance*importance +
		p.WAccess*access + p.WCategory*category
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// temporalKeywords and emotionalKeywords are deliberately bilingual
// (English + German) per the spec's Query Analyzer examples.
var temporalKeywords = []string{"when", "last time", "yesterday", "before", "earlier", "wann", "letztes mal", "gestern"}
var emotionalKeywords = []string{"feel", "feeling", "felt", "sad", "happy", "angry", "upset", "love", "hurt", "fühl", "traurig"}
var importanceKeywords = []string{"most", "best", "worst", "critical", "urgent", "important", "never", "always"}

// AnalyzeQuery picks an AttentionMode from the query text's surface
// features, per the spec's keyword-driven Query Analyzer.
func AnalyzeQuery(query string) model.AttentionMode {
	lower := strings.ToLower(query)
	if containsAny(lower, temporalKeywords) {
		return model.ModeTemporalHeavy
	}
	if containsAny(lower, emotionalKeywords) {
		return model.ModeEmotional
	}
	if containsAny(lower, importanceKeywords) {
		return model.ModeImportanceHeavy
	}
	return model.ModeStandard
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
