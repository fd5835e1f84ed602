// Package retention implements the Retention Gate (spec C3): a scalar
// score mapped to a lifecycle action for one memory item.
package retention

import (
	"math"
	"time"

	"github.com/kestrelai/agentcore/model"
)

// Weights holds the gate's tunable coefficients, all overridable via
// configuration per the spec's "weights and thresholds are configuration"
// note.
type Weights struct {
	Importance float64
	Access     float64
	Temporal   float64
	Base       float64
	DecayBase  float64
	CategoryBoost map[model.Category]float64

	BoostThreshold       float64
	KeepThreshold        float64
	ConsolidateThreshold float64
	DecayThreshold       float64
}

// DefaultWeights matches the spec's published defaults.
func DefaultWeights() Weights {
	return Weights{
		Importance: 0.35,
		Access:     0.30,
		Temporal:   0.25,
		Base:       0.10,
		DecayBase:  0.995,
		CategoryBoost: map[model.Category]float64{
			model.CategoryRelationshipMoment: 1.5,
			model.CategoryEmotion:            1.3,
			model.CategoryInsight:            1.2,
			model.CategoryPreference:         1.0,
			model.CategoryFact:               0.9,
			model.CategoryEvent:              0.8,
		},
		BoostThreshold:       0.85,
		KeepThreshold:        0.60,
		ConsolidateThreshold: 0.40,
		DecayThreshold:       0.20,
	}
}

// Gate evaluates memory items against a fixed set of Weights.
type Gate struct {
	w Weights
}

func New(w Weights) *Gate {
	return &Gate{w: w}
}

// Score computes r ∈ [0,1] for item as of now.
func (g *Gate) Score(item *model.MemoryItem, now time.Time) float64 {
	imp := item.Importance / 10
	acc := math.Min(1, math.Log(float64(item.AccessCount)+1)/5)
	ageDays := now.Sub(item.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	temp := math.Pow(g.w.DecayBase, ageDays)

	boost, ok := g.w.CategoryBoost[item.Category]
	if !ok {
		boost = 1.0
	}

	r := (g.w.Importance*imp + g.w.Access*acc + g.w.Temporal*temp + g.w.Base) * boost
	return clamp01(r)
}

// Evaluate returns both the score and its mapped action. Ties at a
// threshold boundary resolve toward the stronger action, i.e. the
// comparisons are inclusive on the high side of each band.
func (g *Gate) Evaluate(item *model.MemoryItem, now time.Time) (float64, model.RetentionAction) {
	r := g.Score(item, now)
	switch {
	case r >= g.w.BoostThreshold:
		return r, model.ActionBoost
	case r >= g.w.KeepThreshold:
		return r, model.ActionKeep
	case r >= g.w.ConsolidateThreshold:
		return r, model.ActionConsolidate
	case r >= g.w.DecayThreshold:
		return r, model.ActionDecay
	default:
		return r, model.ActionArchive
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
