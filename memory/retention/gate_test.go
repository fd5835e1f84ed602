package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/agentcore/model"
)

func TestGate_LowImportanceFreshItem_DecaysOrArchives(t *testing.T) {
	g := New(DefaultWeights())
	now := time.Now()
	item := &model.MemoryItem{
		Importance:     0,
		AccessCount:    1,
		Category:       model.CategoryFact,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	_, action := g.Evaluate(item, now)
	assert.Contains(t, []model.RetentionAction{model.ActionDecay, model.ActionArchive}, action)
}

func TestGate_HighImportanceRelationshipMoment_Boosts(t *testing.T) {
	g := New(DefaultWeights())
	now := time.Now()
	item := &model.MemoryItem{
		Importance:     10,
		AccessCount:    100,
		Category:       model.CategoryRelationshipMoment,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	_, action := g.Evaluate(item, now)
	assert.Equal(t, model.ActionBoost, action)
}

func TestGate_ScoreIsClamped(t *testing.T) {
	g := New(DefaultWeights())
	now := time.Now()
	item := &model.MemoryItem{
		Importance:     10,
		AccessCount:    1000000,
		Category:       model.CategoryRelationshipMoment,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	r, _ := g.Evaluate(item, now)
	assert.LessOrEqual(t, r, 1.0)
	assert.GreaterOrEqual(t, r, 0.0)
}

func TestGate_StaleEpisodicItem_Archives(t *testing.T) {
	g := New(DefaultWeights())
	now := time.Now()
	item := &model.MemoryItem{
		Importance:     1,
		AccessCount:    1,
		Category:       model.CategoryEvent,
		CreatedAt:      now.Add(-400 * 24 * time.Hour),
		LastAccessedAt: now.Add(-400 * 24 * time.Hour),
	}
	_, action := g.Evaluate(item, now)
	assert.Equal(t, model.ActionArchive, action)
}

func TestGate_ActionMapping_IsMonotoneInScore(t *testing.T) {
	g := New(DefaultWeights())
	bands := []struct {
		r      float64
		action model.RetentionAction
	}{
		{0.90, model.ActionBoost},
		{0.70, model.ActionKeep},
		{0.50, model.ActionConsolidate},
		{0.30, model.ActionDecay},
		{0.10, model.ActionArchive},
	}
	for _, b := range bands {
		action := actionForScore(g.w, b.r)
		assert.Equal(t, b.action, action, "score %v", b.r)
	}
}

// actionForScore exercises the same threshold ladder as Evaluate, given a
// precomputed score, to test the mapping independent of Score's formula.
func actionForScore(w Weights, r float64) model.RetentionAction {
	switch {
	case r >= w.BoostThreshold:
		return model.ActionBoost
	case r >= w.KeepThreshold:
		return model.ActionKeep
	case r >= w.ConsolidateThreshold:
		return model.ActionConsolidate
	case r >= w.DecayThreshold:
		return model.ActionDecay
	default:
		return model.ActionArchive
	}
}
