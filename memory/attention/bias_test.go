package attention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/agentcore/model"
)

func TestAnalyzeQuery_Temporal(t *testing.T) {
	assert.Equal(t, model.ModeTemporalHeavy, AnalyzeQuery("when was the last time we talked about this?"))
	assert.Equal(t, model.ModeTemporalHeavy, AnalyzeQuery("wann war letztes mal"))
}

func TestAnalyzeQuery_Emotional(t *testing.T) {
	assert.Equal(t, model.ModeEmotional, AnalyzeQuery("how did you feel about that"))
}

func TestAnalyzeQuery_ImportanceHeavy(t *testing.T) {
	assert.Equal(t, model.ModeImportanceHeavy, AnalyzeQuery("what was the most critical decision?"))
}

func TestAnalyzeQuery_DefaultsStandard(t *testing.T) {
	assert.Equal(t, model.ModeStandard, AnalyzeQuery("tell me about the project"))
}

func TestScore_NoEmbeddingZerosSemanticFactor(t *testing.T) {
	now := time.Now()
	item := &model.MemoryItem{
		Importance:     5,
		Category:       model.CategoryFact,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	s1 := Score(model.ModeStandard, nil, item, now)
	s2 := Score(model.ModeStandard, []float32{1, 0, 0}, item, now)
	assert.Equal(t, s1, s2) // item has no embedding either way
}

func TestScore_RecentHighImportanceScoresHigherThanStaleLow(t *testing.T) {
	now := time.Now()
	fresh := &model.MemoryItem{Importance: 9, CreatedAt: now, LastAccessedAt: now, Category: model.CategoryInsight}
	stale := &model.MemoryItem{Importance: 1, CreatedAt: now.Add(-500 * time.Hour), LastAccessedAt: now.Add(-500 * time.Hour), Category: model.CategoryEvent}
	assert.Greater(t, Score(model.ModeStandard, nil, fresh, now), Score(model.ModeStandard, nil, stale, now))
}

func TestScore_EmotionalModeFavorsEmotionCategory(t *testing.T) {
	now := time.Now()
	emo := &model.MemoryItem{Importance: 5, CreatedAt: now, LastAccessedAt: now, Category: model.CategoryEmotion}
	fact := &model.MemoryItem{Importance: 5, CreatedAt: now, LastAccessedAt: now, Category: model.CategoryFact}
	assert.Greater(t, Score(model.ModeEmotional, nil, emo, now), Score(model.ModeEmotional, nil, fact, now))
}
