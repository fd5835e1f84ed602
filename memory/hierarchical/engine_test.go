package hierarchical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/memory/retention"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

func newEngine() (*Engine, *storetest.MemStore) {
	s := storetest.New()
	return New(s, retention.New(retention.DefaultWeights())), s
}

func TestStore_RoutesByImportanceAndCategory(t *testing.T) {
	e, s := newEngine()
	ctx := context.Background()

	lowImportance, err := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "trivial", Importance: 2, Category: model.CategoryEvent})
	require.NoError(t, err)
	assert.Equal(t, model.TierWorking, lowImportance.Tier)

	episodic, err := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "mid", Importance: 6, Category: model.CategoryFact})
	require.NoError(t, err)
	assert.Equal(t, model.TierEpisodic, episodic.Tier)

	semantic, err := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "big insight", Importance: 9, Category: model.CategoryInsight})
	require.NoError(t, err)
	assert.Equal(t, model.TierSemantic, semantic.Tier)

	got, err := s.GetItem(ctx, semantic.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierSemantic, got.Tier)
}

func TestStore_AlwaysWritesToWorking(t *testing.T) {
	e, _ := newEngine()
	ctx := context.Background()
	item, err := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "x", Importance: 9, Category: model.CategoryInsight})
	require.NoError(t, err)

	working := e.workingItems("a1")
	require.Len(t, working, 1)
	assert.Equal(t, item.ID, working[0].ID)
}

func TestWorkingTier_EvictsLRUBeyondCapacity(t *testing.T) {
	e, _ := newEngine()
	e.workingCap = 2
	ctx := context.Background()

	first, _ := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "one", Importance: 1, Category: model.CategoryFact})
	e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "two", Importance: 1, Category: model.CategoryFact})
	e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "three", Importance: 1, Category: model.CategoryFact})

	working := e.workingItems("a1")
	assert.Len(t, working, 2)
	for _, it := range working {
		assert.NotEqual(t, first.ID, it.ID)
	}
}

func TestConsolidate_ArchivesStaleEpisodicItems(t *testing.T) {
	e, s := newEngine()
	ctx := context.Background()

	stale, err := s.InsertItem(ctx, model.MemoryItem{
		AgentID:        "a1",
		Tier:           model.TierEpisodic,
		Importance:     1,
		Category:       model.CategoryEvent,
		CreatedAt:      time.Now().Add(-400 * 24 * time.Hour),
		LastAccessedAt: time.Now().Add(-400 * 24 * time.Hour),
	})
	require.NoError(t, err)

	report, err := e.Consolidate(ctx, "a1", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)

	_, err = s.GetItem(ctx, stale.ID)
	assert.Error(t, err)
}

func TestConsolidate_PromotesHighValueEpisodicToSemantic(t *testing.T) {
	e, s := newEngine()
	ctx := context.Background()

	item, err := s.InsertItem(ctx, model.MemoryItem{
		AgentID:        "a1",
		Tier:           model.TierEpisodic,
		Importance:     9,
		AccessCount:    10,
		Category:       model.CategoryFact,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
	})
	require.NoError(t, err)

	report, err := e.Consolidate(ctx, "a1", false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PromotedToSemantic)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierSemantic, got.Tier)
}

func TestConsolidate_MergesNearDuplicates(t *testing.T) {
	e, s := newEngine()
	ctx := context.Background()

	vec := []float32{1, 0, 0}
	_, err := s.InsertItem(ctx, model.MemoryItem{
		AgentID: "a1", Tier: model.TierSemantic, Importance: 5, AccessCount: 2,
		Embedding: vec, Category: model.CategoryFact, CreatedAt: time.Now(), LastAccessedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, model.MemoryItem{
		AgentID: "a1", Tier: model.TierSemantic, Importance: 7, AccessCount: 3,
		Embedding: vec, Category: model.CategoryFact, CreatedAt: time.Now(), LastAccessedAt: time.Now(),
	})
	require.NoError(t, err)

	report, err := e.Consolidate(ctx, "a1", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)

	remaining, err := s.ListByTier(ctx, "a1", model.TierSemantic, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 7.0, remaining[0].Importance)
	assert.Equal(t, 5, remaining[0].AccessCount)
}

func TestSearch_ReturnsTopKAcrossTiers(t *testing.T) {
	e, s := newEngine()
	ctx := context.Background()

	_, err := s.InsertItem(ctx, model.MemoryItem{AgentID: "a1", Tier: model.TierEpisodic, Importance: 8, Category: model.CategoryInsight, CreatedAt: time.Now(), LastAccessedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, model.MemoryItem{AgentID: "a1", Tier: model.TierSemantic, Importance: 9, Category: model.CategoryInsight, CreatedAt: time.Now(), LastAccessedAt: time.Now()})
	require.NoError(t, err)

	results, err := e.Search(ctx, "a1", "s1", "what matters most", nil, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearch_WorkingTierScopedToSession(t *testing.T) {
	e, _ := newEngine()
	ctx := context.Background()

	sessionOne, err := e.Store(ctx, "s1", model.MemoryItem{AgentID: "a1", Content: "session one note", Importance: 1, Category: model.CategoryEvent})
	require.NoError(t, err)

	resultsSameSession, err := e.Search(ctx, "a1", "s1", "note", nil, 10, "")
	require.NoError(t, err)
	require.Len(t, resultsSameSession, 1)
	assert.Equal(t, sessionOne.ID, resultsSameSession[0].Item.ID)

	resultsOtherSession, err := e.Search(ctx, "a1", "s2", "note", nil, 10, "")
	require.NoError(t, err)
	assert.Empty(t, resultsOtherSession)
}
