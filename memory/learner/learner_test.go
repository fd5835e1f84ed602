package learner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

func TestReinforce_CreatesAndStrengthensAssociation(t *testing.T) {
	s := storetest.New()
	l := New(s)
	ctx := context.Background()

	require.NoError(t, l.Reinforce(ctx, []string{"x", "y"}))
	a, err := s.Get(ctx, "x", "y")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, a.Strength, 1e-9)

	require.NoError(t, l.Reinforce(ctx, []string{"x", "y"}))
	a, err = s.Get(ctx, "x", "y")
	require.NoError(t, err)
	assert.InDelta(t, 0.19, a.Strength, 1e-9)
}

func TestReinforce_OrderIndependent(t *testing.T) {
	s := storetest.New()
	l := New(s)
	ctx := context.Background()

	require.NoError(t, l.Reinforce(ctx, []string{"b", "a"}))
	_, err := s.Get(ctx, "a", "b")
	require.NoError(t, err)
}

func TestDecay_WeakensOldAssociations(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, model.Association{
		AID: "a", BID: "b", Strength: 0.5, LastReinforced: time.Now().Add(-40 * 24 * time.Hour),
	}))

	l := New(s)
	decayed, _, err := l.Decay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)

	a, err := s.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.Less(t, a.Strength, 0.5)
}

func TestGetAssociated_FiltersBelowThreshold(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, model.Association{AID: "x", BID: "y", Strength: 0.5, LastReinforced: time.Now()}))
	require.NoError(t, s.Upsert(ctx, model.Association{AID: "x", BID: "z", Strength: 0.05, LastReinforced: time.Now()}))

	l := New(s)
	neighbors, err := l.GetAssociated(ctx, "x", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "y", neighbors[0].BID)
}

func TestApplyFeedback_AdjustsImportanceAndMetadata(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	item, err := s.InsertItem(ctx, model.MemoryItem{AgentID: "a1", Content: "x", Importance: 5})
	require.NoError(t, err)

	l := New(s)
	require.NoError(t, l.ApplyFeedback(ctx, item.ID, model.FeedbackIncorrect))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Importance)
	assert.Equal(t, true, got.Metadata["flagged"])
}

func TestApplyFeedback_ClampsImportance(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	item, err := s.InsertItem(ctx, model.MemoryItem{AgentID: "a1", Content: "x", Importance: 0.1})
	require.NoError(t, err)

	l := New(s)
	require.NoError(t, l.ApplyFeedback(ctx, item.ID, model.FeedbackIncorrect))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Importance)
}
