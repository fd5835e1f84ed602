package cost

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	reg := prometheus.NewRegistry()
	tr := NewTracker(storetest.New(), 16, WithRegisterer(reg))
	t.Cleanup(func() { _ = tr.Close(time.Second) })
	return tr
}

func TestRecord_PersistsAsynchronously(t *testing.T) {
	tr := newTestTracker(t)
	ok := tr.Record(model.UsageRecord{SessionID: "s1", Model: "gpt-4o-mini", PromptTokens: 10, CompletionTokens: 5, Cost: 0.001, Timestamp: time.Now()})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		stats, err := tr.Statistics(context.Background(), "s1", time.Now().Add(time.Minute))
		return err == nil && stats.Total.CallCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatistics_SeparatesWindows(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Now()

	old := model.UsageRecord{SessionID: "s1", Model: "gpt-4o", Cost: 1.0, Timestamp: now.Add(-40 * 24 * time.Hour)}
	recent := model.UsageRecord{SessionID: "s1", Model: "gpt-4o", Cost: 2.0, Timestamp: now.Add(-time.Hour)}
	require.True(t, tr.Record(old))
	require.True(t, tr.Record(recent))

	require.Eventually(t, func() bool {
		stats, err := tr.Statistics(context.Background(), "s1", now)
		return err == nil && stats.Total.CallCount == 2
	}, time.Second, 5*time.Millisecond)

	stats, err := tr.Statistics(context.Background(), "s1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Month.CallCount, "the 40-day-old record falls outside the 30-day window")
	assert.Equal(t, int64(2), stats.Total.CallCount)
	assert.InDelta(t, 3.0, stats.Total.Cost, 0.0001)
}

func TestClose_DrainsQueueBeforeReturning(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := storetest.New()
	tr := NewTracker(s, 16, WithRegisterer(reg))

	for i := 0; i < 5; i++ {
		tr.Record(model.UsageRecord{SessionID: "s1", Model: "gpt-4o-mini", Cost: 0.1, Timestamp: time.Now()})
	}
	require.NoError(t, tr.Close(time.Second))

	stats, err := tr.Statistics(context.Background(), "s1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total.CallCount)
}

func TestProviderBalance_NoFetcherConfigured(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.ProviderBalance(context.Background(), nil)
	require.Error(t, err)
}

type fakeFetcher struct{ balance *ProviderBalance }

func (f *fakeFetcher) FetchBalance(ctx context.Context) (*ProviderBalance, error) {
	return f.balance, nil
}

func TestProviderBalance_DelegatesToFetcher(t *testing.T) {
	tr := newTestTracker(t)
	want := &ProviderBalance{Provider: "openrouter", BalanceUSD: 12.34, FetchedAt: time.Now()}
	got, err := tr.ProviderBalance(context.Background(), &fakeFetcher{balance: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
