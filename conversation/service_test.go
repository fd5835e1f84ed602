package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

type fakeSummarizer struct {
	calledThroughSeq int64
	err               error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, agentID, sessionID string, throughSeq int64) (string, error) {
	f.calledThroughSeq = throughSeq
	return "a summary", f.err
}

func TestAppendAndList_RoundTrip(t *testing.T) {
	svc := New(storetest.New())
	ctx := context.Background()

	_, err := svc.Append(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	msgs, err := svc.List(ctx, "s1", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestNewChat_SummarizesThenClears(t *testing.T) {
	svc := New(storetest.New())
	ctx := context.Background()
	_, err := svc.Append(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	summ := &fakeSummarizer{}
	err = svc.NewChat(ctx, "agent-1", "s1", summ)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summ.calledThroughSeq)

	msgs, err := svc.List(ctx, "s1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestNewChat_SummarizeFailure_DoesNotClear(t *testing.T) {
	svc := New(storetest.New())
	ctx := context.Background()
	_, err := svc.Append(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	summ := &fakeSummarizer{err: assert.AnError}
	err = svc.NewChat(ctx, "agent-1", "s1", summ)
	require.Error(t, err)

	msgs, err := svc.List(ctx, "s1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNewChat_EmptySession_SkipsSummarizeButClears(t *testing.T) {
	svc := New(storetest.New())
	summ := &fakeSummarizer{}
	err := svc.NewChat(context.Background(), "agent-1", "empty-session", summ)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summ.calledThroughSeq)
}

func TestEnqueueEvent_PersistsAsynchronously(t *testing.T) {
	svc := New(storetest.New())
	ok := svc.EnqueueEvent("s1", model.RoleAssistant, "chunk one")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		msgs, err := svc.List(context.Background(), "s1", 0, 10)
		return err == nil && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	svc.StopSerializer("s1")
}

func TestCleanupStaleSerializers_RemovesOnlyExpired(t *testing.T) {
	svc := New(storetest.New())
	svc.EnqueueEvent("s1", model.RoleAssistant, "x")
	svc.mu.Lock()
	svc.serializers["s1"].createdAt = time.Now().Add(-serializerTimeout - time.Minute)
	svc.mu.Unlock()
	svc.EnqueueEvent("s2", model.RoleAssistant, "y")

	n := svc.CleanupStaleSerializers()
	assert.Equal(t, 1, n)
	assert.Contains(t, svc.serializers, "s2")
	svc.StopSerializer("s2")
}
