package context

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/memory/retention"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

func newAssembler() (*Assembler, *storetest.MemStore) {
	s := storetest.New()
	eng := hierarchical.New(s, retention.New(retention.DefaultWeights()))
	return New(s, eng), s
}

func TestAssemble_FailsFastOnFixedCostOverflow(t *testing.T) {
	a, _ := newAssembler()
	hugePrompt := strings.Repeat("x", 100000)
	_, err := a.Assemble(context.Background(), Params{
		AgentID:      "a1",
		SessionID:    "s1",
		SystemPrompt: hugePrompt,
		Model:        "gpt-4o-mini",
		MaxTokens:    100,
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ContextOverflowFixed))
}

func TestAssemble_OrdersSystemBlocksBeforeConversation(t *testing.T) {
	a, s := newAssembler()
	ctx := context.Background()
	_, err := s.AppendMessage(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	result, err := a.Assemble(ctx, Params{
		AgentID:            "a1",
		SessionID:          "s1",
		SystemPrompt:        "be terse",
		Model:               "gpt-4o-mini",
		MaxTokens:           2000,
		CurrentUserMessage:  "what's up",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Messages)
	assert.Equal(t, "system", result.Messages[0].Role)
	assert.Equal(t, "user", result.Messages[len(result.Messages)-1].Role)
	assert.Equal(t, "what's up", result.Messages[len(result.Messages)-1].Content)
}

func TestAssemble_SetsNeedsSummarizationAboveThreshold(t *testing.T) {
	a, _ := newAssembler()
	result, err := a.Assemble(context.Background(), Params{
		AgentID:                "a1",
		SessionID:              "s1",
		SystemPrompt:           strings.Repeat("word ", 50),
		Model:                  "gpt-4o-mini",
		MaxTokens:              100,
		CurrentUserMessage:     "hi",
		SummarizationThreshold: 0.1,
	})
	require.NoError(t, err)
	assert.True(t, result.Usage.NeedsSummarization)
}

func TestAssemble_IsDeterministic(t *testing.T) {
	a, s := newAssembler()
	ctx := context.Background()
	_, err := s.AppendMessage(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: "one"})
	require.NoError(t, err)

	p := Params{AgentID: "a1", SessionID: "s1", SystemPrompt: "be terse", Model: "gpt-4o-mini", MaxTokens: 2000, CurrentUserMessage: "two"}
	r1, err := a.Assemble(ctx, p)
	require.NoError(t, err)
	r2, err := a.Assemble(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, r1.Usage, r2.Usage)
	assert.Equal(t, r1.Messages, r2.Messages)
}

func TestAssemble_ConversationSliceRespectsBudget(t *testing.T) {
	a, s := newAssembler()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := s.AppendMessage(ctx, model.Message{SessionID: "s1", Role: model.RoleUser, Content: strings.Repeat("word ", 50)})
		require.NoError(t, err)
	}

	result, err := a.Assemble(ctx, Params{
		AgentID:            "a1",
		SessionID:          "s1",
		SystemPrompt:       "be terse",
		Model:              "gpt-4o-mini",
		MaxTokens:           500,
		CurrentUserMessage: "latest",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Usage.Total, result.Usage.Max+result.Usage.Remaining)
	assert.Less(t, len(result.Messages), 52)
}
