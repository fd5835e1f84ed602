package summarize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store/storetest"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return s.reply, &llm.LLMCallStats{}, nil
}

func (s *stubLLM) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, *llm.LLMCallStats, error) {
	return nil, nil, nil
}

func (s *stubLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.LLMCallStats, <-chan error) {
	c := make(chan string)
	st := make(chan *llm.LLMCallStats)
	e := make(chan error)
	close(c)
	close(st)
	close(e)
	return c, st, e
}

func (s *stubLLM) Warmup(ctx context.Context) {}

func seedMessages(t *testing.T, s interface {
	AppendMessage(ctx context.Context, m model.Message) (*model.Message, error)
}, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		_, err := s.AppendMessage(context.Background(), model.Message{SessionID: sessionID, Role: role, Content: "message"})
		require.NoError(t, err)
	}
}

func TestSummarize_ReplacesPrefixOnSuccess(t *testing.T) {
	s := storetest.New()
	seedMessages(t, s, "sess-1", 4)

	fake := &stubLLM{reply: "condensed summary"}
	summ := New(s, fake)

	text, err := summ.Summarize(context.Background(), "agent-1", "sess-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "condensed summary", text)

	msgs, err := s.ListMessages(context.Background(), "sess-1", 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "2 replaced by 1 summary + 2 retained")
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "condensed summary", msgs[0].Content)
}

func TestSummarize_LLMFailure_LeavesLogUnchanged(t *testing.T) {
	s := storetest.New()
	seedMessages(t, s, "sess-1", 4)

	fake := &stubLLM{err: assert.AnError}
	summ := New(s, fake)

	_, err := summ.Summarize(context.Background(), "agent-1", "sess-1", 2)
	require.Error(t, err)

	msgs, err := s.ListMessages(context.Background(), "sess-1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 4, "log is untouched on failure")
}

func TestSummarize_NothingBeforeThroughSeq_NoOp(t *testing.T) {
	s := storetest.New()
	seedMessages(t, s, "sess-1", 2)

	fake := &stubLLM{reply: "should not be used"}
	summ := New(s, fake)

	text, err := summ.Summarize(context.Background(), "agent-1", "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, text)

	msgs, err := s.ListMessages(context.Background(), "sess-1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
