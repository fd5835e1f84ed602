package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/agentconfig"
	assembler "github.com/kestrelai/agentcore/context"
	"github.com/kestrelai/agentcore/conversation"
	"github.com/kestrelai/agentcore/cost"
	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/memory/learner"
	"github.com/kestrelai/agentcore/memory/retention"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/reasoning"
	"github.com/kestrelai/agentcore/store"
	"github.com/kestrelai/agentcore/store/storetest"
	"github.com/kestrelai/agentcore/summarize"
	"github.com/kestrelai/agentcore/tool"
)

type stubLLM struct{ reply string }

func (f *stubLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
	return f.reply, &llm.LLMCallStats{PromptTokens: 5, CompletionTokens: 5}, nil
}

func (f *stubLLM) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, *llm.LLMCallStats, error) {
	return &llm.ChatResponse{Content: f.reply}, &llm.LLMCallStats{PromptTokens: 5, CompletionTokens: 5}, nil
}

func (f *stubLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.LLMCallStats, <-chan error) {
	c := make(chan string)
	s := make(chan *llm.LLMCallStats)
	e := make(chan error)
	close(c)
	close(s)
	close(e)
	return c, s, e
}

func (f *stubLLM) Warmup(ctx context.Context) {}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := storetest.New()
	ctx := context.Background()

	agent, err := s.CreateAgent(ctx, store.CreateAgentParams{Name: "test"})
	require.NoError(t, err)
	v, err := s.CreateVersion(ctx, model.AgentConfig{AgentID: agent.ID, Model: "gpt-4o-mini", ContextWindow: 8000, Temperature: 0.5, SystemPrompt: "be terse"})
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentVersion(ctx, agent.ID, v.VersionID))

	eng := hierarchical.New(s, retention.New(retention.DefaultWeights()))
	learn := learner.New(s)
	asm := assembler.New(s, eng)
	reg := tool.NewRegistry()
	tool.RegisterBuiltins(reg, s, eng, learn)
	disp := tool.NewDispatcher(reg)
	fake := &stubLLM{reply: "hi back"}
	loop := reasoning.New(asm, fake, reg, disp, s, eng, nil, reasoning.Config{Bounds: reasoning.DefaultBounds()})
	conv := conversation.New(s)
	cfgSvc := agentconfig.New(s)
	costTracker := cost.NewTracker(s, 16, cost.WithRegisterer(prometheus.NewRegistry()))
	t.Cleanup(func() { _ = costTracker.Close(0) })
	summ := summarize.New(s, fake)

	srv := New(Deps{
		Store:        s,
		Loop:         loop,
		Conversation: conv,
		Config:       cfgSvc,
		Costs:        costTracker,
		Memory:       eng,
		LLM:          fake,
		Summarizer:   summ,
	})
	return srv, agent.ID
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHandleChat_HappyPath(t *testing.T) {
	srv, agentID := newTestServer(t)

	body := strings.NewReader(`{"message":"Hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/"+agentID+"/chat", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi back", resp.Content)
	assert.Empty(t, resp.Kind)
}

func TestHandleChat_MissingMessage(t *testing.T) {
	srv, agentID := newTestServer(t)

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/"+agentID+"/chat", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetConfig_And_PutConfig(t *testing.T) {
	srv, agentID := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/agents/"+agentID+"/config", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	patchBody := strings.NewReader(`{"model":"gpt-4o","description":"switch"}`)
	req2 := httptest.NewRequest(http.MethodPut, "/agents/"+agentID+"/config", patchBody)
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "gpt-4o")
}

func TestHandleListVersions_And_Rollback(t *testing.T) {
	srv, agentID := newTestServer(t)

	patchBody := strings.NewReader(`{"model":"gpt-4o"}`)
	req := httptest.NewRequest(http.MethodPut, "/agents/"+agentID+"/config", patchBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/agents/"+agentID+"/versions", nil)
	rec2 := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var versions []map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &versions))
	require.Len(t, versions, 2)
	rootVersionID := versions[1]["VersionID"].(string)

	req3 := httptest.NewRequest(http.MethodPost, "/agents/"+agentID+"/versions/"+rootVersionID+"/rollback", nil)
	rec3 := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec3, req3)
	require.Equal(t, http.StatusOK, rec3.Code)
	assert.Contains(t, rec3.Body.String(), "gpt-4o-mini")
}
