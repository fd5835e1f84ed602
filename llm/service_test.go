package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/internal/apperror"
)

func TestNewService_MissingAPIKey(t *testing.T) {
	_, err := NewService(&Config{Provider: "openai", Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Unauthorized))
}

func TestNewService_DeepSeekDefaults(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key"})
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestNewService_GenericProviderUsesBaseURL(t *testing.T) {
	svc, err := NewService(&Config{Provider: "unsupported", APIKey: "test-key", BaseURL: "https://example.test/v1"})
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestNewService_AppliesConfigDefaults(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key", MaxTokens: 2048, Temperature: 0.7})
	require.NoError(t, err)
	s, ok := svc.(*service)
	require.True(t, ok)
	assert.Equal(t, 2048, s.maxTokens)
	assert.Equal(t, float32(0.7), s.temperature)
	assert.Equal(t, 120, s.timeout)
}

func TestNewService_RateLimiterConfiguredOnlyWhenRequested(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key"})
	require.NoError(t, err)
	assert.Nil(t, svc.(*service).limiter)

	svc2, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key", RateLimitRPS: 5})
	require.NoError(t, err)
	assert.NotNil(t, svc2.(*service).limiter)
}

func TestConvertMessages_MapsKnownRoles(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "unknown", Content: "fallback"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "user", out[3].Role)
}

func TestService_Chat_NetworkFailureClassifiedTransient(t *testing.T) {
	svc, err := NewService(&Config{Provider: "openai", APIKey: "test-key", BaseURL: "http://127.0.0.1:1", Timeout: 1})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ProviderTransient))
}

func TestService_Warmup_NoPanic(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	svc.Warmup(context.Background())
}

func TestService_ChatStream_ReturnsNonNilChannels(t *testing.T) {
	svc, err := NewService(&Config{Provider: "deepseek", APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	content, stats, errs := svc.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.NotNil(t, content)
	assert.NotNil(t, stats)
	assert.NotNil(t, errs)
}

func TestSupportsReasoning(t *testing.T) {
	cases := map[string]bool{
		"openai/o1-preview":            true,
		"o1-mini":                      true,
		"deepseek-reasoner":            true,
		"deepseek/deepseek-r1":         true,
		"qwen/qwq-32b-preview":         true,
		"moonshotai/kimi-k2-thinking":  true,
		"gpt-4o-mini":                  false,
		"deepseek-chat":                false,
		"claude-3-5-sonnet-20241022":   false,
	}
	for model, want := range cases {
		assert.Equal(t, want, SupportsReasoning(model), "model %q", model)
	}
}
