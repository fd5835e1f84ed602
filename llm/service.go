// Package llm is the provider-facing client the reasoning loop's CALL_LLM
// step drives (spec §4.9, §6): one model call per invocation, with tool
// schemas when the turn has tools to offer. Retry/backoff on transient
// provider errors is the reasoning loop's responsibility (spec §4.9); this
// package only classifies failures so the loop can tell transient apart
// from permanent.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/kestrelai/agentcore/internal/apperror"
)

// Message is the provider-agnostic chat message shape the core passes
// across the llm boundary.
type Message struct {
	Role    string
	Content string
}

// LLMCallStats is the per-call accounting the cost tracker (C12) and context
// assembler consume.
type LLMCallStats struct {
	PromptTokens         int   `json:"prompt_tokens"`
	CompletionTokens     int   `json:"completion_tokens"`
	TotalTokens          int   `json:"total_tokens"`
	CacheReadTokens      int   `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens     int   `json:"cache_write_tokens,omitempty"`
	ThinkingDurationMs   int64 `json:"thinking_duration_ms"`
	GenerationDurationMs int64 `json:"generation_duration_ms,omitempty"`
	TotalDurationMs      int64 `json:"total_duration_ms"`
}

// ToolDescriptor is a tool's JSON-schema exposed to the provider for
// tool-enabled calls.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  string // raw JSON schema
}

// FunctionCall is the name/arguments pair the provider returned for one
// tool invocation request.
type FunctionCall struct {
	Name      string
	Arguments string // raw JSON
}

// ToolCall is one provider-requested tool invocation.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// ChatResponse is the provider's reply to a tool-enabled call: either a
// final content string, or one or more tool calls to dispatch.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// nativeReasoningModels are the model prefixes known to emit reasoning
// output natively rather than needing a prompted <think> workaround.
var nativeReasoningModels = []string{
	"openai/o1",
	"o1-preview",
	"o1-mini",
	"deepseek/deepseek-r1",
	"deepseek-reasoner",
	"deepseek-r1",
	"qwen/qwq",
	"qwen3-vl-235b-a22b-thinking",
	"qwen3-vl-30b-a3b-thinking",
	"gemini-2.0-flash-thinking",
	"moonshotai/kimi-k2-thinking",
	"moonshotai/moonshot-v1-thinking",
}

// SupportsReasoning reports whether model is known to support a
// reasoning/thinking parameter, by prefix/substring match against the
// allowlist above plus the "thinking"/"reasoning"/o1/r1 heuristics.
func SupportsReasoning(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range nativeReasoningModels {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return strings.Contains(lower, "thinking") ||
		strings.Contains(lower, "reasoning") ||
		strings.Contains(lower, "/o1") ||
		strings.Contains(lower, "/r1")
}

// Service is the contract the reasoning loop's CALL_LLM step depends on.
type Service interface {
	Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (*ChatResponse, *LLMCallStats, error)
	ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error)
	Warmup(ctx context.Context)
}

// Config configures one provider-bound Service. Provider is one of
// deepseek, siliconflow, zai, dashscope, openai, openrouter, ollama, or a
// generic OpenAI-compatible endpoint when empty.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string // overrides the provider default when set
	MaxTokens   int
	Temperature float32
	Timeout     int // seconds, default 120
	// RateLimitRPS caps outbound requests per second across this Service's
	// calls. Zero disables limiting.
	RateLimitRPS float64
}

type service struct {
	client      *openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float32
	timeout     int
	limiter     *rate.Limiter
}

// NewService builds a Service bound to cfg.Provider's API surface. Unknown
// or empty providers fall back to a generic OpenAI-compatible client using
// cfg.BaseURL as-is.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, apperror.New(apperror.Unauthorized, "missing provider API key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.HTTPClient = newHTTPClient()

	switch strings.ToLower(cfg.Provider) {
	case "deepseek":
		clientCfg.BaseURL = "https://api.deepseek.com"
	case "siliconflow":
		clientCfg.BaseURL = "https://api.siliconflow.cn/v1"
	case "zai":
		clientCfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	case "dashscope":
		clientCfg.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	case "openai":
		// default BaseURL is already api.openai.com
	case "openrouter":
		clientCfg.BaseURL = "https://openrouter.ai/api/v1"
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		clientCfg.BaseURL = base
	default:
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
			slog.Info("llm: using generic OpenAI-compatible provider", "base_url", cfg.BaseURL)
		}
	}
	if cfg.BaseURL != "" && strings.ToLower(cfg.Provider) != "ollama" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &service{
		client:      openai.NewClientWithConfig(clientCfg),
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     limiter,
	}, nil
}

func (s *service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error) {
	if err := s.wait(ctx); err != nil {
		return "", nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()
	slog.Debug("llm: chat request", "model", s.model, "messages", len(messages))

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, apperror.New(apperror.ProviderPermanent, "empty response from LLM")
	}

	totalDuration := time.Since(startTime)
	stats := &LLMCallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		ThinkingDurationMs: totalDuration.Milliseconds(),
		TotalDurationMs:    totalDuration.Milliseconds(),
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	slog.Debug("llm: chat response", "total_tokens", stats.TotalTokens, "duration_ms", totalDuration.Milliseconds())
	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (*ChatResponse, *LLMCallStats, error) {
	if err := s.wait(ctx); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	openaiTools := make([]openai.Tool, len(tools))
	for i, t := range tools {
		openaiTools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		}
	}

	// Tool calls benefit from a lower temperature so the model stays on the
	// schema rather than drifting into prose.
	toolCallTemperature := float32(0.1)
	if s.temperature < 0.1 {
		toolCallTemperature = s.temperature
	}

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: toolCallTemperature,
		Messages:    convertMessages(messages),
		Tools:       openaiTools,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, apperror.New(apperror.ProviderPermanent, "empty response from LLM")
	}

	totalDuration := time.Since(startTime)
	stats := &LLMCallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		ThinkingDurationMs: totalDuration.Milliseconds(),
		TotalDurationMs:    totalDuration.Milliseconds(),
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	choice := resp.Choices[0]
	response := &ChatResponse{Content: choice.Message.Content}
	if len(choice.Message.ToolCalls) > 0 {
		response.ToolCalls = make([]ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			response.ToolCalls[i] = ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return response, stats, nil
}

func (s *service) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error) {
	contentChan := make(chan string, 10)
	statsChan := make(chan *LLMCallStats, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)

		if err := s.wait(ctx); err != nil {
			errChan <- err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:         s.model,
			MaxTokens:     s.maxTokens,
			Temperature:   s.temperature,
			Messages:      convertMessages(messages),
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}

		startTime := time.Now()
		var firstChunkTime time.Time

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			select {
			case errChan <- classifyProviderError(err):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }()

		chunkCount := 0
		for {
			response, err := stream.Recv()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") {
					statsChan <- finalStreamStats(startTime, firstChunkTime, chunkCount, 0)
					return
				}
				select {
				case errChan <- classifyProviderError(err):
				case <-ctx.Done():
				}
				return
			}

			if firstChunkTime.IsZero() && len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				firstChunkTime = time.Now()
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				stats := finalStreamStats(startTime, firstChunkTime, chunkCount, response.Usage.TotalTokens)
				stats.PromptTokens = response.Usage.PromptTokens
				stats.CompletionTokens = response.Usage.CompletionTokens
				if response.Usage.PromptTokensDetails != nil {
					stats.CacheReadTokens = response.Usage.PromptTokensDetails.CachedTokens
				}
				statsChan <- stats
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			if delta := response.Choices[0].Delta.Content; delta != "" {
				chunkCount++
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					return
				}
			}
			if response.Choices[0].FinishReason != "" {
				statsChan <- finalStreamStats(startTime, firstChunkTime, chunkCount, chunkCount*10)
				return
			}
		}
	}()

	return contentChan, statsChan, errChan
}

func finalStreamStats(start, firstChunk time.Time, chunks, totalTokens int) *LLMCallStats {
	total := time.Since(start)
	var thinking, generation int64
	if !firstChunk.IsZero() {
		thinking = firstChunk.Sub(start).Milliseconds()
		generation = time.Since(firstChunk).Milliseconds()
	}
	return &LLMCallStats{
		TotalTokens:          totalTokens,
		ThinkingDurationMs:   thinking,
		GenerationDurationMs: generation,
		TotalDurationMs:      total.Milliseconds(),
	}
}

// Warmup issues a one-token ping so the first real turn doesn't pay
// connection/TLS setup cost. Failures are logged, not returned: the
// service remains usable either way.
func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hi"}},
	})
	if err != nil {
		slog.Warn("llm: warmup ping failed, first request may be slower", "provider", s.provider, "model", s.model, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("llm: connection warmed up", "provider", s.provider, "model", s.model, "duration_ms", time.Since(start).Milliseconds())
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "tool":
			role = openai.ChatMessageRoleTool
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// classifyProviderError tags a provider failure as transient (network
// error, timeout, 5xx) or permanent (4xx other than auth, which apperror
// reports separately via Unauthorized at construction time) per spec §7,
// so the reasoning loop knows whether to retry.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			return apperror.Wrap(apperror.ProviderTransient, "provider error", err)
		}
		return apperror.Wrap(apperror.ProviderPermanent, "provider error", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperror.Wrap(apperror.ProviderTransient, "network error", err)
	}
	return apperror.Wrap(apperror.ProviderTransient, fmt.Sprintf("LLM call failed: %v", err), err)
}
