package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/reasoning"
)

type chatRequestBody struct {
	Message string `json:"message"`
	Media   string `json:"media,omitempty"`
}

type chatResponseBody struct {
	Content       string             `json:"content"`
	Thinking      string             `json:"thinking,omitempty"`
	ToolCalls     int                `json:"tool_calls,omitempty"`
	ReasoningTime int64              `json:"reasoning_time_ms"`
	Usage         chatResponseUsage  `json:"usage"`
	Kind          string             `json:"kind,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

type chatResponseUsage struct {
	PercentUsed float64 `json:"percent_used"`
	Total       int     `json:"total"`
	Max         int     `json:"max"`
	CostUSD     float64 `json:"cost_usd"`
}

// sessionFor resolves the conversation-log session for a chat request.
// spec §6 names `session_id` only on the read-side conversation endpoints;
// for the write-side /agents/{id}/chat routes we accept an explicit
// ?session_id= override and otherwise default to one session per agent,
// which keeps a single-session agent usable without any client-side
// session bookkeeping.
func sessionFor(c echo.Context) string {
	if sid := c.QueryParam("session_id"); sid != "" {
		return sid
	}
	return c.Param("id")
}

func (s *Server) buildTurnRequest(c echo.Context, body chatRequestBody) (reasoning.TurnRequest, error) {
	agentID := c.Param("id")
	cfg, err := s.config.GetCurrent(c.Request().Context(), agentID)
	if err != nil {
		return reasoning.TurnRequest{}, err
	}
	maxTokens := cfg.ContextWindow
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}
	return reasoning.TurnRequest{
		AgentID:       agentID,
		SessionID:     sessionFor(c),
		UserMessage:   body.Message,
		SystemPrompt:  cfg.SystemPrompt,
		Model:         cfg.Model,
		MaxTokens:     maxTokens,
		Temperature:   float32(cfg.Temperature),
		AutoSummarize: true,
	}, nil
}

func (s *Server) handleChat(c echo.Context) error {
	var body chatRequestBody
	if err := c.Bind(&body); err != nil || body.Message == "" {
		return apperror.New(apperror.InvalidRequest, "message is required")
	}

	req, err := s.buildTurnRequest(c, body)
	if err != nil {
		return err
	}

	result, err := s.loop.Run(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, chatResponseBody{
		Content:       result.Content,
		ToolCalls:     result.ToolCallCount,
		ReasoningTime: result.DurationMs,
		Kind:          result.Kind,
		Reason:        result.Reason,
		Usage: chatResponseUsage{
			PercentUsed: result.Usage.PercentUsed,
			Total:       result.Usage.Total,
			Max:         result.Usage.Max,
			CostUSD:     result.CostUSD,
		},
	})
}

// handleChatStream implements the SSE surface: `thinking_delta`,
// `content_delta`, `tool_call`, `tool_result`, `done`, `error` frames per
// spec §6. The reasoning loop itself has no streaming callback hook (C9's
// contract is request-response), so this frames the loop's synchronous
// result as a single content_delta followed by done.
func (s *Server) handleChatStream(c echo.Context) error {
	var body chatRequestBody
	if err := c.Bind(&body); err != nil || body.Message == "" {
		return apperror.New(apperror.InvalidRequest, "message is required")
	}

	req, err := s.buildTurnRequest(c, body)
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	result, err := s.loop.Run(c.Request().Context(), req)
	if err != nil {
		writeSSE(resp, "error", errorBody{Kind: "storage_error", Message: err.Error()})
		return nil
	}

	if result.Kind == "error" {
		writeSSE(resp, "error", errorBody{Kind: result.Reason, Message: result.Content})
		writeSSE(resp, "done", chatResponseUsage{})
		return nil
	}

	writeSSE(resp, "content_delta", map[string]string{"content": result.Content})
	writeSSE(resp, "done", chatResponseUsage{
		PercentUsed: result.Usage.PercentUsed,
		Total:       result.Usage.Total,
		Max:         result.Usage.Max,
		CostUSD:     result.CostUSD,
	})
	return nil
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
}

func (s *Server) handleNewChat(c echo.Context) error {
	agentID := c.Param("id")
	sessionID := sessionFor(c)
	if err := s.conv.NewChat(c.Request().Context(), agentID, sessionID, s.summarizer); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
