package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	assembler "github.com/kestrelai/agentcore/context"
	"github.com/kestrelai/agentcore/internal/apperror"
)

// handleContextUsage implements `GET /context/usage?session_id=` (spec
// §4.7). The endpoint is scoped by session only in spec §6, but assembling
// a usage breakdown needs an agent's config and memory blocks, so an
// `agent_id` query param is required alongside `session_id`.
func (s *Server) handleContextUsage(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	agentID := c.QueryParam("agent_id")
	if sessionID == "" || agentID == "" {
		return apperror.New(apperror.InvalidRequest, "session_id and agent_id are required")
	}

	ctx := c.Request().Context()
	cfg, err := s.config.GetCurrent(ctx, agentID)
	if err != nil {
		return err
	}
	maxTokens := cfg.ContextWindow
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}

	lastSeq, err := s.store.LastSeq(ctx, sessionID)
	if err != nil {
		return err
	}

	result, err := s.assembler.Assemble(ctx, assembler.Params{
		AgentID:       agentID,
		SessionID:     sessionID,
		SystemPrompt:  cfg.SystemPrompt,
		Model:         cfg.Model,
		MaxTokens:     maxTokens,
		HistoryLength: int(lastSeq),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.Usage)
}
