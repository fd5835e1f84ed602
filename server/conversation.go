package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelai/agentcore/internal/apperror"
)

func (s *Server) handleGetConversation(c echo.Context) error {
	sessionID := c.Param("session")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			return apperror.New(apperror.InvalidRequest, "limit must be a positive integer")
		}
		limit = n
	}
	msgs, err := s.conv.List(c.Request().Context(), sessionID, 0, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleClearConversation(c echo.Context) error {
	if err := s.conv.Clear(c.Request().Context(), c.Param("session")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSummarizeConversation(c echo.Context) error {
	sessionID := c.Param("session")
	ctx := c.Request().Context()

	lastSeq, err := s.store.LastSeq(ctx, sessionID)
	if err != nil {
		return err
	}
	agentID := c.QueryParam("agent_id")
	summary, err := s.summarizer.Summarize(ctx, agentID, sessionID, lastSeq)
	if err != nil {
		return apperror.Wrap(apperror.SummarizationFailed, "force summarize failed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": summary})
}
