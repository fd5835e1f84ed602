package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelai/agentcore/agentconfig"
	"github.com/kestrelai/agentcore/internal/apperror"
)

func (s *Server) handleListAgents(c echo.Context) error {
	agents, err := s.store.ListAgents(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGetAgent(c echo.Context) error {
	agent, err := s.store.GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.config.GetCurrent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

type configPatchBody struct {
	Model              *string  `json:"model"`
	Temperature        *float64 `json:"temperature"`
	TopP               *float64 `json:"top_p"`
	MaxTokens          *int     `json:"max_tokens"`
	ContextWindow      *int     `json:"context_window"`
	ReasoningEnabled   *bool    `json:"reasoning_enabled"`
	MaxReasoningTokens *int     `json:"max_reasoning_tokens"`
	SystemPrompt       *string  `json:"system_prompt"`
	Description        string   `json:"description"`
}

func (s *Server) handlePutConfig(c echo.Context) error {
	var body configPatchBody
	if err := c.Bind(&body); err != nil {
		return apperror.New(apperror.InvalidRequest, "malformed config patch body")
	}
	patch := agentconfig.ConfigPatch{
		Model:              body.Model,
		Temperature:        body.Temperature,
		TopP:               body.TopP,
		MaxTokens:          body.MaxTokens,
		ContextWindow:      body.ContextWindow,
		ReasoningEnabled:   body.ReasoningEnabled,
		MaxReasoningTokens: body.MaxReasoningTokens,
		SystemPrompt:       body.SystemPrompt,
	}
	updated, err := s.config.Update(c.Request().Context(), c.Param("id"), patch, body.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleListVersions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			return apperror.New(apperror.InvalidRequest, "limit must be a positive integer")
		}
		limit = n
	}
	versions, err := s.config.ListVersions(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

func (s *Server) handleRollback(c echo.Context) error {
	updated, err := s.config.Rollback(c.Request().Context(), c.Param("id"), c.Param("vid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleGetSystemPrompt(c echo.Context) error {
	cfg, err := s.config.GetCurrent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"system_prompt": cfg.SystemPrompt})
}

func (s *Server) handlePutSystemPrompt(c echo.Context) error {
	var body struct {
		SystemPrompt string `json:"system_prompt"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.New(apperror.InvalidRequest, "malformed system prompt body")
	}
	updated, err := s.config.Update(c.Request().Context(), c.Param("id"), agentconfig.ConfigPatch{SystemPrompt: &body.SystemPrompt}, "update system prompt")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleListBlocks(c echo.Context) error {
	blocks, err := s.store.ListBlocks(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, blocks)
}

func (s *Server) handlePutBlock(c echo.Context) error {
	agentID, label := c.Param("id"), c.Param("label")
	var body struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.New(apperror.InvalidRequest, "malformed memory block body")
	}

	ctx := c.Request().Context()
	existing, err := s.store.GetBlock(ctx, agentID, label)
	if err != nil {
		return err
	}
	if existing.ReadOnly {
		return apperror.New(apperror.InvalidRequest, "memory block is read-only: "+label)
	}
	if existing.LimitChars > 0 && len(body.Value) > existing.LimitChars {
		return apperror.New(apperror.InvalidRequest, "value exceeds block limit_chars")
	}

	next := *existing
	next.Value = body.Value
	if err := s.store.UpsertBlock(ctx, next); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, next)
}

func parsePositiveInt(raw string) (int, error) {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, apperror.New(apperror.InvalidRequest, "not a positive integer")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
