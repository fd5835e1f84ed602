package server

import "github.com/labstack/echo/v4"

// ModelInfo is one entry in the `GET /models` response. Capability data is
// static in this core; a live provider proxy (e.g. listing an OpenAI-
// compatible endpoint's /v1/models) is a deployment-time integration, not
// a spec-named component.
type ModelInfo struct {
	ID               string `json:"id"`
	ContextWindow    int    `json:"context_window"`
	SupportsTools    bool   `json:"supports_tools"`
	SupportsThinking bool   `json:"supports_thinking"`
}

var knownModels = []ModelInfo{
	{ID: "gpt-4o", ContextWindow: 128000, SupportsTools: true},
	{ID: "gpt-4o-mini", ContextWindow: 128000, SupportsTools: true},
	{ID: "deepseek-chat", ContextWindow: 64000, SupportsTools: true},
	{ID: "deepseek-reasoner", ContextWindow: 64000, SupportsTools: true, SupportsThinking: true},
	{ID: "qwen-plus", ContextWindow: 32000, SupportsTools: true},
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(200, map[string]any{"models": knownModels})
}
