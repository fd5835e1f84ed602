package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/kestrelai/agentcore/cost"
	"github.com/kestrelai/agentcore/internal/apperror"
)

// costStatisticsResponse adds humanized strings alongside the raw
// aggregate so a dashboard can render `$12,345.6789` / `4,200,000 tokens`
// without its own formatting logic.
type costStatisticsResponse struct {
	*cost.Statistics
	TotalCostDisplay   string `json:"total_cost_display"`
	TotalTokensDisplay string `json:"total_tokens_display"`
}

func (s *Server) handleCostStatistics(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	stats, err := s.costs.Statistics(c.Request().Context(), sessionID, time.Now().UTC())
	if err != nil {
		return err
	}
	totalTokens := stats.Total.PromptTokens + stats.Total.CompletionTokens + stats.Total.ReasoningTokens
	return c.JSON(http.StatusOK, costStatisticsResponse{
		Statistics:         stats,
		TotalCostDisplay:   fmt.Sprintf("$%s", humanize.CommafWithDigits(stats.Total.Cost, 4)),
		TotalTokensDisplay: humanize.Comma(totalTokens) + " tokens",
	})
}

// handleCostOpenRouter implements the optional `GET /costs/openrouter`
// authoritative-balance endpoint. No BalanceFetcher is wired (spec §4.12
// calls it "optional external interface"): the handler always passes nil,
// so it reports invalid_request rather than pretending to have live
// provider data.
func (s *Server) handleCostOpenRouter(c echo.Context) error {
	balance, err := s.costs.ProviderBalance(c.Request().Context(), nil)
	if err != nil {
		return apperror.New(apperror.InvalidRequest, "no provider balance source configured")
	}
	return c.JSON(http.StatusOK, balance)
}
