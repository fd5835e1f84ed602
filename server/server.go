// Package server implements the HTTP/SSE surface named in spec §6, wiring
// the reasoning loop, conversation service, agent config service, cost
// tracker, and memory engine behind plain echo handlers rather than the
// teacher's protobuf/connect gateway (see DESIGN.md's dropped-dependency
// note: this module names no gRPC consumer, so a REST+SSE surface alone
// exercises §6).
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kestrelai/agentcore/agentconfig"
	assembler "github.com/kestrelai/agentcore/context"
	"github.com/kestrelai/agentcore/conversation"
	"github.com/kestrelai/agentcore/cost"
	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/metrics"
	"github.com/kestrelai/agentcore/reasoning"
	"github.com/kestrelai/agentcore/store"
	"github.com/kestrelai/agentcore/summarize"
)

// Server wires every C1-C13 component behind the routes in spec §6.
type Server struct {
	echo *echo.Echo

	store      store.Store
	loop       *reasoning.Loop
	conv       *conversation.Service
	config     *agentconfig.Service
	costs      *cost.Tracker
	memory     *hierarchical.Engine
	llm        llm.Service
	summarizer *summarize.Summarizer
	assembler  *assembler.Assembler
	limiter    *chatLimiter
	metrics    *metrics.Exporter
}

// Deps bundles every collaborator the server routes need. All are
// required except Metrics.
type Deps struct {
	Store      store.Store
	Loop       *reasoning.Loop
	Conversation *conversation.Service
	Config     *agentconfig.Service
	Costs      *cost.Tracker
	Memory     *hierarchical.Engine
	LLM        llm.Service
	Summarizer *summarize.Summarizer

	// Metrics is optional; a fresh Exporter is created if nil.
	Metrics *metrics.Exporter

	// ChatRPS bounds submissions per agent (0 disables throttling).
	ChatRPS   float64
	ChatBurst int
}

func New(d Deps) *Server {
	exp := d.Metrics
	if exp == nil {
		exp = metrics.New()
	}
	s := &Server{
		echo:       echo.New(),
		store:      d.Store,
		loop:       d.Loop,
		conv:       d.Conversation,
		config:     d.Config,
		costs:      d.Costs,
		memory:     d.Memory,
		llm:        d.LLM,
		summarizer: d.Summarizer,
		assembler:  assembler.New(d.Store, d.Memory),
		limiter:    newChatLimiter(d.ChatRPS, d.ChatBurst),
		metrics:    exp,
	}
	if s.loop != nil {
		s.loop.WithRecorder(exp)
	}
	s.echo.HideBanner = true
	s.echo.HTTPErrorHandler = errorHandler
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.handleHealth)
	e.GET("/models", s.handleModels)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	e.GET("/agents", s.handleListAgents)
	e.GET("/agents/:id", s.handleGetAgent)
	e.GET("/agents/:id/config", s.handleGetConfig)
	e.PUT("/agents/:id/config", s.handlePutConfig)
	e.GET("/agents/:id/versions", s.handleListVersions)
	e.POST("/agents/:id/versions/:vid/rollback", s.handleRollback)
	e.GET("/agents/:id/system-prompt", s.handleGetSystemPrompt)
	e.PUT("/agents/:id/system-prompt", s.handlePutSystemPrompt)
	e.GET("/agents/:id/memory/blocks", s.handleListBlocks)
	e.PUT("/agents/:id/memory/blocks/:label", s.handlePutBlock)

	e.POST("/agents/:id/chat", s.handleChat, s.limiter.middleware())
	e.POST("/agents/:id/chat/stream", s.handleChatStream, s.limiter.middleware())
	e.POST("/agents/:id/new-chat", s.handleNewChat)

	e.GET("/conversation/:session", s.handleGetConversation)
	e.POST("/conversation/:session/clear", s.handleClearConversation)
	e.POST("/conversation/:session/summarize", s.handleSummarizeConversation)

	e.GET("/context/usage", s.handleContextUsage)

	e.GET("/costs/statistics", s.handleCostStatistics)
	e.GET("/costs/openrouter", s.handleCostOpenRouter)
}

// Start serves the API at addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Echo exposes the underlying instance for tests that want httptest.
func (s *Server) Echo() *echo.Echo { return s.echo }
