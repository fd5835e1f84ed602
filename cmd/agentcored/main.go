package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelai/agentcore/agentconfig"
	assembler "github.com/kestrelai/agentcore/context"
	"github.com/kestrelai/agentcore/conversation"
	"github.com/kestrelai/agentcore/cost"
	"github.com/kestrelai/agentcore/internal/profile"
	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/memory/learner"
	"github.com/kestrelai/agentcore/memory/retention"
	"github.com/kestrelai/agentcore/metrics"
	"github.com/kestrelai/agentcore/reasoning"
	"github.com/kestrelai/agentcore/server"
	"github.com/kestrelai/agentcore/store/db/sqlite"
	"github.com/kestrelai/agentcore/summarize"
	"github.com/kestrelai/agentcore/tool"
)

var rootCmd = &cobra.Command{
	Use:   "agentcored",
	Short: "An AI agent runtime: bounded reasoning loop, tiered memory, and versioned configs behind a REST/SSE API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: run,
}

func init() {
	viper.SetDefault("addr", ":28082")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("shutdown-timeout", 15*time.Second)

	rootCmd.PersistentFlags().String("addr", ":28082", "address the API server listens on")
	rootCmd.PersistentFlags().String("data", "", "data directory (holds the sqlite file when --dsn is unset)")
	rootCmd.PersistentFlags().String("driver", "sqlite", "storage driver (only sqlite is implemented)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name, overrides --data")
	rootCmd.PersistentFlags().Duration("shutdown-timeout", 15*time.Second, "grace period for in-flight turns during shutdown")

	for _, name := range []string{"addr", "data", "driver", "dsn", "shutdown-timeout"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("agentcore")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func run(cmd *cobra.Command, args []string) error {
	prof := &profile.Profile{
		Addr:   viper.GetString("addr"),
		Data:   viper.GetString("data"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
	}
	prof.FromEnv()
	if err := prof.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlite.Open(prof)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	llmSvc, err := llm.NewService(&llm.Config{
		Provider:     prof.LLMProvider,
		Model:        prof.LLMModel,
		APIKey:       prof.LLMAPIKey,
		BaseURL:      prof.LLMBaseURL,
		RateLimitRPS: 4,
	})
	if err != nil {
		return fmt.Errorf("configure LLM provider: %w", err)
	}

	gate := retention.New(retention.DefaultWeights())
	mem := hierarchical.New(db, gate)
	learn := learner.New(db)
	asm := assembler.New(db, mem)

	registry := tool.NewRegistry()
	tool.RegisterBuiltins(registry, db, mem, learn)
	dispatcher := tool.NewDispatcher(registry)

	summarizer := summarize.New(db, llmSvc)

	loop := reasoning.New(asm, llmSvc, registry, dispatcher, db, mem, summarizer, reasoning.Config{
		Bounds: reasoning.Bounds{
			MaxSteps:     prof.MaxStepsPerTurn,
			MaxToolCalls: prof.MaxToolCallsPerTurn,
			MaxWallTime:  prof.MaxWallTime,
			MaxCost:      prof.MaxCostPerTurn,
			MaxRetries:   prof.MaxRetries,
			LLMTimeout:   prof.LLMCallTimeout,
		},
		MaxConcurrentTurns: 8,
		EpisodicEvery:      10,
		SemanticEvery:      100,
	})

	conv := conversation.New(db)
	cfgSvc := agentconfig.New(db)
	cfgSvc.OnChange(logConfigChange)

	costTracker := cost.NewTracker(db, 256)
	defer func() {
		if err := costTracker.Close(5 * time.Second); err != nil {
			slog.Error("cost tracker drain failed", "error", err)
		}
	}()

	srv := server.New(server.Deps{
		Store:        db,
		Loop:         loop,
		Conversation: conv,
		Config:       cfgSvc,
		Costs:        costTracker,
		Memory:       mem,
		LLM:          llmSvc,
		Summarizer:   summarizer,
		Metrics:      metrics.New(),
		ChatRPS:      2,
		ChatBurst:    5,
	})

	llmSvc.Warmup(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("shutdown signal received")
		cancel()
	}()

	slog.Info("agentcored starting", "addr", prof.Addr, "driver", prof.Driver, "model", prof.LLMModel)
	if err := srv.Start(ctx, prof.Addr, viper.GetDuration("shutdown-timeout")); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func logConfigChange(ev agentconfig.ChangeEvent) {
	slog.Info("agent config changed", "agent_id", ev.AgentID, "version_id", ev.NewVersion.VersionID, "description", ev.NewVersion.ChangeDescription)
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("agentcored exited with error", "error", err)
		os.Exit(1)
	}
}
