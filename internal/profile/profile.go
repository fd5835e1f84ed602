// Package profile holds the resolved process-wide runtime configuration,
// assembled from CLI flags, environment variables, and defaults.
package profile

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the fully resolved server configuration for one process.
type Profile struct {
	// Mode is "prod", "dev", or "demo".
	Mode string
	Addr string
	Port int
	// UNIXSock, when set, overrides Addr/Port and serves over a unix socket.
	UNIXSock string
	// Data is the deployment directory holding store files, vector index, and logs.
	Data string
	// Driver is the storage backend: currently only "sqlite" is implemented.
	Driver string
	DSN    string

	// LLM provider configuration, read from environment (see FromEnv).
	LLMProvider    string
	LLMModel       string
	LLMAPIKey      string
	LLMBaseURL     string
	LLMLocalOnly   bool
	EmbedProvider  string
	EmbedModel     string

	InstanceURL string
	Version     string

	// Bounds, all overridable via environment; see spec §4.9 and §5.
	MaxStepsPerTurn     int
	MaxToolCallsPerTurn int
	MaxWallTime         time.Duration
	MaxCostPerTurn      float64
	MaxRetries          int
	ToolTimeout         time.Duration
	LLMCallTimeout      time.Duration
	TurnTimeout         time.Duration
}

// FromEnv fills in fields that are conventionally sourced from the
// environment rather than flags (provider secrets, bound defaults).
func (p *Profile) FromEnv() {
	if p.LLMProvider == "" {
		p.LLMProvider = getenvDefault("AGENTCORE_LLM_PROVIDER", "openai")
	}
	if p.LLMModel == "" {
		p.LLMModel = getenvDefault("AGENTCORE_LLM_MODEL", "gpt-4o-mini")
	}
	p.LLMAPIKey = os.Getenv("AGENTCORE_LLM_API_KEY")
	if p.LLMAPIKey == "" {
		p.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	p.LLMBaseURL = os.Getenv("AGENTCORE_LLM_BASE_URL")
	p.LLMLocalOnly = os.Getenv("AGENTCORE_LLM_LOCAL") == "true"
	p.EmbedProvider = getenvDefault("AGENTCORE_EMBED_PROVIDER", "")
	p.EmbedModel = getenvDefault("AGENTCORE_EMBED_MODEL", "")

	if p.Data == "" {
		p.Data = getenvDefault("AGENTCORE_DATA", "./data")
	}

	p.MaxStepsPerTurn = getenvInt("AGENTCORE_MAX_STEPS", 20)
	p.MaxToolCallsPerTurn = getenvInt("AGENTCORE_MAX_TOOL_CALLS", 30)
	p.MaxWallTime = getenvDuration("AGENTCORE_MAX_WALL_TIME", 120*time.Second)
	p.MaxCostPerTurn = getenvFloat("AGENTCORE_MAX_COST", 1.00)
	p.MaxRetries = getenvInt("AGENTCORE_MAX_RETRIES", 3)
	p.ToolTimeout = getenvDuration("AGENTCORE_TOOL_TIMEOUT", 30*time.Second)
	p.LLMCallTimeout = getenvDuration("AGENTCORE_LLM_TIMEOUT", 60*time.Second)
	p.TurnTimeout = getenvDuration("AGENTCORE_TURN_TIMEOUT", 120*time.Second)
}

// Validate checks the profile is internally consistent and fails fast when
// a provider key is absent and no local-provider flag is set (spec §6).
func (p *Profile) Validate() error {
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" {
		return errors.Errorf("unsupported driver %q (only sqlite is implemented)", p.Driver)
	}
	if p.DSN == "" {
		p.DSN = p.Data + "/agentcore.db"
	}
	if p.LLMAPIKey == "" && !p.LLMLocalOnly {
		return errors.New("no LLM provider API key configured; set AGENTCORE_LLM_API_KEY or AGENTCORE_LLM_LOCAL=true")
	}
	return nil
}

// IsAIEnabled reports whether the configured driver supports the memory/LLM
// subsystems. Both supported drivers (sqlite, and a future postgres) qualify.
func (p *Profile) IsAIEnabled() bool {
	return p.Driver == "sqlite" || p.Driver == "postgres"
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
