// Package store defines the persistence interfaces used by every subsystem
// (spec §3, §8). Each interface takes a narrow Params struct per operation
// rather than a long positional argument list, following the shape of the
// example corpus's own store packages.
package store

import (
	"context"
	"time"

	"github.com/kestrelai/agentcore/model"
)

// AgentStore manages Agent rows and their current-version pointer.
type AgentStore interface {
	CreateAgent(ctx context.Context, p CreateAgentParams) (*model.Agent, error)
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	SetCurrentVersion(ctx context.Context, agentID, versionID string) error
	DeleteAgent(ctx context.Context, id string) error
}

type CreateAgentParams struct {
	Name        string
	Description string
}

// AgentConfigStore manages the append-only, immutable version chain for an
// agent's configuration (spec §4.11).
type AgentConfigStore interface {
	CreateVersion(ctx context.Context, cfg model.AgentConfig) (*model.AgentConfig, error)
	GetVersion(ctx context.Context, versionID string) (*model.AgentConfig, error)
	ListVersions(ctx context.Context, agentID string) ([]*model.AgentConfig, error)
	// Chain returns the parent-to-root ancestry for versionID, root first.
	Chain(ctx context.Context, versionID string) ([]*model.AgentConfig, error)
}

// MemoryBlockStore manages an agent's named, mutable identity slots
// (spec §4.2).
type MemoryBlockStore interface {
	UpsertBlock(ctx context.Context, b model.MemoryBlock) error
	GetBlock(ctx context.Context, agentID, label string) (*model.MemoryBlock, error)
	ListBlocks(ctx context.Context, agentID string) ([]*model.MemoryBlock, error)
	DeleteBlock(ctx context.Context, agentID, label string) error
}

// MemoryItemStore manages recalled memory items across the three tiers
// (spec §4.5).
type MemoryItemStore interface {
	InsertItem(ctx context.Context, item model.MemoryItem) (*model.MemoryItem, error)
	GetItem(ctx context.Context, id string) (*model.MemoryItem, error)
	UpdateItem(ctx context.Context, item model.MemoryItem) error
	DeleteItem(ctx context.Context, id string) error
	ListByTier(ctx context.Context, agentID string, tier model.Tier, limit int) ([]*model.MemoryItem, error)
	// SearchByEmbedding returns the k nearest items by cosine distance to
	// query, restricted to agentID and optionally one tier (empty = all).
	SearchByEmbedding(ctx context.Context, agentID string, tier model.Tier, query []float32, k int) ([]*model.MemoryItem, error)
	// TouchAccess bumps LastAccessedAt/AccessCount for a recalled item.
	TouchAccess(ctx context.Context, id string, at time.Time) error
	// ListStaleCandidates returns items whose LastAccessedAt is older than
	// olderThan, for the retention sweep.
	ListStaleCandidates(ctx context.Context, agentID string, olderThan time.Time) ([]*model.MemoryItem, error)
}

// AssociationStore manages the undirected Hebbian association graph
// (spec §4.6).
type AssociationStore interface {
	Upsert(ctx context.Context, a model.Association) error
	Get(ctx context.Context, aID, bID string) (*model.Association, error)
	Neighbors(ctx context.Context, id string, minStrength float64) ([]*model.Association, error)
	Decay(ctx context.Context, olderThan time.Time, lambda time.Duration) (int, error)
	DeleteBelow(ctx context.Context, minStrength float64) (int, error)
}

// ConversationStore manages per-session append-only message logs
// (spec §4.10).
type ConversationStore interface {
	AppendMessage(ctx context.Context, m model.Message) (*model.Message, error)
	ListMessages(ctx context.Context, sessionID string, since int64, limit int) ([]*model.Message, error)
	LastSeq(ctx context.Context, sessionID string) (int64, error)
	// ReplacePrefixWithSummary atomically replaces all messages with
	// seq <= throughSeq by a single system-authored summary message. The
	// archived prefix is preserved (compressed) rather than deleted outright.
	ReplacePrefixWithSummary(ctx context.Context, sessionID string, throughSeq int64, summary model.Message) error
	ListSessions(ctx context.Context, agentID string) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// UsageStore manages the append-only cost/usage ledger (spec §4.12).
type UsageStore interface {
	Append(ctx context.Context, rec model.UsageRecord) error
	Aggregate(ctx context.Context, q UsageQuery) (*UsageAggregate, error)
}

type UsageQuery struct {
	SessionID string // empty = all sessions
	Since     time.Time
	Until     time.Time
	Model     string // empty = all models
}

type UsageAggregate struct {
	PromptTokens     int64
	CompletionTokens int64
	ReasoningTokens  int64
	Cost             float64
	CallCount        int64
	ByModel          map[string]*UsageAggregate
}

// Store aggregates every domain store behind one handle, mirroring the
// sub-interface composition pattern used across the example corpus's own
// store packages.
type Store interface {
	AgentStore
	AgentConfigStore
	MemoryBlockStore
	MemoryItemStore
	AssociationStore
	ConversationStore
	UsageStore

	// Migrate brings the backing schema up to the latest version.
	Migrate(ctx context.Context) error
	// Close releases any held resources (connections, file handles).
	Close() error
}
