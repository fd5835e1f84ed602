// Package agentconfig implements the Agent Config & Version Store (C11):
// an append-only, immutable chain of configuration snapshots per agent,
// with rollback expressed as a new version rather than a history mutation.
//
// The teacher has no config-versioning analogue; this generalizes the
// version-chain-via-supersedes pattern the store/db/sqlite package already
// uses for the chain walk (CreateVersion/GetVersion/ListVersions/Chain),
// the way rcliao-agent-memory's internal/store/sqlite.go supersedes one
// memory version with the next.
package agentconfig

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

// ConfigPatch carries only the fields an update should change; nil fields
// are left at the current version's value.
type ConfigPatch struct {
	Model              *string
	Temperature        *float64
	TopP               *float64
	MaxTokens          *int
	ContextWindow      *int
	ReasoningEnabled   *bool
	MaxReasoningTokens *int
	SystemPrompt       *string
}

// ChangeEvent is what config_changed(agent, new_version) carries to
// external syncers (spec §4.11's .env side-effect is explicitly their
// concern, not this package's).
type ChangeEvent struct {
	AgentID      string
	NewVersion   *model.AgentConfig
	PriorVersion *model.AgentConfig
}

// Listener observes every successful Update/Rollback. It must not block;
// slow syncers should buffer internally.
type Listener func(ChangeEvent)

// Service implements get_current/update/list_versions/rollback on top of
// store.AgentStore + store.AgentConfigStore.
type Service struct {
	store     store.Store
	listeners []Listener
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// OnChange registers a config_changed observer. Not concurrency-safe
// against concurrent Update/Rollback calls; register all listeners during
// startup wiring before serving traffic.
func (svc *Service) OnChange(l Listener) {
	svc.listeners = append(svc.listeners, l)
}

// GetCurrent returns the version an agent's CurrentVersionID points at.
func (svc *Service) GetCurrent(ctx context.Context, agentID string) (*model.AgentConfig, error) {
	agent, err := svc.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.CurrentVersionID == "" {
		return nil, apperror.New(apperror.InvalidRequest, "agent has no config version")
	}
	return svc.store.GetVersion(ctx, agent.CurrentVersionID)
}

// ListVersions returns an agent's version history, newest first, capped
// at limit (0 means unbounded).
func (svc *Service) ListVersions(ctx context.Context, agentID string, limit int) ([]*model.AgentConfig, error) {
	versions, err := svc.store.ListVersions(ctx, agentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Timestamp.After(versions[j].Timestamp)
	})
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// Update applies patch on top of the agent's current config and appends
// the result as a new version whose ParentVersion is the current one.
func (svc *Service) Update(ctx context.Context, agentID string, patch ConfigPatch, description string) (*model.AgentConfig, error) {
	current, err := svc.GetCurrent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	next := applyPatch(*current, patch)
	next.AgentID = agentID
	next.ParentVersion = current.VersionID
	next.ChangeDescription = description
	return svc.createAndPoint(ctx, agentID, current, next)
}

// Rollback creates a new version whose content mirrors versionID's, with
// ParentVersion set to versionID itself. History is never mutated or
// deleted; the chain simply grows.
func (svc *Service) Rollback(ctx context.Context, agentID, versionID string) (*model.AgentConfig, error) {
	target, err := svc.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.AgentID != agentID {
		return nil, apperror.New(apperror.InvalidRequest, "version does not belong to agent")
	}
	current, err := svc.GetCurrent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	next := *target
	next.ParentVersion = versionID
	next.ChangeDescription = "rollback to " + versionID
	return svc.createAndPoint(ctx, agentID, current, next)
}

func (svc *Service) createAndPoint(ctx context.Context, agentID string, prior *model.AgentConfig, next model.AgentConfig) (*model.AgentConfig, error) {
	next.VersionID = ulid.Make().String()
	next.Timestamp = time.Now().UTC()
	created, err := svc.store.CreateVersion(ctx, next)
	if err != nil {
		return nil, errors.Wrap(err, "create config version")
	}
	if err := svc.store.SetCurrentVersion(ctx, agentID, created.VersionID); err != nil {
		return nil, apperror.Wrap(apperror.StorageError, "point agent at new config version", err)
	}
	for _, l := range svc.listeners {
		l(ChangeEvent{AgentID: agentID, NewVersion: created, PriorVersion: prior})
	}
	return created, nil
}

func applyPatch(base model.AgentConfig, p ConfigPatch) model.AgentConfig {
	if p.Model != nil {
		base.Model = *p.Model
	}
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		base.TopP = *p.TopP
	}
	if p.MaxTokens != nil {
		base.MaxTokens = p.MaxTokens
	}
	if p.ContextWindow != nil {
		base.ContextWindow = *p.ContextWindow
	}
	if p.ReasoningEnabled != nil {
		base.ReasoningEnabled = *p.ReasoningEnabled
	}
	if p.MaxReasoningTokens != nil {
		base.MaxReasoningTokens = p.MaxReasoningTokens
	}
	if p.SystemPrompt != nil {
		base.SystemPrompt = *p.SystemPrompt
	}
	if base.ReasoningEnabled && !llm.SupportsReasoning(base.Model) {
		base.ReasoningEnabled = false
		base.MaxReasoningTokens = nil
	}
	return base
}
