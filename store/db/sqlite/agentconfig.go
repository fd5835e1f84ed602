package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
)

func (d *DB) CreateVersion(ctx context.Context, cfg model.AgentConfig) (*model.AgentConfig, error) {
	if cfg.VersionID == "" {
		cfg.VersionID = newULID()
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agent_config_version
		 (version_id, agent_id, parent_version, timestamp, change_description, model,
		  temperature, top_p, max_tokens, context_window, reasoning_enabled, max_reasoning_tokens, system_prompt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.VersionID, cfg.AgentID, cfg.ParentVersion, cfg.Timestamp, cfg.ChangeDescription, cfg.Model,
		cfg.Temperature, cfg.TopP, cfg.MaxTokens, cfg.ContextWindow, cfg.ReasoningEnabled, cfg.MaxReasoningTokens, cfg.SystemPrompt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert agent config version")
	}
	return &cfg, nil
}

func (d *DB) GetVersion(ctx context.Context, versionID string) (*model.AgentConfig, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT version_id, agent_id, parent_version, timestamp, change_description, model,
		        temperature, top_p, max_tokens, context_window, reasoning_enabled, max_reasoning_tokens, system_prompt
		 FROM agent_config_version WHERE version_id = ?`, versionID)
	return scanConfig(row)
}

func (d *DB) ListVersions(ctx context.Context, agentID string) ([]*model.AgentConfig, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT version_id, agent_id, parent_version, timestamp, change_description, model,
		        temperature, top_p, max_tokens, context_window, reasoning_enabled, max_reasoning_tokens, system_prompt
		 FROM agent_config_version WHERE agent_id = ? ORDER BY timestamp ASC`, agentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query config versions")
	}
	defer rows.Close()

	var out []*model.AgentConfig
	for rows.Next() {
		cfg, err := scanConfigRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Chain walks ParentVersion pointers back to the root, returning root
// first. The chain must be acyclic (spec §4.11 invariant); a visited-set
// guards against a corrupted chain looping forever.
func (d *DB) Chain(ctx context.Context, versionID string) ([]*model.AgentConfig, error) {
	var chain []*model.AgentConfig
	seen := map[string]bool{}
	cur := versionID
	for cur != "" {
		if seen[cur] {
			return nil, errors.Errorf("cycle detected in config version chain at %s", cur)
		}
		seen[cur] = true
		cfg, err := d.GetVersion(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cfg)
		cur = cfg.ParentVersion
	}
	// reverse in place: root first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*model.AgentConfig, error) {
	cfg := &model.AgentConfig{}
	err := row.Scan(&cfg.VersionID, &cfg.AgentID, &cfg.ParentVersion, &cfg.Timestamp, &cfg.ChangeDescription,
		&cfg.Model, &cfg.Temperature, &cfg.TopP, &cfg.MaxTokens, &cfg.ContextWindow, &cfg.ReasoningEnabled,
		&cfg.MaxReasoningTokens, &cfg.SystemPrompt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "config version not found")
		}
		return nil, errors.Wrap(err, "failed to scan config version")
	}
	return cfg, nil
}

func scanConfigRows(rows *sql.Rows) (*model.AgentConfig, error) {
	return scanConfig(rows)
}
