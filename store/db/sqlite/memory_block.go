package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
)

func (d *DB) UpsertBlock(ctx context.Context, b model.MemoryBlock) error {
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal block metadata")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO memory_block (agent_id, label, value, limit_chars, description, read_only, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, label) DO UPDATE SET
		   value = excluded.value,
		   limit_chars = excluded.limit_chars,
		   description = excluded.description,
		   read_only = excluded.read_only,
		   metadata = excluded.metadata`,
		b.AgentID, b.Label, b.Value, b.LimitChars, b.Description, b.ReadOnly, string(meta))
	return errors.Wrap(err, "failed to upsert memory block")
}

func (d *DB) GetBlock(ctx context.Context, agentID, label string) (*model.MemoryBlock, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT agent_id, label, value, limit_chars, description, read_only, metadata
		 FROM memory_block WHERE agent_id = ? AND label = ?`, agentID, label)
	return scanBlock(row)
}

func (d *DB) ListBlocks(ctx context.Context, agentID string) ([]*model.MemoryBlock, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT agent_id, label, value, limit_chars, description, read_only, metadata
		 FROM memory_block WHERE agent_id = ? ORDER BY label ASC`, agentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory blocks")
	}
	defer rows.Close()

	var out []*model.MemoryBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) DeleteBlock(ctx context.Context, agentID, label string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory_block WHERE agent_id = ? AND label = ?`, agentID, label)
	return errors.Wrap(err, "failed to delete memory block")
}

func scanBlock(row rowScanner) (*model.MemoryBlock, error) {
	b := &model.MemoryBlock{}
	var meta string
	if err := row.Scan(&b.AgentID, &b.Label, &b.Value, &b.LimitChars, &b.Description, &b.ReadOnly, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "memory block not found")
		}
		return nil, errors.Wrap(err, "failed to scan memory block")
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &b.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal block metadata")
		}
	}
	return b, nil
}
