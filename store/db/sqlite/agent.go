package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

func (d *DB) CreateAgent(ctx context.Context, p store.CreateAgentParams) (*model.Agent, error) {
	now := time.Now().UTC()
	a := &model.Agent{
		ID:          shortuuid.New(),
		Name:        p.Name,
		Description: p.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agent (id, name, description, active, current_version_id, created_at, updated_at)
		 VALUES (?, ?, ?, 1, '', ?, ?)`,
		a.ID, a.Name, a.Description, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert agent")
	}
	return a, nil
}

func (d *DB) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, description, active, current_version_id, created_at, updated_at
		 FROM agent WHERE id = ?`, id)
	a := &model.Agent{}
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Active, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(err, "agent %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to scan agent")
	}
	return a, nil
}

func (d *DB) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, description, active, current_version_id, created_at, updated_at
		 FROM agent ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query agents")
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a := &model.Agent{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Active, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan agent row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) SetCurrentVersion(ctx context.Context, agentID, versionID string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE agent SET current_version_id = ?, updated_at = ? WHERE id = ?`,
		versionID, time.Now().UTC(), agentID)
	if err != nil {
		return errors.Wrap(err, "failed to update agent current version")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Errorf("agent %s not found", agentID)
	}
	return nil
}

func (d *DB) DeleteAgent(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM agent WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete agent")
}
