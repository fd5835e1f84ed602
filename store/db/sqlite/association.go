package sqlite

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
)

// canonicalPair orders (a, b) so the undirected edge always has one row.
func canonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func (d *DB) Upsert(ctx context.Context, a model.Association) error {
	aID, bID := canonicalPair(a.AID, a.BID)
	if a.LastReinforced.IsZero() {
		a.LastReinforced = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO association (a_id, b_id, strength, last_reinforced)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(a_id, b_id) DO UPDATE SET
		   strength = excluded.strength,
		   last_reinforced = excluded.last_reinforced`,
		aID, bID, a.Strength, a.LastReinforced)
	return errors.Wrap(err, "failed to upsert association")
}

func (d *DB) Get(ctx context.Context, aID, bID string) (*model.Association, error) {
	a1, b1 := canonicalPair(aID, bID)
	row := d.db.QueryRowContext(ctx,
		`SELECT a_id, b_id, strength, last_reinforced FROM association WHERE a_id = ? AND b_id = ?`, a1, b1)
	return scanAssociation(row)
}

func (d *DB) Neighbors(ctx context.Context, id string, minStrength float64) ([]*model.Association, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT a_id, b_id, strength, last_reinforced FROM association
		 WHERE (a_id = ? OR b_id = ?) AND strength >= ? ORDER BY strength DESC`,
		id, id, minStrength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query association neighbors")
	}
	defer rows.Close()

	var out []*model.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Decay multiplies every association's strength by exp(-age/lambda), where
// age is measured from last_reinforced, and persists the result (spec
// §4.6's exponential decay schedule). Rows below the floor are left for
// DeleteBelow to sweep.
func (d *DB) Decay(ctx context.Context, olderThan time.Time, lambda time.Duration) (int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT a_id, b_id, strength, last_reinforced FROM association WHERE last_reinforced < ?`, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query associations for decay")
	}
	var toUpdate []*model.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		toUpdate = append(toUpdate, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	n := 0
	for _, a := range toUpdate {
		age := now.Sub(a.LastReinforced)
		decayed := a.Strength * decayFactor(age, lambda)
		_, err := d.db.ExecContext(ctx,
			`UPDATE association SET strength = ? WHERE a_id = ? AND b_id = ?`, decayed, a.AID, a.BID)
		if err != nil {
			return n, errors.Wrap(err, "failed to persist decayed association")
		}
		n++
	}
	return n, nil
}

func decayFactor(age, lambda time.Duration) float64 {
	if lambda <= 0 {
		return 1
	}
	return math.Exp(-float64(age) / float64(lambda))
}

func (d *DB) DeleteBelow(ctx context.Context, minStrength float64) (int, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM association WHERE strength < ?`, minStrength)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete weak associations")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "failed to read rows affected")
}

func scanAssociation(row rowScanner) (*model.Association, error) {
	a := &model.Association{}
	if err := row.Scan(&a.AID, &a.BID, &a.Strength, &a.LastReinforced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "association not found")
		}
		return nil, errors.Wrap(err, "failed to scan association")
	}
	return a, nil
}
