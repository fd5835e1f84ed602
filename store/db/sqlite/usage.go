package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

func (d *DB) Append(ctx context.Context, rec model.UsageRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO usage_record (timestamp, session_id, model, prompt_tokens, completion_tokens,
		  reasoning_tokens, cost, tool_calls_made)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.SessionID, rec.Model, rec.PromptTokens, rec.CompletionTokens,
		rec.ReasoningTokens, rec.Cost, rec.ToolCallsMade)
	return errors.Wrap(err, "failed to append usage record")
}

func (d *DB) Aggregate(ctx context.Context, q store.UsageQuery) (*store.UsageAggregate, error) {
	where := `WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{q.Since, q.Until}
	if q.SessionID != "" {
		where += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if q.Model != "" {
		where += ` AND model = ?`
		args = append(args, q.Model)
	}

	total := &store.UsageAggregate{}
	row := d.db.QueryRowContext(ctx, `SELECT
		  COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		  COALESCE(SUM(reasoning_tokens),0), COALESCE(SUM(cost),0), COUNT(*)
		FROM usage_record `+where, args...)
	if err := row.Scan(&total.PromptTokens, &total.CompletionTokens, &total.ReasoningTokens, &total.Cost, &total.CallCount); err != nil {
		return nil, errors.Wrap(err, "failed to aggregate usage totals")
	}

	rows, err := d.db.QueryContext(ctx, `SELECT model,
		  COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		  COALESCE(SUM(reasoning_tokens),0), COALESCE(SUM(cost),0), COUNT(*)
		FROM usage_record `+where+` GROUP BY model`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate usage by model")
	}
	defer rows.Close()

	total.ByModel = map[string]*store.UsageAggregate{}
	for rows.Next() {
		var m string
		agg := &store.UsageAggregate{}
		if err := rows.Scan(&m, &agg.PromptTokens, &agg.CompletionTokens, &agg.ReasoningTokens, &agg.Cost, &agg.CallCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan per-model usage aggregate")
		}
		total.ByModel[m] = agg
	}
	return total, rows.Err()
}
