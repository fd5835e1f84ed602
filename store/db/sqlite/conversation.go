package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/internal/archive"
	"github.com/kestrelai/agentcore/model"
)

func (d *DB) AppendMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool calls")
	}
	if m.Seq == 0 {
		last, err := d.LastSeq(ctx, m.SessionID)
		if err != nil {
			return nil, err
		}
		m.Seq = last + 1
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO message (session_id, seq, role, content, message_type, tool_calls, thinking,
		  reasoning_time_ms, created_at, kind, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Seq, m.Role, m.Content, m.MessageType, string(toolCalls), m.Thinking,
		m.ReasoningTime.Milliseconds(), m.CreatedAt, m.Kind, m.Reason)
	if err != nil {
		return nil, errors.Wrap(err, "failed to append message")
	}
	return &m, nil
}

func (d *DB) ListMessages(ctx context.Context, sessionID string, since int64, limit int) ([]*model.Message, error) {
	q := `SELECT session_id, seq, role, content, message_type, tool_calls, thinking,
	             reasoning_time_ms, created_at, kind, reason
	      FROM message WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{sessionID, since}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *DB) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := d.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM message WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query last seq")
	}
	return seq.Int64, nil
}

// ReplacePrefixWithSummary archives the [0, throughSeq] prefix as a
// zstd-compressed blob, deletes it from the live message table, and
// inserts the summary message at the smallest freed seq so ordering is
// preserved. The archive and delete happen in one transaction so a crash
// mid-operation cannot lose the prefix without also losing the delete.
func (d *DB) ReplacePrefixWithSummary(ctx context.Context, sessionID string, throughSeq int64, summary model.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT session_id, seq, role, content, message_type, tool_calls, thinking,
		        reasoning_time_ms, created_at, kind, reason
		 FROM message WHERE session_id = ? AND seq <= ? ORDER BY seq ASC`, sessionID, throughSeq)
	if err != nil {
		return errors.Wrap(err, "failed to select prefix for archival")
	}
	prefix, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return err
	}
	if len(prefix) == 0 {
		return errors.Errorf("no messages at or below seq %d for session %s", throughSeq, sessionID)
	}

	raw, err := json.Marshal(prefix)
	if err != nil {
		return errors.Wrap(err, "failed to marshal archived prefix")
	}
	compressed := archive.Compress(raw)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archived_prefix (session_id, through_seq, compressed_blob, archived_at) VALUES (?, ?, ?, ?)`,
		sessionID, throughSeq, compressed, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed to persist archived prefix")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE session_id = ? AND seq <= ?`, sessionID, throughSeq); err != nil {
		return errors.Wrap(err, "failed to delete archived prefix from live log")
	}

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	summary.SessionID = sessionID
	summary.Seq = throughSeq // summary takes the highest freed seq, keeping ordering dense
	toolCalls, err := json.Marshal(summary.ToolCalls)
	if err != nil {
		return errors.Wrap(err, "failed to marshal summary tool calls")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message (session_id, seq, role, content, message_type, tool_calls, thinking,
		  reasoning_time_ms, created_at, kind, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.SessionID, summary.Seq, summary.Role, summary.Content, model.MessageTypeSystem, string(toolCalls),
		summary.Thinking, summary.ReasoningTime.Milliseconds(), summary.CreatedAt, summary.Kind, summary.Reason); err != nil {
		return errors.Wrap(err, "failed to insert summary message")
	}

	return errors.Wrap(tx.Commit(), "failed to commit prefix replacement")
}

func (d *DB) ListSessions(ctx context.Context, agentID string) ([]string, error) {
	// Sessions are not explicitly scoped to an agent in the message table;
	// callers that need agent scoping join through the block/config tables.
	// This implementation returns every distinct session id.
	_ = agentID
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM message`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "failed to scan session id")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM archived_prefix WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "failed to delete archived prefixes")
	}
	return errors.Wrap(tx.Commit(), "failed to commit session delete")
}

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	var toolCalls string
	var reasoningMs int64
	if err := row.Scan(&m.SessionID, &m.Seq, &m.Role, &m.Content, &m.MessageType, &toolCalls, &m.Thinking,
		&reasoningMs, &m.CreatedAt, &m.Kind, &m.Reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "message not found")
		}
		return nil, errors.Wrap(err, "failed to scan message")
	}
	m.ReasoningTime = time.Duration(reasoningMs) * time.Millisecond
	if toolCalls != "" {
		if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal tool calls")
		}
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
