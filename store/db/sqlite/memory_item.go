package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kestrelai/agentcore/model"
)

// embedding columns store pgvector's text literal ("[0.1,0.2,...]") in a
// plain TEXT column. pgvector.Vector's Value()/Scan() implement
// driver.Valuer/sql.Scanner independent of any actual Postgres connection,
// so the codec is reusable verbatim against SQLite.

func (d *DB) InsertItem(ctx context.Context, item model.MemoryItem) (*model.MemoryItem, error) {
	if item.ID == "" {
		item.ID = newULID()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = now
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal item metadata")
	}
	var emb any
	if len(item.Embedding) > 0 {
		emb = pgvector.NewVector(item.Embedding)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO memory_item
		 (id, agent_id, tier, content, embedding, importance, category, created_at, last_accessed_at, access_count, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AgentID, item.Tier, item.Content, emb, item.Importance, item.Category,
		item.CreatedAt, item.LastAccessedAt, item.AccessCount, string(meta))
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert memory item")
	}
	return &item, nil
}

func (d *DB) GetItem(ctx context.Context, id string) (*model.MemoryItem, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, tier, content, embedding, importance, category, created_at, last_accessed_at, access_count, metadata
		 FROM memory_item WHERE id = ?`, id)
	return scanItem(row)
}

func (d *DB) UpdateItem(ctx context.Context, item model.MemoryItem) error {
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal item metadata")
	}
	var emb any
	if len(item.Embedding) > 0 {
		emb = pgvector.NewVector(item.Embedding)
	}
	_, err = d.db.ExecContext(ctx,
		`UPDATE memory_item SET tier = ?, content = ?, embedding = ?, importance = ?, category = ?,
		   last_accessed_at = ?, access_count = ?, metadata = ? WHERE id = ?`,
		item.Tier, item.Content, emb, item.Importance, item.Category,
		item.LastAccessedAt, item.AccessCount, string(meta), item.ID)
	return errors.Wrap(err, "failed to update memory item")
}

func (d *DB) DeleteItem(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory_item WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete memory item")
}

func (d *DB) ListByTier(ctx context.Context, agentID string, tier model.Tier, limit int) ([]*model.MemoryItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, agent_id, tier, content, embedding, importance, category, created_at, last_accessed_at, access_count, metadata
		 FROM memory_item WHERE agent_id = ? AND tier = ? ORDER BY last_accessed_at DESC LIMIT ?`,
		agentID, tier, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory items by tier")
	}
	defer rows.Close()
	return scanItems(rows)
}

// SearchByEmbedding does an in-process cosine scan over the tier/agent
// scope and returns the k nearest. For the agent-scale data volumes this
// module targets, a full scan is cheap; the HNSW index (package vector) is
// used instead for the larger semantic-tier corpus via the hierarchical
// memory engine, which consults both.
func (d *DB) SearchByEmbedding(ctx context.Context, agentID string, tier model.Tier, query []float32, k int) ([]*model.MemoryItem, error) {
	q := `SELECT id, agent_id, tier, content, embedding, importance, category, created_at, last_accessed_at, access_count, metadata
	      FROM memory_item WHERE agent_id = ?`
	args := []any{agentID}
	if tier != "" {
		q += ` AND tier = ?`
		args = append(args, tier)
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory items for embedding search")
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		item *model.MemoryItem
		sim  float64
	}
	var candidates []scored
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{item: it, sim: cosineSimilarity(query, it.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]*model.MemoryItem, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].item
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (d *DB) TouchAccess(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE memory_item SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ?`, at, id)
	return errors.Wrap(err, "failed to touch memory item access")
}

func (d *DB) ListStaleCandidates(ctx context.Context, agentID string, olderThan time.Time) ([]*model.MemoryItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, agent_id, tier, content, embedding, importance, category, created_at, last_accessed_at, access_count, metadata
		 FROM memory_item WHERE agent_id = ? AND last_accessed_at < ? ORDER BY last_accessed_at ASC`,
		agentID, olderThan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query stale memory items")
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItem(row rowScanner) (*model.MemoryItem, error) {
	it := &model.MemoryItem{}
	var meta string
	var embStr sql.NullString
	err := row.Scan(&it.ID, &it.AgentID, &it.Tier, &it.Content, &embStr, &it.Importance, &it.Category,
		&it.CreatedAt, &it.LastAccessedAt, &it.AccessCount, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "memory item not found")
		}
		return nil, errors.Wrap(err, "failed to scan memory item")
	}
	if embStr.Valid && embStr.String != "" {
		var v pgvector.Vector
		if err := v.Scan(embStr.String); err != nil {
			return nil, errors.Wrap(err, "failed to decode item embedding")
		}
		it.Embedding = v.Slice()
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal item metadata")
		}
	}
	return it, nil
}

func scanItems(rows *sql.Rows) ([]*model.MemoryItem, error) {
	var out []*model.MemoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
