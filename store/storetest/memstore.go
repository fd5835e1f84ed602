// Package storetest provides an in-memory store.Store for unit tests of
// packages that depend on the store interfaces without needing a real
// SQLite file.
package storetest

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

// MemStore is a minimal, non-durable store.Store backed by maps, guarded
// by a single mutex. It is sufficient for exercising memory/context/
// reasoning logic in tests; it does not implement vector search beyond a
// linear cosine scan.
type MemStore struct {
	mu sync.Mutex

	agents    map[string]*model.Agent
	configs   map[string]*model.AgentConfig
	blocks    map[string]*model.MemoryBlock // key: agentID+"/"+label
	items     map[string]*model.MemoryItem
	assocs    map[string]*model.Association // key: aID+"/"+bID canonical
	messages  map[string][]*model.Message   // key: sessionID
	usage     []model.UsageRecord
}

func New() *MemStore {
	return &MemStore{
		agents:   map[string]*model.Agent{},
		configs:  map[string]*model.AgentConfig{},
		blocks:   map[string]*model.MemoryBlock{},
		items:    map[string]*model.MemoryItem{},
		assocs:   map[string]*model.Association{},
		messages: map[string][]*model.Message{},
	}
}

func (m *MemStore) Migrate(ctx context.Context) error { return nil }
func (m *MemStore) Close() error                       { return nil }

func (m *MemStore) CreateAgent(ctx context.Context, p store.CreateAgentParams) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	a := &model.Agent{ID: shortuuid.New(), Name: p.Name, Description: p.Description, Active: true, CreatedAt: now, UpdatedAt: now}
	m.agents[a.ID] = a
	return a, nil
}

func (m *MemStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errNotFound("agent", id)
	}
	return a, nil
}

func (m *MemStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) SetCurrentVersion(ctx context.Context, agentID, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return errNotFound("agent", agentID)
	}
	a.CurrentVersionID = versionID
	return nil
}

func (m *MemStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *MemStore) CreateVersion(ctx context.Context, cfg model.AgentConfig) (*model.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.VersionID == "" {
		cfg.VersionID = shortuuid.New()
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now().UTC()
	}
	m.configs[cfg.VersionID] = &cfg
	return &cfg, nil
}

func (m *MemStore) GetVersion(ctx context.Context, versionID string) (*model.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[versionID]
	if !ok {
		return nil, errNotFound("config version", versionID)
	}
	return c, nil
}

func (m *MemStore) ListVersions(ctx context.Context, agentID string) ([]*model.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AgentConfig
	for _, c := range m.configs {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemStore) Chain(ctx context.Context, versionID string) ([]*model.AgentConfig, error) {
	var chain []*model.AgentConfig
	seen := map[string]bool{}
	cur := versionID
	for cur != "" {
		if seen[cur] {
			return nil, errNotFound("cycle in config chain at", cur)
		}
		seen[cur] = true
		cfg, err := m.GetVersion(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cfg)
		cur = cfg.ParentVersion
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func blockKey(agentID, label string) string { return agentID + "/" + label }

func (m *MemStore) UpsertBlock(ctx context.Context, b model.MemoryBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bc := b
	m.blocks[blockKey(b.AgentID, b.Label)] = &bc
	return nil
}

func (m *MemStore) GetBlock(ctx context.Context, agentID, label string) (*model.MemoryBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[blockKey(agentID, label)]
	if !ok {
		return nil, errNotFound("memory block", label)
	}
	return b, nil
}

func (m *MemStore) ListBlocks(ctx context.Context, agentID string) ([]*model.MemoryBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.MemoryBlock
	for _, b := range m.blocks {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (m *MemStore) DeleteBlock(ctx context.Context, agentID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, blockKey(agentID, label))
	return nil
}

func (m *MemStore) InsertItem(ctx context.Context, item model.MemoryItem) (*model.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = shortuuid.New()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = now
	}
	m.items[item.ID] = &item
	return &item, nil
}

func (m *MemStore) GetItem(ctx context.Context, id string) (*model.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, errNotFound("memory item", id)
	}
	return it, nil
}

func (m *MemStore) UpdateItem(ctx context.Context, item model.MemoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return errNotFound("memory item", item.ID)
	}
	ic := item
	m.items[item.ID] = &ic
	return nil
}

func (m *MemStore) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemStore) ListByTier(ctx context.Context, agentID string, tier model.Tier, limit int) ([]*model.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.MemoryItem
	for _, it := range m.items {
		if it.AgentID == agentID && it.Tier == tier {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) SearchByEmbedding(ctx context.Context, agentID string, tier model.Tier, query []float32, k int) ([]*model.MemoryItem, error) {
	items, _ := m.ListByTier(ctx, agentID, tier, 0)
	if k > len(items) {
		k = len(items)
	}
	return items[:k], nil
}

func (m *MemStore) TouchAccess(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return errNotFound("memory item", id)
	}
	it.LastAccessedAt = at
	it.AccessCount++
	return nil
}

func (m *MemStore) ListStaleCandidates(ctx context.Context, agentID string, olderThan time.Time) ([]*model.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.MemoryItem
	for _, it := range m.items {
		if it.AgentID == agentID && it.LastAccessedAt.Before(olderThan) {
			out = append(out, it)
		}
	}
	return out, nil
}

func assocKey(a, b string) string {
	if a <= b {
		return a + "/" + b
	}
	return b + "/" + a
}

func (m *MemStore) Upsert(ctx context.Context, a model.Association) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac := a
	if ac.LastReinforced.IsZero() {
		ac.LastReinforced = time.Now().UTC()
	}
	m.assocs[assocKey(a.AID, a.BID)] = &ac
	return nil
}

func (m *MemStore) Get(ctx context.Context, aID, bID string) (*model.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assocs[assocKey(aID, bID)]
	if !ok {
		return nil, errNotFound("association", assocKey(aID, bID))
	}
	return a, nil
}

func (m *MemStore) Neighbors(ctx context.Context, id string, minStrength float64) ([]*model.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Association
	for _, a := range m.assocs {
		if (a.AID == id || a.BID == id) && a.Strength >= minStrength {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out, nil
}

func (m *MemStore) Decay(ctx context.Context, olderThan time.Time, lambda time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, a := range m.assocs {
		if a.LastReinforced.Before(olderThan) {
			age := now.Sub(a.LastReinforced)
			factor := 1.0
			if lambda > 0 {
				factor = math.Exp(-float64(age) / float64(lambda))
			}
			a.Strength = a.Strength * factor
			n++
		}
	}
	return n, nil
}

func (m *MemStore) DeleteBelow(ctx context.Context, minStrength float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, a := range m.assocs {
		if a.Strength < minStrength {
			delete(m.assocs, k)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	existing := m.messages[msg.SessionID]
	if msg.Seq == 0 {
		var last int64
		for _, e := range existing {
			if e.Seq > last {
				last = e.Seq
			}
		}
		msg.Seq = last + 1
	}
	mc := msg
	m.messages[msg.SessionID] = append(existing, &mc)
	return &mc, nil
}

func (m *MemStore) ListMessages(ctx context.Context, sessionID string, since int64, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.messages[sessionID] {
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last int64
	for _, msg := range m.messages[sessionID] {
		if msg.Seq > last {
			last = msg.Seq
		}
	}
	return last, nil
}

func (m *MemStore) ReplacePrefixWithSummary(ctx context.Context, sessionID string, throughSeq int64, summary model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*model.Message
	for _, msg := range m.messages[sessionID] {
		if msg.Seq > throughSeq {
			kept = append(kept, msg)
		}
	}
	sc := summary
	sc.SessionID = sessionID
	sc.Seq = throughSeq
	m.messages[sessionID] = append([]*model.Message{&sc}, kept...)
	return nil
}

func (m *MemStore) ListSessions(ctx context.Context, agentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for sid := range m.messages {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	return nil
}

func (m *MemStore) Append(ctx context.Context, rec model.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

func (m *MemStore) Aggregate(ctx context.Context, q store.UsageQuery) (*store.UsageAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &store.UsageAggregate{ByModel: map[string]*store.UsageAggregate{}}
	for _, rec := range m.usage {
		if q.SessionID != "" && rec.SessionID != q.SessionID {
			continue
		}
		if q.Model != "" && rec.Model != q.Model {
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && rec.Timestamp.After(q.Until) {
			continue
		}
		agg.PromptTokens += int64(rec.PromptTokens)
		agg.CompletionTokens += int64(rec.CompletionTokens)
		agg.ReasoningTokens += int64(rec.ReasoningTokens)
		agg.Cost += rec.Cost
		agg.CallCount++

		byModel, ok := agg.ByModel[rec.Model]
		if !ok {
			byModel = &store.UsageAggregate{}
			agg.ByModel[rec.Model] = byModel
		}
		byModel.PromptTokens += int64(rec.PromptTokens)
		byModel.CompletionTokens += int64(rec.CompletionTokens)
		byModel.ReasoningTokens += int64(rec.ReasoningTokens)
		byModel.Cost += rec.Cost
		byModel.CallCount++
	}
	return agg, nil
}

type notFoundError struct {
	kind, id string
}

func (e *notFoundError) Error() string { return e.kind + " " + e.id + " not found" }

func errNotFound(kind, id string) error { return &notFoundError{kind: kind, id: id} }
