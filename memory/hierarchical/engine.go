// Package hierarchical implements the Hierarchical Memory engine (spec C5):
// routing across working/episodic/semantic tiers and the consolidation pass
// between them.
package hierarchical

import (
	"container/list"
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelai/agentcore/memory/attention"
	"github.com/kestrelai/agentcore/memory/retention"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

const (
	defaultWorkingCapacity = 100
	duplicateThreshold     = 0.97
	semanticImportanceFloor = 8
	semanticAccessFloor    = 5
	episodicImportanceFloor = 5
)

// Engine routes memory items across tiers and runs consolidation.
type Engine struct {
	store store.Store
	gate  *retention.Gate

	mu         sync.Mutex
	workingCap int
	working    map[string]*list.List // agentID -> LRU list of *workingEntry, front = most recent
	workingIdx map[string]map[string]*list.Element
}

// workingEntry pairs a working-tier item with the session it was written
// under, so Search can restrict "working" to the caller's current session
// (spec §4.5) while Consolidate still sweeps the whole agent-wide LRU.
type workingEntry struct {
	item      *model.MemoryItem
	sessionID string
}

func New(s store.Store, gate *retention.Gate) *Engine {
	return &Engine{
		store:      s,
		gate:       gate,
		workingCap: defaultWorkingCapacity,
		working:    map[string]*list.List{},
		workingIdx: map[string]map[string]*list.Element{},
	}
}

// Store routes item by (importance, category) per spec §4.5 and always
// additionally writes it to the working tier under sessionID.
func (e *Engine) Store(ctx context.Context, sessionID string, item model.MemoryItem) (*model.MemoryItem, error) {
	tier := model.TierWorking
	switch {
	case item.Importance >= semanticImportanceFloor && isSemanticCategory(item.Category):
		tier = model.TierSemantic
	case item.Importance >= episodicImportanceFloor:
		tier = model.TierEpisodic
	}

	item.Tier = tier
	saved, err := e.store.InsertItem(ctx, item)
	if err != nil {
		return nil, err
	}

	e.pushWorking(item.AgentID, sessionID, saved)
	return saved, nil
}

func isSemanticCategory(c model.Category) bool {
	return c == model.CategoryInsight || c == model.CategoryRelationshipMoment
}

func (e *Engine) pushWorking(agentID, sessionID string, item *model.MemoryItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.working[agentID]
	if !ok {
		l = list.New()
		e.working[agentID] = l
		e.workingIdx[agentID] = map[string]*list.Element{}
	}
	idx := e.workingIdx[agentID]

	if el, exists := idx[item.ID]; exists {
		l.MoveToFront(el)
		el.Value = &workingEntry{item: item, sessionID: sessionID}
		return
	}

	el := l.PushFront(&workingEntry{item: item, sessionID: sessionID})
	idx[item.ID] = el

	for l.Len() > e.workingCap {
		back := l.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*workingEntry)
		delete(idx, evicted.item.ID)
		l.Remove(back)
	}
}

// workingItems returns the agent's entire working-tier LRU, spanning every
// session. Consolidate uses this: promotion and decay are agent-wide, not
// session-scoped.
func (e *Engine) workingItems(agentID string) []*model.MemoryItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.working[agentID]
	if !ok {
		return nil
	}
	out := make([]*model.MemoryItem, 0, l.Len())
	for el := l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*workingEntry).item)
	}
	return out
}

// workingItemsForSession returns only the working-tier items pushed under
// sessionID. Search uses this: spec §4.5 limits "working" to the last
// session, unlike episodic and semantic which are agent-wide.
func (e *Engine) workingItemsForSession(agentID, sessionID string) []*model.MemoryItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.working[agentID]
	if !ok {
		return nil
	}
	out := make([]*model.MemoryItem, 0, l.Len())
	for el := l.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*workingEntry)
		if entry.sessionID == sessionID {
			out = append(out, entry.item)
		}
	}
	return out
}

// Result is one scored hit from Search, tagged with its source tier.
type Result struct {
	Item  *model.MemoryItem
	Score float64
	Tier  model.Tier
}

// Search scores candidates from working ∪ episodic ∪ semantic using the
// attentional-bias scorer and returns the top-k. Working is limited to
// sessionID; episodic and semantic are agent-wide.
func (e *Engine) Search(ctx context.Context, agentID, sessionID, query string, queryEmbedding []float32, k int, mode model.AttentionMode) ([]Result, error) {
	if mode == "" {
		mode = attention.AnalyzeQuery(query)
	}
	now := time.Now().UTC()

	var candidates []Result
	for _, it := range e.workingItemsForSession(agentID, sessionID) {
		candidates = append(candidates, Result{Item: it, Tier: model.TierWorking})
	}

	episodic, err := e.store.ListByTier(ctx, agentID, model.TierEpisodic, 0)
	if err != nil {
		return nil, err
	}
	for _, it := range episodic {
		candidates = append(candidates, Result{Item: it, Tier: model.TierEpisodic})
	}

	semantic, err := e.store.ListByTier(ctx, agentID, model.TierSemantic, 0)
	if err != nil {
		return nil, err
	}
	for _, it := range semantic {
		candidates = append(candidates, Result{Item: it, Tier: model.TierSemantic})
	}

	for i := range candidates {
		candidates[i].Score = attention.Score(mode, queryEmbedding, candidates[i].Item, now)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// ConsolidationReport summarizes one consolidate() pass.
type ConsolidationReport struct {
	PromotedToEpisodic int
	PromotedToSemantic int
	Archived           int
	Decayed            int
	Merged             int
}

// Consolidate runs the full four-stage pass described in spec §4.5. Callers
// drive its cadence externally (the reasoning loop ties episodic
// consolidation to every 10th turn, semantic promotion to every 100th).
func (e *Engine) Consolidate(ctx context.Context, agentID string, promoteEpisodic, promoteSemantic bool) (*ConsolidationReport, error) {
	report := &ConsolidationReport{}

	if promoteEpisodic {
		for _, it := range e.workingItems(agentID) {
			if it.AccessCount >= 2 && it.Tier == model.TierWorking {
				promoted := *it
				promoted.Tier = model.TierEpisodic
				if _, err := e.store.InsertItem(ctx, promoted); err != nil {
					return report, err
				}
				report.PromotedToEpisodic++
			}
		}
	}

	now := time.Now().UTC()
	episodic, err := e.store.ListByTier(ctx, agentID, model.TierEpisodic, 0)
	if err != nil {
		return report, err
	}
	for _, it := range episodic {
		_, action := e.gate.Evaluate(it, now)
		switch action {
		case model.ActionArchive:
			if err := e.store.DeleteItem(ctx, it.ID); err != nil {
				return report, err
			}
			report.Archived++
		case model.ActionDecay:
			it.Importance = clamp0to10(it.Importance - 1)
			if err := e.store.UpdateItem(ctx, *it); err != nil {
				return report, err
			}
			report.Decayed++
		}
	}

	if promoteSemantic {
		episodic, err = e.store.ListByTier(ctx, agentID, model.TierEpisodic, 0)
		if err != nil {
			return report, err
		}
		for _, it := range episodic {
			if it.Importance >= semanticImportanceFloor && it.AccessCount >= semanticAccessFloor {
				promoted := *it
				promoted.Tier = model.TierSemantic
				if err := e.store.UpdateItem(ctx, promoted); err != nil {
					return report, err
				}
				report.PromotedToSemantic++
			}
		}
	}

	merged, err := e.mergeDuplicates(ctx, agentID)
	if err != nil {
		return report, err
	}
	report.Merged = merged

	return report, nil
}

// mergeDuplicates scans each tier in parallel for near-duplicate items
// (cosine ≥ 0.97) and folds each duplicate pair into one item whose
// importance is the max and access_count is the sum.
func (e *Engine) mergeDuplicates(ctx context.Context, agentID string) (int, error) {
	tiers := []model.Tier{model.TierEpisodic, model.TierSemantic}
	mergedCounts := make([]int, len(tiers))

	g, ctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		i, tier := i, tier
		g.Go(func() error {
			items, err := e.store.ListByTier(ctx, agentID, tier, 0)
			if err != nil {
				return err
			}
			n, err := e.mergeWithinTier(ctx, items)
			if err != nil {
				return err
			}
			mergedCounts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range mergedCounts {
		total += n
	}
	return total, nil
}

func (e *Engine) mergeWithinTier(ctx context.Context, items []*model.MemoryItem) (int, error) {
	deleted := map[string]bool{}
	merged := 0
	for i := 0; i < len(items); i++ {
		if deleted[items[i].ID] || len(items[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(items); j++ {
			if deleted[items[j].ID] || len(items[j].Embedding) == 0 {
				continue
			}
			if cosineSimilarity(items[i].Embedding, items[j].Embedding) < duplicateThreshold {
				continue
			}
			items[i].Importance = maxFloat(items[i].Importance, items[j].Importance)
			items[i].AccessCount += items[j].AccessCount
			if err := e.store.UpdateItem(ctx, *items[i]); err != nil {
				return merged, err
			}
			if err := e.store.DeleteItem(ctx, items[j].ID); err != nil {
				return merged, err
			}
			deleted[items[j].ID] = true
			merged++
		}
	}
	return merged, nil
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

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp0to10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
