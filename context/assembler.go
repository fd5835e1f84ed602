// Package context assembles the ordered LLM input message list and usage
// breakdown for one turn (spec C7), following the fixed-cost-first,
// greedy-pack algorithm in spec §4.7.
package context

import (
	"context"
	"log/slog"

	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/internal/token"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

// Dynamic long-conversation rebalancing thresholds. A conversation beyond
// HistoryLengthThreshold turns has its conversation-slice budget reduced by
// a share that grows linearly up to memoryBlockGrowthRatio at
// maxAdjustmentTurns. The freed tokens are not reassigned: the
// memory-context block is sized before this step and does not grow.
const (
	HistoryLengthThreshold = 20
	maxAdjustmentTurns     = 100
	memoryBlockGrowthRatio = 0.333

	defaultFixedOverflowFraction = 0.9
	defaultSummarizationThreshold = 0.8
	defaultTopK                   = 8
)

// Usage is the per-turn token usage breakdown returned alongside the
// assembled message list.
type Usage struct {
	System       int
	MemoryBlocks int
	ToolSchemas  int
	// Conversation is the retrieved memory-context block, the packed
	// conversation slice, and the current user message combined — spec
	// §4.7's usage breakdown has no separate key for any of the three, so
	// all conversation-shaped token spend is reported under this one field.
	Conversation       int
	Total              int
	Max                int
	PercentUsed        float64
	NeedsSummarization bool
	Remaining          int
}

// Params configures one Assemble call.
type Params struct {
	AgentID            string
	SessionID          string
	SystemPrompt       string
	Model              string
	MaxTokens          int
	ToolSchemasJSON    string // pre-serialized tool schema block
	CurrentUserMessage string
	QueryEmbedding     []float32
	TopK               int
	HistoryLength      int // turn count, drives dynamic rebalancing
	SummarizationThreshold float64
}

// Assembler builds the ordered input list for one turn.
type Assembler struct {
	store   store.Store
	memory  *hierarchical.Engine
}

func New(s store.Store, mem *hierarchical.Engine) *Assembler {
	return &Assembler{store: s, memory: mem}
}

// Result is the assembled context for one turn.
type Result struct {
	Messages []token.Message
	Usage    Usage
}

// Assemble implements spec §4.7's five-step algorithm.
func (a *Assembler) Assemble(ctx context.Context, p Params) (*Result, error) {
	if p.MaxTokens <= 0 {
		return nil, apperror.New(apperror.InvalidRequest, "max_tokens must be positive")
	}
	if p.TopK <= 0 {
		p.TopK = defaultTopK
	}
	threshold := p.SummarizationThreshold
	if threshold <= 0 {
		threshold = defaultSummarizationThreshold
	}

	counter := token.NewCounter(p.Model)

	blocks, err := a.store.ListBlocks(ctx, p.AgentID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StorageError, "failed to load memory blocks", err)
	}
	memoryBlockText := renderBlocks(blocks)

	systemTokens := counter.Count(p.SystemPrompt)
	memoryBlockTokens := counter.Count(memoryBlockText)
	toolSchemaTokens := counter.Count(p.ToolSchemasJSON)
	fixed := systemTokens + memoryBlockTokens + toolSchemaTokens

	if float64(fixed) > float64(p.MaxTokens)*defaultFixedOverflowFraction {
		return nil, apperror.New(apperror.ContextOverflowFixed,
			"fixed context cost exceeds 90% of max_tokens before any conversation history is added")
	}

	results, err := a.memory.Search(ctx, p.AgentID, p.SessionID, p.CurrentUserMessage, p.QueryEmbedding, p.TopK, "")
	if err != nil {
		return nil, apperror.Wrap(apperror.StorageError, "failed to search memory", err)
	}
	memoryContextText := renderMemoryResults(results)
	memoryContextTokens := counter.Count(memoryContextText)

	budgetForConversation := p.MaxTokens - fixed - memoryContextTokens
	if p.HistoryLength > HistoryLengthThreshold {
		budgetForConversation = rebalanceForLongHistory(budgetForConversation, p.HistoryLength)
	}
	if budgetForConversation < 0 {
		budgetForConversation = 0
	}

	currentTokens := counter.Count(p.CurrentUserMessage)
	convBudget := budgetForConversation - currentTokens
	if convBudget < 0 {
		convBudget = 0
	}

	conversation, convTokens, err := a.loadConversationSlice(ctx, p.SessionID, counter, convBudget)
	if err != nil {
		return nil, err
	}

	conversationTokens := memoryContextTokens + convTokens + currentTokens
	total := systemTokens + memoryBlockTokens + toolSchemaTokens + conversationTokens
	percentUsed := float64(total) / float64(p.MaxTokens)

	usage := Usage{
		System:       systemTokens,
		MemoryBlocks: memoryBlockTokens,
		ToolSchemas:  toolSchemaTokens,
		Conversation: conversationTokens,
		Total:        total,
		Max:          p.MaxTokens,
		PercentUsed:  percentUsed,
		Remaining:    p.MaxTokens - total,
	}
	if percentUsed >= threshold {
		usage.NeedsSummarization = true
		slog.Warn("context usage crossed summarization threshold", "agent_id", p.AgentID, "session_id", p.SessionID, "percent_used", percentUsed)
	}

	messages := make([]token.Message, 0, len(conversation)+4)
	if p.SystemPrompt != "" {
		messages = append(messages, token.Message{Role: "system", Content: p.SystemPrompt})
	}
	if memoryBlockText != "" {
		messages = append(messages, token.Message{Role: "system", Content: memoryBlockText})
	}
	if p.ToolSchemasJSON != "" {
		messages = append(messages, token.Message{Role: "system", Content: p.ToolSchemasJSON})
	}
	if memoryContextText != "" {
		messages = append(messages, token.Message{Role: "system", Content: memoryContextText})
	}
	for _, m := range conversation {
		if m.MessageType == model.MessageTypeSystem {
			messages = append(messages, token.Message{Role: "system", Content: m.Content})
			continue
		}
		messages = append(messages, token.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, token.Message{Role: "user", Content: p.CurrentUserMessage})

	return &Result{Messages: messages, Usage: usage}, nil
}

// loadConversationSlice loads messages newest-to-oldest, stopping once the
// next message would exceed budget, then returns them oldest-to-newest.
func (a *Assembler) loadConversationSlice(ctx context.Context, sessionID string, counter *token.Counter, budget int) ([]*model.Message, int, error) {
	all, err := a.store.ListMessages(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.StorageError, "failed to load conversation history", err)
	}

	var kept []*model.Message
	used := 0
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		cost := counter.Count(m.Content)
		if used+cost > budget {
			break
		}
		kept = append(kept, m)
		used += cost
	}
	// kept is newest-first; reverse to oldest-first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, used, nil
}

func rebalanceForLongHistory(budget, historyLength int) int {
	effectiveTurns := historyLength
	if effectiveTurns > maxAdjustmentTurns {
		effectiveTurns = maxAdjustmentTurns
	}
	factor := float64(effectiveTurns-HistoryLengthThreshold) / float64(maxAdjustmentTurns-HistoryLengthThreshold)
	if factor > 1.0 {
		factor = 1.0
	}
	reduction := int(float64(budget) * memoryBlockGrowthRatio * factor)
	return budget - reduction
}

func renderBlocks(blocks []*model.MemoryBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	out := "## Memory\n\n"
	for _, b := range blocks {
		out += "### " + b.Label + "\n" + b.Value + "\n\n"
	}
	return out
}

func renderMemoryResults(results []hierarchical.Result) string {
	if len(results) == 0 {
		return ""
	}
	out := "## Relevant memories\n\n"
	for _, r := range results {
		out += "- (" + string(r.Tier) + ") " + r.Item.Content + "\n"
	}
	return out
}
