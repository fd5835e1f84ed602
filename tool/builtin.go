package tool

import (
	"time"

	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/memory/learner"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

// RegisterBuiltins wires the memory-tool and conversation-tool families
// spec §4.8 requires the core to support, against concrete store/engine
// dependencies rather than leaving their schemas unimplemented.
func RegisterBuiltins(r *Registry, s store.Store, mem *hierarchical.Engine, learn *learner.Learner) {
	r.Register(Tool{
		Name:        "core_memory_append",
		Description: "Append text to a named memory block.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"label", "content"},
			"properties": map[string]any{
				"label":   map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
		Timeout:         5 * time.Second,
		SideEffectClass: SideEffectWrite,
		Metadata:        Metadata{Category: CategoryMemory, Tags: []string{"identity"}},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			label := args["label"].(string)
			content := args["content"].(string)
			block, err := s.GetBlock(hctx.Context, hctx.AgentID, label)
			if err != nil {
				block = &model.MemoryBlock{AgentID: hctx.AgentID, Label: label}
			}
			block.Value += content
			if block.LimitChars > 0 && len(block.Value) > block.LimitChars {
				block.Value = block.Value[len(block.Value)-block.LimitChars:]
			}
			if err := s.UpsertBlock(hctx.Context, *block); err != nil {
				return nil, err
			}
			return map[string]any{"label": label, "value": block.Value}, nil
		},
	})

	r.Register(Tool{
		Name:        "core_memory_replace",
		Description: "Replace the full value of a named memory block.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"label", "content"},
			"properties": map[string]any{
				"label":   map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
		Timeout:         5 * time.Second,
		SideEffectClass: SideEffectWrite,
		Metadata:        Metadata{Category: CategoryMemory, Tags: []string{"identity"}},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			label := args["label"].(string)
			content := args["content"].(string)
			block, err := s.GetBlock(hctx.Context, hctx.AgentID, label)
			if err != nil {
				block = &model.MemoryBlock{AgentID: hctx.AgentID, Label: label}
			}
			block.Value = content
			if err := s.UpsertBlock(hctx.Context, *block); err != nil {
				return nil, err
			}
			return map[string]any{"label": label, "value": block.Value}, nil
		},
	})

	r.Register(Tool{
		Name:        "archival_memory_insert",
		Description: "Insert a new long-form memory item routed by importance/category.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"content"},
			"properties": map[string]any{
				"content":    map[string]any{"type": "string"},
				"importance": map[string]any{"type": "number"},
				"category":   map[string]any{"type": "string"},
			},
		},
		Timeout:         10 * time.Second,
		SideEffectClass: SideEffectWrite,
		Metadata:        Metadata{Category: CategoryMemory},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			importance := 5.0
			if v, ok := args["importance"].(float64); ok {
				importance = v
			}
			category := model.CategoryFact
			if v, ok := args["category"].(string); ok && v != "" {
				category = model.Category(v)
			}
			item, err := mem.Store(hctx.Context, hctx.SessionID, model.MemoryItem{
				AgentID:    hctx.AgentID,
				Content:    args["content"].(string),
				Importance: importance,
				Category:   category,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": item.ID, "tier": string(item.Tier)}, nil
		},
	})

	r.Register(Tool{
		Name:        "archival_memory_search",
		Description: "Search long-form memory across all tiers.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"k":     map[string]any{"type": "integer"},
			},
		},
		Timeout:         10 * time.Second,
		SideEffectClass: SideEffectRead,
		Metadata:        Metadata{Category: CategorySearch, Tags: []string{"semantic"}},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			k := 5
			if v, ok := args["k"].(float64); ok && v > 0 {
				k = int(v)
			}
			results, err := mem.Search(hctx.Context, hctx.AgentID, hctx.SessionID, args["query"].(string), nil, k, "")
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(results))
			for _, r := range results {
				out = append(out, map[string]any{"id": r.Item.ID, "tier": string(r.Tier), "content": r.Item.Content, "score": r.Score})
			}
			return out, nil
		},
	})

	r.Register(Tool{
		Name:        "record_feedback",
		Description: "Record helpful/not-helpful/incorrect/outdated/redundant feedback about a memory item.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"item_id", "feedback"},
			"properties": map[string]any{
				"item_id":  map[string]any{"type": "string"},
				"feedback": map[string]any{"type": "string"},
			},
		},
		Timeout:         5 * time.Second,
		SideEffectClass: SideEffectWrite,
		Metadata:        Metadata{Category: CategoryMemory},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			err := learn.ApplyFeedback(hctx.Context, args["item_id"].(string), model.FeedbackKind(args["feedback"].(string)))
			return map[string]any{"ok": err == nil}, err
		},
	})

	r.Register(Tool{
		Name:        "send_message",
		Description: "Send the final reply to the user. Terminal: ends the turn.",
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []string{"content"},
			"properties": map[string]any{
				"content": map[string]any{"type": "string"},
			},
		},
		Timeout:         2 * time.Second,
		SideEffectClass: SideEffectPure,
		Metadata:        Metadata{Category: CategorySystem},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			return map[string]any{"content": args["content"]}, nil
		},
	})

	r.Register(Tool{
		Name:        "request_heartbeat",
		Description: "Keep the reasoning loop alive for one more step without terminating the turn.",
		JSONSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Timeout:         2 * time.Second,
		SideEffectClass: SideEffectPure,
		Metadata:        Metadata{Category: CategorySystem},
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			return map[string]any{"heartbeat": true}, nil
		},
	})
}

// IsTerminal reports whether name ends the reasoning loop's turn on
// successful invocation.
func IsTerminal(name string) bool {
	return name == "send_message"
}
