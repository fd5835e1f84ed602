// Package reasoning drives one user turn through the bounded state machine
// spec §4.9 describes: ASSEMBLE -> CALL_LLM -> INSPECT -> [TOOL_DISPATCH ->
// APPEND_TOOL_RESULTS -> CALL_LLM]* -> PERSIST -> DONE.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	assembler "github.com/kestrelai/agentcore/context"
	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/internal/token"
	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/memory/hierarchical"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
	"github.com/kestrelai/agentcore/tool"
)

// Summarizer is the narrow C13 contract ASSEMBLE depends on. Defined here
// (rather than imported) so reasoning never depends on the summarize
// package's LLM-prompting details.
type Summarizer interface {
	Summarize(ctx context.Context, agentID, sessionID string, throughSeq int64) (string, error)
}

// Recorder is the narrow metrics.Exporter contract Run reports through;
// declared here rather than imported so reasoning stays free of a
// prometheus dependency. Nil is a valid Loop state (no metrics recorded).
type Recorder interface {
	RecordTurn(agentID string, steps, toolCalls int, duration time.Duration, kind string)
	RecordToolCall(name string, duration time.Duration, success bool)
	RecordLLMCall(model string, duration time.Duration, promptTokens, completionTokens int)
}

// Bounds are the configurable per-turn limits spec §4.9 requires, enforced
// regardless of what the model requests.
type Bounds struct {
	MaxSteps     int
	MaxToolCalls int
	MaxWallTime  time.Duration
	MaxCost      float64
	MaxRetries   int
	LLMTimeout   time.Duration
}

// DefaultBounds matches spec §4.9's table.
func DefaultBounds() Bounds {
	return Bounds{
		MaxSteps:     20,
		MaxToolCalls: 30,
		MaxWallTime:  120 * time.Second,
		MaxCost:      1.00,
		MaxRetries:   3,
		LLMTimeout:   60 * time.Second,
	}
}

// retainedMessagesAfterSummarize is the number of most-recent conversation
// messages (by seq) ASSEMBLE keeps verbatim when triggering summarization; everything
// older is condensed. Not specified by spec.md directly, chosen to match
// HistoryLengthThreshold's rebalancing window in the context package.
const retainedMessagesAfterSummarize = 20

// Loop executes turns against one set of process-scoped dependencies.
type Loop struct {
	assembler  *assembler.Assembler
	llmSvc     llm.Service
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	store      store.Store
	memory     *hierarchical.Engine
	summarizer Summarizer
	bounds     Bounds
	recorder   Recorder

	sem *semaphore.Weighted

	mu                 sync.Mutex
	turnsSinceEpisodic map[string]int
	turnsSinceSemantic map[string]int
	episodicEvery      int
	semanticEvery      int
}

// Config configures a Loop's process-wide behavior.
type Config struct {
	Bounds Bounds
	// MaxConcurrentTurns caps turns in flight across the whole process. Zero
	// means unbounded.
	MaxConcurrentTurns int64
	// EpisodicEvery triggers memory/hierarchical.Engine.Consolidate's
	// working->episodic promotion pass once per agent every N completed
	// turns. Zero disables it. Spec cadence is 10.
	EpisodicEvery int
	// SemanticEvery triggers the episodic->semantic promotion pass once per
	// agent every N completed turns, independent of EpisodicEvery. Zero
	// disables it. Spec cadence is 100.
	SemanticEvery int
}

func New(a *assembler.Assembler, llmSvc llm.Service, reg *tool.Registry, disp *tool.Dispatcher, s store.Store, mem *hierarchical.Engine, summ Summarizer, cfg Config) *Loop {
	bounds := cfg.Bounds
	if bounds.MaxSteps == 0 {
		bounds = DefaultBounds()
	}
	var sem *semaphore.Weighted
	if cfg.MaxConcurrentTurns > 0 {
		sem = semaphore.NewWeighted(cfg.MaxConcurrentTurns)
	}
	return &Loop{
		assembler:          a,
		llmSvc:             llmSvc,
		registry:           reg,
		dispatcher:         disp,
		store:              s,
		memory:             mem,
		summarizer:         summ,
		bounds:             bounds,
		sem:                sem,
		turnsSinceEpisodic: map[string]int{},
		turnsSinceSemantic: map[string]int{},
		episodicEvery:      cfg.EpisodicEvery,
		semanticEvery:      cfg.SemanticEvery,
	}
}

// WithRecorder attaches a metrics recorder. Optional; a nil Loop.recorder
// (the zero value) simply skips reporting.
func (l *Loop) WithRecorder(r Recorder) *Loop {
	l.recorder = r
	return l
}

// TurnRequest carries everything the loop needs for one turn; the caller
// (server layer) is responsible for resolving the agent's current config
// into these fields before calling Run.
type TurnRequest struct {
	AgentID            string
	SessionID          string
	UserMessage        string
	SystemPrompt       string
	Model              string
	MaxTokens          int
	Temperature        float32
	QueryEmbedding     []float32
	AutoSummarize      bool
}

// TurnResult is the outcome of one completed (or bound-terminated) turn.
type TurnResult struct {
	Content       string
	Kind          string // "" on success, "error" on a bound/provider failure
	Reason        string // step_limit, tool_limit, timeout, budget_exceeded, provider_error
	StepCount     int
	ToolCallCount int
	Usage         assembler.Usage
	CostUSD       float64
	DurationMs    int64
}

// Run drives one turn to completion or to a bound violation. It never
// returns an error for a bound violation or a non-retryable provider
// error: those are persisted as a kind=error assistant message and
// reported via TurnResult, per spec §4.9 and §7. Run only returns a Go
// error for failures that prevent persisting anything at all (storage
// unavailable, assembly failure before any LLM call).
func (l *Loop) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.sem.Release(1)
	}

	turnID := uuid.New().String()
	start := time.Now()
	turnCtx, cancel := context.WithTimeout(ctx, l.bounds.MaxWallTime)
	defer cancel()

	if _, err := l.store.AppendMessage(turnCtx, model.Message{
		SessionID: req.SessionID,
		Role:      model.RoleUser,
		Content:   req.UserMessage,
	}); err != nil {
		return nil, apperror.Wrap(apperror.StorageError, "failed to persist user message", err)
	}

	asmResult, err := l.assemble(turnCtx, req)
	if err != nil {
		return nil, err
	}

	messages := toLLMMessages(asmResult.Messages)
	toolDescriptors := l.toolDescriptors()

	result := &TurnResult{Usage: asmResult.Usage}
	var totalCost float64

	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
		result.CostUSD = totalCost
		if l.recorder != nil {
			l.recorder.RecordTurn(req.AgentID, result.StepCount, result.ToolCallCount, time.Since(start), result.Kind)
		}
	}()

	for step := 0; step < l.bounds.MaxSteps; step++ {
		result.StepCount = step + 1

		if turnCtx.Err() != nil {
			l.persistBound(turnCtx, req.SessionID, "timeout")
			result.Kind, result.Reason = "error", "timeout"
			return result, nil
		}

		llmStart := time.Now()
		resp, stats, err := l.callLLMWithRetry(turnCtx, turnID, messages, toolDescriptors)
		if err != nil {
			l.persistError(turnCtx, req.SessionID, err)
			result.Kind, result.Reason = "error", reasonForError(err)
			return result, nil
		}

		if stats != nil {
			if l.recorder != nil {
				l.recorder.RecordLLMCall(req.Model, time.Since(llmStart), stats.PromptTokens, stats.CompletionTokens)
			}
			cost := estimateCost(req.Model, stats.PromptTokens, stats.CompletionTokens)
			totalCost += cost
			_ = l.store.Append(turnCtx, model.UsageRecord{
				Timestamp:        time.Now(),
				SessionID:        req.SessionID,
				Model:            req.Model,
				PromptTokens:     stats.PromptTokens,
				CompletionTokens: stats.CompletionTokens,
				Cost:             cost,
			})
			if totalCost > l.bounds.MaxCost {
				l.persistBound(turnCtx, req.SessionID, "budget_exceeded")
				result.Kind, result.Reason = "error", "budget_exceeded"
				return result, nil
			}
		}

		if len(resp.ToolCalls) == 0 {
			msg, err := l.store.AppendMessage(turnCtx, model.Message{
				SessionID: req.SessionID,
				Role:      model.RoleAssistant,
				Content:   resp.Content,
			})
			if err != nil {
				return nil, apperror.Wrap(apperror.StorageError, "failed to persist assistant message", err)
			}
			result.Content = msg.Content
			l.maybeConsolidate(turnCtx, req)
			return result, nil
		}

		if resp.Content != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
		}

		if _, err := l.store.AppendMessage(turnCtx, model.Message{
			SessionID: req.SessionID,
			Role:      model.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: toModelToolCalls(resp.ToolCalls),
		}); err != nil {
			return nil, apperror.Wrap(apperror.StorageError, "failed to persist assistant tool-call message", err)
		}

		terminal, terminalContent, err := l.dispatchToolCalls(turnCtx, req, &messages, resp.ToolCalls, result)
		if err != nil {
			l.persistError(turnCtx, req.SessionID, err)
			result.Kind, result.Reason = "error", reasonForError(err)
			return result, nil
		}
		if terminal {
			msg, err := l.store.AppendMessage(turnCtx, model.Message{
				SessionID: req.SessionID,
				Role:      model.RoleAssistant,
				Content:   terminalContent,
			})
			if err != nil {
				return nil, apperror.Wrap(apperror.StorageError, "failed to persist assistant message", err)
			}
			result.Content = msg.Content
			l.maybeConsolidate(turnCtx, req)
			return result, nil
		}
	}

	l.persistBound(turnCtx, req.SessionID, "step_limit")
	result.Kind, result.Reason = "error", "step_limit"
	return result, nil
}

// assemble runs C7, re-assembling once after a successful summarization
// trigger (spec §4.9's ASSEMBLE transition).
func (l *Loop) assemble(ctx context.Context, req TurnRequest) (*assembler.Result, error) {
	params := assembler.Params{
		AgentID:            req.AgentID,
		SessionID:          req.SessionID,
		SystemPrompt:       req.SystemPrompt,
		Model:              req.Model,
		MaxTokens:          req.MaxTokens,
		ToolSchemasJSON:    l.toolSchemasJSON(),
		CurrentUserMessage: req.UserMessage,
		QueryEmbedding:     req.QueryEmbedding,
	}

	result, err := l.assembler.Assemble(ctx, params)
	if err != nil {
		return nil, apperror.Wrap(apperror.ContextOverflowFixed, "context assembly failed", err)
	}

	if result.Usage.NeedsSummarization && req.AutoSummarize && l.summarizer != nil {
		lastSeq, err := l.store.LastSeq(ctx, req.SessionID)
		if err == nil {
			throughSeq := lastSeq - retainedMessagesAfterSummarize
			if throughSeq > 0 {
				if _, summErr := l.summarizer.Summarize(ctx, req.AgentID, req.SessionID, throughSeq); summErr != nil {
					slog.Warn("reasoning: summarization failed, proceeding with unsummarized history", "session", req.SessionID, "error", summErr)
				} else {
					result, err = l.assembler.Assemble(ctx, params)
					if err != nil {
						return nil, apperror.Wrap(apperror.ContextOverflowFixed, "context assembly failed after summarization", err)
					}
				}
			}
		}
	}

	return result, nil
}

// callLLMWithRetry implements spec §4.9's CALL_LLM transition: retry
// transient provider errors with exponential backoff up to MaxRetries,
// surface everything else as non-retryable.
func (l *Loop) callLLMWithRetry(ctx context.Context, turnID string, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, *llm.LLMCallStats, error) {
	var lastErr error
	for attempt := 0; attempt <= l.bounds.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.bounds.LLMTimeout)
		resp, stats, err := l.llmSvc.ChatWithTools(callCtx, messages, tools)
		cancel()
		if err == nil {
			return resp, stats, nil
		}
		lastErr = err
		if !apperror.Is(err, apperror.ProviderTransient) || attempt == l.bounds.MaxRetries {
			return nil, nil, err
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		slog.Debug("reasoning: transient LLM error, retrying", "turn", turnID, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, nil, apperror.Wrap(apperror.TurnTimeout, "turn wall time exhausted during retry backoff", ctx.Err())
		}
	}
	return nil, nil, lastErr
}

// dispatchToolCalls executes each requested tool call in order (spec
// §4.9's ordering guarantee), appending a tool-result message per call. It
// returns terminal=true once a terminal tool (e.g. send_message) succeeds.
func (l *Loop) dispatchToolCalls(ctx context.Context, req TurnRequest, messages *[]llm.Message, calls []llm.ToolCall, result *TurnResult) (bool, string, error) {
	for _, tc := range calls {
		result.ToolCallCount++
		if result.ToolCallCount > l.bounds.MaxToolCalls {
			return false, "", apperror.New(apperror.ToolLimit, "max tool calls per turn exceeded")
		}

		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}

		hctx := tool.HandlerContext{Context: ctx, AgentID: req.AgentID, SessionID: req.SessionID}
		toolResult, trace, dispatchErr := l.dispatcher.Dispatch(ctx, hctx, tc.Function.Name, args)

		modelCall := model.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Arguments:  args,
			Result:     toolResult,
			DurationMs: trace.DurationMs,
		}
		resultText := stringifyResult(toolResult)
		if dispatchErr != nil {
			modelCall.Error = dispatchErr.Error()
			resultText = fmt.Sprintf("error: %v", dispatchErr)
		}
		if l.recorder != nil {
			l.recorder.RecordToolCall(tc.Function.Name, time.Duration(trace.DurationMs)*time.Millisecond, dispatchErr == nil)
		}

		if _, err := l.store.AppendMessage(ctx, model.Message{
			SessionID: req.SessionID,
			Role:      model.RoleTool,
			Content:   resultText,
			ToolCalls: []model.ToolCall{modelCall},
		}); err != nil {
			return false, "", apperror.Wrap(apperror.StorageError, "failed to persist tool result", err)
		}

		if dispatchErr == nil && tool.IsTerminal(tc.Function.Name) {
			return true, resultText, nil
		}

		*messages = append(*messages, llm.Message{
			Role:    "tool",
			Content: fmt.Sprintf("[result from %s]: %s", tc.Function.Name, resultText),
		})
	}
	return false, "", nil
}

// maybeConsolidate tracks episodic promotion (every 10 turns) and semantic
// promotion (every 100 turns) as two independent per-agent counters, per
// spec §4.5's "recall-tier refresh every turn; episodic consolidation every
// 10 turns; semantic promotion every 100 turns" cadence table. A turn where
// only one cadence is due still fires Consolidate, with the other promotion
// flag left false.
func (l *Loop) maybeConsolidate(ctx context.Context, req TurnRequest) {
	l.mu.Lock()
	var episodicDue, semanticDue bool
	if l.episodicEvery > 0 {
		l.turnsSinceEpisodic[req.AgentID]++
		if l.turnsSinceEpisodic[req.AgentID] >= l.episodicEvery {
			l.turnsSinceEpisodic[req.AgentID] = 0
			episodicDue = true
		}
	}
	if l.semanticEvery > 0 {
		l.turnsSinceSemantic[req.AgentID]++
		if l.turnsSinceSemantic[req.AgentID] >= l.semanticEvery {
			l.turnsSinceSemantic[req.AgentID] = 0
			semanticDue = true
		}
	}
	l.mu.Unlock()

	if !episodicDue && !semanticDue {
		return
	}
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := l.memory.Consolidate(bgCtx, req.AgentID, episodicDue, semanticDue); err != nil {
			slog.Warn("reasoning: background consolidation failed", "agent", req.AgentID, "episodic", episodicDue, "semantic", semanticDue, "error", err)
		}
	}()
}

func (l *Loop) persistError(ctx context.Context, sessionID string, err error) {
	_, _ = l.store.AppendMessage(ctx, model.Message{
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   err.Error(),
		Kind:      "error",
		Reason:    reasonForError(err),
	})
}

func (l *Loop) persistBound(ctx context.Context, sessionID, reason string) {
	_, _ = l.store.AppendMessage(ctx, model.Message{
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   fmt.Sprintf("turn terminated: %s", reason),
		Kind:      "error",
		Reason:    reason,
	})
}

func (l *Loop) toolDescriptors() []llm.ToolDescriptor {
	names := l.registry.List()
	out := make([]llm.ToolDescriptor, 0, len(names))
	for _, name := range names {
		t, ok := l.registry.Get(name)
		if !ok {
			continue
		}
		schema, _ := json.Marshal(t.JSONSchema)
		out = append(out, llm.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  string(schema),
		})
	}
	return out
}

func (l *Loop) toolSchemasJSON() string {
	descs := l.toolDescriptors()
	b, _ := json.Marshal(descs)
	return string(b)
}

func toLLMMessages(msgs []token.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// toModelToolCalls converts the LLM's requested calls into the persisted
// assistant message's ToolCalls, before any of them have been dispatched
// (Result/Error/DurationMs are filled in later on the tool-role messages
// dispatchToolCalls writes).
func toModelToolCalls(calls []llm.ToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		out[i] = model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args}
	}
	return out
}

func stringifyResult(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func reasonForError(err error) string {
	kind, ok := apperror.Of(err)
	if !ok {
		return "provider_error"
	}
	switch kind {
	case apperror.ToolLimit:
		return "tool_limit"
	case apperror.StepLimit:
		return "step_limit"
	case apperror.TurnTimeout:
		return "timeout"
	case apperror.BudgetExceeded:
		return "budget_exceeded"
	default:
		return "provider_error"
	}
}
