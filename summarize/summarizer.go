// Package summarize implements the Summarizer (C13): an LLM-driven
// condensation of a conversation prefix, committed via
// ConversationStore.ReplacePrefixWithSummary. Grounded on the teacher's
// ConversationSummarizer (prompt-build-then-Chat-then-write-separator
// shape), retargeted at the message log instead of block separators.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelai/agentcore/llm"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

// defaultBoundTokens is the target length for a generated summary
// (spec §4.13's "bounded token count (default 1,500)").
const defaultBoundTokens = 1500

const systemPrompt = "You condense conversation history into a compact, faithful summary. " +
	"Preserve names, decisions, open questions, and any commitments made. Do not invent details."

// Summarizer satisfies both reasoning.Summarizer and conversation.Summarizer
// (the two packages declare the same narrow interface independently rather
// than importing each other).
type Summarizer struct {
	store       store.Store
	llm         llm.Service
	boundTokens int
}

func New(s store.Store, svc llm.Service) *Summarizer {
	return &Summarizer{store: s, llm: svc, boundTokens: defaultBoundTokens}
}

// Summarize condenses every message in sessionID with seq <= throughSeq
// into one system-authored summary and atomically replaces that prefix
// with it. On any failure the log is left untouched and the error is
// returned; callers must not treat a failed summarization as a silent
// no-op (spec §4.13).
func (s *Summarizer) Summarize(ctx context.Context, agentID, sessionID string, throughSeq int64) (string, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID, 0, 0)
	if err != nil {
		return "", fmt.Errorf("load messages to summarize: %w", err)
	}

	var prefix []*model.Message
	for _, m := range msgs {
		if m.Seq <= throughSeq {
			prefix = append(prefix, m)
		}
	}
	if len(prefix) == 0 {
		return "", nil
	}

	summary, err := s.generate(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	summaryMsg := model.Message{
		SessionID:   sessionID,
		Role:        model.RoleSystem,
		Content:     summary,
		MessageType: model.MessageTypeSystem,
	}
	if err := s.store.ReplacePrefixWithSummary(ctx, sessionID, throughSeq, summaryMsg); err != nil {
		return "", fmt.Errorf("replace prefix with summary: %w", err)
	}
	return summary, nil
}

func (s *Summarizer) generate(ctx context.Context, prefix []*model.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the conversation below in at most ")
	fmt.Fprintf(&sb, "%d tokens. Focus on durable facts and decisions.\n\n", s.boundTokens)

	for _, m := range prefix {
		content := m.Content
		if len(content) > 2000 {
			content = content[:2000] + "..."
		}
		fmt.Fprintf(&sb, "[%s]: %s\n\n", m.Role, content)
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
	summary, _, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
