// Package model defines the core domain types shared across the reasoning
// loop, memory engine, context assembler, and stores (spec §3).
package model

import "time"

// Tier identifies which memory tier an item lives in.
type Tier string

const (
	TierWorking  Tier = "working"
	TierEpisodic Tier = "episodic"
	TierSemantic Tier = "semantic"
)

// Category classifies a memory item's content for retention/attention
// weighting.
type Category string

const (
	CategoryFact             Category = "fact"
	CategoryPreference       Category = "preference"
	CategoryEvent            Category = "event"
	CategoryEmotion          Category = "emotion"
	CategoryInsight          Category = "insight"
	CategoryRelationshipMoment Category = "relationship_moment"
)

// Agent is a named conversational identity.
type Agent struct {
	ID                string
	Name              string
	Description       string
	Active            bool
	CurrentVersionID  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AgentConfig is one immutable, versioned configuration snapshot (spec §3).
type AgentConfig struct {
	VersionID           string
	AgentID             string
	ParentVersion       string // empty for the root version
	Timestamp           time.Time
	ChangeDescription   string
	Model               string
	Temperature         float64
	TopP                float64
	MaxTokens           *int
	ContextWindow       int
	ReasoningEnabled    bool
	MaxReasoningTokens  *int
	SystemPrompt        string
}

// MemoryBlock is a named, mutable, bounded-length identity slot.
type MemoryBlock struct {
	AgentID     string
	Label       string
	Value       string
	LimitChars  int
	Description string
	ReadOnly    bool
	Metadata    map[string]any
}

// MemoryItem is a recalled fact or experience stored in one memory tier.
type MemoryItem struct {
	ID             string
	AgentID        string
	Tier           Tier
	Content        string
	Embedding      []float32
	Importance     float64 // [0, 10]
	Category       Category
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	Metadata       map[string]any
}

// Association is an undirected, weighted edge in the Hebbian memory graph.
type Association struct {
	AID             string
	BID             string
	Strength        float64 // [0, 1]
	LastReinforced  time.Time
}

// Key returns a canonical, order-independent key for this association,
// useful for dedup in maps (spec invariant: (a,b) and (b,a) are one edge).
func (a Association) Key() (string, string) {
	if a.AID <= a.BID {
		return a.AID, a.BID
	}
	return a.BID, a.AID
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageType distinguishes ordinary inbox traffic from injected system
// messages (e.g. summaries).
type MessageType string

const (
	MessageTypeInbox  MessageType = "inbox"
	MessageTypeSystem MessageType = "system"
)

// Message is one append-only entry in a session's conversation log.
type Message struct {
	SessionID      string
	Seq            int64
	Role           Role
	Content        string
	MessageType    MessageType
	ToolCalls      []ToolCall
	Thinking       string
	ReasoningTime  time.Duration
	CreatedAt      time.Time
	// Kind distinguishes a normal assistant message from a terminal-error
	// message (spec §7's "assistant message of kind=error").
	Kind   string
	Reason string
}

// ToolCall is a structured request-and-result pair for one invocation of a
// registered tool within an assistant message.
type ToolCall struct {
	ID         string
	Name       string
	Arguments  map[string]any
	Result     any
	Error      string
	DurationMs int64
}

// UsageRecord is appended once per LLM model call (spec §3).
type UsageRecord struct {
	Timestamp        time.Time
	SessionID        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	Cost             float64
	ToolCallsMade    int
}

// FeedbackKind is the set of feedback signals the Memory Learner accepts
// (spec §4.6).
type FeedbackKind string

const (
	FeedbackHelpful    FeedbackKind = "HELPFUL"
	FeedbackNotHelpful FeedbackKind = "NOT_HELPFUL"
	FeedbackIncorrect  FeedbackKind = "INCORRECT"
	FeedbackOutdated   FeedbackKind = "OUTDATED"
	FeedbackRedundant  FeedbackKind = "REDUNDANT"
)

// RetentionAction is the output of the Retention Gate (spec §4.3).
type RetentionAction string

const (
	ActionBoost       RetentionAction = "BOOST"
	ActionKeep        RetentionAction = "KEEP"
	ActionConsolidate RetentionAction = "CONSOLIDATE"
	ActionDecay       RetentionAction = "DECAY"
	ActionArchive     RetentionAction = "ARCHIVE"
)

// AttentionMode selects the weighting profile used by the Attentional Bias
// scorer (spec §4.4).
type AttentionMode string

const (
	ModeStandard         AttentionMode = "STANDARD"
	ModeSemanticHeavy    AttentionMode = "SEMANTIC_HEAVY"
	ModeTemporalHeavy    AttentionMode = "TEMPORAL_HEAVY"
	ModeImportanceHeavy  AttentionMode = "IMPORTANCE_HEAVY"
	ModeEmotional        AttentionMode = "EMOTIONAL"
)
