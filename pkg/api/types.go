package api

import "time"

// SessionState is the approval state of a session.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateAwaitingApproval SessionState = "awaiting_approval"
	StateExecuting        SessionState = "executing"
	StateCompleted        SessionState = "completed"
)

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageKind tells renderers how to display a message.
type MessageKind string

const (
	MessageKindText        MessageKind = "text"
	MessageKindThought     MessageKind = "thought"
	MessageKindCode        MessageKind = "code"
	MessageKindOutcome     MessageKind = "outcome"
	MessageKindCancelled   MessageKind = "cancelled"
	MessageKindFinalAnswer MessageKind = "final_answer"
	MessageKindError       MessageKind = "error"
)

// Message is one entry of a session transcript.
type Message struct {
	ID        string            `json:"id"`
	Role      MessageRole       `json:"role"`
	Kind      MessageKind       `json:"kind"`
	Text      string            `json:"text,omitempty"`
	Outcome   *ExecutionOutcome `json:"outcome,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(role MessageRole, kind MessageKind, text string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Proposal is code the reasoning loop wants to run. It exists only while
// its session is awaiting approval.
type Proposal struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LLMConfig is the model configuration the reasoning loop uses for a session.
type LLMConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// FeedbackVote is the human's rating of a completed task.
type FeedbackVote string

const (
	FeedbackNone FeedbackVote = "none"
	FeedbackUp   FeedbackVote = "up"
	FeedbackDown FeedbackVote = "down"
)

// StepKind classifies an agent step.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepFinalAnswer StepKind = "final_answer"
)

// AgentStep is one event of the reasoning loop during a task.
type AgentStep struct {
	Kind      StepKind  `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation thread. Values returned by the session store
// are snapshots; mutating them has no effect on the stored session.
type Session struct {
	ID              string            `json:"id"`
	DisplayName     string            `json:"display_name"`
	CreatedAt       time.Time         `json:"created_at"`
	State           SessionState      `json:"state"`
	Messages        []Message         `json:"messages"`
	PendingProposal *Proposal         `json:"pending_proposal,omitempty"`
	LLMConfig       LLMConfig         `json:"llm_config"`
	LastOutcome     *ExecutionOutcome `json:"last_outcome,omitempty"`
	LastMetrics     *ExecutionMetrics `json:"last_metrics,omitempty"`
	Feedback        FeedbackVote      `json:"feedback"`
	ExecutionCount  int               `json:"execution_count"`

	// TaskStartedAt is set when a prompt starts a task and cleared when
	// the task's final answer is recorded.
	TaskStartedAt *time.Time `json:"task_started_at,omitempty"`

	// ProcessingSeconds is the prompt-to-final-answer time of the last task.
	ProcessingSeconds float64 `json:"processing_seconds,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.PendingProposal != nil {
		p := *s.PendingProposal
		c.PendingProposal = &p
	}
	if s.LastMetrics != nil {
		m := *s.LastMetrics
		c.LastMetrics = &m
	}
	if s.TaskStartedAt != nil {
		t := *s.TaskStartedAt
		c.TaskStartedAt = &t
	}
	// Outcomes are immutable once produced and can be shared.
	return &c
}
