// Package models defines the core data structures for the intake bot.
//
// It includes the conversation context shared across modules, the
// interpretation result produced by the AI conversation layer, and the
// standard API response envelopes.
package models

import (
	"errors"
	"time"
)

// StateID identifies a state of the questionnaire flow.
type StateID string

// Questionnaire states, in canonical order.
const (
	StateNome             StateID = "NOME"
	StateCognome          StateID = "COGNOME"
	StateEmail            StateID = "EMAIL"
	StateTelefono         StateID = "TELEFONO"
	StateModalita         StateID = "MODALITA"
	StateSesso            StateID = "SESSO"
	StateLuogoNascita     StateID = "LUOGO_NASCITA"
	StateProvinciaNascita StateID = "PROVINCIA_NASCITA"
	StateDataNascita      StateID = "DATA_NASCITA"
	StateR1               StateID = "R1"
	StateR2               StateID = "R2"
	StateR3               StateID = "R3"
	StateR4               StateID = "R4"
	StateR5               StateID = "R5"
	StateR6               StateID = "R6"
	StateR7               StateID = "R7"
	StateR8               StateID = "R8"
	StateR9               StateID = "R9"
	StateR10              StateID = "R10"
	StateR11              StateID = "R11"
	StateR12              StateID = "R12"
	StateR13              StateID = "R13"
	StateR14              StateID = "R14"
	StateR15              StateID = "R15"
	StateR16              StateID = "R16"
	StateR17              StateID = "R17"
	StateRiepilogo        StateID = "RIEPILOGO"
	StateConfermaFinale   StateID = "CONFERMA_FINALE"
	StateFine             StateID = "FINE"
)

// DataKey identifies a questionnaire field in the conversation data map.
// The key set is extensible per flow version, so it stays a string type
// rather than a closed enum.
type DataKey string

// Known field keys.
const (
	KeyNome             DataKey = "nome"
	KeyCognome          DataKey = "cognome"
	KeyEmail            DataKey = "email"
	KeyTelefono         DataKey = "telefono"
	KeyModalita         DataKey = "modalita"
	KeySesso            DataKey = "sesso"
	KeyLuogoNascita     DataKey = "luogoNascita"
	KeyProvinciaNascita DataKey = "provinciaNascita"
	KeyDataNascita      DataKey = "dataNascita"
	KeyRiepilogo        DataKey = "riepilogo"
	KeyConfermaFinale   DataKey = "confermaFinale"
)

// Sender identifies who produced a history entry.
type Sender string

const (
	// SenderUser marks entries written by the participant.
	SenderUser Sender = "user"
	// SenderBot marks entries written by the assistant.
	SenderBot Sender = "bot"
)

// HistoryEntry is one chat bubble in a conversation, user or bot.
type HistoryEntry struct {
	From Sender `json:"from"`
	Text string `json:"text"`
}

// AnswerRecord holds a validated questionnaire answer: the user's raw text
// and its canonicalized form. Once a key is set, Normalized is always the
// validated value, never raw input.
type AnswerRecord struct {
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
}

// FlowVersion tags contexts with the questionnaire schema they were created
// under. The core never interprets it; it exists for forward migrations.
const FlowVersion = "v1.0"

// ConversationContext is the full state of one intake session.
type ConversationContext struct {
	SessionID    string                   `json:"sessionId"`
	CurrentState StateID                  `json:"currentState"`
	Data         map[DataKey]AnswerRecord `json:"data"`
	History      []HistoryEntry           `json:"history"`
	FlowVersion  string                   `json:"flowVersion"`
	UpdatedAt    time.Time                `json:"updatedAt,omitempty"`
}

// NewConversationContext creates an empty context positioned at the initial
// questionnaire state.
func NewConversationContext(sessionID string) *ConversationContext {
	return &ConversationContext{
		SessionID:    sessionID,
		CurrentState: StateNome,
		Data:         make(map[DataKey]AnswerRecord),
		History:      []HistoryEntry{},
		FlowVersion:  FlowVersion,
	}
}

// Clone returns a deep copy of the context. Background readers, the
// session cache included, work on clones so an in-flight turn can keep
// mutating the live session.
func (c *ConversationContext) Clone() *ConversationContext {
	out := *c
	out.Data = make(map[DataKey]AnswerRecord, len(c.Data))
	for k, v := range c.Data {
		out.Data[k] = v
	}
	out.History = append([]HistoryEntry{}, c.History...)
	return &out
}

// AppendUser appends a user message to the conversation history.
func (c *ConversationContext) AppendUser(text string) {
	c.History = append(c.History, HistoryEntry{From: SenderUser, Text: text})
}

// AppendBot appends a bot message to the conversation history.
func (c *ConversationContext) AppendBot(text string) {
	c.History = append(c.History, HistoryEntry{From: SenderBot, Text: text})
}

// Answer returns the stored record for a field, if present.
func (c *ConversationContext) Answer(key DataKey) (AnswerRecord, bool) {
	rec, ok := c.Data[key]
	return rec, ok
}

// SetAnswer stores a validated answer under the given field key.
func (c *ConversationContext) SetAnswer(key DataKey, original, normalized string) {
	if c.Data == nil {
		c.Data = make(map[DataKey]AnswerRecord)
	}
	c.Data[key] = AnswerRecord{Original: original, Normalized: normalized}
}

// Normalized returns the canonical value for a field, or "" when unset.
func (c *ConversationContext) Normalized(key DataKey) string {
	return c.Data[key].Normalized
}

// Email returns the participant's normalized email, the durable identity key
// used for session resumption.
func (c *ConversationContext) Email() string {
	return c.Normalized(KeyEmail)
}

// RecentHistory returns the last n history entries.
func (c *ConversationContext) RecentHistory(n int) []HistoryEntry {
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// TurnResult is the outcome of one conversation turn: the ordered bot
// messages to display and whether the questionnaire is complete.
type TurnResult struct {
	BotMessages []string `json:"botMessages"`
	Done        bool     `json:"done"`
}

// InterpretationKind tags how the AI layer classified a user message.
type InterpretationKind string

const (
	// KindAnswer indicates the user is answering the current question.
	KindAnswer InterpretationKind = "answer"
	// KindFaq indicates the user asked a contextual question instead.
	KindFaq InterpretationKind = "faq"
)

// IsValidInterpretationKind checks whether the tag is one of the two allowed
// variants.
func IsValidInterpretationKind(k InterpretationKind) bool {
	return k == KindAnswer || k == KindFaq
}

// Interpretation is the structured judgment of a user message relative to
// the current question. Ephemeral: only its effects are persisted.
type Interpretation struct {
	Kind              InterpretationKind `json:"kind"`
	BotReply          string             `json:"botReply"`
	InterpretedAnswer string             `json:"interpretedAnswer"` // "" when none
	Advance           bool               `json:"advance"`
}

// Error variables shared across modules.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrEmptyMessage       = errors.New("user message cannot be empty")
	ErrInvalidPayload     = errors.New("model returned an invalid payload")
	ErrBreakerOpen        = errors.New("circuit breaker is open: AI service temporarily unavailable")
	ErrUnknownState       = errors.New("context references an unknown flow state")
	ErrStoreNotConfigured = errors.New("session store not configured")
)

// GuardrailConfidence expresses how sure the rule-based guardrail is about
// its classification.
type GuardrailConfidence string

const (
	ConfidenceHigh   GuardrailConfidence = "high"
	ConfidenceMedium GuardrailConfidence = "medium"
	ConfidenceLow    GuardrailConfidence = "low"
)

// GuardrailResult is the pure, total classification of a user message.
type GuardrailResult struct {
	InContext  bool
	Confidence GuardrailConfidence
	Reason     string
}

// SessionStats summarizes stored sessions for the admin endpoints.
type SessionStats struct {
	Total      int             `json:"total"`
	ByState    map[StateID]int `json:"byState"`
	Completed  int             `json:"completed"`
	InProgress int             `json:"inProgress"`
}
