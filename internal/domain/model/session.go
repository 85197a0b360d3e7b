package model

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxHistory is the number of turns kept at rest for one session.
const DefaultMaxHistory = 20

// ConversationTurn is one message of a session, tagged with its author.
type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// SessionState is the aggregate persisted once per session id.
type SessionState struct {
	SessionID string             `json:"sessionId"`
	History   []ConversationTurn `json:"history"`
	CreatedAt time.Time          `json:"createdAt"`
}

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		History:   make([]ConversationTurn, 0, 2),
		CreatedAt: now,
	}
}

// WithExchange returns a copy of s with the user turn and the assistant turn
// appended and the history cut to the newest maxHistory entries.
// s itself is left untouched so a failed persist never leaks a half-applied state.
func (s *SessionState) WithExchange(userText, assistantText string, maxHistory int) *SessionState {
	next := s.Clone()
	next.History = append(next.History,
		ConversationTurn{Role: RoleUser, Text: userText},
		ConversationTurn{Role: RoleAssistant, Text: assistantText},
	)
	next.History = TruncateHistory(next.History, maxHistory)
	return next
}

func (s *SessionState) Clone() *SessionState {
	cp := *s
	cp.History = make([]ConversationTurn, len(s.History), len(s.History)+2)
	copy(cp.History, s.History)
	return &cp
}

// TruncateHistory keeps the newest n turns in their original order.
func TruncateHistory(history []ConversationTurn, n int) []ConversationTurn {
	if n <= 0 || len(history) <= n {
		return history
	}
	out := make([]ConversationTurn, n)
	copy(out, history[len(history)-n:])
	return out
}
