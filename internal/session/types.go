// Package session owns the lifecycle of conversational voice sessions: one
// session per character conversation, fed by a convai channel and relayed
// to its negotiation room.
package session

import (
	"errors"
	"time"
)

// State is the session lifecycle position.
type State string

const (
	StateInitializing State = "initializing"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateProcessing   State = "processing"
	StatePaused       State = "paused"
	StateEnded        State = "ended"
	StateError        State = "error"
)

var (
	ErrNotFound           = errors.New("session not found")
	ErrAlreadyExists      = errors.New("session id already in use")
	ErrSessionEnded       = errors.New("session has ended")
	ErrSessionPaused      = errors.New("session is paused")
	ErrChannelUnavailable = errors.New("conversation channel unavailable")
)

// HistoryEntry is one utterance kept in the in-memory transcript.
type HistoryEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics accumulates per-session quality counters.
type Metrics struct {
	ErrorCount     int   `json:"error_count"`
	TotalLatencyMS int64 `json:"total_latency_ms"`
	Turns          int   `json:"turns"`
}

// Session is the public snapshot of one conversation.
type Session struct {
	ID             string         `json:"session_id"`
	NegotiationID  string         `json:"negotiation_id"`
	CharacterName  string         `json:"character_name"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Mode           string         `json:"mode"`
	State          State          `json:"state"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	EndedAt        time.Time      `json:"ended_at,omitempty"`
	TurnCount      int            `json:"turn_count"`
	History        []HistoryEntry `json:"history,omitempty"`
	Metrics        Metrics        `json:"metrics"`
}

// DurationMS reports the session length, using now for sessions that have
// not ended yet.
func (s *Session) DurationMS(now time.Time) int64 {
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt).Milliseconds()
}

// AvgLatencyMS is the mean user-to-character response latency.
func (s *Session) AvgLatencyMS() float64 {
	if s.Metrics.Turns == 0 {
		return 0
	}
	return float64(s.Metrics.TotalLatencyMS) / float64(s.Metrics.Turns)
}
