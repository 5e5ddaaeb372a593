// Package store persists voice sessions and their conversation turns.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// SessionRecord is the durable row for one voice session.
type SessionRecord struct {
	ID             string
	NegotiationID  string
	CharacterName  string
	Mode           string
	State          string
	StartedAt      time.Time
	EndedAt        time.Time
	TurnCount      int
	ErrorCount     int
	TotalLatencyMS int64
	DurationMS     int64
}

// TurnRecord is one utterance, user or character, inside a session.
type TurnRecord struct {
	ID        string
	SessionID string
	Speaker   string
	Text      string
	LatencyMS int64
	CreatedAt time.Time
}

// SessionStats aggregates persisted sessions for the analytics surface.
type SessionStats struct {
	TotalSessions   int     `json:"total_sessions"`
	EndedSessions   int     `json:"ended_sessions"`
	TotalTurns      int     `json:"total_turns"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	AvgTurnsPerCall float64 `json:"avg_turns_per_session"`
}

// Store persists sessions, turns, and negotiation state. Sessions are
// upserted so intermediate saves and the final end-of-session save use the
// same path.
type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	Session(ctx context.Context, id string) (SessionRecord, error)
	SaveTurn(ctx context.Context, rec TurnRecord) error
	SessionTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	NegotiationCompleted(ctx context.Context, negotiationID string) (bool, error)
	Stats(ctx context.Context) (SessionStats, error)
	Close() error
}
