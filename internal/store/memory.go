package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps all records in process memory. It backs development
// and tests; production configures PostgreSQL instead.
type InMemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]SessionRecord
	turns        map[string][]TurnRecord
	negotiations map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]SessionRecord),
		turns:        make(map[string][]TurnRecord),
		negotiations: make(map[string]string),
	}
}

func (s *InMemoryStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) Session(ctx context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[rec.SessionID] = append(s.turns[rec.SessionID], rec)
	return nil
}

func (s *InMemoryStore) SessionTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]TurnRecord, len(s.turns[sessionID]))
	copy(turns, s.turns[sessionID])
	return turns, nil
}

func (s *InMemoryStore) NegotiationCompleted(ctx context.Context, negotiationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiations[negotiationID] == "completed", nil
}

// SetNegotiationStatus records negotiation state for completion checks.
func (s *InMemoryStore) SetNegotiationStatus(negotiationID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations[negotiationID] = status
}

func (s *InMemoryStore) Stats(ctx context.Context) (SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats SessionStats
	stats.TotalSessions = len(s.sessions)

	var durationSum, durationCount, turnSum int64
	for _, rec := range s.sessions {
		if rec.State == "ended" {
			stats.EndedSessions++
		}
		turnSum += int64(rec.TurnCount)
		if rec.DurationMS > 0 {
			durationSum += rec.DurationMS
			durationCount++
		}
	}
	for _, turns := range s.turns {
		stats.TotalTurns += len(turns)
	}
	if durationCount > 0 {
		stats.AvgDurationMS = float64(durationSum) / float64(durationCount)
	}
	if stats.TotalSessions > 0 {
		stats.AvgTurnsPerCall = float64(turnSum) / float64(stats.TotalSessions)
	}
	return stats, nil
}

func (s *InMemoryStore) Close() error { return nil }
