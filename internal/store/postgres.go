package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			negotiation_id TEXT NOT NULL,
			character_name TEXT NOT NULL,
			mode TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			turn_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			total_latency_ms BIGINT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_negotiation ON voice_sessions (negotiation_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS voice_conversation_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES voice_sessions(id),
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_turns_session ON voice_conversation_turns (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS negotiations (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active'
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	var endedAt *time.Time
	if !rec.EndedAt.IsZero() {
		endedAt = &rec.EndedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_sessions
			(id, negotiation_id, character_name, mode, state, started_at, ended_at, turn_count, error_count, total_latency_ms, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			mode = EXCLUDED.mode,
			ended_at = EXCLUDED.ended_at,
			turn_count = EXCLUDED.turn_count,
			error_count = EXCLUDED.error_count,
			total_latency_ms = EXCLUDED.total_latency_ms,
			duration_ms = EXCLUDED.duration_ms`,
		rec.ID,
		rec.NegotiationID,
		rec.CharacterName,
		rec.Mode,
		rec.State,
		rec.StartedAt,
		endedAt,
		rec.TurnCount,
		rec.ErrorCount,
		rec.TotalLatencyMS,
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Session(ctx context.Context, id string) (SessionRecord, error) {
	var (
		rec     SessionRecord
		endedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, negotiation_id, character_name, mode, state, started_at, ended_at, turn_count, error_count, total_latency_ms, duration_ms
		 FROM voice_sessions WHERE id=$1`,
		id,
	).Scan(&rec.ID, &rec.NegotiationID, &rec.CharacterName, &rec.Mode, &rec.State,
		&rec.StartedAt, &endedAt, &rec.TurnCount, &rec.ErrorCount, &rec.TotalLatencyMS, &rec.DurationMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("query session: %w", err)
	}
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	return rec, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_conversation_turns (id, session_id, speaker, text, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID,
		rec.SessionID,
		rec.Speaker,
		rec.Text,
		rec.LatencyMS,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) SessionTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, speaker, text, latency_ms, created_at
		 FROM voice_conversation_turns WHERE session_id=$1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Speaker, &r.Text, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

// NegotiationCompleted reports whether the owning negotiation has been
// marked completed. Missing negotiations count as not completed.
func (s *PostgresStore) NegotiationCompleted(ctx context.Context, negotiationID string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM negotiations WHERE id=$1`, negotiationID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query negotiation: %w", err)
	}
	return status == "completed", nil
}

func (s *PostgresStore) Stats(ctx context.Context) (SessionStats, error) {
	var stats SessionStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
			count(*) FILTER (WHERE state = 'ended'),
			COALESCE(sum(turn_count), 0),
			COALESCE(avg(duration_ms) FILTER (WHERE duration_ms > 0), 0),
			COALESCE(avg(turn_count), 0)
		 FROM voice_sessions`,
	).Scan(&stats.TotalSessions, &stats.EndedSessions, &stats.TotalTurns,
		&stats.AvgDurationMS, &stats.AvgTurnsPerCall)
	if err != nil {
		return SessionStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
