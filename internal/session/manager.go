package session

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/assessment"
	"github.com/parleylabs/parley/internal/convai"
	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/protocol"
	"github.com/parleylabs/parley/internal/relay"
	"github.com/parleylabs/parley/internal/store"
)

// assessmentMinTurns gates the hand-off: very short calls carry too little
// signal to score.
const assessmentMinTurns = 2

// liveSession is the manager's internal record: the public snapshot plus
// the channel and dispatch bookkeeping.
type liveSession struct {
	Session

	channel     convai.Channel
	audioFormat string
	speaking    bool
	lastUserAt  time.Time
	finished    bool
}

// ManagerConfig wires a Manager. LiveDialer may be nil, in which case every
// session runs simulated. Store, Hub, and Streamer are required.
type ManagerConfig struct {
	LiveDialer      convai.Dialer
	SimulatedDialer convai.Dialer
	Hub             *relay.Hub
	Streamer        *relay.Streamer
	Store           store.Store
	Assessments     *assessment.Queue
	Metrics         *observability.Metrics

	InactivityTimeout time.Duration
	InitTimeout       time.Duration
}

// Manager owns all live sessions. A session is created against a character,
// attached to its negotiation room, and driven by the event loop until it
// ends, errors, or expires.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession

	liveDialer convai.Dialer
	simDialer  convai.Dialer
	hub        *relay.Hub
	streamer   *relay.Streamer
	store      store.Store
	queue      *assessment.Queue
	metrics    *observability.Metrics

	inactivityTimeout time.Duration
	initTimeout       time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	return &Manager{
		sessions:          make(map[string]*liveSession),
		liveDialer:        cfg.LiveDialer,
		simDialer:         cfg.SimulatedDialer,
		hub:               cfg.Hub,
		streamer:          cfg.Streamer,
		store:             cfg.Store,
		queue:             cfg.Assessments,
		metrics:           cfg.Metrics,
		inactivityTimeout: cfg.InactivityTimeout,
		initTimeout:       cfg.InitTimeout,
	}
}

// StartRequest describes a new session. SessionID may be supplied by the
// caller; a fresh id is minted when it is empty.
type StartRequest struct {
	SessionID     string
	NegotiationID string
	CharacterName string
}

// Start creates a session for the character and opens its conversation
// channel, preferring the live vendor and falling back to the simulated
// channel when the vendor cannot be reached.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	m.mu.Unlock()

	negotiationID, characterName := req.NegotiationID, req.CharacterName
	ch, err := m.openChannel(ctx, characterName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ls := &liveSession{
		Session: Session{
			ID:             id,
			NegotiationID:  negotiationID,
			CharacterName:  characterName,
			Mode:           ch.Mode(),
			State:          StateListening,
			StartedAt:      now,
			LastActivityAt: now,
		},
		channel: ch,
	}

	m.mu.Lock()
	if _, exists := m.sessions[ls.ID]; exists {
		m.mu.Unlock()
		_ = ch.Close()
		return nil, ErrAlreadyExists
	}
	m.sessions[ls.ID] = ls
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
		m.metrics.SessionEvents.WithLabelValues("started").Inc()
	}
	m.persist(ls.Session)

	m.hub.Broadcast(negotiationID, protocol.SessionReady{
		Type:          protocol.TypeSessionReady,
		SessionID:     ls.ID,
		CharacterName: characterName,
		State:         string(StateListening),
		Mode:          ch.Mode(),
	})

	go m.dispatch(ls.ID, ch)

	log.Printf("session %s started for %s in negotiation %s (%s mode)",
		ls.ID, characterName, negotiationID, ch.Mode())
	return cloneSession(ls), nil
}

func (m *Manager) openChannel(ctx context.Context, characterName string) (convai.Channel, error) {
	if m.liveDialer != nil {
		dialCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
		ch, err := m.liveDialer.Dial(dialCtx, characterName)
		cancel()
		if err == nil {
			return ch, nil
		}
		log.Printf("live channel unavailable for %s, falling back to simulated: %v", characterName, err)
	}
	return m.simDialer.Dial(ctx, characterName)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(ls), nil
}

// SendUserAudio forwards one chunk of user audio to the session's channel.
func (m *Manager) SendUserAudio(ctx context.Context, sessionID, audioBase64 string) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if ls.finished {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	if ls.State == StatePaused {
		m.mu.Unlock()
		return ErrSessionPaused
	}
	ch := ls.channel
	ls.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	if ch == nil {
		return ErrChannelUnavailable
	}
	return ch.SendAudio(ctx, audioBase64)
}

// Pause suspends audio intake without tearing the channel down.
func (m *Manager) Pause(sessionID string) error {
	return m.transition(sessionID, StatePaused, "paused", func(s State) bool {
		return s != StatePaused
	})
}

// Resume re-opens a paused session for audio.
func (m *Manager) Resume(sessionID string) error {
	return m.transition(sessionID, StateListening, "resumed", func(s State) bool {
		return s == StatePaused
	})
}

func (m *Manager) transition(sessionID string, to State, event string, allowed func(State) bool) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if ls.finished {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	if !allowed(ls.State) {
		m.mu.Unlock()
		return nil
	}
	ls.State = to
	ls.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
	return nil
}

// End terminates the session: the channel is closed, the final summary is
// broadcast once, the record is persisted, and the session is handed off
// for assessment when it qualifies. Ending an already-finished session
// returns its snapshot without side effects.
func (m *Manager) End(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if ls.finished {
		snap := cloneSession(ls)
		m.mu.Unlock()
		return snap, nil
	}
	ls.finished = true
	ls.State = StateEnded
	ls.EndedAt = time.Now().UTC()
	ls.LastActivityAt = ls.EndedAt
	ch := ls.channel
	ls.channel = nil
	snap := cloneSession(ls)
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	m.hub.Broadcast(snap.NegotiationID, protocol.SessionEnded{
		Type:       protocol.TypeSessionEnded,
		SessionID:  snap.ID,
		DurationMS: snap.DurationMS(snap.EndedAt),
		TurnCount:  snap.TurnCount,
		Metrics: protocol.SessionMetrics{
			ErrorCount:   snap.Metrics.ErrorCount,
			TotalLatency: snap.Metrics.TotalLatencyMS,
			AvgLatency:   snap.AvgLatencyMS(),
		},
	})

	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	m.persist(*snap)
	m.maybeAssess(ctx, snap)

	log.Printf("session %s ended after %d turns", snap.ID, snap.TurnCount)
	return snap, nil
}

// maybeAssess hands the finished session off for scoring. Every failure
// here is logged and swallowed: assessment never blocks teardown.
func (m *Manager) maybeAssess(ctx context.Context, snap *Session) {
	if m.queue == nil || snap.TurnCount <= assessmentMinTurns {
		return
	}
	completed, err := m.store.NegotiationCompleted(ctx, snap.NegotiationID)
	if err != nil {
		log.Printf("session %s: negotiation completion check failed: %v", snap.ID, err)
		return
	}
	if !completed {
		return
	}
	turns, err := m.store.SessionTurns(ctx, snap.ID)
	if err != nil {
		log.Printf("session %s: loading turns for assessment failed: %v", snap.ID, err)
	}
	m.queue.Enqueue(assessment.Job{
		SessionID:     snap.ID,
		NegotiationID: snap.NegotiationID,
		CharacterName: snap.CharacterName,
		TurnCount:     snap.TurnCount,
		DurationMS:    snap.DurationMS(snap.EndedAt),
		Turns:         turns,
	})
}

// ActiveCount reports sessions that have not finished.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, ls := range m.sessions {
		if !ls.finished {
			count++
		}
	}
	return count
}

// StartJanitor ends sessions with no activity for the inactivity timeout
// and evicts finished sessions from the map.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	now := time.Now().UTC()
	var expired, evict []string

	m.mu.RLock()
	for id, ls := range m.sessions {
		if ls.finished {
			if now.Sub(ls.LastActivityAt) > m.inactivityTimeout {
				evict = append(evict, id)
			}
			continue
		}
		if now.Sub(ls.LastActivityAt) > m.inactivityTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		log.Printf("session %s expired after inactivity", id)
		if m.metrics != nil {
			m.metrics.SessionEvents.WithLabelValues("expired").Inc()
		}
		if _, err := m.End(ctx, id); err != nil {
			log.Printf("session %s: expire failed: %v", id, err)
		}
	}

	if len(evict) > 0 {
		m.mu.Lock()
		for _, id := range evict {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) persist(snap Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveSession(ctx, sessionRecord(snap)); err != nil {
		log.Printf("session %s: persist failed: %v", snap.ID, err)
	}
}

func (m *Manager) persistTurn(sessionID, speaker, text string, latencyMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.store.SaveTurn(ctx, store.TurnRecord{
		SessionID: sessionID,
		Speaker:   speaker,
		Text:      text,
		LatencyMS: latencyMS,
	})
	if err != nil {
		log.Printf("session %s: persist turn failed: %v", sessionID, err)
	}
}

func sessionRecord(s Session) store.SessionRecord {
	return store.SessionRecord{
		ID:             s.ID,
		NegotiationID:  s.NegotiationID,
		CharacterName:  s.CharacterName,
		Mode:           s.Mode,
		State:          string(s.State),
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		TurnCount:      s.TurnCount,
		ErrorCount:     s.Metrics.ErrorCount,
		TotalLatencyMS: s.Metrics.TotalLatencyMS,
		DurationMS:     s.durationForRecord(),
	}
}

func (s Session) durationForRecord() int64 {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.DurationMS(s.EndedAt)
}

func cloneSession(ls *liveSession) *Session {
	c := ls.Session
	c.History = append([]HistoryEntry(nil), ls.History...)
	return &c
}

func base64Decode(s string) ([]byte, bool) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return data, true
}
