package session

import (
	"context"
	"log"
	"time"

	"github.com/parleylabs/parley/internal/convai"
	"github.com/parleylabs/parley/internal/protocol"
)

// dispatch drains the channel's events for the session's lifetime. Handler
// failures are logged and swallowed: one bad event must not end the call.
func (m *Manager) dispatch(sessionID string, ch convai.Channel) {
	for evt := range ch.Events() {
		if err := m.handleEvent(sessionID, ch, evt); err != nil {
			log.Printf("session %s: event %s failed: %v", sessionID, evt.Type, err)
			m.countError(sessionID)
		}
	}
	m.channelClosed(sessionID)
}

func (m *Manager) handleEvent(sessionID string, ch convai.Channel, evt convai.Event) error {
	switch evt.Type {
	case convai.EventInitiationMetadata:
		return m.onMetadata(sessionID, evt)
	case convai.EventAudio:
		return m.onAudio(sessionID, evt)
	case convai.EventUserTranscript:
		return m.onUserTranscript(sessionID, evt)
	case convai.EventAgentResponse:
		return m.onAgentResponse(sessionID, evt)
	case convai.EventPing:
		return ch.Pong(evt.EventID)
	case convai.EventInterruption:
		return m.onInterruption(sessionID, evt)
	default:
		// Unrecognized vendor events are dropped without fuss.
		return nil
	}
}

func (m *Manager) onMetadata(sessionID string, evt convai.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		return nil
	}
	ls.ConversationID = evt.ConversationID
	if evt.AudioFormat != "" {
		ls.audioFormat = evt.AudioFormat
	}
	return nil
}

// onAudio relays character audio to the room. Simulated channels deliver a
// whole utterance at once, which is re-chunked and paced; live channels
// deliver vendor-sized chunks that are forwarded as they arrive.
func (m *Manager) onAudio(sessionID string, evt convai.Event) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return nil
	}
	room := ls.NegotiationID
	character := ls.CharacterName
	mode := ls.Mode
	format := ls.audioFormat
	if format == "" {
		format = "mp3_44100_128"
	}
	ls.State = StateSpeaking
	ls.LastActivityAt = time.Now().UTC()
	wasSpeaking := ls.speaking
	ls.speaking = true
	m.mu.Unlock()

	if mode == convai.ModeSimulated {
		audio, ok := base64Decode(evt.AudioBase64)
		if !ok {
			return nil
		}
		err := m.streamer.StreamAudio(context.Background(), room, sessionID, character, audio, format)
		m.setSpeaking(sessionID, false, false)
		return err
	}

	if !wasSpeaking {
		m.broadcastSpeaking(room, sessionID, character, true)
	}
	m.streamer.StreamEncodedChunk(room, sessionID, evt.AudioBase64, format)
	return nil
}

func (m *Manager) onUserTranscript(sessionID string, evt convai.Event) error {
	now := time.Now().UTC()

	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return nil
	}
	room := ls.NegotiationID
	character := ls.CharacterName
	wasSpeaking := ls.speaking
	ls.speaking = false
	ls.State = StateProcessing
	ls.LastActivityAt = now
	ls.lastUserAt = now
	ls.TurnCount++
	ls.History = append(ls.History, HistoryEntry{Speaker: "user", Text: evt.Transcript, Timestamp: now})
	m.mu.Unlock()

	if wasSpeaking {
		m.broadcastSpeaking(room, sessionID, character, false)
	}
	m.hub.Broadcast(room, protocol.Transcript{
		Type:      protocol.TypeTranscript,
		SessionID: sessionID,
		Speaker:   "user",
		Text:      evt.Transcript,
		IsFinal:   true,
		TSMs:      now.UnixMilli(),
	})
	m.persistTurn(sessionID, "user", evt.Transcript, 0)
	return nil
}

func (m *Manager) onAgentResponse(sessionID string, evt convai.Event) error {
	now := time.Now().UTC()

	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return nil
	}
	room := ls.NegotiationID
	character := ls.CharacterName
	var latencyMS int64
	if !ls.lastUserAt.IsZero() {
		latencyMS = now.Sub(ls.lastUserAt).Milliseconds()
		ls.lastUserAt = time.Time{}
		ls.Metrics.TotalLatencyMS += latencyMS
		ls.Metrics.Turns++
	}
	ls.State = StateSpeaking
	ls.LastActivityAt = now
	ls.History = append(ls.History, HistoryEntry{Speaker: character, Text: evt.Response, Timestamp: now})
	m.mu.Unlock()

	m.hub.Broadcast(room, protocol.Transcript{
		Type:      protocol.TypeTranscript,
		SessionID: sessionID,
		Speaker:   character,
		Text:      evt.Response,
		IsFinal:   true,
		TSMs:      now.UnixMilli(),
	})
	m.persistTurn(sessionID, character, evt.Response, latencyMS)
	return nil
}

// onInterruption returns the session to listening so the user keeps the
// floor, and tells the room to stop playback.
func (m *Manager) onInterruption(sessionID string, evt convai.Event) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return nil
	}
	room := ls.NegotiationID
	character := ls.CharacterName
	wasSpeaking := ls.speaking
	ls.speaking = false
	ls.State = StateListening
	ls.LastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	if wasSpeaking {
		m.broadcastSpeaking(room, sessionID, character, false)
	}
	m.hub.Broadcast(room, protocol.Interruption{
		Type:      protocol.TypeInterruption,
		SessionID: sessionID,
		TSMs:      time.Now().UnixMilli(),
	})
	return nil
}

// setSpeaking clears the speaking flag and optionally broadcasts; used
// after simulated streaming, where the streamer already bracketed the
// status messages itself.
func (m *Manager) setSpeaking(sessionID string, speaking, broadcast bool) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	room := ls.NegotiationID
	character := ls.CharacterName
	ls.speaking = speaking
	if !speaking && ls.State == StateSpeaking {
		ls.State = StateListening
	}
	m.mu.Unlock()

	if broadcast {
		m.broadcastSpeaking(room, sessionID, character, speaking)
	}
}

func (m *Manager) broadcastSpeaking(room, sessionID, characterName string, active bool) {
	m.hub.Broadcast(room, protocol.SpeakingStatus{
		Type:          protocol.TypeSpeakingStatus,
		SessionID:     sessionID,
		CharacterName: characterName,
		IsActive:      active,
		TSMs:          time.Now().UnixMilli(),
	})
}

func (m *Manager) countError(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.sessions[sessionID]; ok {
		ls.Metrics.ErrorCount++
	}
}

// channelClosed runs when the event stream terminates. A live session whose
// vendor channel dies is degraded to simulated mode and keeps going; only
// when that is impossible is the session marked errored and the room told.
func (m *Manager) channelClosed(sessionID string) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return
	}
	mode := ls.Mode
	character := ls.CharacterName
	m.mu.Unlock()

	if mode == convai.ModeLive && m.degradeToSimulated(sessionID, character) {
		return
	}

	m.mu.Lock()
	ls, ok = m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		return
	}
	ls.finished = true
	ls.State = StateError
	ls.Metrics.ErrorCount++
	ls.EndedAt = time.Now().UTC()
	ls.channel = nil
	snap := cloneSession(ls)
	m.mu.Unlock()

	log.Printf("session %s: conversation channel closed unexpectedly", sessionID)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionEvents.WithLabelValues("errored").Inc()
	}
	m.hub.Broadcast(snap.NegotiationID, protocol.SessionError{
		Type:      protocol.TypeSessionError,
		SessionID: sessionID,
		Code:      "channel_closed",
		Detail:    "conversation channel closed unexpectedly",
	})
	m.persist(*snap)
}

// degradeToSimulated swaps a dead live channel for a simulated one so the
// conversation survives a vendor outage.
func (m *Manager) degradeToSimulated(sessionID, characterName string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.initTimeout)
	defer cancel()
	ch, err := m.simDialer.Dial(ctx, characterName)
	if err != nil {
		log.Printf("session %s: degrading to simulated failed: %v", sessionID, err)
		return false
	}

	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok || ls.finished {
		m.mu.Unlock()
		_ = ch.Close()
		return true
	}
	ls.channel = ch
	ls.Mode = convai.ModeSimulated
	ls.State = StateListening
	ls.speaking = false
	ls.audioFormat = ""
	ls.LastActivityAt = time.Now().UTC()
	ls.Metrics.ErrorCount++
	room := ls.NegotiationID
	snap := cloneSession(ls)
	m.mu.Unlock()

	log.Printf("session %s: live channel lost, continuing in simulated mode", sessionID)
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("degraded").Inc()
	}
	m.hub.Broadcast(room, protocol.SessionReady{
		Type:          protocol.TypeSessionReady,
		SessionID:     sessionID,
		CharacterName: characterName,
		State:         string(StateListening),
		Mode:          convai.ModeSimulated,
	})
	m.persist(*snap)

	go m.dispatch(sessionID, ch)
	return true
}
