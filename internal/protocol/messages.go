package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the room transport.
type MessageType string

const (
	TypeUserAudioChunk MessageType = "user-audio-chunk"
	TypeClientControl  MessageType = "client-control"

	TypeSessionReady   MessageType = "session-ready"
	TypeAudioChunk     MessageType = "audio-chunk"
	TypeTranscript     MessageType = "transcript"
	TypeSpeakingStatus MessageType = "speaking-status"
	TypeInterruption   MessageType = "interruption"
	TypeSessionEnded   MessageType = "session-ended"
	TypeSessionError   MessageType = "session-error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserAudioChunk carries microphone audio captured by the client.
type UserAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
	Format      string      `json:"format"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl carries pause/resume/end requests from the client.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// SessionReady announces a session reaching the listening state.
type SessionReady struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	CharacterName string      `json:"character_name"`
	State         string      `json:"state"`
	Mode          string      `json:"mode"`
}

// AudioChunk carries one slice of synthesized character audio.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioBase64 string      `json:"audio_base64"`
	Format      string      `json:"format"`
	ChunkIndex  int         `json:"chunk_index"`
	TotalChunks int         `json:"total_chunks"`
	TSMs        int64       `json:"ts_ms"`
}

// Transcript carries user or character speech text.
type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
	TSMs      int64       `json:"ts_ms"`
}

// SpeakingStatus brackets a character utterance.
type SpeakingStatus struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	CharacterName string      `json:"character_name"`
	IsActive      bool        `json:"is_active"`
	TSMs          int64       `json:"ts_ms"`
}

// Interruption notifies that the character was cut off mid-utterance.
type Interruption struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

// SessionEnded carries the final session summary.
type SessionEnded struct {
	Type       MessageType    `json:"type"`
	SessionID  string         `json:"session_id"`
	DurationMS int64          `json:"duration_ms"`
	TurnCount  int            `json:"turn_count"`
	Metrics    SessionMetrics `json:"metrics"`
}

// SessionMetrics summarizes a session for the ended broadcast.
type SessionMetrics struct {
	ErrorCount   int     `json:"error_count"`
	TotalLatency int64   `json:"total_latency_ms"`
	AvgLatency   float64 `json:"avg_latency_ms"`
}

// SessionError reports a session-scoped failure to the room.
type SessionError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound client payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserAudioChunk:
		var msg UserAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid user-audio-chunk")
		}
		if msg.Format == "" {
			msg.Format = "webm/opus"
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client-control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of an outbound or parsed payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case UserAudioChunk:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case SessionReady:
		return m.Type, true
	case AudioChunk:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case SpeakingStatus:
		return m.Type, true
	case Interruption:
		return m.Type, true
	case SessionEnded:
		return m.Type, true
	case SessionError:
		return m.Type, true
	default:
		return "", false
	}
}
