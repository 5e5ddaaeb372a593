// Package convai speaks the ElevenLabs Conversational AI WebSocket protocol
// and provides a simulated stand-in for when the vendor is unreachable.
package convai

import "encoding/json"

// EventType identifies a conversational event coming off the channel.
type EventType string

const (
	EventInitiationMetadata EventType = "conversation_initiation_metadata"
	EventAudio              EventType = "audio"
	EventUserTranscript     EventType = "user_transcript"
	EventAgentResponse      EventType = "agent_response"
	EventPing               EventType = "ping"
	EventInterruption       EventType = "interruption"
	EventUnknown            EventType = "unknown"
)

// Event is the parsed form of one vendor frame. Only the fields relevant to
// the frame's Type are populated.
type Event struct {
	Type           EventType
	ConversationID string
	AudioFormat    string
	AudioBase64    string
	EventID        int
	Transcript     string
	Response       string
}

// vendorFrame mirrors the wire shape: a type discriminator plus one
// populated sub-object.
type vendorFrame struct {
	Type string `json:"type"`

	InitiationMetadata *struct {
		ConversationID   string `json:"conversation_id"`
		AgentOutputAudio string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	Interruption *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event,omitempty"`
}

// ParseEvent decodes one vendor frame. Frames that fail to parse or carry a
// type we do not handle come back as EventUnknown so the caller can skip
// them without tearing the session down.
func ParseEvent(data []byte) Event {
	var frame vendorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{Type: EventUnknown}
	}

	switch frame.Type {
	case string(EventInitiationMetadata):
		evt := Event{Type: EventInitiationMetadata}
		if frame.InitiationMetadata != nil {
			evt.ConversationID = frame.InitiationMetadata.ConversationID
			evt.AudioFormat = frame.InitiationMetadata.AgentOutputAudio
		}
		return evt
	case string(EventAudio):
		evt := Event{Type: EventAudio}
		if frame.Audio != nil {
			evt.AudioBase64 = frame.Audio.AudioBase64
			evt.EventID = frame.Audio.EventID
		}
		return evt
	case string(EventUserTranscript):
		evt := Event{Type: EventUserTranscript}
		if frame.UserTranscription != nil {
			evt.Transcript = frame.UserTranscription.UserTranscript
		}
		return evt
	case string(EventAgentResponse):
		evt := Event{Type: EventAgentResponse}
		if frame.AgentResponse != nil {
			evt.Response = frame.AgentResponse.AgentResponse
		}
		return evt
	case string(EventPing):
		evt := Event{Type: EventPing}
		if frame.Ping != nil {
			evt.EventID = frame.Ping.EventID
		}
		return evt
	case string(EventInterruption):
		evt := Event{Type: EventInterruption}
		if frame.Interruption != nil {
			evt.EventID = frame.Interruption.EventID
		}
		return evt
	default:
		return Event{Type: EventUnknown}
	}
}

// Outbound frame shapes.

type userAudioFrame struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongFrame struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}
