package convai

import "testing"

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "initiation metadata",
			raw:  `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv_123","agent_output_audio_format":"mp3_44100_128"}}`,
			want: Event{Type: EventInitiationMetadata, ConversationID: "conv_123", AudioFormat: "mp3_44100_128"},
		},
		{
			name: "audio",
			raw:  `{"type":"audio","audio_event":{"audio_base_64":"QUJD","event_id":7}}`,
			want: Event{Type: EventAudio, AudioBase64: "QUJD", EventID: 7},
		},
		{
			name: "user transcript",
			raw:  `{"type":"user_transcript","user_transcription_event":{"user_transcript":"I want a better price"}}`,
			want: Event{Type: EventUserTranscript, Transcript: "I want a better price"},
		},
		{
			name: "agent response",
			raw:  `{"type":"agent_response","agent_response_event":{"agent_response":"Let's discuss terms."}}`,
			want: Event{Type: EventAgentResponse, Response: "Let's discuss terms."},
		},
		{
			name: "ping",
			raw:  `{"type":"ping","ping_event":{"event_id":42,"ping_ms":120}}`,
			want: Event{Type: EventPing, EventID: 42},
		},
		{
			name: "interruption",
			raw:  `{"type":"interruption","interruption_event":{"event_id":3}}`,
			want: Event{Type: EventInterruption, EventID: 3},
		},
		{
			name: "unrecognized type",
			raw:  `{"type":"vad_score","vad_score_event":{"vad_score":0.9}}`,
			want: Event{Type: EventUnknown},
		},
		{
			name: "malformed json",
			raw:  `{"type":`,
			want: Event{Type: EventUnknown},
		},
		{
			name: "missing event body",
			raw:  `{"type":"audio"}`,
			want: Event{Type: EventAudio},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseEvent([]byte(tt.raw)); got != tt.want {
				t.Fatalf("ParseEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
