package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"user-audio-chunk","session_id":"s1","seq":3,"audio_base64":"QUJD","ts_ms":123}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(UserAudioChunk)
	if !ok {
		t.Fatalf("parsed type = %T, want UserAudioChunk", parsed)
	}
	if msg.SessionID != "s1" || msg.Seq != 3 {
		t.Fatalf("unexpected fields: %+v", msg)
	}
	if msg.Format != "webm/opus" {
		t.Fatalf("Format = %q, want default webm/opus", msg.Format)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client-control","session_id":"s1","action":"pause"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg := parsed.(ClientControl); msg.Action != "pause" {
		t.Fatalf("Action = %q, want pause", msg.Action)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad json", `{`},
		{"unknown type", `{"type":"mystery"}`},
		{"audio missing session", `{"type":"user-audio-chunk","audio_base64":"QUJD"}`},
		{"audio missing payload", `{"type":"user-audio-chunk","session_id":"s1"}`},
		{"control missing action", `{"type":"client-control","session_id":"s1"}`},
	}
	for _, tc := range cases {
		if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"speaking-status"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestEventNamesAreDashed(t *testing.T) {
	names := map[MessageType]string{
		TypeUserAudioChunk: "user-audio-chunk",
		TypeClientControl:  "client-control",
		TypeSessionReady:   "session-ready",
		TypeAudioChunk:     "audio-chunk",
		TypeTranscript:     "transcript",
		TypeSpeakingStatus: "speaking-status",
		TypeInterruption:   "interruption",
		TypeSessionEnded:   "session-ended",
		TypeSessionError:   "session-error",
	}
	for typ, want := range names {
		if string(typ) != want {
			t.Fatalf("event name = %q, want %q", typ, want)
		}
	}
}

func TestTypeOf(t *testing.T) {
	if typ, ok := TypeOf(SessionReady{Type: TypeSessionReady}); !ok || typ != TypeSessionReady {
		t.Fatalf("TypeOf(SessionReady) = %q, %v", typ, ok)
	}
	if _, ok := TypeOf(42); ok {
		t.Fatalf("TypeOf(int) reported ok")
	}
}
