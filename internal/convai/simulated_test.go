package convai

import (
	"context"
	"testing"
	"time"

	"github.com/parleylabs/parley/internal/voice"
)

func dialSimulated(t *testing.T, synth SynthFunc) Channel {
	t.Helper()
	d := NewSimulatedDialer(voice.NewProfileRegistry(), synth)
	d.SetTurnDebounce(10 * time.Millisecond)
	ch, err := d.Dial(context.Background(), "Sarah Chen")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch Channel) Event {
	t.Helper()
	select {
	case evt, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSimulatedChannelGreets(t *testing.T) {
	ch := dialSimulated(t, nil)

	meta := nextEvent(t, ch)
	if meta.Type != EventInitiationMetadata || meta.ConversationID == "" {
		t.Fatalf("first event = %+v, want initiation metadata", meta)
	}
	greeting := nextEvent(t, ch)
	if greeting.Type != EventAgentResponse || greeting.Response == "" {
		t.Fatalf("second event = %+v, want agent greeting", greeting)
	}
	if ch.Mode() != ModeSimulated {
		t.Fatalf("mode = %s", ch.Mode())
	}
}

func TestSimulatedChannelAnswersUserTurn(t *testing.T) {
	synthCalls := 0
	ch := dialSimulated(t, func(ctx context.Context, characterName, text string) ([]byte, error) {
		synthCalls++
		return []byte("audio for " + text), nil
	})

	// metadata, greeting text, greeting audio
	nextEvent(t, ch)
	nextEvent(t, ch)
	nextEvent(t, ch)

	for i := 0; i < 3; i++ {
		if err := ch.SendAudio(context.Background(), "QUJD"); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	transcript := nextEvent(t, ch)
	if transcript.Type != EventUserTranscript {
		t.Fatalf("got %+v, want user transcript after quiet period", transcript)
	}
	reply := nextEvent(t, ch)
	if reply.Type != EventAgentResponse || reply.Response == "" {
		t.Fatalf("got %+v, want agent response", reply)
	}
	audio := nextEvent(t, ch)
	if audio.Type != EventAudio || audio.AudioBase64 == "" {
		t.Fatalf("got %+v, want agent audio", audio)
	}
	if synthCalls != 2 {
		t.Fatalf("synth called %d times, want 2 (greeting + reply)", synthCalls)
	}
}

func TestSimulatedChannelUnknownCharacter(t *testing.T) {
	d := NewSimulatedDialer(voice.NewProfileRegistry(), nil)
	if _, err := d.Dial(context.Background(), "Nobody Special"); err == nil {
		t.Fatal("expected error for unknown character")
	}
}

func TestSimulatedChannelCloseIsIdempotent(t *testing.T) {
	ch := dialSimulated(t, nil)
	nextEvent(t, ch)
	nextEvent(t, ch)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ch.SendAudio(context.Background(), "QUJD"); err != ErrChannelClosed {
		t.Fatalf("SendAudio after close = %v, want ErrChannelClosed", err)
	}
	// Events drains and terminates.
	for range ch.Events() {
	}
}
