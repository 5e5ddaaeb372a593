package relay

import (
	"encoding/json"
	"testing"

	"github.com/parleylabs/parley/internal/protocol"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(nil)
	a := h.Join("neg-1")
	b := h.Join("neg-1")
	other := h.Join("neg-2")
	defer a.Leave()
	defer b.Leave()
	defer other.Leave()

	h.Broadcast("neg-1", protocol.Transcript{
		Type: protocol.TypeTranscript, SessionID: "s1", Speaker: "user", Text: "hello", IsFinal: true,
	})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case raw := <-sub.Out():
			var msg protocol.Transcript
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Text != "hello" {
				t.Fatalf("text = %q", msg.Text)
			}
		default:
			t.Fatal("subscriber did not receive broadcast")
		}
	}

	select {
	case <-other.Out():
		t.Fatal("broadcast leaked across rooms")
	default:
	}
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	h := NewHub(nil)
	slow := h.Join("neg-1")
	fast := h.Join("neg-1")
	defer fast.Leave()

	// The healthy subscriber keeps reading while the stalled one never does.
	reading := make(chan struct{})
	go func() {
		first := true
		for range fast.Out() {
			if first {
				close(reading)
				first = false
			}
		}
	}()

	msg := protocol.Interruption{Type: protocol.TypeInterruption, SessionID: "s1"}
	h.Broadcast("neg-1", msg)
	<-reading
	for i := 0; i < clientSendBuffer; i++ {
		h.Broadcast("neg-1", msg)
	}

	// The slow subscriber's queue filled, so it was detached and its
	// channel closed after the buffered backlog.
	drained := 0
	for range slow.Out() {
		drained++
	}
	if drained != clientSendBuffer {
		t.Fatalf("drained %d messages, want %d", drained, clientSendBuffer)
	}
	if n := h.RoomSize("neg-1"); n != 1 {
		t.Fatalf("room size = %d after drop, want 1", n)
	}
}

func TestLeaveIsIdempotentAndRemovesEmptyRoom(t *testing.T) {
	h := NewHub(nil)
	sub := h.Join("neg-1")
	sub.Leave()
	sub.Leave()
	if n := h.RoomSize("neg-1"); n != 0 {
		t.Fatalf("room size = %d, want 0", n)
	}
}
