// Package relay fans session events out to every participant watching a
// negotiation room and paces synthesized audio into transportable chunks.
package relay

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/protocol"
)

// clientSendBuffer bounds each subscriber's outbound queue. A subscriber
// that falls this far behind is dropped rather than stalling the room.
const clientSendBuffer = 256

// Hub owns the negotiation rooms. Each room is the set of subscribers that
// should see a session's audio, transcripts, and lifecycle events.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Subscriber]bool
	metrics *observability.Metrics
}

// Subscriber is one attached client. The websocket layer reads from Out and
// writes each payload to its connection.
type Subscriber struct {
	hub  *Hub
	room string
	out  chan []byte

	closeOnce sync.Once
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Subscriber]bool),
		metrics: metrics,
	}
}

// Join attaches a new subscriber to the room, creating the room if needed.
func (h *Hub) Join(room string) *Subscriber {
	sub := &Subscriber{
		hub:  h,
		room: room,
		out:  make(chan []byte, clientSendBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Subscriber]bool)
	}
	h.rooms[room][sub] = true
	return sub
}

func (s *Subscriber) Out() <-chan []byte { return s.out }

func (s *Subscriber) Room() string { return s.room }

// Leave detaches the subscriber and closes its outbound channel. Empty
// rooms are removed. Safe to call more than once.
func (s *Subscriber) Leave() {
	s.closeOnce.Do(func() {
		h := s.hub
		h.mu.Lock()
		if subs := h.rooms[s.room]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.rooms, s.room)
			}
		}
		h.mu.Unlock()
		close(s.out)
	})
}

// Broadcast marshals the payload once and delivers it to every subscriber
// in the room. Subscribers with a full queue are dropped: a stalled
// listener must not hold back live audio for the rest of the room.
func (h *Hub) Broadcast(room string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("relay: marshal broadcast for room %s: %v", room, err)
		return
	}

	msgType := "unknown"
	if t, ok := protocol.TypeOf(payload); ok {
		msgType = string(t)
	}

	var stalled []*Subscriber
	h.mu.RLock()
	for sub := range h.rooms[room] {
		select {
		case sub.out <- data:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.RoomMessages.WithLabelValues("outbound", msgType).Inc()
	}
	for _, sub := range stalled {
		log.Printf("relay: dropping stalled subscriber in room %s", room)
		sub.Leave()
	}
}

// RoomSize reports the number of attached subscribers, for the ops surface.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
