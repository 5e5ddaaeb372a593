package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley/internal/protocol"
	"github.com/parleylabs/parley/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

// handleRoomWS attaches a client to its negotiation room: everything the
// relay broadcasts for the room flows out, user audio and control messages
// flow in toward the session manager.
func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	negotiationID := strings.TrimSpace(r.URL.Query().Get("negotiation_id"))
	if negotiationID == "" {
		respondError(w, http.StatusBadRequest, "missing_negotiation_id", "query parameter negotiation_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	sub := s.hub.Join(negotiationID)
	defer sub.Leave()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-sub.Out():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendWSError(negotiationID, "", "invalid_client_message", err.Error())
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok && s.metrics != nil {
			s.metrics.RoomMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		s.dispatchClientMessage(ctx, negotiationID, parsed)
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) dispatchClientMessage(ctx context.Context, negotiationID string, parsed any) {
	switch msg := parsed.(type) {
	case protocol.UserAudioChunk:
		if err := s.sessions.SendUserAudio(ctx, msg.SessionID, msg.AudioBase64); err != nil {
			// Paused sessions quietly drop audio; everything else goes back
			// to the room so the client can react.
			if errors.Is(err, session.ErrSessionPaused) {
				return
			}
			s.sendWSError(negotiationID, msg.SessionID, "audio_rejected", err.Error())
		}
	case protocol.ClientControl:
		s.handleControl(ctx, negotiationID, msg)
	}
}

func (s *Server) handleControl(ctx context.Context, negotiationID string, msg protocol.ClientControl) {
	var err error
	switch msg.Action {
	case "pause":
		err = s.sessions.Pause(msg.SessionID)
	case "resume":
		err = s.sessions.Resume(msg.SessionID)
	case "end":
		_, err = s.sessions.End(ctx, msg.SessionID)
	default:
		err = errors.New("unknown control action: " + msg.Action)
	}
	if err != nil {
		s.sendWSError(negotiationID, msg.SessionID, "control_failed", err.Error())
	}
}

func (s *Server) sendWSError(negotiationID, sessionID, code, detail string) {
	s.hub.Broadcast(negotiationID, protocol.SessionError{
		Type:      protocol.TypeSessionError,
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
	})
}
