package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/convai"
	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/protocol"
	"github.com/parleylabs/parley/internal/relay"
	"github.com/parleylabs/parley/internal/reliability"
	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/voice"
)

func newTestServer(t *testing.T) (*httptest.Server, *voice.MockSynthesizer) {
	t.Helper()

	mock := voice.NewMockSynthesizer()
	gateway := voice.NewGateway(voice.GatewayConfig{
		Synthesizer: mock,
		Breaker:     reliability.NewCircuitBreaker(reliability.BreakerConfig{}),
		Usage:       observability.NewUsageTracker(),
	})

	hub := relay.NewHub(nil)
	st := store.NewInMemoryStore()

	sim := convai.NewSimulatedDialer(gateway.Registry(), func(ctx context.Context, characterName, text string) ([]byte, error) {
		res, err := gateway.Synthesize(ctx, characterName, text, voice.Options{})
		if err != nil {
			return nil, err
		}
		return res.Audio, nil
	})
	sim.SetTurnDebounce(10 * time.Millisecond)

	sessions := session.NewManager(session.ManagerConfig{
		SimulatedDialer: sim,
		Hub:             hub,
		Streamer:        relay.NewStreamer(hub, 4096, 0),
		Store:           st,
	})

	srv := New(config.Config{AllowAnyOrigin: true}, sessions, gateway, hub, st, observability.NewUsageTracker(), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, mock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSessionLifecycleOverREST(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/voice/sessions", map[string]string{
		"negotiation_id": "neg-1",
		"character_name": "Sarah Chen",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var sess session.Session
	decodeBody(t, resp, &sess)
	if sess.ID == "" || sess.State != session.StateListening {
		t.Fatalf("session = %+v", sess)
	}

	resp, err := http.Get(ts.URL + "/v1/voice/sessions/" + sess.ID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/voice/sessions/"+sess.ID+"/end", nil)
	var ended session.Session
	decodeBody(t, resp, &ended)
	if ended.State != session.StateEnded {
		t.Fatalf("ended state = %s", ended.State)
	}
}

func TestStartSessionValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/voice/sessions", map[string]string{"negotiation_id": "neg-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing character status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/voice/sessions", map[string]string{
		"negotiation_id": "neg-1",
		"character_name": "Nobody Special",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown character status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSynthesizeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/voice/synthesize", map[string]any{
		"character_name": "Marcus Thompson",
		"text":           "Let's find common ground.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out synthesizeResponse
	decodeBody(t, resp, &out)
	if out.AudioBase64 == "" || out.Fallback {
		t.Fatalf("response = %+v", out)
	}

	resp = postJSON(t, ts.URL+"/v1/voice/synthesize", map[string]any{
		"character_name": "Nobody Special",
		"text":           "hi",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown character status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusAndBreakerReset(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/voice/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var status map[string]any
	decodeBody(t, resp, &status)
	if _, ok := status["breaker"]; !ok {
		t.Fatalf("status missing breaker: %v", status)
	}

	resp = postJSON(t, ts.URL+"/v1/voice/circuit-breaker/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListCharacters(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/voice/characters")
	if err != nil {
		t.Fatalf("GET characters: %v", err)
	}
	var out struct {
		Characters []string `json:"characters"`
	}
	decodeBody(t, resp, &out)
	if len(out.Characters) != 5 {
		t.Fatalf("characters = %v", out.Characters)
	}
}

func TestRoomWebSocketFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws?negotiation_id=neg-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	resp := postJSON(t, ts.URL+"/v1/voice/sessions", map[string]string{
		"negotiation_id": "neg-1",
		"character_name": "Sarah Chen",
	})
	var sess session.Session
	decodeBody(t, resp, &sess)

	readUntil := func(want protocol.MessageType) map[string]any {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for {
			_ = conn.SetReadDeadline(deadline)
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read waiting for %s: %v", want, err)
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg["type"] == string(want) {
				return msg
			}
		}
	}

	ready := readUntil(protocol.TypeSessionReady)
	if ready["session_id"] != sess.ID {
		t.Fatalf("ready session = %v, want %s", ready["session_id"], sess.ID)
	}
	readUntil(protocol.TypeAudioChunk) // greeting audio

	// Send a user audio chunk and expect a full scripted turn back.
	chunk := protocol.UserAudioChunk{
		Type:        protocol.TypeUserAudioChunk,
		SessionID:   sess.ID,
		AudioBase64: "QUJD",
	}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	transcript := readUntil(protocol.TypeTranscript)
	if transcript["speaker"] != "user" {
		t.Fatalf("first transcript speaker = %v", transcript["speaker"])
	}
	reply := readUntil(protocol.TypeTranscript)
	if reply["speaker"] != "Sarah Chen" {
		t.Fatalf("reply speaker = %v", reply["speaker"])
	}
	readUntil(protocol.TypeAudioChunk)

	// End through the websocket control path.
	end := protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sess.ID, Action: "end"}
	if err := conn.WriteJSON(end); err != nil {
		t.Fatalf("write control: %v", err)
	}
	endedMsg := readUntil(protocol.TypeSessionEnded)
	if endedMsg["session_id"] != sess.ID {
		t.Fatalf("ended session = %v", endedMsg["session_id"])
	}
}

func TestInvalidClientMessageGetsError(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws?negotiation_id=neg-2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg protocol.SessionError
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != protocol.TypeSessionError || msg.Code != "invalid_client_message" {
		t.Fatalf("got %+v", msg)
	}
}
