// Command voicereplay drives a synthetic voice session against a running
// server: it starts a session over REST, joins the negotiation room over
// websocket, and replays scripted user turns as paced PCM chunks while
// printing the transcript the room broadcasts back.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley/internal/client"
)

type options struct {
	baseURL        string
	negotiationID  string
	character      string
	turns          int
	chunkMS        int
	sampleRate     int
	realtime       float64
	quietDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type startSessionRequest struct {
	NegotiationID string `json:"negotiation_id"`
	CharacterName string `json:"character_name"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
}

type roomEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Speaker   string `json:"speaker"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicereplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voicereplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var quietMS, interTurnMS, turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	flag.StringVar(&cfg.negotiationID, "negotiation-id", "", "negotiation to attach to (defaults to a fresh id)")
	flag.StringVar(&cfg.character, "character", "Sarah Chen", "character to negotiate with")
	flag.IntVar(&cfg.turns, "turns", 3, "number of user turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.IntVar(&cfg.sampleRate, "sample-rate", 16000, "synthetic PCM sample rate")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&quietMS, "quiet-ms", 700, "silence after each turn before the server commits it")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the character reply per turn")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.negotiationID) == "" {
		cfg.negotiationID = "replay-" + uuid.NewString()
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.sampleRate < 8000 || cfg.sampleRate > 48000 {
		return options{}, fmt.Errorf("sample-rate must be in [8000,48000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if quietMS < 0 {
		quietMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.quietDelay = time.Duration(quietMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sess, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sess.SessionID)
	}()

	if cfg.verbose {
		fmt.Printf("voicereplay: session=%s mode=%s character=%q turns=%d\n", sess.SessionID, sess.Mode, cfg.character, cfg.turns)
	}

	wsURL, err := roomURL(cfg.baseURL, cfg.negotiationID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	rec := newScriptedRecorder()
	player := &drainPlayer{}
	var writeMu sync.Mutex
	sc := client.New(client.Config{
		SessionID: sess.SessionID,
		Format:    fmt.Sprintf("pcm16/%d", cfg.sampleRate),
		Recorder:  rec,
		Player:    player,
		Send: func(v any) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(v)
		},
		OnTranscript: func(speaker, text string) {
			fmt.Printf("voicereplay: [%s] %s\n", speaker, text)
		},
	})
	player.sc = sc

	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer sc.Stop(client.StateEnded)

	replyCh := make(chan struct{}, 32)
	endedCh := make(chan struct{})
	readErrCh := make(chan error, 1)
	go readLoop(conn, sc, cfg.character, replyCh, endedCh, readErrCh, cfg.verbose)

	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		case <-endedCh:
			return fmt.Errorf("session ended before turn %d", i+1)
		default:
		}

		start := time.Now()
		if cfg.verbose {
			fmt.Printf("voicereplay: turn %d/%d speaking\n", i+1, cfg.turns)
		}
		rec.speak(toneClip(cfg.sampleRate, 900*time.Millisecond), chunkBytes(cfg.sampleRate, cfg.chunkMS), cfg.realtime, cfg.sampleRate)
		time.Sleep(cfg.quietDelay)

		if err := awaitReply(replyCh, endedCh, readErrCh, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("voicereplay: turn %d/%d round-trip %s\n", i+1, cfg.turns, time.Since(start).Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	writeMu.Lock()
	err = conn.WriteJSON(map[string]any{
		"type":       "client-control",
		"session_id": sess.SessionID,
		"action":     "end",
	})
	writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send end control: %w", err)
	}

	select {
	case <-endedCh:
	case err := <-readErrCh:
		return fmt.Errorf("ws read awaiting end: %w", err)
	case <-time.After(cfg.turnTimeout):
		return fmt.Errorf("timed out waiting for session-ended")
	}

	if cfg.verbose {
		fmt.Println("voicereplay: replay completed")
	}
	return nil
}

func createSession(ctx context.Context, httpClient *http.Client, cfg options) (startSessionResponse, error) {
	payload, err := json.Marshal(startSessionRequest{
		NegotiationID: cfg.negotiationID,
		CharacterName: cfg.character,
	})
	if err != nil {
		return startSessionResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/sessions", bytes.NewReader(payload))
	if err != nil {
		return startSessionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := httpClient.Do(req)
	if err != nil {
		return startSessionResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return startSessionResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return startSessionResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out startSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return startSessionResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return startSessionResponse{}, fmt.Errorf("missing session_id in response")
	}
	return out, nil
}

func endSession(ctx context.Context, httpClient *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func roomURL(baseURL, negotiationID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	q := u.Query()
	q.Set("negotiation_id", negotiationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop feeds every room message to the session client and signals turn
// completion when the character speaks.
func readLoop(conn *websocket.Conn, sc *client.SessionClient, character string, replyCh chan<- struct{}, endedCh chan<- struct{}, readErrCh chan<- error, verbose bool) {
	ended := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		sc.HandleMessage(data)

		var env roomEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "transcript":
			if env.Speaker == character {
				select {
				case replyCh <- struct{}{}:
				default:
				}
			}
		case "session-ended":
			if !ended {
				ended = true
				close(endedCh)
			}
		case "session-error":
			if verbose {
				fmt.Fprintf(os.Stderr, "voicereplay: session-error code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func awaitReply(replyCh <-chan struct{}, endedCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	select {
	case <-replyCh:
		return nil
	case <-endedCh:
		return fmt.Errorf("session ended mid-turn")
	case err := <-readErrCh:
		return fmt.Errorf("ws read: %w", err)
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// scriptedRecorder satisfies client.Recorder with pre-built PCM pushed in
// by speak instead of a live microphone.
type scriptedRecorder struct {
	chunks chan []byte

	mu      sync.Mutex
	stopped bool
}

func newScriptedRecorder() *scriptedRecorder {
	return &scriptedRecorder{chunks: make(chan []byte, 256)}
}

func (r *scriptedRecorder) Start(ctx context.Context) error { return nil }

func (r *scriptedRecorder) Chunks() <-chan []byte { return r.chunks }

func (r *scriptedRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.chunks)
	}
	return nil
}

// speak slices the clip into chunks and feeds them at the paced rate a real
// microphone would produce them, divided by the realtime multiplier.
func (r *scriptedRecorder) speak(pcm []byte, bytesPerChunk int, realtime float64, sampleRate int) {
	for off := 0; off < len(pcm); {
		end := off + bytesPerChunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			return
		}
		chunk := pcm[off:end]

		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		select {
		case r.chunks <- chunk:
		default:
		}
		r.mu.Unlock()
		off = end

		pace := time.Duration(float64(time.Duration(len(chunk))*time.Second/time.Duration(sampleRate*2)) / realtime)
		if pace <= 0 {
			pace = 5 * time.Millisecond
		}
		time.Sleep(pace)
	}
}

// drainPlayer discards character audio and immediately reports completion so
// queued playback keeps flowing.
type drainPlayer struct {
	sc *client.SessionClient
}

func (p *drainPlayer) Play(audio []byte) error {
	if p.sc != nil {
		go p.sc.PlaybackFinished()
	}
	return nil
}

func chunkBytes(sampleRate, chunkMS int) int {
	n := sampleRate * 2 * chunkMS / 1000
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}
	return n
}

// toneClip generates a 440Hz sine at an amplitude well above the default
// voice-activity threshold, encoded as little-endian PCM16.
func toneClip(sampleRate int, dur time.Duration) []byte {
	samples := int(float64(sampleRate) * dur.Seconds())
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(9000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
