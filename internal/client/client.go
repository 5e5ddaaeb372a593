// Package client implements the session-side counterpart of the voice
// service: microphone capture with voice-activity feedback, paced upload
// of audio chunks, and strictly ordered playback of character audio.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// State mirrors the server session lifecycle from the client's point of
// view.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateProcessing State = "processing"
	StatePaused     State = "paused"
	StateEnded      State = "ended"
	StateError      State = "error"
)

const (
	drainInterval   = 100 * time.Millisecond
	chunksPerDrain  = 3
	outboundBacklog = 64
)

// Recorder captures microphone audio. It does nothing until Start.
type Recorder interface {
	Start(ctx context.Context) error
	Chunks() <-chan []byte
	Stop() error
}

// Player starts playback of one utterance chunk. Completion is reported
// back through SessionClient.PlaybackFinished.
type Player interface {
	Play(audio []byte) error
}

// SendFunc uploads one outbound payload to the server.
type SendFunc func(v any) error

// userAudioPayload matches the server's user-audio-chunk message.
type userAudioPayload struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Seq         int    `json:"seq"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
	TSMs        int64  `json:"ts_ms"`
}

// serverMessage is the subset of room messages the client reacts to.
type serverMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	AudioBase64 string `json:"audio_base64"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	IsActive    bool   `json:"is_active"`
	Code        string `json:"code"`
	Detail      string `json:"detail"`
}

// Config wires a SessionClient.
type Config struct {
	SessionID    string
	Send         SendFunc
	Recorder     Recorder
	Player       Player
	Format       string
	VADThreshold float64
	VADHangover  int

	// OnTranscript receives both user and character transcript lines.
	OnTranscript func(speaker, text string)

	// OnActivity reports voice-activity transitions for UI feedback. The
	// detector never gates upload; every captured chunk is sent.
	OnActivity func(active bool)
}

// SessionClient drives one voice session from the client side. Captured
// audio enters a bounded queue that a ticker drains a few chunks at a
// time; character audio queues FIFO and plays one chunk at a time.
type SessionClient struct {
	cfg Config
	vad *voiceDetector

	mu         sync.Mutex
	state      State
	seq        int
	outbound   [][]byte
	playback   [][]byte
	playing    bool
	lastActive bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *SessionClient {
	if cfg.Format == "" {
		cfg.Format = "webm/opus"
	}
	return &SessionClient{
		cfg:   cfg,
		vad:   newVoiceDetector(cfg.VADThreshold, cfg.VADHangover),
		state: StateIdle,
	}
}

func (c *SessionClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins capture and upload. The recorder is only started here, never
// at construction: microphone access is an explicit act.
func (c *SessionClient) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.state = StateListening
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.cfg.Recorder.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = StateError
		c.mu.Unlock()
		cancel()
		return err
	}

	c.wg.Add(2)
	go c.captureLoop(ctx)
	go c.drainLoop(ctx)
	return nil
}

func (c *SessionClient) captureLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-c.cfg.Recorder.Chunks():
			if !ok {
				return
			}
			c.trackActivity(chunk)
			c.enqueueOutbound(chunk)
		}
	}
}

// trackActivity runs the voice detector over the chunk and reports
// transitions. Detection is feedback only; the chunk is uploaded either way.
func (c *SessionClient) trackActivity(chunk []byte) {
	active := c.vad.Process(chunk)

	c.mu.Lock()
	changed := active != c.lastActive
	c.lastActive = active
	c.mu.Unlock()

	if changed && c.cfg.OnActivity != nil {
		c.cfg.OnActivity(active)
	}
}

func (c *SessionClient) enqueueOutbound(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused || c.state == StateEnded || c.state == StateError {
		return
	}
	if len(c.outbound) >= outboundBacklog {
		// Shed the oldest audio: stale speech is worse than a gap.
		c.outbound = c.outbound[1:]
	}
	c.outbound = append(c.outbound, chunk)
}

func (c *SessionClient) drainLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce()
		}
	}
}

// drainOnce uploads at most chunksPerDrain queued chunks, keeping the
// upstream connection from being flooded by a fast recorder.
func (c *SessionClient) drainOnce() {
	c.mu.Lock()
	if c.state == StatePaused || c.state == StateEnded || c.state == StateError {
		c.mu.Unlock()
		return
	}
	n := len(c.outbound)
	if n > chunksPerDrain {
		n = chunksPerDrain
	}
	batch := c.outbound[:n]
	c.outbound = c.outbound[n:]
	seqs := make([]int, n)
	for i := range seqs {
		seqs[i] = c.seq
		c.seq++
	}
	c.mu.Unlock()

	for i, chunk := range batch {
		err := c.cfg.Send(userAudioPayload{
			Type:        "user-audio-chunk",
			SessionID:   c.cfg.SessionID,
			Seq:         seqs[i],
			AudioBase64: base64.StdEncoding.EncodeToString(chunk),
			Format:      c.cfg.Format,
			TSMs:        time.Now().UnixMilli(),
		})
		if err != nil {
			log.Printf("client: upload chunk failed: %v", err)
			return
		}
	}
}

// HandleMessage processes one raw room message from the server.
func (c *SessionClient) HandleMessage(raw []byte) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.SessionID != "" && msg.SessionID != c.cfg.SessionID {
		return
	}

	switch msg.Type {
	case "audio-chunk":
		audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			return
		}
		c.enqueuePlayback(audio)
	case "speaking-status":
		c.setSpeaking(msg.IsActive)
	case "transcript":
		if c.cfg.OnTranscript != nil {
			c.cfg.OnTranscript(msg.Speaker, msg.Text)
		}
	case "interruption":
		c.clearPlayback()
	case "session-ended":
		c.Stop(StateEnded)
	case "session-error":
		log.Printf("client: session error %s: %s", msg.Code, msg.Detail)
	}
}

// enqueuePlayback appends the chunk and starts playback when nothing is
// playing. Ordering is strict: one chunk at a time, FIFO.
func (c *SessionClient) enqueuePlayback(audio []byte) {
	c.mu.Lock()
	c.playback = append(c.playback, audio)
	start := !c.playing && c.state != StatePaused
	if start {
		c.playing = true
	}
	c.mu.Unlock()

	if start {
		c.playNext()
	}
}

func (c *SessionClient) playNext() {
	c.mu.Lock()
	if len(c.playback) == 0 || c.state == StatePaused {
		c.playing = false
		c.mu.Unlock()
		return
	}
	next := c.playback[0]
	c.playback = c.playback[1:]
	c.mu.Unlock()

	if err := c.cfg.Player.Play(next); err != nil {
		log.Printf("client: playback failed: %v", err)
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
	}
}

// PlaybackFinished is called by the player when the current chunk ends.
// Spurious calls while nothing is playing are ignored.
func (c *SessionClient) PlaybackFinished() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.playNext()
}

func (c *SessionClient) clearPlayback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playback = nil
}

func (c *SessionClient) setSpeaking(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused || c.state == StateEnded || c.state == StateError {
		return
	}
	if active {
		c.state = StateSpeaking
	} else {
		c.state = StateListening
	}
}

// Pause suspends capture and playback but keeps both queues, so a
// reconnect resumes where the conversation left off.
func (c *SessionClient) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded || c.state == StateError {
		return
	}
	c.state = StatePaused
}

// Resume re-opens capture and restarts queued playback.
func (c *SessionClient) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	start := !c.playing && len(c.playback) > 0
	if start {
		c.playing = true
	}
	c.mu.Unlock()

	if start {
		c.playNext()
	}
}

// Disconnected pauses the session on transport loss. Queued audio is kept.
func (c *SessionClient) Disconnected() { c.Pause() }

// Reconnected resumes after the transport comes back.
func (c *SessionClient) Reconnected() { c.Resume() }

// Stop ends the session locally and releases the recorder.
func (c *SessionClient) Stop(final State) {
	c.mu.Lock()
	if c.state == StateEnded || c.state == StateError {
		c.mu.Unlock()
		return
	}
	c.state = final
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.cfg.Recorder.Stop(); err != nil {
		log.Printf("client: recorder stop failed: %v", err)
	}
	c.wg.Wait()
}
