package convai

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/voice"
)

const defaultTurnDebounce = 400 * time.Millisecond

// SynthFunc renders character speech for simulated turns. It may fail;
// simulated turns then carry text only.
type SynthFunc func(ctx context.Context, characterName, text string) ([]byte, error)

// SimulatedDialer produces scripted channels from the character registry.
// It is the fallback when the vendor cannot be reached, and the primary
// path in development.
type SimulatedDialer struct {
	registry *voice.ProfileRegistry
	synth    SynthFunc
	debounce time.Duration
}

func NewSimulatedDialer(registry *voice.ProfileRegistry, synth SynthFunc) *SimulatedDialer {
	return &SimulatedDialer{registry: registry, synth: synth, debounce: defaultTurnDebounce}
}

// SetTurnDebounce overrides how long the channel waits after the last audio
// chunk before treating the user's turn as finished.
func (d *SimulatedDialer) SetTurnDebounce(debounce time.Duration) {
	if debounce > 0 {
		d.debounce = debounce
	}
}

func (d *SimulatedDialer) Dial(ctx context.Context, characterName string) (Channel, error) {
	profile, err := d.registry.MustLookup(characterName)
	if err != nil {
		return nil, err
	}
	return newSimulatedChannel(profile, d.synth, d.debounce), nil
}

// SimulatedChannel fabricates a scripted conversation: it greets with the
// character's first message, and answers each user turn with the next
// phrase from the character's table. A user turn is committed after a quiet
// period with no further audio chunks.
type SimulatedChannel struct {
	profile  voice.CharacterProfile
	synth    SynthFunc
	debounce time.Duration
	events   chan Event

	mu        sync.Mutex
	turn      int
	turnTimer *time.Timer
	closed    bool

	closeOnce sync.Once
}

func newSimulatedChannel(profile voice.CharacterProfile, synth SynthFunc, debounce time.Duration) *SimulatedChannel {
	c := &SimulatedChannel{
		profile:  profile,
		synth:    synth,
		debounce: debounce,
		events:   make(chan Event, 64),
	}
	go c.open()
	return c
}

// open emits the initiation metadata and the character's greeting, mirroring
// what the vendor sends when a real conversation starts.
func (c *SimulatedChannel) open() {
	c.emit(Event{
		Type:           EventInitiationMetadata,
		ConversationID: "sim-" + uuid.NewString(),
		AudioFormat:    "mp3_44100_128",
	})
	c.speak(c.profile.FirstMessage)
}

func (c *SimulatedChannel) SendAudio(ctx context.Context, audioBase64 string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	// Chunks keep arriving while the user talks; the turn commits once they
	// stop for the debounce window.
	if c.turnTimer != nil {
		c.turnTimer.Stop()
	}
	c.turnTimer = time.AfterFunc(c.debounce, c.commitTurn)
	return nil
}

func (c *SimulatedChannel) commitTurn() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	turn := c.turn
	c.turn++
	c.mu.Unlock()

	c.emit(Event{Type: EventUserTranscript, Transcript: "(simulated user speech)"})

	phrase := "I see. Tell me more."
	if len(c.profile.Phrases) > 0 {
		phrase = c.profile.Phrases[turn%len(c.profile.Phrases)]
	}
	c.speak(phrase)
}

// speak emits the agent text and, when synthesis is available, the audio
// for it.
func (c *SimulatedChannel) speak(text string) {
	c.emit(Event{Type: EventAgentResponse, Response: text})

	if c.synth == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	audio, err := c.synth(ctx, c.profile.Name, text)
	if err != nil {
		log.Printf("simulated channel synthesis failed for %s: %v", c.profile.Name, err)
		return
	}
	if len(audio) == 0 {
		return
	}
	c.emit(Event{
		Type:        EventAudio,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
	})
}

// emit delivers the event unless the channel is closed. The buffer is large
// relative to the scripted event rate; if it still fills, the event is
// dropped rather than blocking the turn timer.
func (c *SimulatedChannel) emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
	}
}

// Pong is a no-op: the simulated channel never pings.
func (c *SimulatedChannel) Pong(eventID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	return nil
}

func (c *SimulatedChannel) Events() <-chan Event { return c.events }

func (c *SimulatedChannel) Mode() string { return ModeSimulated }

func (c *SimulatedChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.turnTimer != nil {
			c.turnTimer.Stop()
		}
		c.mu.Unlock()
		close(c.events)
	})
	return nil
}
