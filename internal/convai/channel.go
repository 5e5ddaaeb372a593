package convai

import (
	"context"
	"errors"
)

// Channel modes reported to clients so they know whether they are talking
// to the real vendor or the scripted stand-in.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// ErrChannelClosed is returned by sends after Close.
var ErrChannelClosed = errors.New("conversation channel is closed")

// Channel is one live conversation with a character, either backed by the
// vendor WebSocket or simulated locally. Events terminates (the channel is
// closed) when the conversation ends for any reason.
type Channel interface {
	// SendAudio forwards one base64-encoded chunk of user audio.
	SendAudio(ctx context.Context, audioBase64 string) error
	// Pong answers a vendor ping carrying the same event id.
	Pong(eventID int) error
	Events() <-chan Event
	Mode() string
	Close() error
}

// Dialer opens conversation channels. The production dialer speaks to the
// vendor; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, characterName string) (Channel, error)
}
