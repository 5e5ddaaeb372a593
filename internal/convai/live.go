package convai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	liveWriteTimeout     = 2 * time.Second
	liveHandshakeTimeout = 5 * time.Second
)

// LiveDialer opens vendor conversation channels over WebSocket.
type LiveDialer struct {
	wsBaseURL string
	apiKey    string
	agentID   string
	dialer    websocket.Dialer
}

func NewLiveDialer(wsBaseURL, apiKey, agentID string) *LiveDialer {
	return &LiveDialer{
		wsBaseURL: wsBaseURL,
		apiKey:    apiKey,
		agentID:   agentID,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: liveHandshakeTimeout,
		},
	}
}

func (d *LiveDialer) Dial(ctx context.Context, characterName string) (Channel, error) {
	u, err := url.Parse(d.wsBaseURL + "/v1/convai/conversation")
	if err != nil {
		return nil, fmt.Errorf("parse convai url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", d.agentID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.apiKey != "" {
		header.Set("xi-api-key", d.apiKey)
	}

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("convai dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("convai dial failed: %w", err)
	}
	return newLiveChannel(conn), nil
}

// LiveChannel wraps one vendor WebSocket conversation. A single reader
// goroutine owns ReadMessage; writes are serialized behind writeMu.
type LiveChannel struct {
	conn   *websocket.Conn
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newLiveChannel(conn *websocket.Conn) *LiveChannel {
	c := &LiveChannel{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *LiveChannel) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		evt := ParseEvent(data)
		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

func (c *LiveChannel) SendAudio(ctx context.Context, audioBase64 string) error {
	return c.writeJSON(ctx, userAudioFrame{UserAudioChunk: audioBase64})
}

func (c *LiveChannel) Pong(eventID int) error {
	return c.writeJSON(context.Background(), pongFrame{Type: "pong", EventID: eventID})
}

func (c *LiveChannel) writeJSON(ctx context.Context, payload any) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(payload)
}

func (c *LiveChannel) Events() <-chan Event { return c.events }

func (c *LiveChannel) Mode() string { return ModeLive }

func (c *LiveChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(liveWriteTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
