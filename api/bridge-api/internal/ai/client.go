package internal_ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ringbridge/pkg/commons"
	"github.com/ringbridge/pkg/utils"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultReconnectBase    = 1 * time.Second
	defaultReconnectMax     = 30 * time.Second
	defaultMaxReconnects    = 5
	defaultReadLimit        = 10 * 1024 * 1024
	eventQueueSize          = 256

	// Two consecutive unanswered pings mean the connection is dead.
	maxMissedPongs = 2
)

// Config carries everything needed to reach the realtime endpoint.
type Config struct {
	URL    string
	Model  string
	APIKey string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	MaxReconnects    int
}

func (c *Config) normalize() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
}

// Client maintains one websocket connection to the realtime provider. It
// reconnects on transport failure and surfaces everything, including its own
// connection state changes, on the Events channel.
type Client struct {
	logger commons.Logger
	config Config

	mu         sync.RWMutex
	connection *websocket.Conn
	writeMu    sync.Mutex

	events      chan *ServerEvent
	done        chan struct{}
	closeOnce   sync.Once
	missedPongs int32
}

// NewClient builds a client; no connection is made until Connect.
func NewClient(logger commons.Logger, config Config) *Client {
	config.normalize()
	return &Client{
		logger: logger,
		config: config,
		events: make(chan *ServerEvent, eventQueueSize),
		done:   make(chan struct{}),
	}
}

// Events streams decoded provider events plus synthetic connection events.
// The channel is closed once the connection is permanently gone.
func (c *Client) Events() <-chan *ServerEvent {
	return c.events
}

// Connect dials the realtime endpoint and starts the reader and keepalive
// loops.
func (c *Client) Connect(ctx context.Context) error {
	start := time.Now()
	if err := c.dial(ctx); err != nil {
		return err
	}

	utils.Go(ctx, func() { c.readLoop(ctx) })
	utils.Go(ctx, func() { c.pingLoop(ctx) })

	c.logger.Benchmark("RealtimeClient.Connect", time.Since(start))
	return nil
}

// dial establishes a fresh websocket connection with auth headers.
func (c *Client) dial(ctx context.Context) error {
	wsURL, err := url.Parse(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to parse realtime URL: %w", err)
	}
	query := wsURL.Query()
	if c.config.Model != "" {
		query.Set("model", c.config.Model)
	}
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return commons.NewBridgeError(commons.ErrTransport, "failed to connect to realtime endpoint", err)
	}

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&c.missedPongs, 0)
		return nil
	})

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
	atomic.StoreInt32(&c.missedPongs, 0)
	return nil
}

func (c *Client) conn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connection
}

// =============================================================================
// Outgoing messages
// =============================================================================

// UpdateSession sends session.update with the given configuration.
func (c *Client) UpdateSession(config SessionConfig) error {
	return c.send(sessionUpdateMessage{Type: "session.update", Session: config})
}

// AppendAudio pushes one base64 PCM16 chunk into the provider's input buffer.
func (c *Client) AppendAudio(audioB64 string) error {
	return c.send(audioAppendMessage{Type: "input_audio_buffer.append", Audio: audioB64})
}

// CommitAudio commits the input buffer; only useful when server VAD is off.
func (c *Client) CommitAudio() error {
	return c.send(simpleMessage{Type: "input_audio_buffer.commit"})
}

// CreateResponse asks the provider to start generating a response.
func (c *Client) CreateResponse() error {
	return c.send(simpleMessage{Type: "response.create"})
}

// CancelResponse aborts the in-flight response.
func (c *Client) CancelResponse() error {
	return c.send(simpleMessage{Type: "response.cancel"})
}

// TruncateItem cuts an assistant item's audio at audioEndMs. Sent on barge-in
// so the provider's view of the conversation matches what the caller heard.
func (c *Client) TruncateItem(itemID string, contentIndex, audioEndMs int) error {
	return c.send(itemTruncateMessage{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	})
}

// send serializes and writes one message under the write lock.
func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.conn()
	if conn == nil {
		return commons.NewBridgeError(commons.ErrTransport, "realtime connection is not established", nil)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return commons.NewBridgeError(commons.ErrTransport, "failed to write realtime message", err)
	}
	return nil
}

// =============================================================================
// Reader and keepalive
// =============================================================================

// readLoop pumps provider events into the events channel, reconnecting on
// transport failure until the retry budget is spent.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		conn := c.conn()
		if conn == nil {
			c.deliver(&ServerEvent{Type: EventConnClosed})
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("Realtime connection closed normally")
				c.deliver(&ServerEvent{Type: EventConnClosed})
				return
			}

			c.logger.Warnf("Realtime read error, attempting reconnect: %v", err)
			if !c.reconnect(ctx) {
				c.deliver(&ServerEvent{Type: EventConnClosed})
				return
			}
			c.deliver(&ServerEvent{Type: EventConnReconnected})
			continue
		}

		ev, err := ParseServerEvent(message)
		if err != nil {
			c.logger.Errorf("Failed to parse realtime event: %v", err)
			continue
		}
		if !c.deliver(ev) {
			return
		}
	}
}

// deliver pushes one event, giving up only when the client is closing.
func (c *Client) deliver(ev *ServerEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// reconnect retries the dial with exponential backoff. Returns false once the
// attempt budget is exhausted or the client is shutting down.
func (c *Client) reconnect(ctx context.Context) bool {
	backoff := c.config.ReconnectBase
	for attempt := 1; attempt <= c.config.MaxReconnects; attempt++ {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		c.logger.Infof("Reconnecting to realtime endpoint, attempt %d/%d", attempt, c.config.MaxReconnects)
		if err := c.dial(ctx); err != nil {
			c.logger.Warnf("Reconnect attempt %d failed: %v", attempt, err)
			backoff *= 2
			if backoff > c.config.ReconnectMax {
				backoff = c.config.ReconnectMax
			}
			continue
		}
		return true
	}
	c.logger.Errorf("Realtime reconnect budget exhausted after %d attempts", c.config.MaxReconnects)
	return false
}

// pingLoop keeps the connection alive and forces a reconnect cycle when the
// provider stops answering.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		conn := c.conn()
		if conn == nil {
			return
		}

		if atomic.AddInt32(&c.missedPongs, 1) > maxMissedPongs {
			c.logger.Warnf("Realtime peer missed %d pongs, closing connection", maxMissedPongs)
			conn.Close()
			continue
		}

		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debugf("Failed to send ping: %v", err)
		}
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		conn := c.conn()
		if conn == nil {
			return
		}

		c.writeMu.Lock()
		err := conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debugf("Error sending close message: %v", err)
		}

		if err := conn.Close(); err != nil {
			c.logger.Debugf("Error closing realtime connection: %v", err)
		}
	})
	return nil
}
