package internal_telephony

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ringbridge/pkg/commons"
)

// Frames that arrive for the caller before the provider's start frame binds a
// streamSid. Roughly two seconds of 20 ms audio.
const preStartQueueLimit = 100

// Conn wraps one server-side media stream websocket. Reads are single-owner;
// writes are serialized and legal from any goroutine. Outbound media sent
// before the start frame is queued and flushed once the streamSid is known,
// because the provider rejects media without it.
type Conn struct {
	logger commons.Logger
	ws     *websocket.Conn

	writeMu   sync.Mutex
	streamSid string
	callSid   string
	pending   []outboundMedia
	dropped   int

	closeOnce sync.Once
}

// NewConn wraps an already-upgraded websocket.
func NewConn(logger commons.Logger, ws *websocket.Conn) *Conn {
	return &Conn{logger: logger, ws: ws}
}

// ReadFrame blocks for the next inbound frame. A start frame binds the
// streamSid as a side effect and releases any queued outbound media. Any
// error is terminal for the stream.
func (c *Conn) ReadFrame() (*Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, commons.NewBridgeError(commons.ErrTransport, "media stream closed by peer", err)
		}
		return nil, commons.NewBridgeError(commons.ErrTransport, "media stream read failed", err)
	}

	frame, err := ParseFrame(data)
	if err != nil {
		return nil, commons.NewBridgeError(commons.ErrProtocol, "bad media stream frame", err)
	}

	if frame.Event == EventStart {
		if err := c.bindStream(frame.Start); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// bindStream records the stream identity and flushes the pre-start queue.
func (c *Conn) bindStream(start *StartPayload) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.streamSid = start.StreamSid
	c.callSid = start.CallSid
	if c.dropped > 0 {
		c.logger.Warnf("Dropped %d pre-start media frames for call %s", c.dropped, c.callSid)
	}
	for _, msg := range c.pending {
		msg.StreamSid = c.streamSid
		if err := c.writeLocked(msg); err != nil {
			return err
		}
	}
	c.pending = nil
	return nil
}

// StreamSid returns the bound stream id, empty before the start frame.
func (c *Conn) StreamSid() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.streamSid
}

// CallSid returns the provider call id, empty before the start frame.
func (c *Conn) CallSid() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.callSid
}

// SendMedia sends one base64 µ-law payload to the caller. Before the start
// frame it queues, dropping the oldest frame once the queue is full.
func (c *Conn) SendMedia(payloadB64 string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.streamSid == "" {
		if len(c.pending) >= preStartQueueLimit {
			c.pending = c.pending[1:]
			c.dropped++
		}
		c.pending = append(c.pending, newOutboundMedia("", payloadB64))
		return nil
	}
	return c.writeLocked(newOutboundMedia(c.streamSid, payloadB64))
}

// SendMark asks the provider to echo a marker once everything queued before
// it has been played to the caller.
func (c *Conn) SendMark(name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.streamSid == "" {
		return commons.NewBridgeError(commons.ErrInvariant, "mark before stream start", nil)
	}
	return c.writeLocked(newOutboundMark(c.streamSid, name))
}

// SendClear discards the provider's outbound audio buffer. It also drops our
// own pre-start queue so stale audio never plays after a barge-in.
func (c *Conn) SendClear() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.pending = nil
	if c.streamSid == "" {
		return nil
	}
	return c.writeLocked(newOutboundClear(c.streamSid))
}

func (c *Conn) writeLocked(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return commons.NewBridgeError(commons.ErrProtocol, "failed to marshal media stream message", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return commons.NewBridgeError(commons.ErrTransport, "media stream write failed", err)
	}
	return nil
}

// Close sends a close handshake and tears down the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		err := c.ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debugf("Error sending media stream close: %v", err)
		}
		if err := c.ws.Close(); err != nil {
			c.logger.Debugf("Error closing media stream socket: %v", err)
		}
	})
	return nil
}
