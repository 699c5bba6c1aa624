package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
)

// Conn is one websocket connection. Outbound events go through a bounded
// FIFO queue drained by a single writer goroutine, so Send never blocks on
// the network. Receive must be called from one goroutine at a time.
type Conn struct {
	ws    *websocket.Conn
	codec *protocol.Codec
	cfg   Config

	mu      sync.Mutex // guards closed and sends on out
	closed  bool
	out     chan []byte
	closing chan struct{}
	done    chan struct{}
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		ws:      ws,
		codec:   protocol.NewCodec(),
		cfg:     cfg,
		out:     make(chan []byte, cfg.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	go c.writeLoop()
	return c
}

// Send queues ev for delivery. It returns ErrClosed after Close and
// ErrQueueFull when the remote end is not keeping up.
func (c *Conn) Send(ev protocol.Event) error {
	data, err := c.codec.EncodeToBytes(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive reads the next event. Frames that fail to decode return an error
// wrapping protocol.ErrMalformed or protocol.ErrMissingField and leave the
// connection usable; any other error means the connection is finished.
func (c *Conn) Receive(ctx context.Context) (protocol.Event, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Event{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Event{}, ctxErr
			}
			return protocol.Event{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return c.codec.DecodeFromBytes(data)
	}
}

// Close stops accepting events, flushes what is already queued and closes
// the socket. It does not wait; use Done for that.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closing)
	}
	return nil
}

// Done is closed once the socket has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case data := <-c.out:
			if err := c.write(data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closing:
			c.flush()
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// flush writes frames queued before Close. No new frames can arrive once
// closing is closed.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.out:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
