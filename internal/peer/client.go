package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/transport"
)

var ErrNotConnected = errors.New("not connected to tracker")

// Client talks to a tracker over one websocket connection. Requests wait for
// the matching reply event; replies of the same kind are matched in order.
type Client struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *transport.Conn
	waiters  map[string][]chan protocol.Event
	onSignal func(protocol.Signal)

	events chan protocol.Event
	done   chan struct{}
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Client{
		config:  cfg,
		logger:  logger,
		waiters: make(map[string][]chan protocol.Event),
		events:  make(chan protocol.Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
}

// Connect dials the tracker and waits for its greeting.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to tracker", "tracker", c.config.TrackerURL)

	conn, err := transport.Dial(ctx, c.config.TrackerURL, c.config.Transport)
	if err != nil {
		c.logger.Error("Failed to connect to tracker", "error", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	greeting := c.expect(protocol.EvPeersUpdated)
	go c.readLoop(conn)

	if _, err := c.await(ctx, protocol.EvPeersUpdated, greeting); err != nil {
		_ = conn.Close()
		return fmt.Errorf("waiting for tracker greeting: %w", err)
	}

	c.logger.Info("Connected to tracker", "tracker", c.config.TrackerURL)
	return nil
}

// Register identifies this connection as a peer.
func (c *Client) Register(ctx context.Context, req protocol.RegisterPeer) (protocol.PeerRegistered, error) {
	var res protocol.PeerRegistered
	err := c.request(ctx, protocol.EvRegisterPeer, req, protocol.EvPeerRegistered, &res)
	return res, err
}

// Announce joins the swarm for infoHash and returns the other members.
func (c *Client) Announce(ctx context.Context, infoHash, peerID string) (protocol.TorrentPeers, error) {
	var res protocol.TorrentPeers
	err := c.request(ctx, protocol.EvAnnounceTorrent,
		protocol.AnnounceTorrent{InfoHash: infoHash, PeerID: peerID},
		protocol.EvTorrentPeers, &res)
	return res, err
}

func (c *Client) GetPeers(ctx context.Context) (protocol.PeersUpdated, error) {
	var res protocol.PeersUpdated
	err := c.request(ctx, protocol.EvGetPeers, nil, protocol.EvPeersUpdated, &res)
	return res, err
}

func (c *Client) GetTorrents(ctx context.Context) (protocol.TorrentsList, error) {
	var res protocol.TorrentsList
	err := c.request(ctx, protocol.EvGetTorrents, nil, protocol.EvTorrentsList, &res)
	return res, err
}

func (c *Client) TestConnection(ctx context.Context) (protocol.ServerMessage, error) {
	var res protocol.ServerMessage
	err := c.request(ctx, protocol.EvTestConnection, map[string]string{}, protocol.EvServerMessage, &res)
	return res, err
}

// SendSignal asks the tracker to relay a WebRTC signal to targetPeerID. The
// tracker does not acknowledge relays.
func (c *Client) SendSignal(ctx context.Context, targetPeerID, kind string, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(protocol.EvRelaySignal, protocol.RelaySignal{
		TargetPeerID: targetPeerID,
		Kind:         kind,
		Payload:      payload,
	})
}

// OnSignal sets the handler for signals relayed from other peers. It runs on
// the read goroutine.
func (c *Client) OnSignal(handler func(protocol.Signal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSignal = handler
}

// Events carries every event that was not consumed as a request reply.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the connection to the tracker ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.logger.Info("Closing tracker client")

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) request(ctx context.Context, name string, payload any, reply string, out any) error {
	ch := c.expect(reply)
	if err := c.send(name, payload); err != nil {
		c.forget(reply, ch)
		return err
	}

	ev, err := c.await(ctx, reply, ch)
	if err != nil {
		return err
	}
	return ev.Decode(out)
}

func (c *Client) send(name string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		return err
	}
	c.logger.Debug("Sending event", "event", name)
	return conn.Send(ev)
}

func (c *Client) expect(name string) chan protocol.Event {
	ch := make(chan protocol.Event, 1)
	c.mu.Lock()
	c.waiters[name] = append(c.waiters[name], ch)
	c.mu.Unlock()
	return ch
}

func (c *Client) forget(name string, ch chan protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiting := c.waiters[name]
	for i, w := range waiting {
		if w == ch {
			c.waiters[name] = append(waiting[:i], waiting[i+1:]...)
			return
		}
	}
}

func (c *Client) await(ctx context.Context, name string, ch chan protocol.Event) (protocol.Event, error) {
	select {
	case ev := <-ch:
		return ev, nil
	case <-c.done:
		return protocol.Event{}, ErrNotConnected
	case <-ctx.Done():
		c.forget(name, ch)
		return protocol.Event{}, ctx.Err()
	}
}

func (c *Client) readLoop(conn *transport.Conn) {
	defer close(c.done)

	for {
		ev, err := conn.Receive(context.Background())
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrMissingField) {
				c.logger.Warn("Dropped undecodable event from tracker", "error", err)
				continue
			}
			c.logger.Debug("Tracker connection closed", "error", err)
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev protocol.Event) {
	c.mu.Lock()
	var waiter chan protocol.Event
	if waiting := c.waiters[ev.Name]; len(waiting) > 0 {
		waiter = waiting[0]
		c.waiters[ev.Name] = waiting[1:]
	}
	onSignal := c.onSignal
	c.mu.Unlock()

	if waiter != nil {
		waiter <- ev
		return
	}

	if ev.Name == protocol.EvSignal && onSignal != nil {
		var sig protocol.Signal
		if err := ev.Decode(&sig); err != nil {
			c.logger.Warn("Dropped malformed signal", "error", err)
			return
		}
		onSignal(sig)
		return
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Debug("Event buffer full, dropping event", "event", ev.Name)
	}
}
