package tracker

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/session"
	"github.com/rudransh-shrivastava/peer-tracker/internal/swarm"
	"github.com/rudransh-shrivastava/peer-tracker/internal/transport"
)

// Sender is the outbound half of a client connection. Send must not block on
// network I/O.
type Sender interface {
	Send(ev protocol.Event) error
	Close() error
}

// Broadcaster builds peer and content views and delivers them to
// connections.
//
// Every delivery goes through seq: the view is computed after the caller's
// mutation has completed and is queued on each connection before the next
// delivery starts, so clients see views in the order events were processed.
// Table locks are only held while copying data out and never while sending.
type Broadcaster struct {
	seq sync.Mutex

	mu    sync.RWMutex
	conns map[string]Sender

	sessions *session.Registry
	swarms   *swarm.Table
	catalog  *catalog.Directory
	now      func() time.Time
	logger   *slog.Logger
}

func NewBroadcaster(sessions *session.Registry, swarms *swarm.Table, dir *catalog.Directory, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		conns:    make(map[string]Sender),
		sessions: sessions,
		swarms:   swarms,
		catalog:  dir,
		now:      time.Now,
		logger:   logger,
	}
}

func (b *Broadcaster) Attach(sessionID string, s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[sessionID] = s
}

func (b *Broadcaster) Detach(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, sessionID)
}

// PeerView is the current peer list. Count covers PEER sessions only;
// TotalClients counts every connection.
func (b *Broadcaster) PeerView() protocol.PeersUpdated {
	views, total := b.sessions.Census()
	sort.Slice(views, func(i, j int) bool {
		if !views[i].ConnectedAt.Equal(views[j].ConnectedAt) {
			return views[i].ConnectedAt.Before(views[j].ConnectedAt)
		}
		return views[i].SessionID < views[j].SessionID
	})

	peers := make([]protocol.PeerInfo, 0, len(views))
	for _, v := range views {
		peers = append(peers, protocol.PeerInfo{
			ClientID:       v.SessionID,
			IP:             v.RemoteAddr,
			Port:           v.Port,
			PeerID:         v.PeerID,
			ConnectedAt:    protocol.Timestamp(v.ConnectedAt),
			ActiveTorrents: b.swarms.SwarmsOf(v.PeerID),
		})
	}

	return protocol.PeersUpdated{
		Peers:        peers,
		Count:        len(peers),
		TotalClients: total,
		Timestamp:    protocol.Timestamp(b.now()),
	}
}

func (b *Broadcaster) TorrentsList() protocol.TorrentsList {
	torrents := b.catalog.List()
	return protocol.TorrentsList{Torrents: torrents, Count: len(torrents)}
}

// Unicast queues ev for one session. It reports whether the session has a
// connection.
func (b *Broadcaster) Unicast(sessionID string, ev protocol.Event) bool {
	b.seq.Lock()
	defer b.seq.Unlock()

	b.mu.RLock()
	s, ok := b.conns[sessionID]
	b.mu.RUnlock()
	if !ok {
		b.logger.Debug("Unicast to detached session", "session", sessionID, "event", ev.Name)
		return false
	}
	b.deliver(sessionID, s, ev)
	return true
}

// Broadcast queues ev for every connected session.
func (b *Broadcaster) Broadcast(ev protocol.Event) {
	b.seq.Lock()
	defer b.seq.Unlock()
	b.fanOut(ev)
}

// UnicastPeerView sends the peer view computed at delivery time.
func (b *Broadcaster) UnicastPeerView(sessionID string) bool {
	return b.unicastView(sessionID, protocol.EvPeersUpdated, func() any { return b.PeerView() })
}

func (b *Broadcaster) UnicastTorrents(sessionID string) bool {
	return b.unicastView(sessionID, protocol.EvTorrentsList, func() any { return b.TorrentsList() })
}

func (b *Broadcaster) BroadcastPeerView() {
	b.broadcastView(protocol.EvPeersUpdated, func() any { return b.PeerView() })
}

func (b *Broadcaster) BroadcastTorrents() {
	b.broadcastView(protocol.EvTorrentsList, func() any { return b.TorrentsList() })
}

func (b *Broadcaster) unicastView(sessionID, name string, view func() any) bool {
	b.seq.Lock()
	defer b.seq.Unlock()

	b.mu.RLock()
	s, ok := b.conns[sessionID]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	ev, err := protocol.NewEvent(name, view())
	if err != nil {
		b.logger.Error("Failed to encode view", "event", name, "error", err)
		return false
	}
	b.deliver(sessionID, s, ev)
	return true
}

func (b *Broadcaster) broadcastView(name string, view func() any) {
	b.seq.Lock()
	defer b.seq.Unlock()

	ev, err := protocol.NewEvent(name, view())
	if err != nil {
		b.logger.Error("Failed to encode view", "event", name, "error", err)
		return
	}
	b.fanOut(ev)
}

// fanOut must be called with seq held.
func (b *Broadcaster) fanOut(ev protocol.Event) {
	b.mu.RLock()
	targets := make(map[string]Sender, len(b.conns))
	for id, s := range b.conns {
		targets[id] = s
	}
	b.mu.RUnlock()

	for id, s := range targets {
		b.deliver(id, s, ev)
	}
	b.logger.Debug("Broadcast", "event", ev.Name, "sessions", len(targets))
}

// deliver queues ev on s. A connection whose queue is full is closed; its
// read loop then runs the normal disconnect path.
func (b *Broadcaster) deliver(sessionID string, s Sender, ev protocol.Event) {
	err := s.Send(ev)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrQueueFull):
		b.logger.Warn("Client too slow, closing connection", "session", sessionID, "event", ev.Name)
		_ = s.Close()
	case errors.Is(err, transport.ErrClosed):
		b.logger.Debug("Dropped event for closed connection", "session", sessionID, "event", ev.Name)
	default:
		b.logger.Error("Failed to send event", "session", sessionID, "event", ev.Name, "error", err)
	}
}
