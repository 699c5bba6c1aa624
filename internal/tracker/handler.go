package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/session"
	"github.com/rudransh-shrivastava/peer-tracker/internal/signal"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
	"github.com/rudransh-shrivastava/peer-tracker/internal/swarm"
)

// Handler applies client events to the shared tables and answers through the
// Broadcaster. Expected failures (bad payloads, unknown sessions) are logged
// and dropped; nothing a client sends can stop the handler.
type Handler struct {
	sessions    *session.Registry
	swarms      *swarm.Table
	catalog     *catalog.Directory
	persister   *state.Persister
	broadcaster *Broadcaster
	logger      *slog.Logger
}

type HandlerConfig struct {
	Sessions *session.Registry
	Swarms   *swarm.Table
	Catalog  *catalog.Directory
	// Persister is optional; without one state lives only in memory.
	Persister *state.Persister
	Logger    *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:    cfg.Sessions,
		swarms:      cfg.Swarms,
		catalog:     cfg.Catalog,
		persister:   cfg.Persister,
		broadcaster: NewBroadcaster(cfg.Sessions, cfg.Swarms, cfg.Catalog, logger),
		logger:      logger,
	}
}

func (h *Handler) Broadcaster() *Broadcaster {
	return h.broadcaster
}

// Connect creates a session for conn and greets it with the current peer
// view.
func (h *Handler) Connect(remoteAddr string, conn Sender) string {
	ip := hostOf(remoteAddr)
	sessionID := h.sessions.Connect(ip)
	h.broadcaster.Attach(sessionID, conn)
	h.logger.Info("Client connected", "session", sessionID, "remote", ip)

	h.unicast(sessionID, protocol.EvServerMessage, protocol.ServerMessage{
		Type:    protocol.MsgSuccess,
		Message: "WebSocket connected from " + ip,
	})
	h.broadcaster.UnicastPeerView(sessionID)
	return sessionID
}

// Disconnect removes the session and, for peers, every swarm membership.
// It never writes to the departing connection.
func (h *Handler) Disconnect(ctx context.Context, sessionID string) {
	h.broadcaster.Detach(sessionID)

	peerID, wasPeer := h.sessions.Disconnect(sessionID)
	if wasPeer {
		affected := h.swarms.RemovePeer(peerID)
		h.logger.Info("Peer disconnected", "session", sessionID, "peer_id", peerID, "swarms", len(affected))
		h.persist(ctx)
	} else {
		h.logger.Info("Client disconnected", "session", sessionID)
	}

	h.broadcaster.BroadcastPeerView()
}

// HandleEvent dispatches one inbound event from sessionID.
func (h *Handler) HandleEvent(ctx context.Context, sessionID string, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered from panic in event handler",
				"session", sessionID, "event", ev.Name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger := h.logger.With("session", sessionID, "event", ev.Name)
	if !protocol.Inbound(ev.Name) {
		logger.Warn("Dropped event", "error", fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, ev.Name))
		return
	}

	var err error
	switch ev.Name {
	case protocol.EvRegisterPeer:
		err = h.handleRegister(sessionID, ev)
	case protocol.EvGetPeers:
		h.broadcaster.UnicastPeerView(sessionID)
	case protocol.EvGetTorrents:
		h.broadcaster.UnicastTorrents(sessionID)
	case protocol.EvTestConnection:
		h.unicast(sessionID, protocol.EvServerMessage, protocol.ServerMessage{
			Type:    protocol.MsgSuccess,
			Message: "WebSocket test successful - Client: " + sessionID,
		})
	case protocol.EvAnnounceTorrent:
		err = h.handleAnnounce(ctx, sessionID, ev)
	case protocol.EvMessage:
		logger.Debug("Received message", "data", string(ev.Data))
		h.unicast(sessionID, protocol.EvServerMessage, protocol.ServerMessage{
			Type:    protocol.MsgInfo,
			Message: "Message received: " + messageText(ev.Data),
		})
	case protocol.EvRelaySignal:
		err = h.handleRelaySignal(sessionID, ev)
	}

	if err != nil {
		logger.Warn("Dropped event", "error", err)
	}
}

func (h *Handler) handleRegister(sessionID string, ev protocol.Event) error {
	var req protocol.RegisterPeer
	if err := ev.Decode(&req); err != nil {
		return err
	}
	peerID := req.Identity()

	ok := h.sessions.Register(sessionID, peerID, session.Attrs{
		Port:         req.Port,
		ClientType:   req.ClientType,
		IPAddress:    req.IPAddress,
		Capabilities: req.Capabilities,
	})
	if !ok {
		return fmt.Errorf("register %q: %w", peerID, session.ErrUnknownSession)
	}
	h.logger.Info("Peer registered", "session", sessionID, "peer_id", peerID)

	h.broadcaster.BroadcastPeerView()
	h.unicast(sessionID, protocol.EvServerMessage, protocol.ServerMessage{
		Type:    protocol.MsgSuccess,
		Message: "Successfully registered as peer: " + peerID,
	})
	h.unicast(sessionID, protocol.EvPeerRegistered, protocol.PeerRegistered{
		PeerID:    peerID,
		Status:    protocol.StatusSuccess,
		Timestamp: protocol.Timestamp(h.broadcaster.now()),
	})
	return nil
}

func (h *Handler) handleAnnounce(ctx context.Context, sessionID string, ev protocol.Event) error {
	var req protocol.AnnounceTorrent
	if err := ev.Decode(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	others, size, added := h.swarms.Announce(req.InfoHash, req.PeerID)
	h.logger.Info("Torrent announced",
		"session", sessionID, "peer_id", req.PeerID, "info_hash", req.InfoHash, "swarm_size", size)
	if added {
		h.persist(ctx)
	}

	h.unicast(sessionID, protocol.EvTorrentPeers, protocol.TorrentPeers{
		InfoHash:  req.InfoHash,
		Peers:     others,
		SwarmSize: size,
	})
	return nil
}

func (h *Handler) handleRelaySignal(sessionID string, ev protocol.Event) error {
	var req protocol.RelaySignal
	if err := ev.Decode(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	kind, err := signal.ParseKind(req.Kind)
	if err != nil {
		return err
	}
	if err := signal.Validate(kind, req.Payload); err != nil {
		return err
	}

	from := req.FromPeerID
	if sender, err := h.sessions.Get(sessionID); err == nil && sender.Role == session.RolePeer {
		from = sender.PeerID
	}
	if from == "" {
		return fmt.Errorf("relay from unregistered session: %w", protocol.ErrMissingField)
	}

	target, ok := h.sessions.FindByPeerID(req.TargetPeerID)
	if !ok {
		return fmt.Errorf("relay to %q: %w", req.TargetPeerID, session.ErrUnknownSession)
	}

	h.logger.Debug("Relaying signal", "from", from, "to", req.TargetPeerID, "kind", kind)
	h.unicast(target, protocol.EvSignal, protocol.Signal{
		FromPeerID: from,
		Kind:       string(kind),
		Payload:    req.Payload,
	})
	return nil
}

// AddContent records an uploaded item and tells every client about it.
func (h *Handler) AddContent(ctx context.Context, filename string, size int64) (catalog.Descriptor, string) {
	d := h.catalog.Add(filename, size)
	h.persist(ctx)

	msg := fmt.Sprintf("Torrent uploaded successfully: %s (ID: %s)", d.Filename, d.InfoHash)
	h.logger.Info("Torrent uploaded", "filename", d.Filename, "file_id", d.InfoHash, "size", d.Size)

	ev, err := protocol.NewEvent(protocol.EvServerMessage, protocol.ServerMessage{
		Type:    protocol.MsgSuccess,
		Message: msg,
	})
	if err == nil {
		h.broadcaster.Broadcast(ev)
	}
	h.broadcaster.BroadcastTorrents()
	return d, msg
}

// Status summarises the tracker for the HTTP status endpoint.
func (h *Handler) Status() protocol.Status {
	peers := h.sessions.ListPeers()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	return protocol.Status{
		Status:                "tracker_running",
		TotalConnectedClients: h.sessions.Len(),
		TotalPeers:            len(peers),
		TotalTorrents:         h.catalog.Count(),
		ConnectedPeers:        ids,
		ServerTime:            protocol.Timestamp(h.broadcaster.now()),
	}
}

func (h *Handler) persist(ctx context.Context) {
	if h.persister == nil {
		return
	}
	// Failures are logged by the persister; memory stays authoritative.
	_ = h.persister.Flush(ctx)
}

func (h *Handler) unicast(sessionID, name string, payload any) {
	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", "event", name, "error", err)
		return
	}
	h.broadcaster.Unicast(sessionID, ev)
}

// messageText renders a generic message payload: JSON strings unquoted,
// anything else as raw JSON.
func messageText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
