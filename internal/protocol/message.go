package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
)

// Event is one frame on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes payload as the event data. A nil payload leaves Data empty.
func NewEvent(name string, payload any) (Event, error) {
	ev := Event{Name: name}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	ev.Data = data
	return ev, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%s: %w: data", e.Name, ErrMissingField)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w: %v", e.Name, ErrMalformed, err)
	}
	return nil
}

// Timestamp formats t the way every outbound payload carries time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type RegisterPeer struct {
	PeerID       string   `json:"peer_id"`
	Port         int      `json:"port,omitempty"`
	ClientType   string   `json:"client_type,omitempty"`
	IPAddress    string   `json:"ip_address,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// UnknownPeerID is the identity given to a registration without a peer_id.
const UnknownPeerID = "unknown"

// Identity is the peer id to register under.
func (r RegisterPeer) Identity() string {
	if r.PeerID == "" {
		return UnknownPeerID
	}
	return r.PeerID
}

type AnnounceTorrent struct {
	InfoHash string `json:"info_hash"`
	PeerID   string `json:"peer_id"`
}

func (a AnnounceTorrent) Validate() error {
	if a.InfoHash == "" {
		return fmt.Errorf("%s: %w: info_hash", EvAnnounceTorrent, ErrMissingField)
	}
	if a.PeerID == "" {
		return fmt.Errorf("%s: %w: peer_id", EvAnnounceTorrent, ErrMissingField)
	}
	return nil
}

// RelaySignal asks the tracker to forward WebRTC signaling to another peer.
// FromPeerID is filled from the sender's registration when empty.
type RelaySignal struct {
	TargetPeerID string          `json:"target_peer_id"`
	FromPeerID   string          `json:"from_peer_id,omitempty"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

func (r RelaySignal) Validate() error {
	switch {
	case r.TargetPeerID == "":
		return fmt.Errorf("%s: %w: target_peer_id", EvRelaySignal, ErrMissingField)
	case r.Kind == "":
		return fmt.Errorf("%s: %w: kind", EvRelaySignal, ErrMissingField)
	case len(r.Payload) == 0:
		return fmt.Errorf("%s: %w: payload", EvRelaySignal, ErrMissingField)
	}
	return nil
}

type PeerInfo struct {
	ClientID       string   `json:"client_id"`
	IP             string   `json:"ip"`
	Port           int      `json:"port"`
	PeerID         string   `json:"peer_id"`
	ConnectedAt    string   `json:"connected_at"`
	ActiveTorrents []string `json:"active_torrents"`
}

type PeersUpdated struct {
	Peers        []PeerInfo `json:"peers"`
	Count        int        `json:"count"`
	TotalClients int        `json:"total_clients"`
	Timestamp    string     `json:"timestamp"`
}

type TorrentPeers struct {
	InfoHash  string   `json:"info_hash"`
	Peers     []string `json:"peers"`
	SwarmSize int      `json:"swarm_size"`
}

type TorrentsList struct {
	Torrents []catalog.Descriptor `json:"torrents"`
	Count    int                  `json:"count"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PeerRegistered struct {
	PeerID    string `json:"peer_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type Signal struct {
	FromPeerID string          `json:"from_peer_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// UploadResult is the body returned by the upload endpoint.
type UploadResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

type Status struct {
	Status                string   `json:"status"`
	TotalConnectedClients int      `json:"total_connected_clients"`
	TotalPeers            int      `json:"total_peers"`
	TotalTorrents         int      `json:"total_torrents"`
	ConnectedPeers        []string `json:"connected_peers"`
	ServerTime            string   `json:"server_time"`
}

type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
