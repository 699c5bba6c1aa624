package protocol

// Inbound events.
const (
	EvRegisterPeer    = "register_peer"
	EvGetPeers        = "get_peers"
	EvGetTorrents     = "get_torrents"
	EvTestConnection  = "test_connection"
	EvAnnounceTorrent = "announce_torrent"
	EvMessage         = "message"
	EvRelaySignal     = "relay_signal"
)

// Outbound events.
const (
	EvPeersUpdated   = "peers_updated"
	EvTorrentPeers   = "torrent_peers"
	EvTorrentsList   = "torrents_list"
	EvServerMessage  = "server_message"
	EvPeerRegistered = "peer_registered"
	EvSignal         = "signal"
)

// ServerMessage types.
const (
	MsgSuccess = "success"
	MsgInfo    = "info"
)

// StatusSuccess is the status field of PeerRegistered.
const StatusSuccess = "success"

// Inbound reports whether name is an event clients may send.
func Inbound(name string) bool {
	switch name {
	case EvRegisterPeer, EvGetPeers, EvGetTorrents, EvTestConnection,
		EvAnnounceTorrent, EvMessage, EvRelaySignal:
		return true
	default:
		return false
	}
}
