// Package session tracks live tracker connections and the peer identity each
// one registered. Sessions are ephemeral and never persisted.
package session

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPort       = 6881
	DefaultClientType = "unknown"
)

var ErrUnknownSession = errors.New("unknown session")

type Role int

const (
	RoleUnknown Role = iota
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Attrs are the descriptive fields a peer supplies on registration. None of
// them are required for correctness.
type Attrs struct {
	Port         int
	ClientType   string
	IPAddress    string
	Capabilities []string
}

type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Role        Role
	PeerID      string
	Attrs       Attrs
}

// PeerView is the registry's public projection of a PEER session.
type PeerView struct {
	SessionID   string
	RemoteAddr  string
	IPAddress   string
	Port        int
	PeerID      string
	ConnectedAt time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect creates a session in role UNKNOWN and returns its id.
func (r *Registry) Connect(remoteAddr string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for r.sessions[id] != nil {
		id = r.newID()
	}
	r.sessions[id] = &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
		Role:        RoleUnknown,
	}
	return id
}

// Register promotes the session to PEER. A second registration on the same
// session replaces the identity; swarms that still reference the previous
// peer id are left untouched.
func (r *Registry) Register(sessionID, peerID string, attrs Attrs) bool {
	if attrs.Port == 0 {
		attrs.Port = DefaultPort
	}
	if attrs.ClientType == "" {
		attrs.ClientType = DefaultClientType
	}
	attrs.Capabilities = slices.Clone(attrs.Capabilities)
	if attrs.Capabilities == nil {
		attrs.Capabilities = []string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.logger.Warn("Register for unknown session", "session", sessionID, "peer_id", peerID)
		return false
	}
	if attrs.IPAddress == "" {
		attrs.IPAddress = s.RemoteAddr
	}
	if s.PeerID != "" && s.PeerID != peerID {
		r.logger.Warn("Session re-registered under a new peer id",
			"session", sessionID, "old_peer_id", s.PeerID, "peer_id", peerID)
	}
	s.Role = RolePeer
	s.PeerID = peerID
	s.Attrs = attrs
	return true
}

// Disconnect removes the session and returns the peer identity it held, if
// any.
func (r *Registry) Disconnect(sessionID string) (peerID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return "", false
	}
	delete(r.sessions, sessionID)
	if s.Role != RolePeer {
		return "", false
	}
	return s.PeerID, true
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrUnknownSession
	}
	cp := *s
	cp.Attrs.Capabilities = slices.Clone(s.Attrs.Capabilities)
	return cp, nil
}

// ListPeers returns one view per PEER session, ordered by connection time.
func (r *Registry) ListPeers() []PeerView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listPeersLocked()
}

// Len counts every live session, registered or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Census returns the PEER sessions together with the total session count,
// both read under one lock so total is never below len(peers).
func (r *Registry) Census() (peers []PeerView, total int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listPeersLocked(), len(r.sessions)
}

func (r *Registry) listPeersLocked() []PeerView {
	peers := make([]PeerView, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Role != RolePeer {
			continue
		}
		peers = append(peers, PeerView{
			SessionID:   s.ID,
			RemoteAddr:  s.RemoteAddr,
			IPAddress:   s.Attrs.IPAddress,
			Port:        s.Attrs.Port,
			PeerID:      s.PeerID,
			ConnectedAt: s.ConnectedAt,
		})
	}
	return peers
}

// FindByPeerID returns the most recently connected session registered under
// peerID.
func (r *Registry) FindByPeerID(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Session
	for _, s := range r.sessions {
		if s.Role != RolePeer || s.PeerID != peerID {
			continue
		}
		if found == nil || s.ConnectedAt.After(found.ConnectedAt) {
			found = s
		}
	}
	if found == nil {
		return "", false
	}
	return found.ID, true
}
