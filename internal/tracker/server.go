package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/session"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
	"github.com/rudransh-shrivastava/peer-tracker/internal/swarm"
	"github.com/rudransh-shrivastava/peer-tracker/internal/transport"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Addr   string
	Logger *slog.Logger
	// Store persists swarms and content. Nil keeps state in memory only.
	Store state.Store
	// UploadDir receives uploaded files as <file_id>.torrent. Empty skips
	// writing them.
	UploadDir      string
	MaxUploadBytes int64
	Transport      transport.Config
}

type Server struct {
	config     Config
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	handler    *Handler
	persister  *state.Persister

	connCtx     context.Context
	cancelConns context.CancelFunc
	mu          sync.Mutex // guards closed and conns.Add
	closed      bool
	conns       sync.WaitGroup
	stopped     chan struct{}
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry(session.WithLogger(logger))
	swarms := swarm.NewTable()
	dir := catalog.NewDirectory()

	var persister *state.Persister
	if cfg.Store != nil {
		persister = state.NewPersister(cfg.Store, swarms, dir, logger)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		logger:    logger,
		listener:  listener,
		persister: persister,
		handler: NewHandler(HandlerConfig{
			Sessions:  sessions,
			Swarms:    swarms,
			Catalog:   dir,
			Persister: persister,
			Logger:    logger,
		}),
		connCtx:     connCtx,
		cancelConns: cancel,
		stopped:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /upload-torrent", s.handleUpload)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("GET /api/torrents", s.handleTorrents)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Handler() *Handler {
	return s.handler
}

// Restore loads persisted swarms and content. Call it before Start.
func (s *Server) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Restore(ctx)
}

// Start serves until ctx is cancelled or Shutdown is called. Cancellation
// returns once the shutdown has finished.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Tracker server started", "addr", s.Addr())

	stop := context.AfterFunc(ctx, func() {
		_ = s.Shutdown()
	})
	defer stop()

	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		_ = s.Shutdown()
		return ctx.Err()
	}
	return err
}

// Shutdown stops accepting requests, closes every client connection and
// the state store. Swarm memberships of the closed connections stay in the
// persisted record so a restart restores them.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	defer close(s.stopped)

	s.logger.Info("Shutting down tracker server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	// Serve may never have run; the listener still has to go.
	_ = s.listener.Close()

	s.cancelConns()
	s.conns.Wait()

	if s.persister != nil {
		if cerr := s.persister.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := transport.Upgrade(w, r, s.config.Transport)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	sessionID := s.handler.Connect(r.RemoteAddr, conn)
	s.serveConn(sessionID, conn)
}

func (s *Server) serveConn(sessionID string, conn *transport.Conn) {
	logger := s.logger.With("session", sessionID)
	defer func() {
		_ = conn.Close()
		if s.connCtx.Err() != nil {
			// Shutting down: forget the connection but keep its swarms.
			s.handler.Broadcaster().Detach(sessionID)
			return
		}
		s.handler.Disconnect(context.Background(), sessionID)
	}()

	for {
		ev, err := conn.Receive(s.connCtx)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrMissingField) {
				logger.Debug("Dropped undecodable frame", "error", err)
				continue
			}
			logger.Debug("Connection closed", "error", err)
			return
		}
		s.handler.HandleEvent(s.connCtx, sessionID, ev)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Status())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Broadcaster().PeerView())
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Broadcaster().TorrentsList())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Health{
		Status:    "healthy",
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
