package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/logger"
	"github.com/rudransh-shrivastava/peer-tracker/internal/peer"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
)

func setupServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New(logger.Options{Out: io.Discard})
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Restore(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
	})
	return srv
}

func newClient(t *testing.T, srv *Server) *peer.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := peer.NewClient(peer.Config{
		TrackerURL: "ws://" + srv.Addr() + "/ws",
		Logger:     logger.New(logger.Options{Out: io.Discard}),
	})
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func uploadFile(t *testing.T, srv *Server, field, filename string, content []byte) (int, protocol.UploadResult) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post("http://"+srv.Addr()+"/upload-torrent", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res protocol.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown() }()

	assert.NotEmpty(t, srv.Addr())
	assert.NotNil(t, srv.Handler())
}

func TestNewServerBadAddr(t *testing.T) {
	_, err := NewServer(Config{Addr: "not-an-address"})
	require.Error(t, err)
}

func TestServerAnnounce(t *testing.T) {
	srv := setupServer(t, Config{Store: state.NewMemoryStore()})
	ctx := testContext(t)

	alice := newClient(t, srv)
	reg, err := alice.Register(ctx, protocol.RegisterPeer{PeerID: "alice", Port: 7001})
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.PeerID)

	tp, err := alice.Announce(ctx, "abc123", "alice")
	require.NoError(t, err)
	assert.Empty(t, tp.Peers)
	assert.Equal(t, 1, tp.SwarmSize)

	bob := newClient(t, srv)
	_, err = bob.Register(ctx, protocol.RegisterPeer{PeerID: "bob"})
	require.NoError(t, err)

	tp, err = bob.Announce(ctx, "abc123", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, tp.Peers)
	assert.Equal(t, 2, tp.SwarmSize)

	view, err := bob.GetPeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Count)
	assert.Equal(t, 2, view.TotalClients)

	msg, err := bob.TestConnection(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Message, "WebSocket test successful - Client: ")
}

func TestServerDisconnectCleansSwarms(t *testing.T) {
	srv := setupServer(t, Config{})
	ctx := testContext(t)
	swarms := srv.Handler().swarms

	alice := newClient(t, srv)
	_, err := alice.Register(ctx, protocol.RegisterPeer{PeerID: "alice"})
	require.NoError(t, err)
	_, err = alice.Announce(ctx, "abc123", "alice")
	require.NoError(t, err)

	bob := newClient(t, srv)
	_, err = bob.Register(ctx, protocol.RegisterPeer{PeerID: "bob"})
	require.NoError(t, err)
	_, err = bob.Announce(ctx, "abc123", "bob")
	require.NoError(t, err)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool {
		peers := swarms.Peers("abc123")
		return len(peers) == 1 && peers[0] == "bob"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		_, ok := swarms.Snapshot()["abc123"]
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerUpload(t *testing.T) {
	uploadDir := t.TempDir()
	store := state.NewMemoryStore()
	srv := setupServer(t, Config{Store: store, UploadDir: uploadDir})
	ctx := testContext(t)

	watcher := newClient(t, srv)

	content := bytes.Repeat([]byte("d"), 1000)
	status, res := uploadFile(t, srv, UploadField, "movie.mp4", content)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Success, res.Error)

	id := catalog.ContentID("movie.mp4")
	assert.Equal(t, id, res.FileID)
	assert.Equal(t, "movie.mp4", res.Filename)
	assert.Equal(t, "Torrent uploaded successfully: movie.mp4 (ID: "+id+")", res.Message)

	stored, err := os.ReadFile(filepath.Join(uploadDir, id+".torrent"))
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	// Connected clients hear about the new content.
	var list protocol.TorrentsList
	for list.Count == 0 {
		select {
		case ev := <-watcher.Events():
			if ev.Name == protocol.EvTorrentsList {
				require.NoError(t, ev.Decode(&list))
			}
		case <-ctx.Done():
			t.Fatal("Timeout waiting for torrents_list")
		}
	}
	assert.Equal(t, int64(1000), list.Torrents[0].Size)

	var api protocol.TorrentsList
	getJSON(t, "http://"+srv.Addr()+"/api/torrents", &api)
	assert.Equal(t, 1, api.Count)
	assert.Equal(t, id, api.Torrents[0].InfoHash)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.TorrentsMetadata, id)
}

func TestServerUploadErrors(t *testing.T) {
	srv := setupServer(t, Config{MaxUploadBytes: 1024})

	status, res := uploadFile(t, srv, "", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, res.Success)
	assert.Equal(t, "No file uploaded", res.Error)

	status, res = uploadFile(t, srv, UploadField, "big.bin", bytes.Repeat([]byte("x"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Upload error: ")

	assert.Equal(t, 0, srv.Handler().catalog.Count())
}

func TestServerUploadStoreFailureIsStructured(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	srv := setupServer(t, Config{UploadDir: filepath.Join(blocker, "torrents")})

	status, res := uploadFile(t, srv, UploadField, "movie.mp4", []byte("d"))
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Upload error: ")
	assert.Equal(t, 0, srv.Handler().catalog.Count())
}

func TestServerUploadKeepsClientFilename(t *testing.T) {
	srv := setupServer(t, Config{UploadDir: t.TempDir()})

	status, res := uploadFile(t, srv, UploadField, "dir/movie.mp4", []byte("d"))
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "dir/movie.mp4", res.Filename)
	assert.Equal(t, catalog.ContentID("dir/movie.mp4"), res.FileID)
	assert.NotEqual(t, catalog.ContentID("movie.mp4"), res.FileID)
}

func TestServerStatusEndpoints(t *testing.T) {
	srv := setupServer(t, Config{})
	ctx := testContext(t)
	base := "http://" + srv.Addr()

	alice := newClient(t, srv)
	_, err := alice.Register(ctx, protocol.RegisterPeer{PeerID: "alice"})
	require.NoError(t, err)
	_ = newClient(t, srv)

	var status protocol.Status
	getJSON(t, base+"/api/status", &status)
	assert.Equal(t, "tracker_running", status.Status)
	assert.Equal(t, 2, status.TotalConnectedClients)
	assert.Equal(t, 1, status.TotalPeers)
	assert.Equal(t, []string{"alice"}, status.ConnectedPeers)
	assert.NotEmpty(t, status.ServerTime)

	var peers protocol.PeersUpdated
	getJSON(t, base+"/api/peers", &peers)
	assert.Equal(t, 1, peers.Count)
	assert.Equal(t, 2, peers.TotalClients)

	var health protocol.Health
	getJSON(t, base+"/health", &health)
	assert.Equal(t, "healthy", health.Status)

	resp, err := http.Post(base+"/api/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerRestoresState(t *testing.T) {
	ctx := testContext(t)
	store := state.NewMemoryStore()

	snap := state.NewSnapshot()
	snap.TorrentSwarms["abc123"] = []string{"alice"}
	snap.TorrentsMetadata["a1b2c3d4"] = catalog.Descriptor{
		Filename:   "movie.mp4",
		UploadedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Size:       1000,
		InfoHash:   "a1b2c3d4",
	}
	require.NoError(t, store.Save(ctx, snap))

	srv := setupServer(t, Config{Store: store})
	bob := newClient(t, srv)

	list, err := bob.GetTorrents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "movie.mp4", list.Torrents[0].Filename)

	tp, err := bob.Announce(ctx, "abc123", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, tp.Peers)
	assert.Equal(t, 2, tp.SwarmSize)
}

func TestServerRestoresOriginalStateFile(t *testing.T) {
	ctx := testContext(t)
	path := filepath.Join(t.TempDir(), "tracker_state.json")
	original := `{"torrents_metadata": {"7fdf2380": {"filename": "movie.mp4", "uploaded_at": "2024-03-01T12:00:00.123456", "size": 1000, "info_hash": "7fdf2380"}}, "torrent_swarms": {"abc": ["alice"]}}`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	store, err := state.NewFileStore(path)
	require.NoError(t, err)
	srv := setupServer(t, Config{Store: store, UploadDir: t.TempDir()})

	var api protocol.TorrentsList
	getJSON(t, "http://"+srv.Addr()+"/api/torrents", &api)
	require.Equal(t, 1, api.Count)
	assert.Equal(t, "movie.mp4", api.Torrents[0].Filename)

	status, res := uploadFile(t, srv, UploadField, "other.bin", []byte("12345"))
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.Success, res.Error)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.TorrentsMetadata, "7fdf2380")
	assert.Contains(t, snap.TorrentsMetadata, catalog.ContentID("other.bin"))
	assert.Equal(t, []string{"alice"}, snap.TorrentSwarms["abc"])
}

func TestServerRelaySignal(t *testing.T) {
	srv := setupServer(t, Config{})
	ctx := testContext(t)

	alice := newClient(t, srv)
	_, err := alice.Register(ctx, protocol.RegisterPeer{PeerID: "alice"})
	require.NoError(t, err)

	signals := make(chan protocol.Signal, 1)
	alice.OnSignal(func(s protocol.Signal) { signals <- s })

	bob := newClient(t, srv)
	_, err = bob.Register(ctx, protocol.RegisterPeer{PeerID: "bob"})
	require.NoError(t, err)

	offer, err := json.Marshal(map[string]string{"type": "offer", "sdp": testSDP})
	require.NoError(t, err)
	require.NoError(t, bob.SendSignal(ctx, "alice", "offer", offer))

	select {
	case s := <-signals:
		assert.Equal(t, "bob", s.FromPeerID)
		assert.Equal(t, "offer", s.Kind)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for relayed signal")
	}
}

func TestServerShutdownKeepsSwarms(t *testing.T) {
	ctx := testContext(t)
	path := filepath.Join(t.TempDir(), "tracker_state.json")
	store, err := state.NewFileStore(path)
	require.NoError(t, err)

	srv := setupServer(t, Config{Store: store})
	alice := newClient(t, srv)
	_, err = alice.Announce(ctx, "abc123", "alice")
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown())
	select {
	case <-alice.Done():
	case <-ctx.Done():
		t.Fatal("Timeout waiting for client to be disconnected")
	}

	reopened, err := state.NewFileStore(path)
	require.NoError(t, err)
	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, snap.TorrentSwarms["abc123"])
}

func TestServerRejectsAfterShutdown(t *testing.T) {
	srv, err := NewServer(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())

	c := peer.NewClient(peer.Config{TrackerURL: "ws://" + srv.Addr() + "/ws"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
}
