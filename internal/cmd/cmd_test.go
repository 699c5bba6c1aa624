package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/config"
	"github.com/rudransh-shrivastava/peer-tracker/internal/logger"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
	"github.com/rudransh-shrivastava/peer-tracker/internal/tracker"
)

func startTracker(t *testing.T) (*tracker.Server, string) {
	t.Helper()
	srv, err := tracker.NewServer(tracker.Config{
		Addr:      "127.0.0.1:0",
		Logger:    logger.New(logger.Options{Out: io.Discard}),
		Store:     state.NewMemoryStore(),
		UploadDir: t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
	})
	return srv, "http://" + srv.Addr()
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{"http://localhost:5001", "/api/status", "http://localhost:5001/api/status", false},
		{"http://localhost:5001/", "/health", "http://localhost:5001/health", false},
		{"https://tracker.example.com/base", "/ws", "https://tracker.example.com/base/ws", false},
		{"ftp://localhost", "/ws", "", true},
		{"://bad", "/ws", "", true},
	}
	for _, tt := range tests {
		got, err := endpoint(tt.base, tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("http://localhost:5001")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5001/ws", got)

	got, err = websocketURL("https://tracker.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://tracker.example.com/ws", got)
}

func TestUploadAndStatus(t *testing.T) {
	_, base := startTracker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "movie.torrent")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("d"), 2048), 0o644))

	res, err := uploadFile(ctx, base, path, io.Discard)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "movie.torrent", res.Filename)
	assert.Equal(t, catalog.ContentID("movie.torrent"), res.FileID)

	var status protocol.Status
	require.NoError(t, fetchJSON(ctx, base, "/api/status", &status))
	assert.Equal(t, "tracker_running", status.Status)
	assert.Equal(t, 1, status.TotalTorrents)

	var torrents protocol.TorrentsList
	require.NoError(t, fetchJSON(ctx, base, "/api/torrents", &torrents))
	require.Len(t, torrents.Torrents, 1)

	out := renderStatus(status, torrents, time.Now())
	assert.Contains(t, out, "tracker_running")
	assert.Contains(t, out, "movie.torrent")
	assert.Contains(t, out, res.FileID)
	assert.Contains(t, out, "2.0 kB")
}

func TestUploadMissingFile(t *testing.T) {
	_, base := startTracker(t)
	_, err := uploadFile(context.Background(), base, filepath.Join(t.TempDir(), "nope"), io.Discard)
	require.Error(t, err)
}

func TestFetchJSONErrors(t *testing.T) {
	_, base := startTracker(t)
	ctx := context.Background()

	var v map[string]any
	err := fetchJSON(ctx, base, "/api/missing", &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	require.Error(t, fetchJSON(ctx, "http://127.0.0.1:1", "/health", &v))
}

func TestRenderStatusEmpty(t *testing.T) {
	out := renderStatus(protocol.Status{
		Status:     "tracker_running",
		ServerTime: protocol.Timestamp(time.Now()),
	}, protocol.TorrentsList{}, time.Now())

	assert.Contains(t, out, "Connections")
	assert.Contains(t, out, "no torrents uploaded")
}

func TestRenderPeers(t *testing.T) {
	now := time.Now()
	out := renderPeers(protocol.PeersUpdated{
		Peers: []protocol.PeerInfo{{
			PeerID:         "alice",
			IP:             "10.0.0.1",
			Port:           7001,
			ConnectedAt:    protocol.Timestamp(now.Add(-3 * time.Minute)),
			ActiveTorrents: []string{"abc123"},
		}},
		Count:        1,
		TotalClients: 2,
	}, now)

	assert.Contains(t, out, "1 registered, 2 connected")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "10.0.0.1:7001")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "3 minutes ago")

	assert.NotContains(t, renderPeers(protocol.PeersUpdated{}, now), "PEER ID")
}

func TestPeersCommand(t *testing.T) {
	_, base := startTracker(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"peers", "--tracker", base})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		trackerURL = defaultTrackerURL
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "0 registered, 1 connected")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.UploadDir = t.TempDir()
	cfg.Log.Level = "error"
	cfg.State = config.StateConfig{Type: config.StateFile, Path: filepath.Join(t.TempDir(), "state.json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	require.Error(t, serve(context.Background(), cfg))

	cfg = config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.State = config.StateConfig{Type: "tape"}
	require.ErrorIs(t, serve(context.Background(), cfg), state.ErrUnknownBackend)
}
