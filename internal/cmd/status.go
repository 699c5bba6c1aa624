package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show tracker status and the content directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var status protocol.Status
		if err := fetchJSON(ctx, trackerURL, "/api/status", &status); err != nil {
			return err
		}
		var torrents protocol.TorrentsList
		if err := fetchJSON(ctx, trackerURL, "/api/torrents", &torrents); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status, torrents, time.Now()))
		return nil
	},
}

func fetchJSON(ctx context.Context, base, path string, out any) error {
	target, err := endpoint(base, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetching %s: %s: %s", target, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", target, err)
	}
	return nil
}

func renderStatus(status protocol.Status, torrents protocol.TorrentsList, now time.Time) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Tracker") + " " + okStyle.Render(status.Status) + "\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Connections", humanize.Comma(int64(status.TotalConnectedClients)))
	row("Registered peers", humanize.Comma(int64(status.TotalPeers)))
	row("Torrents", humanize.Comma(int64(status.TotalTorrents)))
	if t, err := time.Parse(time.RFC3339Nano, status.ServerTime); err == nil {
		row("Server time", t.Local().Format(time.DateTime))
	}
	if len(status.ConnectedPeers) > 0 {
		row("Peer IDs", strings.Join(status.ConnectedPeers, ", "))
	}

	if len(torrents.Torrents) == 0 {
		b.WriteString("\n" + labelStyle.UnsetWidth().Render("no torrents uploaded"))
		return b.String()
	}

	t := newTable("FILENAME", "INFO HASH", "SIZE", "UPLOADED")
	for _, d := range torrents.Torrents {
		t.Row(d.Filename, d.InfoHash, humanize.Bytes(uint64(d.Size)), humanize.RelTime(d.UploadedAt, now, "ago", "from now"))
	}
	b.WriteString("\n" + t.Render())
	return b.String()
}
