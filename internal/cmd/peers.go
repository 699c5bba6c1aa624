package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peer-tracker/internal/logger"
	"github.com/rudransh-shrivastava/peer-tracker/internal/peer"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list registered peers over the websocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := websocketURL(trackerURL)
		if err != nil {
			return err
		}

		client := peer.NewClient(peer.Config{
			TrackerURL: ws,
			Logger:     logger.New(logger.Options{Out: io.Discard}),
		})
		ctx := cmd.Context()
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()

		view, err := client.GetPeers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderPeers(view, time.Now()))
		return nil
	},
}

func renderPeers(view protocol.PeersUpdated, now time.Time) string {
	header := titleStyle.Render("Peers") + " " +
		valueStyle.Render(fmt.Sprintf("%d registered, %d connected", view.Count, view.TotalClients))
	if len(view.Peers) == 0 {
		return header
	}

	t := newTable("PEER ID", "ADDRESS", "CONNECTED", "TORRENTS")
	for _, p := range view.Peers {
		connected := p.ConnectedAt
		if at, err := time.Parse(time.RFC3339Nano, p.ConnectedAt); err == nil {
			connected = humanize.RelTime(at, now, "ago", "from now")
		}
		torrents := "-"
		if len(p.ActiveTorrents) > 0 {
			torrents = strings.Join(p.ActiveTorrents, "\n")
		}
		t.Row(p.PeerID, p.IP+":"+strconv.Itoa(p.Port), connected, torrents)
	}
	return header + "\n" + t.Render()
}
