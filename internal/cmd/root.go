// Package cmd holds the tracker command line.
package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultTrackerURL = "http://localhost:5001"

var trackerURL string

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "peer discovery tracker",
	Long: `tracker is a rendezvous service for peer to peer file sharing: peers
register, announce the content they share and learn about each other.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&trackerURL, "tracker", "t", defaultTrackerURL, "tracker base URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(peersCmd)
}

// endpoint joins path onto the tracker base URL.
func endpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid tracker URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid tracker URL %q: scheme must be http or https", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// websocketURL is the tracker's websocket endpoint for an http(s) base URL.
func websocketURL(base string) (string, error) {
	raw, err := endpoint(base, "/ws")
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String(), nil
}
