package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peer-tracker/internal/config"
	"github.com/rudransh-shrivastava/peer-tracker/internal/logger"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
	"github.com/rudransh-shrivastava/peer-tracker/internal/tracker"
	"github.com/rudransh-shrivastava/peer-tracker/internal/transport"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the tracker server",
	Long:  `run the tracker server; configuration comes from an optional TOML file and TRACKER_* environment variables`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logger.New(logger.Options{
		Level: level,
		JSON:  cfg.Format == "json",
	}), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	store, err := state.Open(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	log.Info("Using state backend", "type", cfg.State.Type)

	srv, err := tracker.NewServer(tracker.Config{
		Addr:           cfg.Listen,
		Logger:         log,
		Store:          store,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Transport: transport.Config{
			WriteTimeout: cfg.Transport.WriteTimeout,
			PingInterval: cfg.Transport.PingInterval,
			PongTimeout:  cfg.Transport.PongTimeout,
			QueueSize:    cfg.Transport.QueueSize,
		},
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("starting tracker: %w", err)
	}

	if err := srv.Restore(ctx); err != nil {
		// The tracker still serves; the persister leaves the unread record in
		// place or moves a corrupt one aside.
		log.Error("Failed to restore state, starting empty", "error", err)
	}

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
