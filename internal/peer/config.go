package peer

import (
	"log/slog"

	"github.com/rudransh-shrivastava/peer-tracker/internal/transport"
)

type Config struct {
	// TrackerURL is the tracker's websocket endpoint, e.g. ws://localhost:5001/ws.
	TrackerURL string
	Logger     *slog.Logger
	Transport  transport.Config
	// EventBuffer is the capacity of the Events channel. Events that do not
	// fit are dropped.
	EventBuffer int
}
