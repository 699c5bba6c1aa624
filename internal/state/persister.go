package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/swarm"
)

// Persister writes the swarm table and content directory through to a Store.
// The in-memory tables stay authoritative: a failed save is logged and
// returned but never undoes the mutation that triggered it.
type Persister struct {
	mu      sync.Mutex
	store   Store
	swarms  *swarm.Table
	catalog *catalog.Directory
	logger  *slog.Logger
	// held is the failed restore that keeps saves from overwriting the
	// stored record.
	held error
}

func NewPersister(store Store, swarms *swarm.Table, dir *catalog.Directory, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:   store,
		swarms:  swarms,
		catalog: dir,
		logger:  logger,
	}
}

// Snapshot captures the current tables. Each table is copied under its own
// lock, one after the other.
func (p *Persister) Snapshot() *Snapshot {
	return &Snapshot{
		TorrentsMetadata: p.catalog.Snapshot(),
		TorrentSwarms:    p.swarms.Snapshot(),
	}
}

// Flush saves the current state. Flushes are serialized and each one takes
// its snapshot after acquiring the lock, so the last save to finish always
// carries the newest state.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held != nil {
		p.logger.Debug("Not saving state over an unrestored record", "error", p.held)
		return fmt.Errorf("%w: %w", ErrNotRestored, p.held)
	}

	snap := p.Snapshot()
	if err := p.store.Save(ctx, snap); err != nil {
		p.logger.Error("Failed to save state", "error", err)
		return err
	}
	p.logger.Debug("State saved",
		"torrents", len(snap.TorrentsMetadata), "swarms", len(snap.TorrentSwarms))
	return nil
}

// Restore replaces the tables with the stored record. A store with nothing
// saved yet leaves the tables empty.
//
// If the record cannot be loaded the tables are left as they are and Flush
// refuses to save until a later Restore succeeds, so the record is never
// replaced by partial state. A corrupt record in a Quarantiner store is moved
// aside instead and saving continues from empty tables.
func (p *Persister) Restore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.store.Load(ctx)
	if err != nil {
		err = fmt.Errorf("restoring state: %w", err)
		p.held = err

		q, ok := p.store.(Quarantiner)
		if !ok || !errors.Is(err, ErrCorrupt) {
			return err
		}
		aside, qerr := q.Quarantine(ctx)
		if qerr != nil {
			p.logger.Error("Failed to move corrupt state aside", "error", qerr)
			return err
		}
		p.logger.Warn("Moved corrupt state aside", "path", aside)
		p.held = nil
		return err
	}
	p.held = nil
	if snap == nil {
		p.logger.Info("No existing state; starting fresh")
		snap = NewSnapshot()
	}

	p.catalog.Restore(snap.TorrentsMetadata)
	p.swarms.Restore(snap.TorrentSwarms)
	p.logger.Info("Loaded state",
		"torrents", p.catalog.Count(), "swarms", p.swarms.Len())
	return nil
}

func (p *Persister) Close() error {
	return p.store.Close()
}
