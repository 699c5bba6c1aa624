// Package state persists the swarm table and content directory as one
// record, written whole after each mutation and read whole at startup.
//
// Backends
//
//	memory : keeps the encoded record in process, for tests
//	file   : JSON file, replaced atomically on every save
//	sqlite : single-row table through gorm
//	redis  : one key holding the JSON record
//	s3     : one object holding the JSON record
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
)

var (
	ErrUnknownBackend = errors.New("unknown state backend")
	// ErrCorrupt marks a stored record that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt state record")
	// ErrNotRestored is returned by Persister.Flush while the stored record
	// could not be restored and is being left untouched.
	ErrNotRestored = errors.New("stored state not restored")
)

// Snapshot is the durable record. The JSON layout matches the tracker's
// historical tracker_state.json file.
type Snapshot struct {
	TorrentsMetadata map[string]catalog.Descriptor `json:"torrents_metadata"`
	TorrentSwarms    map[string][]string           `json:"torrent_swarms"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		TorrentsMetadata: make(map[string]catalog.Descriptor),
		TorrentSwarms:    make(map[string][]string),
	}
}

// Store saves and loads the whole record. Load returns (nil, nil) when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// Quarantiner is implemented by stores that can move an unreadable record
// out of the way, leaving the store empty.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

func Marshal(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		snap = NewSnapshot()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

func Unmarshal(data []byte) (*Snapshot, error) {
	snap := NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if snap.TorrentsMetadata == nil {
		snap.TorrentsMetadata = make(map[string]catalog.Descriptor)
	}
	if snap.TorrentSwarms == nil {
		snap.TorrentSwarms = make(map[string][]string)
	}
	return snap, nil
}
