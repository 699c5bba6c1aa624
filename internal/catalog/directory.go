// Package catalog keeps the directory of content descriptors known to the
// tracker.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// IDLength is the number of hex characters kept from the filename digest.
const IDLength = 8

// Descriptor describes one uploaded item. InfoHash doubles as the item's id.
type Descriptor struct {
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
	Size       int64     `json:"size"`
	InfoHash   string    `json:"info_hash"`
}

// naiveLayout is Python's datetime.isoformat() without a zone, which older
// state files carry in uploaded_at.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON accepts RFC 3339 upload times and zone-less ones, which are
// read as local time.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type Alias Descriptor
	aux := struct {
		*Alias
		UploadedAt string `json:"uploaded_at"`
	}{Alias: (*Alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	at, err := parseUploadedAt(aux.UploadedAt)
	if err != nil {
		return err
	}
	d.UploadedAt = at
	return nil
}

func parseUploadedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid uploaded_at %q: %w", s, err)
	}
	return t, nil
}

// ContentID derives the id of an item from its filename alone. Different
// filenames can collide; a colliding upload replaces the earlier descriptor.
func ContentID(filename string) string {
	sum := md5.Sum([]byte(filename))
	return hex.EncodeToString(sum[:])[:IDLength]
}

type Directory struct {
	mu    sync.RWMutex
	items map[string]Descriptor
	now   func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		items: make(map[string]Descriptor),
		now:   time.Now,
	}
}

// SetClock overrides the time source used for UploadedAt.
func (d *Directory) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

func (d *Directory) Add(filename string, size int64) Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()

	desc := Descriptor{
		Filename:   filename,
		UploadedAt: d.now(),
		Size:       size,
		InfoHash:   ContentID(filename),
	}
	d.items[desc.InfoHash] = desc
	return desc
}

func (d *Directory) Get(id string) (Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.items[id]
	return desc, ok
}

// List returns descriptors ordered by upload time, then id.
func (d *Directory) List() []Descriptor {
	d.mu.RLock()
	list := make([]Descriptor, 0, len(d.items))
	for _, desc := range d.items {
		list = append(list, desc)
	}
	d.mu.RUnlock()

	slices.SortFunc(list, func(a, b Descriptor) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.InfoHash, b.InfoHash)
	})
	return list
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

func (d *Directory) Snapshot() map[string]Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := make(map[string]Descriptor, len(d.items))
	for id, desc := range d.items {
		snap[id] = desc
	}
	return snap
}

// Restore replaces the directory contents. Entries are keyed by the map key
// and InfoHash is filled in when missing.
func (d *Directory) Restore(snap map[string]Descriptor) {
	items := make(map[string]Descriptor, len(snap))
	for id, desc := range snap {
		if desc.InfoHash == "" {
			desc.InfoHash = id
		}
		items[id] = desc
	}

	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
}
