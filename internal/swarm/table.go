// Package swarm maps content identifiers to the peers announcing them.
package swarm

import (
	"slices"
	"sync"
)

// Table holds one swarm per info hash. Members are kept in announce order and
// a swarm is dropped as soon as its last member leaves.
type Table struct {
	mu     sync.RWMutex
	swarms map[string][]string
}

func NewTable() *Table {
	return &Table{
		swarms: make(map[string][]string),
	}
}

// Announce adds peerID to the swarm for infoHash, creating the swarm on first
// use. Repeat announces leave membership unchanged. others never contains
// peerID; added reports whether membership changed.
func (t *Table) Announce(infoHash, peerID string) (others []string, size int, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.swarms[infoHash]
	if !slices.Contains(members, peerID) {
		members = append(members, peerID)
		t.swarms[infoHash] = members
		added = true
	}

	others = make([]string, 0, len(members)-1)
	for _, m := range members {
		if m != peerID {
			others = append(others, m)
		}
	}
	return others, len(members), added
}

// RemovePeer drops peerID from every swarm and returns the info hashes it
// was removed from.
func (t *Table) RemovePeer(peerID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for infoHash, members := range t.swarms {
		idx := slices.Index(members, peerID)
		if idx < 0 {
			continue
		}
		affected = append(affected, infoHash)
		members = slices.Delete(members, idx, idx+1)
		if len(members) == 0 {
			delete(t.swarms, infoHash)
			continue
		}
		t.swarms[infoHash] = members
	}
	return affected
}

// Peers returns the members of one swarm, or nil when it does not exist.
func (t *Table) Peers(infoHash string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.swarms[infoHash])
}

// SwarmsOf lists the info hashes peerID is a member of.
func (t *Table) SwarmsOf(peerID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hashes := []string{}
	for infoHash, members := range t.swarms {
		if slices.Contains(members, peerID) {
			hashes = append(hashes, infoHash)
		}
	}
	slices.Sort(hashes)
	return hashes
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.swarms)
}

// Snapshot copies the table for persistence.
func (t *Table) Snapshot() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(map[string][]string, len(t.swarms))
	for infoHash, members := range t.swarms {
		snap[infoHash] = slices.Clone(members)
	}
	return snap
}

// Restore replaces the table contents. Empty swarms and duplicate members in
// the input are discarded.
func (t *Table) Restore(snap map[string][]string) {
	swarms := make(map[string][]string, len(snap))
	for infoHash, members := range snap {
		var clean []string
		for _, m := range members {
			if m != "" && !slices.Contains(clean, m) {
				clean = append(clean, m)
			}
		}
		if len(clean) > 0 {
			swarms[infoHash] = clean
		}
	}

	t.mu.Lock()
	t.swarms = swarms
	t.mu.Unlock()
}
