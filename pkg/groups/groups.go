package groups

import (
	"maps"
	"sync"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

// Table is a node's view of the multicast groups it has heard of and whether
// it belongs to each. Entries are never removed.
type Table struct {
	mu     sync.RWMutex
	member map[gossip.GroupID]bool
}

func NewTable() *Table {
	return &Table{member: make(map[gossip.GroupID]bool)}
}

// Register records g with membership false unless it is already known, in
// which case the existing flag is left alone. It reports whether g was new.
func (t *Table) Register(g gossip.GroupID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.member[g]; ok {
		return false
	}
	t.member[g] = false
	return true
}

// Join marks this node as a member of g, creating the entry if needed.
func (t *Table) Join(g gossip.GroupID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.member[g] = true
}

// IsMember reports false for unknown groups.
func (t *Table) IsMember(g gossip.GroupID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.member[g]
}

func (t *Table) Known(g gossip.GroupID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.member[g]
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.member)
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[gossip.GroupID]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.member)
}
