package ring

import (
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

var (
	ErrAlreadyPresent = errors.New("ring: identifier already admitted")
	ErrNotFound       = errors.New("ring: identifier not admitted")
)

type Neighbors struct {
	Predecessor gossip.NodeID
	Successor   gossip.NodeID
}

// Assignment is the neighbor pair a member must adopt.
type Assignment struct {
	ID        gossip.NodeID
	Neighbors Neighbors
}

// Admission is the result of admitting a new member: its own neighbors and
// the fresh assignments of the members it was inserted between.
type Admission struct {
	Assignment
	Adjacent []Assignment
}

type member gossip.NodeID

func (m member) Less(than btree.Item) bool {
	return m < than.(member)
}

// Directory is the root's authoritative, sorted set of admitted identifiers.
// Neighbors are derived from the set on every query.
type Directory struct {
	mu      sync.RWMutex
	members *btree.BTree
}

func New(ids ...gossip.NodeID) *Directory {
	d := &Directory{members: btree.New(8)}
	for _, id := range ids {
		d.members.ReplaceOrInsert(member(id))
	}
	return d
}

// Admit inserts id. The membership check and the insertion happen under one
// lock so concurrent requests for the same id admit it at most once.
func (d *Directory) Admit(id gossip.NodeID) (Admission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members.Has(member(id)) {
		return Admission{}, errors.Wrapf(ErrAlreadyPresent, "admit %d", id)
	}
	d.members.ReplaceOrInsert(member(id))

	self := d.neighbors(id)
	adm := Admission{Assignment: Assignment{ID: id, Neighbors: self}}
	for _, adj := range []gossip.NodeID{self.Predecessor, self.Successor} {
		if adj == id || (len(adm.Adjacent) > 0 && adm.Adjacent[0].ID == adj) {
			continue
		}
		adm.Adjacent = append(adm.Adjacent, Assignment{ID: adj, Neighbors: d.neighbors(adj)})
	}
	return adm, nil
}

func (d *Directory) NeighborsOf(id gossip.NodeID) (Neighbors, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.members.Has(member(id)) {
		return Neighbors{}, errors.Wrapf(ErrNotFound, "neighbors of %d", id)
	}
	return d.neighbors(id), nil
}

func (d *Directory) Contains(id gossip.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members.Has(member(id))
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members.Len()
}

// Members returns the admitted identifiers in ring order.
func (d *Directory) Members() []gossip.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]gossip.NodeID, 0, d.members.Len())
	d.members.Ascend(func(i btree.Item) bool {
		out = append(out, gossip.NodeID(i.(member)))
		return true
	})
	return out
}

// neighbors expects id to be a member and d.mu to be held.
func (d *Directory) neighbors(id gossip.NodeID) Neighbors {
	var n Neighbors
	found := false
	d.members.DescendLessOrEqual(member(id), func(i btree.Item) bool {
		if m := i.(member); gossip.NodeID(m) != id {
			n.Predecessor, found = gossip.NodeID(m), true
			return false
		}
		return true
	})
	if !found {
		// smallest member wraps to the largest
		n.Predecessor = gossip.NodeID(d.members.Max().(member))
	}
	found = false
	d.members.AscendGreaterOrEqual(member(id), func(i btree.Item) bool {
		if m := i.(member); gossip.NodeID(m) != id {
			n.Successor, found = gossip.NodeID(m), true
			return false
		}
		return true
	})
	if !found {
		n.Successor = gossip.NodeID(d.members.Min().(member))
	}
	return n
}
