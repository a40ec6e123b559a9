package node

import (
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

// NeighborState is a node's current predecessor and successor.
//
// Updates carry no version, so the last one applied wins even if it was
// produced before the one it overwrites. A reordered NeighborUpdate leaves the
// node with stale neighbors until the root sends another.
type NeighborState struct {
	mu      sync.RWMutex
	current ring.Neighbors
	updates uint64
	updated time.Time
}

func NewNeighborState(nb ring.Neighbors) *NeighborState {
	return &NeighborState{current: nb, updated: time.Now()}
}

func (s *NeighborState) Get() ring.Neighbors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the pair and returns the previous one.
func (s *NeighborState) Set(nb ring.Neighbors) ring.Neighbors {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = nb
	s.updates++
	s.updated = time.Now()
	return prev
}

// Updates is the number of Set calls so far.
func (s *NeighborState) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

func (s *NeighborState) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
