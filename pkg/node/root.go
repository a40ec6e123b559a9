package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/internal/telemetry"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

// onJoinRequest admits the proposed identifier, pushes the recomputed
// neighbors to the two members it lands between, then answers the
// requester at the address the request came from. Admissions run one at a
// time so their pushes leave in admission order.
func (n *Node) onJoinRequest(ctx context.Context, from string, req gossip.JoinRequest) error {
	log := n.log.With(zap.Uint32("proposed", uint32(req.Proposed)), zap.String("from", from))
	if req.Proposed == 0 {
		log.Info("rejecting reserved identifier")
		return n.sendAddr(ctx, from, gossip.JoinRejected{Proposed: req.Proposed})
	}

	n.admitMu.Lock()
	defer n.admitMu.Unlock()
	adm, err := n.dir.Admit(req.Proposed)
	if errors.Is(err, ring.ErrAlreadyPresent) {
		log.Info("identifier taken")
		return n.sendAddr(ctx, from, gossip.JoinRejected{Proposed: req.Proposed})
	}
	if err != nil {
		return err
	}
	telemetry.RingMembers.Set(float64(n.dir.Len()))
	log.Info("admitted",
		zap.Uint32("predecessor", uint32(adm.Neighbors.Predecessor)),
		zap.Uint32("successor", uint32(adm.Neighbors.Successor)),
	)
	n.emit(Event{Kind: EventAdmitted, Peer: adm.ID, Neighbors: adm.Neighbors})

	var errs error
	for _, a := range adm.Adjacent {
		update := gossip.NeighborUpdate{Predecessor: a.Neighbors.Predecessor, Successor: a.Neighbors.Successor}
		errs = multierr.Append(errs, n.send(ctx, a.ID, update))
	}
	accepted := gossip.JoinAccepted{
		Proposed:    adm.ID,
		Predecessor: adm.Neighbors.Predecessor,
		Successor:   adm.Neighbors.Successor,
	}
	errs = multierr.Append(errs, n.sendAddr(ctx, from, accepted))
	return errs
}

// Members is the root's directory snapshot; other nodes report false.
func (n *Node) Members() ([]gossip.NodeID, bool) {
	if n.dir == nil {
		return nil, false
	}
	return n.dir.Members(), true
}
