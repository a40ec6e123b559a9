package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/internal/telemetry"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

// Handle dispatches one inbound message. Kinds are checked in a fixed order;
// join traffic is only served by the root and anything nobody claims is
// dropped without an error.
func (n *Node) Handle(ctx context.Context, env gossip.Envelope) error {
	return telemetry.ObserveHandler(env.Msg.Kind().String(), func() error {
		return n.route(ctx, env)
	})
}

func (n *Node) route(ctx context.Context, env gossip.Envelope) error {
	switch m := env.Msg.(type) {
	case gossip.NeighborUpdate:
		n.onNeighborUpdate(m)
		return nil
	case gossip.Ping:
		return n.onPing(ctx, m)
	case gossip.PingResponse:
		n.onPingResponse(m)
		return nil
	case gossip.LoopPing:
		return n.onLoopPing(ctx, m)
	case gossip.Survey:
		return n.onSurvey(ctx, m)
	case gossip.McastCreate:
		return n.onMcastCreate(ctx, m)
	case gossip.McastAdd:
		n.onMcastAdd(m)
		return nil
	case gossip.McastSend:
		return n.onMcastSend(ctx, m)
	}

	if n.IsRoot() {
		switch m := env.Msg.(type) {
		case gossip.JoinRequest:
			return n.onJoinRequest(ctx, env.From, m)
		case gossip.Probe:
			n.log.Info("new client connected", zap.String("from", env.From))
			return n.sendAddr(ctx, env.From, m)
		}
	}

	telemetry.MessagesDropped.WithLabelValues(env.Msg.Kind().String()).Inc()
	n.log.Debug("dropping message", zap.Stringer("kind", env.Msg.Kind()), zap.String("from", env.From))
	return nil
}

func (n *Node) onNeighborUpdate(m gossip.NeighborUpdate) {
	nb := ring.Neighbors{Predecessor: m.Predecessor, Successor: m.Successor}
	prev := n.neighbors.Set(nb)
	n.log.Info("neighbors updated",
		zap.Uint32("predecessor", uint32(nb.Predecessor)),
		zap.Uint32("successor", uint32(nb.Successor)),
		zap.Uint32("previous_predecessor", uint32(prev.Predecessor)),
		zap.Uint32("previous_successor", uint32(prev.Successor)),
	)
	n.emit(Event{Kind: EventNeighborsChanged, Neighbors: nb})
}
