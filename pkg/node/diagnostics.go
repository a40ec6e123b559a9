package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

func (n *Node) onPing(ctx context.Context, m gossip.Ping) error {
	n.emit(Event{Kind: EventPing, Peer: m.From})
	return n.send(ctx, m.From, gossip.PingResponse{From: n.id})
}

// Responses are reported and never answered.
func (n *Node) onPingResponse(m gossip.PingResponse) {
	n.emit(Event{Kind: EventPingResponse, Peer: m.From})
}

func (n *Node) onLoopPing(ctx context.Context, m gossip.LoopPing) error {
	if m.From == n.id {
		n.log.Debug("loop ping completed", zap.String("payload", m.Payload))
		return nil
	}
	n.emit(Event{Kind: EventLoopPing, Peer: m.From, Payload: m.Payload})
	return n.flood(ctx, m)
}

// A survey is complete when it reaches a node already on its list, which
// only happens at the node that started it.
func (n *Node) onSurvey(ctx context.Context, m gossip.Survey) error {
	if m.Contains(n.id) {
		n.log.Info("survey completed", zap.Int("members", len(m.Visited)))
		n.emit(Event{Kind: EventSurveyComplete, Peer: m.Origin(), Members: m.Visited})
		return nil
	}
	return n.send(ctx, n.neighbors.Get().Successor, m.Extend(n.id))
}
