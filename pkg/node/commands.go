package node

import (
	"context"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

// Commands are fire and forget: what they trigger is reported to the sink
// of whichever nodes observe it. The returned error only covers handing the
// first message to the transport.

type Status struct {
	ID          gossip.NodeID `json:"id"`
	Predecessor gossip.NodeID `json:"predecessor"`
	Successor   gossip.NodeID `json:"successor"`
	Root        bool          `json:"root"`
}

func (n *Node) Status() Status {
	nb := n.neighbors.Get()
	return Status{ID: n.id, Predecessor: nb.Predecessor, Successor: nb.Successor, Root: n.IsRoot()}
}

// Groups returns the multicast groups this node knows and whether it belongs
// to each.
func (n *Node) Groups() map[gossip.GroupID]bool {
	return n.groups.Snapshot()
}

func (n *Node) Ping(ctx context.Context, target gossip.NodeID) error {
	return n.send(ctx, target, gossip.Ping{From: n.id})
}

func (n *Node) PingLoop(ctx context.Context, payload string) error {
	return n.send(ctx, n.neighbors.Get().Successor, gossip.LoopPing{From: n.id, Payload: payload})
}

func (n *Node) Survey(ctx context.Context) error {
	return n.send(ctx, n.neighbors.Get().Successor, gossip.Survey{Visited: []gossip.NodeID{n.id}})
}

func (n *Node) MulticastCreate(ctx context.Context, g gossip.GroupID) error {
	return n.send(ctx, n.neighbors.Get().Successor, gossip.McastCreate{From: n.id, Group: g})
}

// MulticastAdd tells target, and only target, that it belongs to g.
func (n *Node) MulticastAdd(ctx context.Context, g gossip.GroupID, target gossip.NodeID) error {
	return n.send(ctx, target, gossip.McastAdd{Group: g})
}

func (n *Node) MulticastSend(ctx context.Context, g gossip.GroupID, payload string) error {
	return n.send(ctx, n.neighbors.Get().Successor, gossip.McastSend{From: n.id, Group: g, Payload: payload})
}
