package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

// Group creation and sends are floods: every node applies the message
// locally and passes it on until it reaches the node that started it.

// Every receipt of a create is reported, including repeats for a group that
// is already known.
func (n *Node) onMcastCreate(ctx context.Context, m gossip.McastCreate) error {
	fresh := n.groups.Register(m.Group)
	n.log.Info("group announced",
		zap.Uint32("group", uint32(m.Group)),
		zap.Uint32("origin", uint32(m.From)),
		zap.Bool("new", fresh),
	)
	n.emit(Event{Kind: EventGroupCreated, Peer: m.From, Group: m.Group})
	return n.flood(ctx, m)
}

func (n *Node) onMcastAdd(m gossip.McastAdd) {
	n.groups.Join(m.Group)
	n.log.Info("joined group", zap.Uint32("group", uint32(m.Group)))
	n.emit(Event{Kind: EventGroupJoined, Group: m.Group})
}

func (n *Node) onMcastSend(ctx context.Context, m gossip.McastSend) error {
	if n.groups.IsMember(m.Group) {
		n.emit(Event{Kind: EventDelivered, Peer: m.From, Group: m.Group, Payload: m.Payload})
	}
	return n.flood(ctx, m)
}
