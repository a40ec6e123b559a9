package node

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/discovery"
	"github.com/ryandielhenn/zephyrring/internal/pool"
	"github.com/ryandielhenn/zephyrring/internal/telemetry"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/groups"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

const DefaultWorkers = 16

type Node struct {
	id        gossip.NodeID
	tr        gossip.Transport
	resolver  discovery.Resolver
	neighbors *NeighborState
	groups    *groups.Table
	dir       *ring.Directory // root only
	admitMu   sync.Mutex      // orders admissions and their neighbor pushes
	log       *zap.Logger
	sink      Sink
	workers   int
	started   time.Time
}

type Option func(*Node)

// WithDirectory makes the node the ring's root, owning d.
func WithDirectory(d *ring.Directory) Option {
	return func(n *Node) { n.dir = d }
}

func WithNeighbors(nb ring.Neighbors) Option {
	return func(n *Node) { n.neighbors = NewNeighborState(nb) }
}

func WithGroups(t *groups.Table) Option {
	return func(n *Node) { n.groups = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Node) { n.log = l }
}

// WithSink routes operator-facing events (deliveries, survey results, ping
// reports) to s.
func WithSink(s Sink) Option {
	return func(n *Node) { n.sink = s }
}

func WithWorkers(count int) Option {
	return func(n *Node) { n.workers = count }
}

// New builds a node that receives on tr and reaches peers through res. Until
// told otherwise a node is its own predecessor and successor.
func New(id gossip.NodeID, tr gossip.Transport, res discovery.Resolver, opts ...Option) *Node {
	n := &Node{
		id:       id,
		tr:       tr,
		resolver: res,
		log:      zap.NewNop(),
		sink:     func(Event) {},
		workers:  DefaultWorkers,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.neighbors == nil {
		n.neighbors = NewNeighborState(ring.Neighbors{Predecessor: id, Successor: id})
	}
	if n.groups == nil {
		n.groups = groups.NewTable()
	}
	n.log = n.log.With(zap.Uint32("node_id", uint32(id)))
	if n.dir != nil {
		telemetry.RingMembers.Set(float64(n.dir.Len()))
	}
	return n
}

func (n *Node) ID() gossip.NodeID { return n.id }

func (n *Node) Addr() string { return n.tr.Addr() }

func (n *Node) IsRoot() bool { return n.dir != nil }

// Run receives messages until ctx is done or the transport is closed, handing
// each one to the worker pool. NeighborUpdates are applied by the loop itself
// so they take effect in the order they arrive. A failing handler never stops
// the loop.
func (n *Node) Run(ctx context.Context) error {
	p := pool.NewPool(n.workers, func(err error) {
		n.log.Warn("message handler failed", zap.Error(err))
	})
	defer p.Cancel()

	n.log.Info("listening",
		zap.String("addr", n.tr.Addr()),
		zap.Bool("root", n.IsRoot()),
		zap.Uint32("predecessor", uint32(n.neighbors.Get().Predecessor)),
		zap.Uint32("successor", uint32(n.neighbors.Get().Successor)),
	)
	for {
		env, err := n.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, gossip.ErrClosed) {
				return nil
			}
			n.log.Warn("receive failed", zap.Error(err))
			continue
		}
		// neighbor updates must be applied in arrival order
		if _, ok := env.Msg.(gossip.NeighborUpdate); ok {
			if err := n.Handle(ctx, env); err != nil {
				n.log.Warn("message handler failed", zap.Error(err))
			}
			continue
		}
		if err := p.Call(ctx, func() error { return n.Handle(ctx, env) }); err != nil {
			return nil
		}
	}
}

// Close releases the node's transport, which also ends Run.
func (n *Node) Close() error {
	return n.tr.Close()
}

func (n *Node) emit(ev Event) {
	ev.Node = n.id
	n.sink(ev)
}

// send delivers msg to the node with identifier id.
func (n *Node) send(ctx context.Context, id gossip.NodeID, msg gossip.Message) error {
	addr, err := n.resolver.Resolve(ctx, id)
	if err != nil {
		telemetry.ObserveSend(msg.Kind().String(), err)
		return errors.Wrapf(err, "send %s to %d", msg.Kind(), id)
	}
	return n.sendAddr(ctx, addr, msg)
}

func (n *Node) sendAddr(ctx context.Context, addr string, msg gossip.Message) error {
	err := n.tr.Send(ctx, addr, msg)
	telemetry.ObserveSend(msg.Kind().String(), err)
	return err
}

// flood forwards msg to the successor unless it has come back to the node
// that started it.
func (n *Node) flood(ctx context.Context, msg gossip.Flooded) error {
	if msg.Origin() == n.id {
		n.log.Debug("flood returned home", zap.Stringer("kind", msg.Kind()))
		return nil
	}
	return n.send(ctx, n.neighbors.Get().Successor, msg)
}
