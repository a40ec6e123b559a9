package node

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrring/discovery"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testAddrs = discovery.Static{Host: "ring", BasePort: 40000}

// testRing runs a set of nodes in process on a channel network and records
// every event they emit and every message they send.
type testRing struct {
	t       *testing.T
	network *gossip.ChannelNetwork
	ctx     context.Context
	nodes   map[gossip.NodeID]*Node

	mu     sync.Mutex
	events []Event
	sent   map[gossip.Kind]int
}

func newTestNetwork(t *testing.T) *testRing {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tr := &testRing{
		t:       t,
		network: gossip.NewChannelNetwork(),
		ctx:     ctx,
		nodes:   make(map[gossip.NodeID]*Node),
		sent:    make(map[gossip.Kind]int),
	}
	tr.network.Trace(func(_, _ string, msg gossip.Message) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.sent[msg.Kind()]++
	})
	t.Cleanup(cancel)
	return tr
}

// newTestRing starts one node per id with the neighbors the root would have
// assigned. Node 1, when present, is the root and owns the directory.
func newTestRing(t *testing.T, ids ...gossip.NodeID) *testRing {
	t.Helper()
	tr := newTestNetwork(t)
	dir := ring.New(ids...)
	for _, id := range ids {
		nb, err := dir.NeighborsOf(id)
		require.NoError(t, err)
		opts := []Option{WithNeighbors(nb)}
		if id == RootID {
			opts = append(opts, WithDirectory(dir))
		}
		tr.start(id, opts...)
	}
	return tr
}

func (tr *testRing) listen(id gossip.NodeID) (gossip.Transport, error) {
	if id == 0 {
		return tr.network.Listen("")
	}
	addr, err := testAddrs.Resolve(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return tr.network.Listen(addr)
}

func (tr *testRing) options() []Option {
	return []Option{
		WithLogger(zaptest.NewLogger(tr.t)),
		WithSink(tr.record),
		WithWorkers(4),
	}
}

func (tr *testRing) start(id gossip.NodeID, opts ...Option) *Node {
	tr.t.Helper()
	transport, err := tr.listen(id)
	require.NoError(tr.t, err)
	n := New(id, transport, testAddrs, append(tr.options(), opts...)...)
	tr.run(n)
	return n
}

func (tr *testRing) run(n *Node) {
	tr.nodes[n.ID()] = n
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(tr.ctx)
	}()
	tr.t.Cleanup(func() {
		_ = n.Close()
		<-done
	})
}

func (tr *testRing) record(ev Event) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, ev)
}

func (tr *testRing) eventsOf(kind EventKind) []Event {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var out []Event
	for _, ev := range tr.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// observers lists, sorted, the nodes that emitted an event of kind.
func (tr *testRing) observers(kind EventKind) []gossip.NodeID {
	var ids []gossip.NodeID
	for _, ev := range tr.eventsOf(kind) {
		ids = append(ids, ev.Node)
	}
	slices.Sort(ids)
	return ids
}

func (tr *testRing) sentCount(kind gossip.Kind) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sent[kind]
}

// inject sends msg to node id from a throwaway endpoint and returns that
// endpoint so the caller can read replies.
func (tr *testRing) inject(id gossip.NodeID, msg gossip.Message) gossip.Transport {
	tr.t.Helper()
	client, err := tr.network.Listen("")
	require.NoError(tr.t, err)
	tr.t.Cleanup(func() { _ = client.Close() })
	addr, err := testAddrs.Resolve(context.Background(), id)
	require.NoError(tr.t, err)
	require.NoError(tr.t, client.Send(context.Background(), addr, msg))
	return client
}

func receiveWithin(t *testing.T, tr gossip.Transport, d time.Duration) (gossip.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return tr.Receive(ctx)
}

func sequence(ids ...gossip.NodeID) func() gossip.NodeID {
	var mu sync.Mutex
	i := 0
	return func() gossip.NodeID {
		mu.Lock()
		defer mu.Unlock()
		id := ids[min(i, len(ids)-1)]
		i++
		return id
	}
}
