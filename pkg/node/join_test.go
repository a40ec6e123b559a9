package node

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

// fakeRoot listens at the root's address and hands every message to answer.
func (tr *testRing) fakeRoot(answer func(tp gossip.Transport, env gossip.Envelope)) {
	tr.t.Helper()
	tp, err := tr.listen(RootID)
	require.NoError(tr.t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			env, err := tp.Receive(tr.ctx)
			if err != nil {
				return
			}
			answer(tp, env)
		}
	}()
	tr.t.Cleanup(func() {
		_ = tp.Close()
		<-done
	})
}

func echoProbe(tp gossip.Transport, env gossip.Envelope) bool {
	if p, ok := env.Msg.(gossip.Probe); ok {
		_ = tp.Send(context.Background(), env.From, p)
		return true
	}
	return false
}

func TestJoinBecomesRootWhenUnanswered(t *testing.T) {
	tr := newTestNetwork(t)
	eph, err := tr.listen(0)
	require.NoError(t, err)
	defer eph.Close()

	p, err := Join(context.Background(), eph, testAddrs, JoinConfig{
		ProbeTimeout: 50 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, Placement{
		ID:        RootID,
		Neighbors: ring.Neighbors{Predecessor: RootID, Successor: RootID},
		Root:      true,
	}, p)
}

func TestBootstrapFirstProcessIsRoot(t *testing.T) {
	tr := newTestNetwork(t)
	n, err := Bootstrap(context.Background(), tr.listen, testAddrs, JoinConfig{ProbeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, RootID, n.ID())
	assert.True(t, n.IsRoot())
	members, ok := n.Members()
	require.True(t, ok)
	assert.Equal(t, []gossip.NodeID{1}, members)
	assert.Equal(t, "ring:40001", n.Addr())
}

func TestBootstrapRetriesOnCollision(t *testing.T) {
	tr := newTestRing(t, 1, 5)

	n, err := Bootstrap(context.Background(), tr.listen, testAddrs, JoinConfig{
		ProbeTimeout: time.Second,
		Candidate:    sequence(5, 7),
		Logger:       zaptest.NewLogger(t),
	}, tr.options()...)
	require.NoError(t, err)
	tr.run(n)

	assert.Equal(t, gossip.NodeID(7), n.ID())
	assert.Equal(t, Status{ID: 7, Predecessor: 5, Successor: 1}, n.Status())
	require.Eventually(t, func() bool {
		return tr.nodes[1].Status().Predecessor == 7 && tr.nodes[5].Status().Successor == 7
	}, waitFor, tick)

	members, _ := tr.nodes[1].Members()
	assert.Equal(t, []gossip.NodeID{1, 5, 7}, members)

	// the new node takes part in ring traffic right away
	require.NoError(t, n.Survey(context.Background()))
	require.Eventually(t, func() bool {
		return len(tr.eventsOf(EventSurveyComplete)) == 1
	}, waitFor, tick)
	assert.Equal(t, []gossip.NodeID{7, 1, 5}, tr.eventsOf(EventSurveyComplete)[0].Members)
}

func TestRootNeighborsFollowDirectoryUnderConcurrentJoins(t *testing.T) {
	const joiners = 12
	for round := range 5 {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			tr := newTestRing(t, 1)
			root := tr.nodes[1]

			var wg sync.WaitGroup
			joined := make(chan *Node, joiners)
			for range joiners {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := Bootstrap(context.Background(), tr.listen, testAddrs, JoinConfig{
						ProbeTimeout: time.Second,
						MaxID:        40,
					}, tr.options()...)
					if assert.NoError(t, err) {
						joined <- n
					}
				}()
			}
			wg.Wait()
			close(joined)
			for n := range joined {
				tr.run(n)
			}

			require.Equal(t, joiners+1, root.dir.Len())
			want, err := root.dir.NeighborsOf(RootID)
			require.NoError(t, err)
			assert.Eventually(t, func() bool {
				return root.neighbors.Get() == want
			}, waitFor, tick, "root neighbors %+v, directory says %+v", root.neighbors.Get(), want)
			assert.Never(t, func() bool {
				return root.neighbors.Get() != want
			}, 100*time.Millisecond, tick)
		})
	}
}

func TestJoinStopsWithContext(t *testing.T) {
	tr := newTestNetwork(t)
	// answers probes but never rules on a request
	tr.fakeRoot(func(tp gossip.Transport, env gossip.Envelope) { echoProbe(tp, env) })

	eph, err := tr.listen(0)
	require.NoError(t, err)
	defer eph.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Join(ctx, eph, testAddrs, JoinConfig{ProbeTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestJoinRetriesUnansweredRequest(t *testing.T) {
	tr := newTestNetwork(t)
	requests := make(chan gossip.NodeID, 8)
	tr.fakeRoot(func(tp gossip.Transport, env gossip.Envelope) {
		if echoProbe(tp, env) {
			return
		}
		req, ok := env.Msg.(gossip.JoinRequest)
		if !ok {
			return
		}
		requests <- req.Proposed
		if req.Proposed == 6 {
			_ = tp.Send(context.Background(), env.From, gossip.JoinAccepted{Proposed: 6, Predecessor: 1, Successor: 1})
		}
	})

	eph, err := tr.listen(0)
	require.NoError(t, err)
	defer eph.Close()

	p, err := Join(context.Background(), eph, testAddrs, JoinConfig{
		ProbeTimeout:   time.Second,
		RequestTimeout: 50 * time.Millisecond,
		Candidate:      sequence(4, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, Placement{ID: 6, Neighbors: ring.Neighbors{Predecessor: 1, Successor: 1}}, p)
	assert.Equal(t, gossip.NodeID(4), <-requests)
	assert.Equal(t, gossip.NodeID(6), <-requests)
}

func TestJoinIgnoresVerdictsForOtherCandidates(t *testing.T) {
	tr := newTestNetwork(t)
	tr.fakeRoot(func(tp gossip.Transport, env gossip.Envelope) {
		if echoProbe(tp, env) {
			return
		}
		if req, ok := env.Msg.(gossip.JoinRequest); ok {
			ctx := context.Background()
			_ = tp.Send(ctx, env.From, gossip.JoinAccepted{Proposed: req.Proposed + 1, Predecessor: 9, Successor: 9})
			_ = tp.Send(ctx, env.From, gossip.JoinRejected{Proposed: req.Proposed + 2})
			_ = tp.Send(ctx, env.From, gossip.JoinAccepted{Proposed: req.Proposed, Predecessor: 1, Successor: 1})
		}
	})

	eph, err := tr.listen(0)
	require.NoError(t, err)
	defer eph.Close()

	p, err := Join(context.Background(), eph, testAddrs, JoinConfig{
		ProbeTimeout: time.Second,
		Candidate:    sequence(20),
	})
	require.NoError(t, err)
	assert.Equal(t, gossip.NodeID(20), p.ID)
	assert.Equal(t, ring.Neighbors{Predecessor: 1, Successor: 1}, p.Neighbors)
}

func TestJoinConfigDefaults(t *testing.T) {
	cfg := JoinConfig{}.withDefaults()
	assert.Equal(t, DefaultProbeTimeout, cfg.ProbeTimeout)
	assert.Equal(t, DefaultMinID, cfg.MinID)
	assert.Equal(t, DefaultMaxID, cfg.MaxID)
	for range 1000 {
		id := cfg.Candidate()
		assert.GreaterOrEqual(t, id, DefaultMinID)
		assert.LessOrEqual(t, id, DefaultMaxID)
	}

	narrow := JoinConfig{MinID: 10, MaxID: 10}.withDefaults()
	assert.Equal(t, gossip.NodeID(10), narrow.Candidate())
}
