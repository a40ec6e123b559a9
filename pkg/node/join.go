package node

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/discovery"
	"github.com/ryandielhenn/zephyrring/internal/telemetry"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/ring"
)

const (
	RootID              gossip.NodeID = 1
	DefaultProbeTimeout               = 2 * time.Second
	DefaultMinID        gossip.NodeID = 2
	DefaultMaxID        gossip.NodeID = 999
)

var ErrRootUnreachable = errors.New("node: root unreachable")

type JoinConfig struct {
	ProbeTimeout time.Duration
	// RequestTimeout abandons an unanswered join request and proposes a new
	// identifier. Zero waits for the answer forever.
	RequestTimeout time.Duration
	MinID, MaxID   gossip.NodeID
	// Candidate proposes identifiers; defaults to uniform picks in
	// [MinID, MaxID].
	Candidate func() gossip.NodeID
	Logger    *zap.Logger
}

func (c JoinConfig) withDefaults() JoinConfig {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MinID == 0 {
		c.MinID = DefaultMinID
	}
	if c.MaxID < c.MinID {
		c.MaxID = max(DefaultMaxID, c.MinID)
	}
	if c.Candidate == nil {
		lo, span := c.MinID, uint32(c.MaxID-c.MinID)+1
		c.Candidate = func() gossip.NodeID { return lo + gossip.NodeID(rand.Uint32N(span)) }
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Placement is where a process ended up in the ring.
type Placement struct {
	ID        gossip.NodeID
	Neighbors ring.Neighbors
	Root      bool
}

// Join probes the root through tr. If it does not answer within the probe
// timeout the caller becomes the root. Otherwise Join proposes identifiers
// until the root accepts one, retrying on every collision.
func Join(ctx context.Context, tr gossip.Transport, res discovery.Resolver, cfg JoinConfig) (Placement, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	rootAddr, err := res.Resolve(ctx, RootID)
	if err != nil {
		return Placement{}, errors.Wrap(err, "resolve root")
	}
	if err := probe(ctx, tr, rootAddr, cfg.ProbeTimeout); err != nil {
		if !errors.Is(err, ErrRootUnreachable) {
			return Placement{}, err
		}
		log.Info("assuming role of root node", zap.String("root_addr", rootAddr))
		return Placement{
			ID:        RootID,
			Neighbors: ring.Neighbors{Predecessor: RootID, Successor: RootID},
			Root:      true,
		}, nil
	}

	for {
		candidate := cfg.Candidate()
		if err := tr.Send(ctx, rootAddr, gossip.JoinRequest{Proposed: candidate}); err != nil {
			return Placement{}, errors.Wrapf(err, "request identifier %d", candidate)
		}
		resp, err := awaitAnswer(ctx, tr, candidate, cfg.RequestTimeout)
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			telemetry.JoinAttempts.WithLabelValues("timeout").Inc()
			log.Warn("join request unanswered", zap.Uint32("candidate", uint32(candidate)))
			continue
		case err != nil:
			return Placement{}, err
		}
		accepted, ok := resp.(gossip.JoinAccepted)
		if !ok {
			telemetry.JoinAttempts.WithLabelValues("rejected").Inc()
			log.Debug("identifier taken", zap.Uint32("candidate", uint32(candidate)))
			continue
		}
		telemetry.JoinAttempts.WithLabelValues("accepted").Inc()
		log.Info("joined ring",
			zap.Uint32("id", uint32(candidate)),
			zap.Uint32("predecessor", uint32(accepted.Predecessor)),
			zap.Uint32("successor", uint32(accepted.Successor)),
		)
		return Placement{
			ID:        candidate,
			Neighbors: ring.Neighbors{Predecessor: accepted.Predecessor, Successor: accepted.Successor},
		}, nil
	}
}

func probe(ctx context.Context, tr gossip.Transport, rootAddr string, timeout time.Duration) error {
	nonce := rand.Uint64() | 1
	if err := tr.Send(ctx, rootAddr, gossip.Probe{Nonce: nonce}); err != nil {
		return errors.Wrap(err, "probe root")
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		env, err := tr.Receive(probeCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrRootUnreachable
			}
			return errors.Wrap(err, "await probe")
		}
		if p, ok := env.Msg.(gossip.Probe); ok && p.Nonce == nonce {
			return nil
		}
	}
}

// awaitAnswer waits for the root's verdict on candidate, skipping anything
// else that arrives. A zero timeout waits as long as ctx allows.
func awaitAnswer(ctx context.Context, tr gossip.Transport, candidate gossip.NodeID, timeout time.Duration) (gossip.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		env, err := tr.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch m := env.Msg.(type) {
		case gossip.JoinAccepted:
			if m.Proposed == candidate {
				return m, nil
			}
		case gossip.JoinRejected:
			if m.Proposed == candidate {
				return m, nil
			}
		}
	}
}

// Listener opens the transport a node receives on. Identifier 0 asks for an
// ephemeral endpoint, used while the identifier is not yet known.
type Listener func(id gossip.NodeID) (gossip.Transport, error)

// Bootstrap runs the join protocol from an ephemeral endpoint, then opens the
// node's own endpoint and builds the node. A process that becomes root gets a
// fresh directory with itself admitted.
func Bootstrap(ctx context.Context, listen Listener, res discovery.Resolver, cfg JoinConfig, opts ...Option) (*Node, error) {
	eph, err := listen(0)
	if err != nil {
		return nil, errors.Wrap(err, "open join endpoint")
	}
	p, err := Join(ctx, eph, res, cfg)
	_ = eph.Close()
	if err != nil {
		return nil, err
	}

	tr, err := listen(p.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "listen as %d", p.ID)
	}
	opts = append(opts, WithNeighbors(p.Neighbors))
	if p.Root {
		opts = append(opts, WithDirectory(ring.New(p.ID)))
	}
	return New(p.ID, tr, res, opts...), nil
}
