package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrring/discovery"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/node"
)

type options struct {
	nodes   int
	rounds  int
	timeout time.Duration
	workers int
	verbose bool
}

func main() {
	if err := newBenchCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newBenchCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "bench",
		Short:        "Build a ring in process and time survey round trips",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.nodes < 1 {
				return errors.Errorf("nodes must be positive, got %d", o.nodes)
			}
			return bench(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.nodes, "nodes", "n", 50, "ring size")
	f.IntVarP(&o.rounds, "rounds", "r", 200, "surveys to run")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "give up on a survey after this long")
	f.IntVarP(&o.workers, "workers", "c", 4, "message handlers per node")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "log protocol traffic")
	return cmd
}

func bench(ctx context.Context, o options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}

	network := gossip.NewChannelNetwork()
	addrs := discovery.Static{Host: "bench", BasePort: 40000}
	listen := func(id gossip.NodeID) (gossip.Transport, error) {
		if id == 0 {
			return network.Listen("")
		}
		addr, err := addrs.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		return network.Listen(addr)
	}

	surveys := make(chan node.Event, 1)
	sink := func(ev node.Event) {
		if ev.Kind == node.EventSurveyComplete {
			surveys <- ev
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	defer g.Wait()
	defer cancel()

	nodes := make([]*node.Node, 0, o.nodes)
	start := time.Now()
	for i := range o.nodes {
		probe := time.Second
		if i == 0 {
			probe = 20 * time.Millisecond
		}
		n, err := node.Bootstrap(ctx, listen, addrs, node.JoinConfig{
			ProbeTimeout: probe,
			MaxID:        node.DefaultMaxID + gossip.NodeID(o.nodes),
			Logger:       logger,
		}, node.WithLogger(logger), node.WithSink(sink), node.WithWorkers(o.workers))
		if err != nil {
			return errors.Wrapf(err, "bootstrap node %d", i)
		}
		nodes = append(nodes, n)
		g.Go(func() error { return n.Run(gctx) })
	}
	fmt.Printf("Joined %d nodes in %s\n", o.nodes, time.Since(start))

	var rtts []time.Duration
	for range o.rounds {
		origin := nodes[rand.IntN(len(nodes))]
		began := time.Now()
		if err := origin.Survey(ctx); err != nil {
			return err
		}
		select {
		case ev := <-surveys:
			if len(ev.Members) != o.nodes {
				return errors.Errorf("survey from %d saw %d nodes, want %d", origin.ID(), len(ev.Members), o.nodes)
			}
			rtts = append(rtts, time.Since(began))
		case <-time.After(o.timeout):
			return errors.Errorf("survey from %d timed out", origin.ID())
		}
	}
	report(rtts)

	for _, n := range nodes {
		_ = n.Close()
	}
	return nil
}

func report(rtts []time.Duration) {
	if len(rtts) == 0 {
		return
	}
	slices.Sort(rtts)
	var total time.Duration
	for _, d := range rtts {
		total += d
	}
	pct := func(p float64) time.Duration {
		return rtts[int(p*float64(len(rtts)-1))]
	}
	fmt.Printf("Completed %d surveys: min %s p50 %s p99 %s max %s avg %s\n",
		len(rtts), rtts[0], pct(0.5), pct(0.99), rtts[len(rtts)-1], total/time.Duration(len(rtts)))
}
