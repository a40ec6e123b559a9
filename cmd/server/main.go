package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrring/discovery"
	"github.com/ryandielhenn/zephyrring/internal/config"
	"github.com/ryandielhenn/zephyrring/internal/console"
	"github.com/ryandielhenn/zephyrring/internal/telemetry"
	"github.com/ryandielhenn/zephyrring/pkg/gossip"
	"github.com/ryandielhenn/zephyrring/pkg/node"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "zephyrring",
		Short: "Join the ring, or start it if no root answers",
		Long: `Starts a ring node. The first process that gets no answer from node 1
becomes the root; every later one is given an identifier and two neighbors
by the root. Commands typed on stdin are run against the node.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd, v)
	return cmd
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.PrettyLog {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.With(
		zap.String("instance_id", uuid.NewString()),
		zap.String("version", version),
	), nil
}

func run(ctx context.Context, cfg config.Config) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	static := discovery.Static{Host: cfg.Host, BasePort: cfg.BasePort}
	var (
		res      discovery.Resolver = static
		registry *discovery.Registry
	)
	if len(cfg.EtcdEndpoints) > 0 {
		logger.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return errors.Wrap(err, "connect etcd")
		}
		defer cli.Close()
		registry = discovery.NewRegistry(cli, cfg.EtcdPrefix, static, logger.Named("discovery"))
		res = registry
	}

	listen := func(id gossip.NodeID) (gossip.Transport, error) {
		addr := net.JoinHostPort(cfg.Host, "0")
		if id != 0 {
			own, err := static.Resolve(ctx, id)
			if err != nil {
				return nil, err
			}
			addr = own
		}
		t, err := gossip.ListenUDP(addr, logger.Named("udp"))
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	n, err := node.Bootstrap(ctx, listen, res, node.JoinConfig{
		ProbeTimeout:   cfg.ProbeTimeout,
		RequestTimeout: cfg.RequestTimeout,
		MinID:          gossip.NodeID(cfg.MinID),
		MaxID:          gossip.NodeID(cfg.MaxID),
		Logger:         logger.Named("join"),
	},
		node.WithLogger(logger),
		node.WithSink(node.PrintSink(os.Stdout)),
		node.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return errors.Wrap(err, "join ring")
	}
	defer func() { err = multierr.Append(err, n.Close()) }()
	logger = logger.With(zap.Uint32("node_id", uint32(n.ID())))

	if registry != nil {
		lease, cancel, err := registry.RegisterNode(ctx, n.ID(), n.Addr(), cfg.LeaseTTL)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			revokeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			if err := registry.Deregister(revokeCtx, lease); err != nil {
				logger.Warn("deregister failed", zap.Error(err))
			}
		}()
		logger.Info("registered in etcd", zap.String("addr", n.Addr()), zap.Int64("lease_id", int64(lease)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	if registry != nil {
		g.Go(func() error {
			err := registry.WatchPeers(gctx, func(peers map[gossip.NodeID]string) {
				logger.Debug("peer addresses changed", zap.Int("peers", len(peers)))
			})
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux(n)}
		g.Go(func() error {
			logger.Info("admin server listening", zap.String("addr", cfg.AdminAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		if err := console.Run(gctx, n, os.Stdin, os.Stdout); err != nil {
			logger.Warn("console stopped", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func adminMux(n *node.Node) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", telemetry.Instrument("members", http.HandlerFunc(n.MembersHandler)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
