package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ryandielhenn/zephyrquorum/discovery"
	"github.com/ryandielhenn/zephyrquorum/internal/config"
	"github.com/ryandielhenn/zephyrquorum/internal/logging"
	"github.com/ryandielhenn/zephyrquorum/internal/telemetry"
	"github.com/ryandielhenn/zephyrquorum/pkg/node"
	"github.com/ryandielhenn/zephyrquorum/pkg/probe"
	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("node exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	telemetry.SetBuildInfo(version, gitSHA)
	logger = logger.With(zap.String("node", cfg.NodeID))

	// 1. Topology feed and, on a backup, the quorum guard for the live node
	feed := topology.NewFeed()
	opts := []node.Option{node.WithLogger(logger)}
	if cfg.TargetID != "" {
		tracker, err := quorum.NewTracker(feed, cfg.TargetID, quorum.WithTrackerLogger(logger))
		if err != nil {
			return err
		}
		defer tracker.Close()
		engine, err := quorum.NewEngine(tracker, probe.NewGRPCProber(cfg.Discovery.Std()),
			quorum.WithDiscoveryTimeout(cfg.Discovery.Std()),
			quorum.WithLogger(logger),
			quorum.WithMetrics(telemetry.QuorumMetrics{}),
		)
		if err != nil {
			return err
		}
		opts = append(opts, node.WithQuorum(tracker, engine), node.WithVerdictHandler(verdictLogger(logger)))
	}
	n := node.NewNode(cfg.NodeID, cfg.Addr, feed, opts...)

	// 2. Create etcd client
	logger.Info("creating etcd client", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	cli, err := discovery.NewClient(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout.Std())
	if err != nil {
		return fmt.Errorf("etcd client: %w", err)
	}
	defer cli.Close()

	// 3. Register this node
	self := topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: cfg.Addr}}
	if cfg.BackupAddr != "" {
		self.Backup = &topology.Connector{Name: "grpc", Addr: cfg.BackupAddr}
	}
	reg, err := discovery.NewRegistration(cli, cfg.Etcd.Prefix, cfg.NodeID, self, cfg.Etcd.LeaseTTL, logger)
	if err != nil {
		return err
	}

	// 4. Serve gRPC health (what peers probe) and HTTP on one port
	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	defer lis.Close()
	mux := cmux.New(lis)
	httpL := mux.Match(cmux.HTTP1Fast())
	grpcL := mux.Match(cmux.Any())

	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, hs)

	httpMux := http.NewServeMux()
	n.Routes(httpMux, telemetry.Instrument)
	httpMux.Handle("/metrics", telemetry.MetricsHandler())
	httpSrv := &http.Server{Handler: httpMux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreClosed(grpcSrv.Serve(grpcL)) })
	g.Go(func() error { return ignoreClosed(httpSrv.Serve(httpL)) })
	g.Go(func() error { return ignoreClosed(mux.Serve()) })
	logger.Info("node listening", zap.String("listen", cfg.Listen), zap.String("addr", cfg.Addr),
		zap.String("target", cfg.TargetID))

	// 5. Keep this node registered and watch membership
	g.Go(func() error { return reg.Run(ctx) })
	watcher := discovery.NewWatcher(cli, cfg.Etcd.Prefix, feed, logger)
	g.Go(func() error { return watcher.Run(ctx) })

	// 6. Failover watch
	g.Go(func() error { return n.Watch(ctx) })

	// 7. Shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		mux.Close()
		return nil
	})

	return g.Wait()
}

// verdictLogger stands in for the broker lifecycle: it reports what the
// backup should do next.
func verdictLogger(logger *zap.Logger) func(quorum.Result) {
	return func(r quorum.Result) {
		fields := []zap.Field{
			zap.String("vote_id", r.ID),
			zap.String("target", r.Target),
			zap.String("reason", string(r.Reason)),
			zap.Int("electorate", r.Electorate),
			zap.Int("successes", r.Successes),
		}
		if r.Down {
			logger.Warn("live node confirmed down, backup should take over", fields...)
			return
		}
		logger.Warn("live node still reachable from the cluster, standing by", fields...)
	}
}

func ignoreClosed(err error) error {
	switch {
	case err == nil,
		errors.Is(err, http.ErrServerClosed),
		errors.Is(err, grpc.ErrServerStopped),
		errors.Is(err, cmux.ErrListenerClosed),
		errors.Is(err, net.ErrClosed):
		return nil
	}
	return err
}
