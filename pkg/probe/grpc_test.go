package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func closedAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func connect(t *testing.T, addr string) error {
	t.Helper()
	p, err := NewGRPCProber(time.Second).NewProbe(&topology.Connector{Name: "grpc", Addr: addr})
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Connect(ctx)
}

func TestProbeServingPeer(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	require.NoError(t, connect(t, addr))
}

func TestProbeNotServingPeer(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	require.ErrorIs(t, connect(t, addr), ErrNotServing)
}

func TestProbeClosedPort(t *testing.T) {
	start := time.Now()
	require.Error(t, connect(t, closedAddr(t)))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNewProbeRejectsUnaddressable(t *testing.T) {
	g := NewGRPCProber(0)
	require.Equal(t, DefaultInitialWait, g.InitialWait)

	_, err := g.NewProbe(nil)
	require.ErrorIs(t, err, ErrNoConnector)

	_, err = g.NewProbe(&topology.Connector{Name: "grpc", Addr: "a:b:c"})
	require.ErrorIs(t, err, ErrBadAddress)
}

func TestProbeCloseIsIdempotent(t *testing.T) {
	p, err := NewGRPCProber(time.Second).NewProbe(&topology.Connector{Addr: closedAddr(t)})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Connect(context.Background()), ErrClosed)
}

func TestEngineWithGRPCProber(t *testing.T) {
	feed := topology.NewFeed()
	tr, err := quorum.NewTracker(feed, "live")
	require.NoError(t, err)

	up := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	feed.NodeUp("b1", topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: up}}, false)
	feed.NodeUp("b2", topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: closedAddr(t)}}, true)

	e, err := quorum.NewEngine(tr, NewGRPCProber(time.Second), quorum.WithDiscoveryTimeout(2*time.Second))
	require.NoError(t, err)

	res := e.Vote(context.Background())
	require.Equal(t, 2, res.Electorate)
	require.Equal(t, 1, res.Successes)
	require.False(t, res.Down)
}
