// Package probe implements quorum probes over gRPC. A probe opens one
// short-lived client connection to a peer and issues a single health check;
// a SERVING answer means the peer is reachable.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// DefaultInitialWait bounds a single connection attempt.
const DefaultInitialWait = 3 * time.Second

var (
	ErrNoConnector = errors.New("probe: nil connector")
	ErrBadAddress  = errors.New("probe: connector address is not host:port")
	ErrNotServing  = errors.New("probe: peer is not serving")
	ErrClosed      = errors.New("probe: closed")
)

var _ quorum.Prober = (*GRPCProber)(nil)

// GRPCProber builds probes that dial peers with retries disabled.
type GRPCProber struct {
	// InitialWait bounds each attempt on top of the caller's context.
	InitialWait time.Duration
	// Service is the health service name to check; empty checks the server
	// as a whole.
	Service string
	// DialOptions are appended to the defaults, e.g. transport credentials.
	DialOptions []grpc.DialOption
}

func NewGRPCProber(initialWait time.Duration) *GRPCProber {
	if initialWait <= 0 {
		initialWait = DefaultInitialWait
	}
	return &GRPCProber{InitialWait: initialWait}
}

func (g *GRPCProber) NewProbe(c *topology.Connector) (quorum.Probe, error) {
	if c == nil {
		return nil, ErrNoConnector
	}
	hp, ok := c.HostPort()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, c.Addr)
	}
	wait := g.InitialWait
	if wait <= 0 {
		wait = DefaultInitialWait
	}
	return &grpcProbe{addr: hp, wait: wait, service: g.Service, extra: g.DialOptions}, nil
}

type grpcProbe struct {
	addr    string
	wait    time.Duration
	service string
	extra   []grpc.DialOption

	mu     sync.Mutex
	conn   *grpc.ClientConn
	closed bool
}

func (p *grpcProbe) dialOptions() []grpc.DialOption {
	bc := backoff.DefaultConfig
	bc.BaseDelay = p.wait
	bc.MaxDelay = p.wait
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDisableRetry(),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           bc,
			MinConnectTimeout: p.wait,
		}),
	}
	return append(opts, p.extra...)
}

func (p *grpcProbe) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.conn != nil {
		p.mu.Unlock()
		return errors.New("probe: already attempted")
	}
	conn, err := grpc.NewClient(p.addr, p.dialOptions()...)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("probe: dial %s: %w", p.addr, err)
	}
	p.conn = conn
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()

	// WaitForReady stays false so a refused connection fails the RPC at once
	// instead of waiting out the deadline.
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("probe: health check %s: %w", p.addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s reports %s", ErrNotServing, p.addr, resp.GetStatus())
	}
	return nil
}

func (p *grpcProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
