package quorum

import (
	"context"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// Prober builds one-shot connectivity probes.
type Prober interface {
	// NewProbe prepares a probe against c without touching the network. An
	// error means the connector cannot be addressed at all.
	NewProbe(c *topology.Connector) (Probe, error)
}

// Probe is a single bounded connection attempt and the resources it holds.
type Probe interface {
	// Connect makes one attempt, without retries, to obtain a live session.
	// It must honour ctx and return nil only if a session was established.
	Connect(ctx context.Context) error
	// Close releases everything the probe holds. It must be idempotent and
	// safe to call while Connect is still running.
	Close() error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(c *topology.Connector) (Probe, error)

func (f ProberFunc) NewProbe(c *topology.Connector) (Probe, error) {
	return f(c)
}
