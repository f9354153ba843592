package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// DefaultDiscoveryTimeout bounds every probe and the wait for all of them.
const DefaultDiscoveryTimeout = 3 * time.Second

var errNoLiveConnector = errors.New("quorum: member has no live connector")

// Engine runs quorum votes over a Membership. It holds no per-vote state and
// may be used from several goroutines, although concurrent votes are each
// run in full.
type Engine struct {
	members Membership
	prober  Prober
	timeout time.Duration
	logger  *zap.Logger
	metrics Metrics
}

type EngineOption func(*Engine)

func WithDiscoveryTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func NewEngine(m Membership, p Prober, opts ...EngineOption) (*Engine, error) {
	if m == nil {
		return nil, errors.New("quorum: nil membership")
	}
	if p == nil {
		return nil, errors.New("quorum: nil prober")
	}
	e := &Engine{
		members: m,
		prober:  p,
		timeout: DefaultDiscoveryTimeout,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) DiscoveryTimeout() time.Duration {
	return e.timeout
}

// IsNodeDown reports whether the target should be considered failed.
func (e *Engine) IsNodeDown(ctx context.Context) bool {
	return e.Vote(ctx).Down
}

// Vote runs one quorum vote. Cancelling ctx ends the wait early; the vote is
// then decided on the probes that completed so far.
func (e *Engine) Vote(ctx context.Context) (res Result) {
	start := time.Now()
	target := e.members.Target()
	res = Result{ID: uuid.NewString(), Target: target, At: start}
	defer func() {
		res.Duration = time.Since(start)
		e.metrics.ObserveVote(res)
		e.logger.Info("quorum vote",
			zap.String("vote_id", res.ID),
			zap.String("target", target),
			zap.Bool("down", res.Down),
			zap.String("reason", string(res.Reason)),
			zap.Int("electorate", res.Electorate),
			zap.Int("successes", res.Successes),
			zap.Int("completed", res.Completed),
			zap.Duration("duration", res.Duration),
		)
	}()

	if e.members.IsTargetAbsent() {
		res.Down, res.Reason = true, ReasonTargetAbsent
		return res
	}
	if e.members.Size() == 0 {
		res.Down, res.Reason = true, ReasonNoElectorate
		return res
	}

	snap := e.members.Snapshot()
	delete(snap, target)
	n := len(snap)
	if n == 0 {
		res.Down, res.Reason = true, ReasonNoElectorate
		return res
	}
	res.Electorate = n

	successes, completed := e.poll(ctx, snap)
	res.Successes, res.Completed = successes, completed
	res.Down = majorityDown(successes, n)
	if res.Down {
		res.Reason = ReasonMajorityUnreachable
	} else {
		res.Reason = ReasonMajorityReachable
	}
	return res
}

// poll probes every member of snap concurrently and returns the number of
// successes and completions observed when all probes finished or the
// discovery window closed, whichever came first.
func (e *Engine) poll(ctx context.Context, snap map[string]topology.ConnectorPair) (int, int) {
	voteCtx, cancel := context.WithTimeout(ctx, e.timeout)

	var (
		successes atomic.Int32
		completed atomic.Int32
		probes    = make([]Probe, 0, len(snap))
	)
	defer func() {
		cancel()
		for _, p := range probes {
			closeQuietly(p)
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(len(snap))
	for id, pair := range snap {
		p, err := e.newProbe(pair)
		if err != nil {
			// Unaddressable members count as completed failures so the wait
			// below never depends on probes that were never started.
			e.logger.Debug("member not addressable", zap.String("node", id), zap.Error(err))
			e.metrics.ObserveProbe(false)
			completed.Add(1)
			continue
		}
		probes = append(probes, p)
		g.Go(func() error {
			e.runProbe(voteCtx, id, p, &successes, &completed)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-voteCtx.Done():
		e.logger.Debug("quorum wait ended before all probes completed",
			zap.Error(voteCtx.Err()),
			zap.Int32("completed", completed.Load()),
			zap.Int("electorate", len(snap)),
		)
	}
	return int(successes.Load()), int(completed.Load())
}

func (e *Engine) newProbe(pair topology.ConnectorPair) (p Probe, err error) {
	if pair.Live == nil {
		return nil, errNoLiveConnector
	}
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("quorum: building probe panicked: %v", r)
		}
	}()
	return e.prober.NewProbe(pair.Live)
}

func (e *Engine) runProbe(ctx context.Context, id string, p Probe, successes, completed *atomic.Int32) {
	ok := false
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("probe panicked", zap.String("node", id), zap.Any("panic", r))
		}
		completed.Add(1)
		e.metrics.ObserveProbe(ok)
	}()

	if err := p.Connect(ctx); err != nil {
		e.logger.Debug("probe failed", zap.String("node", id), zap.Error(err))
		return
	}
	ok = true
	successes.Add(1)
}

func closeQuietly(p Probe) {
	defer func() { _ = recover() }()
	_ = p.Close()
}
