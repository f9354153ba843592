package quorum

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

var (
	ErrEmptyTarget  = errors.New("quorum: empty target node id")
	ErrNilRegistrar = errors.New("quorum: nil topology registrar")
)

var _ topology.Listener = (*Tracker)(nil)
var _ Membership = (*Tracker)(nil)

// Membership is the view of the cluster the Engine votes over.
type Membership interface {
	Target() string
	IsTargetAbsent() bool
	Size() int
	Snapshot() map[string]topology.ConnectorPair
}

// Tracker keeps the electorate for one target: every node reported up by the
// topology feed, except the target itself.
//
// The target is presumed present from construction and becomes absent on
// its first down event. That event also closes TargetDown and detaches the
// tracker from the registrar; it is acted upon once per Tracker.
type Tracker struct {
	target string
	reg    topology.Registrar
	nodes  *xsync.MapOf[string, topology.ConnectorPair]
	logger *zap.Logger

	targetAbsent atomic.Bool
	subscribed   atomic.Bool
	targetDown   chan struct{}
}

type TrackerOption func(*Tracker)

func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a tracker for target and subscribes it to reg.
func NewTracker(reg topology.Registrar, target string, opts ...TrackerOption) (*Tracker, error) {
	if target == "" {
		return nil, ErrEmptyTarget
	}
	if reg == nil {
		return nil, ErrNilRegistrar
	}
	t := &Tracker{
		target:     target,
		reg:        reg,
		nodes:      xsync.NewMapOf[string, topology.ConnectorPair](),
		logger:     zap.NewNop(),
		targetDown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("target", target))

	t.subscribed.Store(true)
	reg.AddListener(t)
	return t, nil
}

func (t *Tracker) NodeUp(id string, pair topology.ConnectorPair, last bool) {
	if id == t.target {
		return
	}
	t.nodes.Store(id, pair)
	t.logger.Debug("node up", zap.String("node", id), zap.Stringer("connector", pair), zap.Bool("last", last))
}

func (t *Tracker) NodeDown(id string) {
	t.nodes.Delete(id)
	if id != t.target {
		t.logger.Debug("node down", zap.String("node", id))
		return
	}
	if !t.targetAbsent.CompareAndSwap(false, true) {
		return
	}
	t.logger.Info("target node reported down")
	t.detach()
	close(t.targetDown)
}

// TargetDown is closed when the target is first reported down.
func (t *Tracker) TargetDown() <-chan struct{} {
	return t.targetDown
}

func (t *Tracker) Target() string {
	return t.target
}

func (t *Tracker) IsTargetAbsent() bool {
	return t.targetAbsent.Load()
}

// Size is the number of tracked members, the target excluded.
func (t *Tracker) Size() int {
	return t.nodes.Size()
}

// Snapshot returns a point-in-time copy of the electorate.
func (t *Tracker) Snapshot() map[string]topology.ConnectorPair {
	out := make(map[string]topology.ConnectorPair, t.nodes.Size())
	t.nodes.Range(func(id string, pair topology.ConnectorPair) bool {
		out[id] = pair
		return true
	})
	return out
}

// Members returns the electorate sorted by id.
func (t *Tracker) Members() []topology.Member {
	snap := t.Snapshot()
	out := make([]topology.Member, 0, len(snap))
	for id, pair := range snap {
		out = append(out, topology.Member{ID: id, Connector: pair})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close detaches the tracker from its registrar. Safe to call repeatedly and
// after the target went down.
func (t *Tracker) Close() {
	t.detach()
}

func (t *Tracker) detach() {
	if t.subscribed.CompareAndSwap(true, false) {
		t.reg.RemoveListener(t)
	}
}
