package node

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

// ErrNotBackup is returned by Vote on a node that guards no target.
var ErrNotBackup = errors.New("node: not a backup, no target to vote on")

// Node is one cluster member. A backup node guards the live node it
// replicates with a tracker and a quorum engine; a live node only takes part
// in the topology and answers probes.
type Node struct {
	id   string
	addr string
	feed *topology.Feed

	tracker   *quorum.Tracker
	engine    *quorum.Engine
	onVerdict func(quorum.Result)
	logger    *zap.Logger

	mu   sync.RWMutex
	last *quorum.Result
}

type Option func(*Node)

// WithQuorum makes the node a backup guarding tracker's target.
func WithQuorum(t *quorum.Tracker, e *quorum.Engine) Option {
	return func(n *Node) {
		n.tracker = t
		n.engine = e
	}
}

// WithVerdictHandler sets the callback Watch hands its verdict to.
func WithVerdictHandler(fn func(quorum.Result)) Option {
	return func(n *Node) { n.onVerdict = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

func NewNode(id, addr string, feed *topology.Feed, opts ...Option) *Node {
	n := &Node{
		id:     id,
		addr:   addr,
		feed:   feed,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Addr() string {
	return n.addr
}

func (n *Node) IsBackup() bool {
	return n.tracker != nil && n.engine != nil
}

// Vote runs a quorum vote on the guarded target and remembers the result.
func (n *Node) Vote(ctx context.Context) (quorum.Result, error) {
	if !n.IsBackup() {
		return quorum.Result{}, ErrNotBackup
	}
	res := n.engine.Vote(ctx)
	n.mu.Lock()
	n.last = &res
	n.mu.Unlock()
	return res, nil
}

// LastVote returns the most recent vote, if any.
func (n *Node) LastVote() (quorum.Result, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.last == nil {
		return quorum.Result{}, false
	}
	return *n.last, true
}

// Watch waits for the guarded target to be reported down, runs one vote and
// hands the verdict to the verdict handler. It returns ctx.Err() if ctx ends
// first. On a non-backup node it just waits for ctx.
func (n *Node) Watch(ctx context.Context) error {
	if !n.IsBackup() {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.tracker.TargetDown():
	}

	n.logger.Info("lost live node, asking the cluster", zap.String("target", n.tracker.Target()),
		zap.Int("electorate", n.tracker.Size()))
	res, _ := n.Vote(ctx)
	if n.onVerdict != nil {
		n.onVerdict(res)
	}
	return nil
}

// Members returns the nodes this node knows about: the electorate on a
// backup, the whole feed otherwise.
func (n *Node) Members() []topology.Member {
	if n.tracker != nil {
		return n.tracker.Members()
	}
	if n.feed == nil {
		return nil
	}
	all := n.feed.Members()
	out := make([]topology.Member, 0, len(all))
	for id, pair := range all {
		out = append(out, topology.Member{ID: id, Connector: pair})
	}
	sortMembers(out)
	return out
}
