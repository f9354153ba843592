// Package discovery publishes and follows cluster membership in etcd. Each
// node keeps a leased key under a common prefix; watchers turn key writes
// and deletions into topology NodeUp/NodeDown events.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

const DefaultPrefix = "/zephyr/nodes/"

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Registration keeps this node's connector pair under prefix+id, bound to a
// lease. If the lease is lost (keepalive channel closed, e.g. after an etcd
// partition outlived the TTL) the node registers again, so peers do not drop
// a node that is still running.
type Registration struct {
	id     string
	logger *zap.Logger
	retry  time.Duration

	register func(ctx context.Context) (clientv3.LeaseID, <-chan struct{}, error)
	revoke   func(ctx context.Context, lease clientv3.LeaseID)
}

func NewRegistration(cli *clientv3.Client, prefix, id string, pair topology.ConnectorPair, ttl int64, logger *zap.Logger) (*Registration, error) {
	val, err := EncodePair(pair)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registration{
		id:     id,
		logger: logger,
		retry:  time.Second,
		register: func(ctx context.Context) (clientv3.LeaseID, <-chan struct{}, error) {
			return registerNode(ctx, cli, prefix+id, val, ttl)
		},
		revoke: func(ctx context.Context, lease clientv3.LeaseID) {
			_, _ = cli.Revoke(ctx, lease)
		},
	}, nil
}

// Run registers the node and keeps it registered until ctx is done, then
// revokes the lease.
func (r *Registration) Run(ctx context.Context) error {
	for {
		lease, lost, err := r.register(ctx)
		if err == nil {
			r.logger.Info("registered with etcd", zap.String("node", r.id), zap.Int64("lease", int64(lease)))
			select {
			case <-ctx.Done():
			case <-lost:
			}
			// The keepalive also stops on shutdown; only a live ctx means the
			// lease was really lost.
			if ctx.Err() != nil {
				revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				r.revoke(revokeCtx, lease)
				cancel()
				return ctx.Err()
			}
			r.logger.Warn("etcd lease lost, registering again", zap.String("node", r.id), zap.Int64("lease", int64(lease)))
		} else {
			r.logger.Warn("etcd registration failed", zap.String("node", r.id), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retry):
		}
	}
}

// registerNode puts val under key with a fresh lease of ttl seconds and
// keeps the lease alive while ctx lives. The returned channel is closed when
// the keepalive stops.
func registerNode(ctx context.Context, cli *clientv3.Client, key, val string, ttl int64) (clientv3.LeaseID, <-chan struct{}, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("discovery: grant lease: %w", err)
	}
	if _, err = cli.Put(ctx, key, val, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("discovery: register %s: %w", key, err)
	}
	ka, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("discovery: keepalive: %w", err)
	}
	lost := make(chan struct{})
	go func() {
		defer close(lost)
		for range ka {
		}
	}()
	return lease.ID, lost, nil
}

// EncodePair serialises a connector pair as stored in etcd.
func EncodePair(pair topology.ConnectorPair) (string, error) {
	b, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("discovery: encode connector: %w", err)
	}
	return string(b), nil
}

// DecodePair parses a stored value. Plain addresses (the pre-JSON format)
// are read as a single live gRPC connector.
func DecodePair(val []byte) (topology.ConnectorPair, error) {
	s := strings.TrimSpace(string(val))
	if s == "" {
		return topology.ConnectorPair{}, fmt.Errorf("discovery: empty connector value")
	}
	if !strings.HasPrefix(s, "{") {
		return topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: s}}, nil
	}
	var pair topology.ConnectorPair
	if err := json.Unmarshal([]byte(s), &pair); err != nil {
		return topology.ConnectorPair{}, fmt.Errorf("discovery: decode connector: %w", err)
	}
	return pair, nil
}

// Watcher follows prefix and publishes changes to a topology.Listener,
// usually a topology.Feed.
type Watcher struct {
	cli    *clientv3.Client
	prefix string
	out    topology.Listener
	logger *zap.Logger
	retry  time.Duration

	known map[string]struct{} // owned by the Run goroutine
}

func NewWatcher(cli *clientv3.Client, prefix string, out topology.Listener, logger *zap.Logger) *Watcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cli:    cli,
		prefix: prefix,
		out:    out,
		logger: logger,
		retry:  time.Second,
		known:  make(map[string]struct{}),
	}
}

// Bootstrap lists the prefix once and publishes it. Members seen before but
// missing from the listing are reported down. It returns the store revision
// of the listing.
func (w *Watcher) Bootstrap(ctx context.Context) (int64, error) {
	resp, err := w.cli.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("discovery: list %s: %w", w.prefix, err)
	}
	w.publishListing(resp.Kvs)
	return resp.Header.Revision, nil
}

// publishListing reports every readable member of a full listing up, with
// last set on the final one, and every previously known member missing from
// it down.
func (w *Watcher) publishListing(kvs []*mvccpb.KeyValue) {
	ups := make([]topology.Member, 0, len(kvs))
	for _, kv := range kvs {
		if id, pair, ok := w.decodePut(kv); ok {
			ups = append(ups, topology.Member{ID: id, Connector: pair})
		}
	}
	seen := make(map[string]struct{}, len(ups))
	for i, m := range ups {
		seen[m.ID] = struct{}{}
		w.known[m.ID] = struct{}{}
		w.out.NodeUp(m.ID, m.Connector, i == len(ups)-1)
	}
	for id := range w.known {
		if _, ok := seen[id]; !ok {
			delete(w.known, id)
			w.out.NodeDown(id)
		}
	}
}

// Run bootstraps and then watches until ctx is done, re-listing whenever the
// watch breaks (compaction, lost leader, closed channel).
func (w *Watcher) Run(ctx context.Context) error {
	for {
		rev, err := w.Bootstrap(ctx)
		if err == nil {
			err = w.watch(ctx, rev+1)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("membership watch interrupted, re-listing", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retry):
		}
	}
}

func (w *Watcher) watch(ctx context.Context, rev int64) error {
	wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	defer cancel()

	wch := w.cli.Watch(wctx, w.prefix, clientv3.WithPrefix(), clientv3.WithRev(rev))
	for resp := range wch {
		if err := resp.Err(); err != nil {
			return err
		}
		for _, ev := range resp.Events {
			w.apply(ev.Type, ev.Kv)
		}
	}
	return fmt.Errorf("discovery: watch channel closed")
}

func (w *Watcher) apply(typ mvccpb.Event_EventType, kv *mvccpb.KeyValue) {
	switch typ {
	case mvccpb.PUT:
		if id, pair, ok := w.decodePut(kv); ok {
			w.known[id] = struct{}{}
			w.out.NodeUp(id, pair, true)
		}
	case mvccpb.DELETE:
		id, ok := w.nodeID(kv.Key)
		if !ok {
			return
		}
		delete(w.known, id)
		w.out.NodeDown(id)
	}
}

func (w *Watcher) decodePut(kv *mvccpb.KeyValue) (string, topology.ConnectorPair, bool) {
	id, ok := w.nodeID(kv.Key)
	if !ok {
		return "", topology.ConnectorPair{}, false
	}
	pair, err := DecodePair(kv.Value)
	if err != nil {
		w.logger.Warn("skipping unreadable member", zap.String("node", id), zap.Error(err))
		return "", topology.ConnectorPair{}, false
	}
	return id, pair, true
}

func (w *Watcher) nodeID(key []byte) (string, bool) {
	id, ok := strings.CutPrefix(string(key), w.prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
