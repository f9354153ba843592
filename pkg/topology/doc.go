// Package topology defines the cluster membership shapes shared by the
// discovery feed and the quorum core: connector descriptors, topology
// members, and the listener/registrar pair through which "node up" and
// "node down" events are delivered.
//
// Typical usage:
//
//	feed := topology.NewFeed()
//	feed.AddListener(l)
//	feed.NodeUp("node2", pair, true)
//	feed.NodeDown("node2")
//
// Feed is an in-process broadcaster; the etcd watcher in package discovery
// publishes into one, and tests drive one directly.
package topology
