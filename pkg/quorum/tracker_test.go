package quorum

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

func pair(addr string) topology.ConnectorPair {
	return topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: addr}}
}

func TestNewTrackerValidatesArguments(t *testing.T) {
	_, err := NewTracker(topology.NewFeed(), "")
	require.ErrorIs(t, err, ErrEmptyTarget)

	_, err = NewTracker(nil, "live")
	require.ErrorIs(t, err, ErrNilRegistrar)
}

func TestTrackerIgnoresTarget(t *testing.T) {
	feed := topology.NewFeed()
	tr, err := NewTracker(feed, "live")
	require.NoError(t, err)
	require.Equal(t, 1, feed.Len())

	feed.NodeUp("live", pair("live:9000"), false)
	feed.NodeUp("b1", pair("b1:9000"), false)
	feed.NodeUp("b2", pair("b2:9000"), true)

	require.Equal(t, 2, tr.Size())
	require.NotContains(t, tr.Snapshot(), "live")
	require.False(t, tr.IsTargetAbsent())
}

func TestTrackerUpIsLastWriteWins(t *testing.T) {
	feed := topology.NewFeed()
	tr, err := NewTracker(feed, "live")
	require.NoError(t, err)

	feed.NodeUp("b1", pair("old:9000"), false)
	feed.NodeUp("b1", pair("new:9000"), false)

	require.Equal(t, 1, tr.Size())
	require.Equal(t, "new:9000", tr.Snapshot()["b1"].Live.Addr)
}

func TestTrackerNodeDownRemoves(t *testing.T) {
	feed := topology.NewFeed()
	tr, err := NewTracker(feed, "live")
	require.NoError(t, err)

	feed.NodeUp("b1", pair("b1:9000"), false)
	feed.NodeDown("b1")
	feed.NodeDown("never-seen")

	require.Zero(t, tr.Size())
	require.False(t, tr.IsTargetAbsent())
	select {
	case <-tr.TargetDown():
		t.Fatal("target down signalled for another node")
	default:
	}
}

func TestTrackerTargetDownDetachesOnce(t *testing.T) {
	feed := topology.NewFeed()
	tr, err := NewTracker(feed, "live")
	require.NoError(t, err)
	feed.NodeUp("b1", pair("b1:9000"), false)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.NodeDown("live")
		}()
	}
	wg.Wait()

	require.True(t, tr.IsTargetAbsent())
	require.Equal(t, 0, feed.Len())
	<-tr.TargetDown()

	// Detached: later events no longer reach the tracker.
	feed.NodeUp("b2", pair("b2:9000"), false)
	require.Equal(t, 1, tr.Size())

	tr.Close()
	require.Equal(t, 0, feed.Len())
}

func TestTrackerPicksUpExistingMembers(t *testing.T) {
	feed := topology.NewFeed()
	feed.NodeUp("live", pair("live:9000"), false)
	feed.NodeUp("b1", pair("b1:9000"), true)

	tr, err := NewTracker(feed, "live")
	require.NoError(t, err)
	members := tr.Members()
	require.Len(t, members, 1)
	require.Equal(t, "b1", members[0].ID)
}
