package topology

import (
	"slices"
	"sort"
	"sync"
)

var _ Registrar = (*Feed)(nil)
var _ Listener = (*Feed)(nil)

// Feed fans topology events out to every registered listener. It is itself
// a Listener so event sources can publish into it.
//
// Events and the membership replay handed to a new listener go through one
// queue in the order the feed accepted them, so a listener never sees a
// member come back after its down event. One goroutine delivers at a time;
// a call made while another delivery is running (including from inside a
// callback) queues its event and returns. Listeners are invoked outside the
// lock and may add or remove listeners, or publish, from a callback.
type Feed struct {
	mu          sync.RWMutex
	listeners   []Listener
	members     map[string]ConnectorPair // last known state, replayed to late subscribers
	queue       []delivery
	dispatching bool
}

// delivery is one queued event and the listeners registered when it was
// accepted.
type delivery struct {
	to []Listener
	fn func(Listener)
}

func NewFeed() *Feed {
	return &Feed{members: make(map[string]ConnectorPair)}
}

// AddListener registers l and replays the current membership to it. Adding
// the same listener twice is a no-op.
func (f *Feed) AddListener(l Listener) {
	f.mu.Lock()
	if slices.Contains(f.listeners, l) {
		f.mu.Unlock()
		return
	}
	f.listeners = append(f.listeners, l)
	if len(f.members) > 0 {
		replay := make([]Member, 0, len(f.members))
		for id, pair := range f.members {
			replay = append(replay, Member{ID: id, Connector: pair})
		}
		sort.Slice(replay, func(i, j int) bool { return replay[i].ID < replay[j].ID })
		f.queue = append(f.queue, delivery{
			to: []Listener{l},
			fn: func(l Listener) {
				for i, m := range replay {
					l.NodeUp(m.ID, m.Connector, i == len(replay)-1)
				}
			},
		})
	}
	f.mu.Unlock()
	f.drain()
}

func (f *Feed) RemoveListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = slices.DeleteFunc(f.listeners, func(x Listener) bool { return x == l })
}

func (f *Feed) NodeUp(id string, pair ConnectorPair, last bool) {
	f.mu.Lock()
	f.members[id] = pair
	f.enqueueLocked(func(l Listener) { l.NodeUp(id, pair, last) })
	f.mu.Unlock()
	f.drain()
}

func (f *Feed) NodeDown(id string) {
	f.mu.Lock()
	delete(f.members, id)
	f.enqueueLocked(func(l Listener) { l.NodeDown(id) })
	f.mu.Unlock()
	f.drain()
}

func (f *Feed) enqueueLocked(fn func(Listener)) {
	if len(f.listeners) == 0 {
		return
	}
	f.queue = append(f.queue, delivery{to: slices.Clone(f.listeners), fn: fn})
}

// drain delivers queued events until the queue is empty, unless another
// goroutine is already doing so.
func (f *Feed) drain() {
	f.mu.Lock()
	if f.dispatching {
		f.mu.Unlock()
		return
	}
	f.dispatching = true
	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.dispatching = false
			f.mu.Unlock()
			panic(r)
		}
	}()

	for len(f.queue) > 0 {
		d := f.queue[0]
		f.queue[0] = delivery{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		for _, l := range d.to {
			if f.registered(l) {
				d.fn(l)
			}
		}
		f.mu.Lock()
	}
	f.queue = nil
	f.dispatching = false
	f.mu.Unlock()
}

func (f *Feed) registered(l Listener) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Contains(f.listeners, l)
}

// Len returns the number of registered listeners.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Members returns a copy of the last known membership.
func (f *Feed) Members() map[string]ConnectorPair {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]ConnectorPair, len(f.members))
	for id, p := range f.members {
		out[id] = p
	}
	return out
}
