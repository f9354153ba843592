package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Connector describes how to reach one endpoint of a node. It is opaque to
// everything except the prober that dials it.
type Connector struct {
	Name   string            `json:"name"`
	Addr   string            `json:"addr"`
	Params map[string]string `json:"params,omitempty"`
}

func (c *Connector) String() string {
	if c == nil {
		return "<nil>"
	}
	if len(c.Params) == 0 {
		return c.Name + "@" + c.Addr
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%s", k, c.Params[k])
	}
	return fmt.Sprintf("%s@%s?%s", c.Name, c.Addr, b.String())
}

// ConnectorPair holds the primary (live) and backup connectors of a node.
// Either side may be nil. Treat it as immutable once observed.
type ConnectorPair struct {
	Live   *Connector `json:"live,omitempty"`
	Backup *Connector `json:"backup,omitempty"`
}

func (p ConnectorPair) String() string {
	return fmt.Sprintf("Pair[live=%s, backup=%s]", p.Live, p.Backup)
}

// Member is a node as seen through the cluster topology.
type Member struct {
	ID        string        `json:"id"`
	Connector ConnectorPair `json:"connector"`
	Distance  int           `json:"distance"` // hops from the local node, 0 for direct
}

func (m Member) String() string {
	return fmt.Sprintf("TopologyMember[id=%s, distance=%d, connector=%s]", m.ID, m.Distance, m.Connector)
}

// Listener receives topology changes. Callbacks may arrive concurrently and
// carry no ordering guarantee across different node ids.
type Listener interface {
	// NodeUp reports that id is reachable through pair. last is true when
	// the event closes an initial batch (e.g. the bootstrap listing).
	NodeUp(id string, pair ConnectorPair, last bool)
	NodeDown(id string)
}

// Registrar subscribes listeners to a topology event source.
type Registrar interface {
	AddListener(l Listener)
	RemoveListener(l Listener)
}
