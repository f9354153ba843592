package topology

import (
	"net"
	"strings"
)

// DefaultPort is used when a connector address carries no port.
const DefaultPort = "8080"

// NormalizeHostPort strips an http:// or https:// scheme from addr and
// appends defPort when addr has no port. Connector.HostPort runs every
// advertised address through it with DefaultPort before the result is
// checked for a usable host and port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

// HostPort returns the connector address as host:port, or false if it cannot
// be addressed.
func (c *Connector) HostPort() (string, bool) {
	if c == nil || strings.TrimSpace(c.Addr) == "" {
		return "", false
	}
	hp := NormalizeHostPort(c.Addr, DefaultPort)
	host, port, err := net.SplitHostPort(hp)
	if err != nil || port == "" || strings.ContainsAny(host, "/ ") {
		return "", false
	}
	return hp, true
}
