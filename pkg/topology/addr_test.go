package topology

import "testing"

func TestNormalizeHostPort(t *testing.T) {
	for in, want := range map[string]string{
		"node1":                "node1:8080",
		"node1:9000":           "node1:9000",
		"http://node1":         "node1:8080",
		"https://node1:9443":   "node1:9443",
		"127.0.0.1:7000":       "127.0.0.1:7000",
		"http://10.0.0.1:8081": "10.0.0.1:8081",
	} {
		if got := NormalizeHostPort(in, "8080"); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnectorHostPort(t *testing.T) {
	good := &Connector{Name: "grpc", Addr: "http://node1"}
	if hp, ok := good.HostPort(); !ok || hp != "node1:8080" {
		t.Fatalf("HostPort() = (%q,%v), want (node1:8080,true)", hp, ok)
	}

	for _, c := range []*Connector{
		nil,
		{Name: "grpc"},
		{Name: "grpc", Addr: "   "},
		{Name: "grpc", Addr: "a:b:c"},
		{Name: "grpc", Addr: "node1/path"},
	} {
		if hp, ok := c.HostPort(); ok {
			t.Fatalf("HostPort(%v) = (%q,true), want false", c, hp)
		}
	}
}
