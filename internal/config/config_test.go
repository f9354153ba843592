package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDecodeOverDefaults(t *testing.T) {
	c, err := Decode(strings.NewReader(`
node_id: backup-1
addr: backup-1:8080
target_id: live-1
discovery_timeout: 1500ms
etcd:
  endpoints: ["http://10.0.0.1:2379"]
`))
	require.NoError(t, err)
	require.Equal(t, "backup-1", c.NodeID)
	require.Equal(t, "live-1", c.TargetID)
	require.Equal(t, 1500*time.Millisecond, c.Discovery.Std())
	require.Equal(t, []string{"http://10.0.0.1:2379"}, c.Etcd.Endpoints)
	require.Equal(t, "/zephyr/nodes/", c.Etcd.Prefix)
	require.Equal(t, int64(10), c.Etcd.LeaseTTL)
	require.NoError(t, c.Validate())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("nodeid: x\n"))
	require.Error(t, err)
}

func TestDecodeBadDuration(t *testing.T) {
	_, err := Decode(strings.NewReader("discovery_timeout: soon\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeEmpty(t *testing.T) {
	c, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestApplyEnvOverrides(t *testing.T) {
	c := Default()
	c.NodeID = "from-file"
	require.NoError(t, c.ApplyEnv(env(map[string]string{
		"SELF_ID":           "node2",
		"SELF_ADDR":         "node2:8080",
		"TARGET_ID":         "node1",
		"ETCD_ENDPOINTS":    "http://a:2379, http://b:2379,",
		"DISCOVERY_TIMEOUT": "2s",
		"LEASE_TTL":         "30",
	})))
	require.Equal(t, "node2", c.NodeID)
	require.Equal(t, "node1", c.TargetID)
	require.Equal(t, []string{"http://a:2379", "http://b:2379"}, c.Etcd.Endpoints)
	require.Equal(t, 2*time.Second, c.Discovery.Std())
	require.Equal(t, int64(30), c.Etcd.LeaseTTL)
	require.NoError(t, c.Validate())

	require.ErrorIs(t, c.ApplyEnv(env(map[string]string{"DISCOVERY_TIMEOUT": "x"})), ErrInvalid)
	require.ErrorIs(t, c.ApplyEnv(env(map[string]string{"LEASE_TTL": "x"})), ErrInvalid)
}

func TestValidate(t *testing.T) {
	c := Default()
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "node_id is required")
	require.Contains(t, err.Error(), "addr is required")

	c.NodeID, c.Addr, c.TargetID = "n1", "n1:8080", "n1"
	require.ErrorContains(t, c.Validate(), "target_id must differ")
}
