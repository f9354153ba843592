// Package config loads node configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	NodeID string `yaml:"node_id"`
	// Addr is the advertised host:port peers probe.
	Addr       string `yaml:"addr"`
	BackupAddr string `yaml:"backup_addr"`
	// TargetID names the live node this backup replicates. Empty when the
	// node runs as live itself.
	TargetID string `yaml:"target_id"`
	Listen   string `yaml:"listen"`

	Etcd      EtcdConfig `yaml:"etcd"`
	Discovery Duration   `yaml:"discovery_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	Prefix      string   `yaml:"prefix"`
	LeaseTTL    int64    `yaml:"lease_ttl"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// Duration is a time.Duration that reads "3s" style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalid, n.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() Config {
	return Config{
		Listen: ":8080",
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://etcd:2379"},
			Prefix:      "/zephyr/nodes/",
			LeaseTTL:    10,
			DialTimeout: Duration(5 * time.Second),
		},
		Discovery: Duration(3 * time.Second),
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Decode reads YAML from r on top of the defaults.
func Decode(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return c, nil
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		if c, err = Decode(f); err != nil {
			return Config{}, err
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// ApplyEnv overrides fields from the environment using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SELF_ID", &c.NodeID)
	str("SELF_ADDR", &c.Addr)
	str("BACKUP_ADDR", &c.BackupAddr)
	str("TARGET_ID", &c.TargetID)
	str("LISTEN_ADDR", &c.Listen)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("ETCD_PREFIX", &c.Etcd.Prefix)

	if v, ok := lookup("ETCD_ENDPOINTS"); ok && v != "" {
		c.Etcd.Endpoints = c.Etcd.Endpoints[:0]
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Etcd.Endpoints = append(c.Etcd.Endpoints, ep)
			}
		}
	}
	if v, ok := lookup("DISCOVERY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: DISCOVERY_TIMEOUT %q: %v", ErrInvalid, v, err)
		}
		c.Discovery = Duration(d)
	}
	if v, ok := lookup("LEASE_TTL"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: LEASE_TTL %q: %v", ErrInvalid, v, err)
		}
		c.Etcd.LeaseTTL = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.TargetID != "" && c.TargetID == c.NodeID {
		errs = append(errs, errors.New("target_id must differ from node_id"))
	}
	if len(c.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one etcd endpoint is required"))
	}
	if c.Etcd.LeaseTTL <= 0 {
		errs = append(errs, errors.New("etcd lease_ttl must be positive"))
	}
	if c.Discovery <= 0 {
		errs = append(errs, errors.New("discovery_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
