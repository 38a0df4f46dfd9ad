// Package config loads the runtime's YAML configuration for the
// standalone broker and heartbeat servers.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tetherproc/tether/internal/heartbeat"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HeartbeatConfig configures the heartbeat server and the timing handed to
// spawned workers.
type HeartbeatConfig struct {
	Addr         string   `yaml:"addr"`
	Interval     Duration `yaml:"interval"`
	ReplyTimeout Duration `yaml:"reply_timeout"`
}

// BrokerConfig holds the event broker's two endpoints.
type BrokerConfig struct {
	Ingress string `yaml:"ingress"`
	Egress  string `yaml:"egress"`
}

// TLSConfig points at a PEM key pair. Both paths set enables secure
// transport; both empty disables it.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Config is the root of the runtime configuration file.
type Config struct {
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Broker    BrokerConfig    `yaml:"broker"`
	TLS       TLSConfig       `yaml:"tls"`
}

// Default returns the configuration used when no file is given: loopback
// servers on ephemeral ports, standard heartbeat timing, no TLS.
func Default() *Config {
	return &Config{
		Heartbeat: HeartbeatConfig{
			Addr:         "127.0.0.1:0",
			Interval:     Duration(heartbeat.DefaultInterval),
			ReplyTimeout: Duration(heartbeat.DefaultReplyTimeout),
		},
		Broker: BrokerConfig{
			Ingress: "127.0.0.1:0",
			Egress:  "127.0.0.1:0",
		},
	}
}

// Load reads a YAML configuration file over the defaults. Fields absent
// from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Heartbeat.ReplyTimeout <= 0 {
		return fmt.Errorf("heartbeat reply timeout must be positive")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}
	return nil
}
