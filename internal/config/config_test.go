package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
heartbeat:
  addr: "127.0.0.1:7000"
  interval: 500ms
  reply_timeout: 2s
broker:
  ingress: "127.0.0.1:7001"
  egress: "127.0.0.1:7002"
tls:
  cert_file: /etc/tether/cert.pem
  key_file: /etc/tether/key.pem
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Heartbeat.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Heartbeat.Interval.Std())
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.ReplyTimeout.Std())
	assert.Equal(t, "127.0.0.1:7001", cfg.Broker.Ingress)
	assert.Equal(t, "127.0.0.1:7002", cfg.Broker.Egress)
	assert.Equal(t, "/etc/tether/cert.pem", cfg.TLS.CertFile)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  ingress: "0.0.0.0:9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9100", cfg.Broker.Ingress)
	assert.Equal(t, "127.0.0.1:0", cfg.Broker.Egress)
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval.Std())
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
heartbeat:
  interval: soon
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_LoneTLSFileRejected(t *testing.T) {
	path := writeConfig(t, `
tls:
  cert_file: /etc/tether/cert.pem
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval.Std())
	assert.Empty(t, cfg.TLS.CertFile)
	require.NoError(t, cfg.validate())
}
