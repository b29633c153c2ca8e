package exporter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "app", cfg.Namespace)
	assert.Equal(t, "automatic", cfg.HelpPolicy)
	assert.Equal(t, time.Second, cfg.RegistrationDelay)
	assert.Equal(t, cfg.Topology.Node, cfg.RemoteWrite.Instance)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exporter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: "127.0.0.1:9999"
namespace: cass
global_labels: [cluster, datacenter]
topology:
  cluster: prod
  datacenter: eu-west
exclusions:
  - "app:type=Cache,*"
  - cass_go_goroutines
registration_delay: 250ms
remote_write:
  url: http://prometheus:9090/api/v1/write
  interval: 30s
  labels:
    env: prod
  dns:
    enable: true
    udp_servers: ["1.1.1.1:53"]
log:
  level: debug
  format: console
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddress)
	assert.Equal(t, "cass", cfg.Namespace)
	assert.Equal(t, []string{"cluster", "datacenter"}, cfg.GlobalLabels)
	assert.Equal(t, "prod", cfg.Topology.Cluster)
	assert.Equal(t, "eu-west", cfg.Topology.DC)
	assert.Len(t, cfg.Exclusions, 2)
	assert.Equal(t, 250*time.Millisecond, cfg.RegistrationDelay)
	assert.Equal(t, 30*time.Second, cfg.RemoteWrite.Interval)
	assert.Equal(t, map[string]string{"env": "prod"}, cfg.RemoteWrite.Labels)
	assert.True(t, cfg.RemoteWrite.DNS.Enable)
	assert.Equal(t, []string{"1.1.1.1:53"}, cfg.RemoteWrite.DNS.UDPServers)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, "automatic", cfg.HelpPolicy)
	assert.True(t, cfg.EnableRuntimeObjects)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace = "bad-namespace"
	cfg.HelpPolicy = "sometimes"
	cfg.GlobalLabels = []string{"cluster", "planet"}
	cfg.Exclusions = []string{"app:type", "@" + filepath.Join(t.TempDir(), "missing")}
	cfg.InstrumentDomain = ""
	cfg.RegistrationDelay = -time.Second
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(multierr.Errors(err)), 8)
}
