package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	exporter "github.com/nikiz24/registry-exporter"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exporter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: filens\nlisten_address: \":1\"\nexclusions: [a_family]\n"), 0o600))

	fs, f := newFlagSet(io.Discard)
	require.NoError(t, fs.Parse([]string{
		"-config", path,
		"-listen-addr", "127.0.0.1:9500",
		"-global-label", "cluster", "-global-label", "rack",
		"-cluster", "c1", "-rack", "r7",
		"-exclude", "b_family",
		"-registration-delay", "2s",
		"-runtime-objects=false",
		"-log-format", "console",
	}))

	cfg, err := loadConfig(fs, f)
	require.NoError(t, err)

	assert.Equal(t, "filens", cfg.Namespace, "not overridden")
	assert.Equal(t, "127.0.0.1:9500", cfg.ListenAddress)
	assert.Equal(t, []string{"cluster", "rack"}, cfg.GlobalLabels)
	assert.Equal(t, "c1", cfg.Topology.Cluster)
	assert.Equal(t, "r7", cfg.Topology.RackName)
	assert.Equal(t, []string{"a_family", "b_family"}, cfg.Exclusions)
	assert.Equal(t, 2*time.Second, cfg.RegistrationDelay)
	assert.False(t, cfg.EnableRuntimeObjects)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "default kept")
}

func TestLoadConfig_Invalid(t *testing.T) {
	fs, f := newFlagSet(io.Discard)
	require.NoError(t, fs.Parse([]string{"-help-policy", "sometimes"}))
	_, err := loadConfig(fs, f)
	assert.Error(t, err)

	fs, f = newFlagSet(io.Discard)
	require.NoError(t, fs.Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}))
	_, err = loadConfig(fs, f)
	assert.Error(t, err)
}

func TestStringSlice(t *testing.T) {
	var s stringSlice
	require.NoError(t, s.Set("a"))
	require.NoError(t, s.Set("b"))
	assert.ErrorIs(t, s.Set(""), errEmptyFlagValue)
	assert.Equal(t, "[a b]", s.String())
}

func TestRun_Exits(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-h"}))
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
	assert.Equal(t, 1, run([]string{"-log-level", "loud"}))
}

func TestRegisterBuildInfo_RFC3339Date(t *testing.T) {
	saved := date
	t.Cleanup(func() { date = saved })
	date = "2026-10-18T09:30:00Z"

	cfg := exporter.DefaultConfig()
	cfg.ListenAddress = ""
	e, err := exporter.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, registerBuildInfo(e, cfg))
	assert.Equal(t, 1, e.Registry().Len())
}

func TestBuildInfoValue(t *testing.T) {
	assert.Equal(t, "2026-10-18T09.30.00Z", buildInfoValue("2026-10-18T09:30:00Z"))
	assert.Equal(t, "a_b_c", buildInfoValue("a,b=c"))
	assert.Equal(t, "unknown", buildInfoValue(""))
	assert.Equal(t, "v1.2.3", buildInfoValue("v1.2.3"))
}
