package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.DefaultTTL())
	assert.Equal(t, time.Second, cfg.BreakerResetTimeout())
	assert.Equal(t, 5*time.Second, cfg.RestartWindow())
}

func TestParse_TOML(t *testing.T) {
	cfg, err := Parse([]byte(`
[runtime]
domains = 4
parallel = true

[routing]
ring_capacity = 16
default_ttl = "250ms"

[supervision]
strategy = "rest_for_one"
`), "toml")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runtime.Domains)
	assert.True(t, cfg.Runtime.Parallel)
	assert.Equal(t, 16, cfg.Routing.RingCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.DefaultTTL())
	assert.Equal(t, "rest_for_one", cfg.Supervision.Strategy)
	assert.Equal(t, 8, cfg.Runtime.MaxHops, "untouched fields keep defaults")
}

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(`
runtime:
  domains: 2
logging:
  level: debug
  format: console
metrics:
  enabled: true
  address: ":0"
`), "yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Runtime.Domains)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Domains = 9
	cfg.Routing.BackpressureThreshold = 1.5
	cfg.Supervision.Strategy = "all_for_none"
	cfg.Routing.DefaultTTL = "soon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BITACTOR_DOMAINS":              "3",
		"BITACTOR_PARALLEL":             "true",
		"BITACTOR_LOG_LEVEL":            "warn",
		"BITACTOR_SUPERVISION_STRATEGY": "one_for_all",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, 3, cfg.Runtime.Domains)
	assert.True(t, cfg.Runtime.Parallel)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "one_for_all", cfg.Supervision.Strategy)

	env["BITACTOR_DOMAINS"] = "many"
	env["BITACTOR_PARALLEL"] = "maybe"
	err := Default().applyEnv(lookup)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestLoad_Files(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Default(), cfg))

	bad := filepath.Join(dir, "bitactor.ini")
	require.NoError(t, os.WriteFile(bad, []byte("x=1"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	want := Default()
	want.Runtime.Domains = 5
	want.Supervision.Strategy = "simple_one_for_one"
	for _, format := range []string{"toml", "yaml"} {
		data, err := want.Marshal(format)
		require.NoError(t, err)
		path := filepath.Join(dir, "bitactor."+format)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		got, err := Load(path)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got), format)
	}
}

func TestWatch_Reloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "bitactor.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runtime]\ndomains = 1\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) { got <- c })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	var cfg *Config
	for cfg == nil {
		select {
		case cfg = <-got:
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("[runtime]\ndomains = 6\n"), 0o644))
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
	assert.Equal(t, 6, cfg.Runtime.Domains)

	cancel()
	require.NoError(t, <-done)
}
