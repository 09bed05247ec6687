package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/scenario"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(`
log:
  level: debug
clock:
  frames: 600
scenario:
  seed: 42
  waves: 1
`))
	require.NoError(t, err)

	assert.Equal(t, log.LevelDebug, cfg.Log.LogLevel())
	assert.Equal(t, 600, cfg.Clock.Frames)
	assert.Equal(t, ClockFixed, cfg.Clock.Mode)
	assert.Equal(t, uint64(42), cfg.Scenario.Seed)
	assert.Equal(t, 1, cfg.Scenario.Waves)
	assert.Equal(t, scenario.DefaultConfig().ShipsPerWave, cfg.Scenario.ShipsPerWave)
	assert.Equal(t, ":8089", cfg.Spectator.Addr)
}

func TestLoadYAMLEmpty(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "clok:\n  rate: 10\n", "clok"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad mode", "clock:\n  mode: lunar\n", "clock.mode"},
		{"no rate", "clock:\n  rate: 0\n", "clock.rate"},
		{"spectator without addr", "spectator:\n  enabled: true\n  addr: \"\"\n", "spectator.addr"},
		{"bad scenario", "scenario:\n  waves: 0\n", "waves"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadYAML(strings.NewReader("scenario:\n  waves: 0\n"))
	assert.ErrorIs(t, err, scenario.ErrInvalidConfig)
	_, err = LoadYAML(strings.NewReader("clock:\n  rate: -1\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestClockSource(t *testing.T) {
	cfg := Default().Clock
	cfg.Rate = 10
	cfg.Frames = 3
	src, ok := cfg.Source().(*clock.Fixed)
	require.True(t, ok)

	for range 3 {
		dt, err := src.Next(t.Context())
		require.NoError(t, err)
		assert.InDelta(t, 0.1, dt, 1e-12)
	}
	_, err := src.Next(t.Context())
	assert.ErrorIs(t, err, clock.ErrExhausted)

	cfg.Mode = ClockRealtime
	rt, ok := cfg.Source().(*clock.Realtime)
	require.True(t, ok)
	rt.Stop()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	// unrelated files in the same directory are ignored
	writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), "log:\n  level: loud\n")
	writeFile(t, path, "log:\n  level: debug\n")

	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-w.Updates():
			// a reload may catch the file between truncate and write
			reloaded = cfg.Log.Level == "debug"
		case err := <-w.Errors():
			t.Fatalf("unexpected watch error: %v", err)
		case <-deadline:
			t.Fatal("no reload")
		}
	}

	writeFile(t, path, "log:\n  level: loud\n")
	select {
	case err := <-w.Errors():
		assert.ErrorIs(t, err, ErrInvalid)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error")
	}

	require.NoError(t, w.Close())
	for range w.Updates() {
	}
	require.NoError(t, w.Close())
}
