package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENTCORE_CONFIG", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Predictor.MaxDraftsPerDay)
	assert.Equal(t, 2*time.Minute, cfg.Predictor.Cooldown)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 20, cfg.Compaction.RecentMessages)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	content := `
logging:
  level: debug
predictor:
  max_drafts_per_day: 10
  cooldown: 30s
database:
  driver: sqlite3
  dsn: "file::memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("AGENTCORE_CONFIG", path)
	t.Setenv("AGENTCORE_PREDICTOR_MAX_DRAFTS_PER_DAY", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Predictor.MaxDraftsPerDay)
	assert.Equal(t, 30*time.Second, cfg.Predictor.Cooldown)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	// untouched sections keep defaults
	assert.Equal(t, "agentcore:sync", cfg.Events.Stream)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_BOOL", "true")
	t.Setenv("AGENTCORE_TEST_DUR", "3s")
	assert.True(t, GetEnvBool("AGENTCORE_TEST_BOOL", false))
	assert.Equal(t, 3*time.Second, GetEnvDuration("AGENTCORE_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("AGENTCORE_TEST_UNSET", time.Second))
	assert.Equal(t, "x", GetEnvOrDefault("AGENTCORE_TEST_UNSET", "x"))
}

func TestWatcherInvokesMatchingHandler(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	events := make(chan ChangeEvent, 4)
	require.NoError(t, w.On("*.rego", func(ev ChangeEvent) error {
		events <- ev
		return nil
	}))
	require.NoError(t, w.On("pricing.yaml", func(ev ChangeEvent) error {
		t.Errorf("unexpected pricing reload for %s", ev.File)
		return nil
	}))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "guardrails.rego"), []byte("package agentcore.guardrails\n"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, "guardrails.rego", ev.File)
	case <-time.After(5 * time.Second):
		t.Fatal("watch handler not invoked")
	}
}

func TestWatcherRejectsBadPattern(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, w.On("[", func(ChangeEvent) error { return nil }))
	require.NoError(t, w.Stop())
}
