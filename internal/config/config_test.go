package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, pipeline.DefaultConfig(), cfg.Pipeline)
	assert.Equal(t, state.StoreTypeMemory, cfg.Store.Type)
	assert.Equal(t, 24*time.Hour, cfg.Store.RedisTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, 32, cfg.Bridge.BatchSize)
	assert.Equal(t, pipeline.DefaultWorkers, cfg.Bridge.Workers)
	assert.Empty(t, cfg.EmbedAddr)
	assert.Empty(t, cfg.JournalPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TONE_DRIFT_MAX_DRIFT", "0.08")
	t.Setenv("TONE_FILTER_ALPHA_EMPATHY", "0.5")
	t.Setenv("TONE_GATE_SHIFT_HUMOR", "0.2")
	t.Setenv("TONE_STORE_TYPE", "SQLite")
	t.Setenv("TONE_STORE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("TONE_LOG_FORMAT", "json")
	t.Setenv("TONE_OTEL_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.08, cfg.Pipeline.Drift.MaxDrift, 1e-12)
	assert.InDelta(t, 0.5, cfg.Pipeline.Filter.BaseAlpha[tone.Empathy], 1e-12)
	assert.InDelta(t, 0.22, cfg.Pipeline.Filter.BaseAlpha[tone.Warmth], 1e-12)
	assert.InDelta(t, 0.2, cfg.Pipeline.Gate.WarmthShifts[tone.CueHumor], 1e-12)
	assert.Equal(t, state.StoreTypeSQLite, cfg.Store.Type)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
pipeline:
  history_size: 6
drift:
  window: 4
  current_weight: 0.6
store:
  type: redis
  redis_addr: cache:6379
  redis_ttl: 1h
bridge:
  batch_size: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Pipeline.HistorySize)
	assert.Equal(t, 4, cfg.Pipeline.Drift.Window)
	assert.InDelta(t, 0.6, cfg.Pipeline.Drift.CurrentWeight, 1e-12)
	assert.Equal(t, state.StoreTypeRedis, cfg.Store.Type)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, time.Hour, cfg.Store.RedisTTL)
	assert.Equal(t, 8, cfg.Bridge.BatchSize)
}

func TestLoad_DefaultFileIsOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("")
	require.NoError(t, err)
}

func TestLoad_DefaultFileIsRead(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tone.config.yaml"), []byte("anchor:\n  weight: 0.25\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Pipeline.AnchorWeight, 1e-12)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"history size", KeyHistorySize, 0},
		{"alpha above one", "filter.alpha.clarity", 1.5},
		{"negative drift", KeyMaxDrift, -0.1},
		{"unknown store", KeyStoreType, "etcd"},
		{"empty sqlite path", KeySQLitePath, ""},
		{"log format", KeyLogFormat, "xml"},
		{"batch size", KeyBatchSize, 0},
		{"workers", KeyWorkers, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			if tt.key == KeySQLitePath {
				v.Set(KeyStoreType, "sqlite")
			}
			v.Set(tt.key, tt.val)
			_, err := LoadFrom(v)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadFrom_InvalidPipelineWrapsCause(t *testing.T) {
	v := viper.New()
	v.Set(KeyDriftWindow, 0)
	_, err := LoadFrom(v)
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrInvalid)
}
