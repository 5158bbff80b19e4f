// Package config resolves process-level configuration for the tone stabilizer.
//
// Every key maps to an env var with the TONE_ prefix, dots becoming
// underscores (e.g. "drift.max_drift" → TONE_DRIFT_MAX_DRIFT), and to a
// nested YAML field in tone.config.yaml. Defaults are the calibrated
// pipeline constants.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// Viper keys.
const (
	KeyHistorySize    = "pipeline.history_size"
	KeyCueThreshold   = "pipeline.cue_threshold"
	KeyAnchorWeight   = "anchor.weight"
	KeyAnchorText     = "anchor.text"
	KeyWideningFactor = "filter.widening_factor"
	KeyMaxDrift       = "drift.max_drift"
	KeyCurrentWeight  = "drift.current_weight"
	KeyDriftWindow    = "drift.window"
	KeyStoreType      = "store.type"
	KeySQLitePath     = "store.sqlite_path"
	KeyRedisAddr      = "store.redis_addr"
	KeyRedisTTL       = "store.redis_ttl"
	KeyJournalPath    = "journal.path"
	KeyEmbedAddr      = "embed.addr"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyOTelEnabled    = "otel.enabled"
	KeyBatchSize      = "bridge.batch_size"
	KeyWorkers        = "runner.workers"
)

var dimNames = [tone.Dimensions]string{"empathy", "warmth", "clarity"}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// #region config
// StoreConfig selects and configures the session store driver.
type StoreConfig struct {
	Type       state.StoreType
	SQLitePath string
	RedisAddr  string
	RedisTTL   time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string // "console" | "json"
}

// BridgeConfig configures the line-delimited JSON adapter.
type BridgeConfig struct {
	BatchSize int
	Workers   int
}

// Config is the fully resolved process configuration.
type Config struct {
	Pipeline    pipeline.Config
	Store       StoreConfig
	JournalPath string // empty disables the turn journal
	EmbedAddr   string // empty uses the local hash embedder
	Log         LogConfig
	OTelEnabled bool
	Bridge      BridgeConfig
}

// #endregion config

// #region viper
// NewViper returns a viper bound to TONE_* env vars. When cfgFile is empty it
// looks for tone.config.yaml in the working directory; a missing file is not
// an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return v, nil
	}
	v.AddConfigPath(".")
	v.SetConfigName("tone.config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers every key's calibrated default on v.
func SetDefaults(v *viper.Viper) {
	d := pipeline.DefaultConfig()
	v.SetDefault(KeyHistorySize, d.HistorySize)
	v.SetDefault(KeyCueThreshold, d.CueThreshold)
	v.SetDefault(KeyAnchorWeight, d.AnchorWeight)
	v.SetDefault(KeyAnchorText, "")
	v.SetDefault(KeyWideningFactor, d.Filter.WideningFactor)
	for i, name := range dimNames {
		v.SetDefault("filter.alpha."+name, d.Filter.BaseAlpha[i])
		v.SetDefault("filter.max_step."+name, d.Filter.MaxStep[i])
	}
	v.SetDefault("filter.changepoint.worry", d.Filter.ChangePoint.Worry)
	v.SetDefault("filter.changepoint.irony", d.Filter.ChangePoint.Irony)
	v.SetDefault("filter.changepoint.humor", d.Filter.ChangePoint.Humor)
	v.SetDefault(KeyMaxDrift, d.Drift.MaxDrift)
	v.SetDefault(KeyCurrentWeight, d.Drift.CurrentWeight)
	v.SetDefault(KeyDriftWindow, d.Drift.Window)
	for _, cue := range tone.Cues {
		v.SetDefault("gate.shift."+cue, d.Gate.WarmthShifts[cue])
	}
	v.SetDefault(KeyStoreType, string(state.StoreTypeMemory))
	v.SetDefault(KeySQLitePath, "tone.db")
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisTTL, 24*time.Hour)
	v.SetDefault(KeyJournalPath, "")
	v.SetDefault(KeyEmbedAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyOTelEnabled, false)
	v.SetDefault(KeyBatchSize, 32)
	v.SetDefault(KeyWorkers, pipeline.DefaultWorkers)
}

// #endregion viper

// #region load
// Load resolves configuration from env vars, an optional config file and defaults.
func Load(cfgFile string) (*Config, error) {
	v, err := NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return LoadFrom(v)
}

// LoadFrom reads a validated Config out of v. Defaults are registered first so
// a bare viper works.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	p := pipeline.DefaultConfig()
	p.HistorySize = v.GetInt(KeyHistorySize)
	p.CueThreshold = v.GetFloat64(KeyCueThreshold)
	p.AnchorWeight = v.GetFloat64(KeyAnchorWeight)
	p.AnchorText = v.GetString(KeyAnchorText)
	p.Filter.WideningFactor = v.GetFloat64(KeyWideningFactor)
	for i, name := range dimNames {
		p.Filter.BaseAlpha[i] = v.GetFloat64("filter.alpha." + name)
		p.Filter.MaxStep[i] = v.GetFloat64("filter.max_step." + name)
	}
	p.Filter.ChangePoint.Worry = v.GetFloat64("filter.changepoint.worry")
	p.Filter.ChangePoint.Irony = v.GetFloat64("filter.changepoint.irony")
	p.Filter.ChangePoint.Humor = v.GetFloat64("filter.changepoint.humor")
	p.Drift.MaxDrift = v.GetFloat64(KeyMaxDrift)
	p.Drift.CurrentWeight = v.GetFloat64(KeyCurrentWeight)
	p.Drift.Window = v.GetInt(KeyDriftWindow)
	p.Gate.WarmthShifts = make(map[string]float64, len(tone.Cues))
	for _, cue := range tone.Cues {
		p.Gate.WarmthShifts[cue] = v.GetFloat64("gate.shift." + cue)
	}

	cfg := &Config{
		Pipeline: p,
		Store: StoreConfig{
			Type:       state.StoreType(strings.ToLower(v.GetString(KeyStoreType))),
			SQLitePath: v.GetString(KeySQLitePath),
			RedisAddr:  v.GetString(KeyRedisAddr),
			RedisTTL:   v.GetDuration(KeyRedisTTL),
		},
		JournalPath: v.GetString(KeyJournalPath),
		EmbedAddr:   v.GetString(KeyEmbedAddr),
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		OTelEnabled: v.GetBool(KeyOTelEnabled),
		Bridge: BridgeConfig{
			BatchSize: v.GetInt(KeyBatchSize),
			Workers:   v.GetInt(KeyWorkers),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	switch c.Store.Type {
	case state.StoreTypeMemory:
	case state.StoreTypeSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%s required for sqlite store", KeySQLitePath)
		}
	case state.StoreTypeRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%s required for redis store", KeyRedisAddr)
		}
	default:
		return fmt.Errorf("%w: %q", state.ErrInvalidStoreType, c.Store.Type)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Bridge.BatchSize < 1 {
		return fmt.Errorf("%s must be positive", KeyBatchSize)
	}
	if c.Bridge.Workers < 1 {
		return fmt.Errorf("%s must be positive", KeyWorkers)
	}
	return nil
}

// #endregion load
