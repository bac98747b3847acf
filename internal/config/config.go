// Package config handles configuration loading, validation, and hot
// reload for offerwatchd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"offerwatchd/internal/decision"
	"offerwatchd/internal/logging"
	"offerwatchd/internal/order"
	"offerwatchd/internal/pipeline"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Source configures where raw events and extraction rules come from.
	Source SourceConfig `toml:"source" json:"source" yaml:"source"`

	// Pipeline configures the coordinator.
	Pipeline PipelineConfig `toml:"pipeline" json:"pipeline" yaml:"pipeline"`

	// Normalize configures locale handling and fingerprint stability.
	Normalize NormalizeConfig `toml:"normalize" json:"normalize" yaml:"normalize"`

	// Decision configures the recommendation thresholds.
	Decision DecisionConfig `toml:"decision" json:"decision" yaml:"decision"`

	// Stats configures daily aggregate persistence.
	Stats StatsConfig `toml:"stats" json:"stats" yaml:"stats"`

	// Logging configures structured logging.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configures the daemon socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// SourceConfig locates the rule file feeding the extractor.
type SourceConfig struct {
	// RulesPath is the extraction rule file (.toml/.yaml/.json). The
	// daemon watches it and hot-reloads on change. Empty means the
	// built-in rule table.
	RulesPath string `toml:"rules_path" json:"rules_path" yaml:"rules_path"`
}

// PipelineConfig mirrors pipeline.Config in file form.
type PipelineConfig struct {
	QueueSize           int  `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
	SuppressionWindowMs int  `toml:"suppression_window_ms" json:"suppression_window_ms" yaml:"suppression_window_ms"`
	SupersedePending    bool `toml:"supersede_pending" json:"supersede_pending" yaml:"supersede_pending"`
	ExpiryGraceMs       int  `toml:"expiry_grace_ms" json:"expiry_grace_ms" yaml:"expiry_grace_ms"`
}

// NormalizeConfig mirrors order.Config in file form.
type NormalizeConfig struct {
	// Locale is a BCP 47 tag recorded for operator reference, e.g.
	// "es-CO". Parsing itself is separator-driven, not locale-driven.
	Locale string `toml:"locale" json:"locale" yaml:"locale"`

	DefaultCurrency string            `toml:"default_currency" json:"default_currency" yaml:"default_currency"`
	CurrencySymbols map[string]string `toml:"currency_symbols" json:"currency_symbols" yaml:"currency_symbols"`

	FareRoundStep        int64 `toml:"fare_round_step" json:"fare_round_step" yaml:"fare_round_step"`
	DistanceBucketMeters int   `toml:"distance_bucket_meters" json:"distance_bucket_meters" yaml:"distance_bucket_meters"`
	AddressPrefixLen     int   `toml:"address_prefix_len" json:"address_prefix_len" yaml:"address_prefix_len"`

	// DefaultExpirySec is the synthetic countdown for offers without
	// one, matching the overlay's auto-hide. Zero disables it.
	DefaultExpirySec int `toml:"default_expiry_sec" json:"default_expiry_sec" yaml:"default_expiry_sec"`
}

// DecisionConfig mirrors decision.Config in file form. Values are in
// major units of the fare currency.
type DecisionConfig struct {
	FuelCostPerKm    float64 `toml:"fuel_cost_per_km" json:"fuel_cost_per_km" yaml:"fuel_cost_per_km"`
	MaxPickupKm      float64 `toml:"max_pickup_km" json:"max_pickup_km" yaml:"max_pickup_km"`
	MinNet           float64 `toml:"min_net" json:"min_net" yaml:"min_net"`
	MinRatePerMinute float64 `toml:"min_rate_per_minute" json:"min_rate_per_minute" yaml:"min_rate_per_minute"`
	MinTripKm        float64 `toml:"min_trip_km" json:"min_trip_km" yaml:"min_trip_km"`

	// DailyGoal feeds the stats progress line.
	DailyGoal float64 `toml:"daily_goal" json:"daily_goal" yaml:"daily_goal"`
}

// StatsConfig configures aggregate persistence.
type StatsConfig struct {
	// Enabled turns daily stats on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file; ":memory:" for ephemeral.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// IPCConfig configures the daemon socket.
type IPCConfig struct {
	// SocketPath is the unix socket clients connect to.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// Default returns a fully populated default configuration.
func Default() *Config {
	ncfg := order.DefaultConfig()
	dcfg := decision.DefaultConfig()
	pcfg := pipeline.DefaultConfig()
	return &Config{
		Version: Version,
		Pipeline: PipelineConfig{
			QueueSize:           pcfg.QueueSize,
			SuppressionWindowMs: int(pcfg.SuppressionWindow / time.Millisecond),
			SupersedePending:    pcfg.SupersedePending,
			ExpiryGraceMs:       int(pcfg.ExpiryGrace / time.Millisecond),
		},
		Normalize: NormalizeConfig{
			Locale:               "es-CO",
			DefaultCurrency:      ncfg.DefaultCurrency,
			CurrencySymbols:      ncfg.Symbols,
			FareRoundStep:        ncfg.FareRoundStep,
			DistanceBucketMeters: ncfg.DistanceBucketMeters,
			AddressPrefixLen:     ncfg.AddressPrefixLen,
			DefaultExpirySec:     int(ncfg.DefaultExpiry / time.Second),
		},
		Decision: DecisionConfig{
			FuelCostPerKm:    dcfg.FuelCostPerKm,
			MaxPickupKm:      dcfg.MaxPickupKm,
			MinNet:           dcfg.MinNet,
			MinRatePerMinute: dcfg.MinRatePerMinute,
			MinTripKm:        dcfg.MinTripKm,
			DailyGoal:        120000,
		},
		Stats: StatsConfig{
			Enabled: true,
			Path:    defaultDataPath("stats.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		IPC: IPCConfig{
			SocketPath: defaultDataPath("daemon.sock"),
		},
	}
}

// defaultDataPath places runtime files under the user state directory.
func defaultDataPath(name string) string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, _ := os.UserHomeDir()
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "offerwatchd", name)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("unsupported config version %d (want %d)", c.Version, Version)
	}
	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("pipeline.queue_size must not be negative")
	}
	if c.Pipeline.SuppressionWindowMs < 0 {
		return fmt.Errorf("pipeline.suppression_window_ms must not be negative")
	}
	if c.Normalize.Locale != "" {
		if _, err := language.Parse(c.Normalize.Locale); err != nil {
			return fmt.Errorf("normalize.locale: %w", err)
		}
	}
	if c.Normalize.DefaultCurrency != "" {
		if _, err := currency.ParseISO(c.Normalize.DefaultCurrency); err != nil {
			return fmt.Errorf("normalize.default_currency: %w", err)
		}
	}
	for sym, code := range c.Normalize.CurrencySymbols {
		if code == "" {
			continue
		}
		if _, err := currency.ParseISO(code); err != nil {
			return fmt.Errorf("normalize.currency_symbols[%q]: %w", sym, err)
		}
	}
	if c.Decision.MaxPickupKm < 0 || c.Decision.MinTripKm < 0 {
		return fmt.Errorf("decision thresholds must not be negative")
	}
	if c.Stats.Enabled && c.Stats.Path == "" {
		return fmt.Errorf("stats.path is required when stats are enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path is required")
	}
	return nil
}

// ApplyEnvOverrides applies OFFERWATCHD_* environment overrides, for
// containers and tests.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OFFERWATCHD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OFFERWATCHD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("OFFERWATCHD_RULES"); v != "" {
		c.Source.RulesPath = v
	}
}

// PipelineConfigValue converts to the coordinator's config type.
func (c *Config) PipelineConfigValue() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if c.Pipeline.QueueSize > 0 {
		cfg.QueueSize = c.Pipeline.QueueSize
	}
	if c.Pipeline.SuppressionWindowMs > 0 {
		cfg.SuppressionWindow = time.Duration(c.Pipeline.SuppressionWindowMs) * time.Millisecond
	}
	cfg.SupersedePending = c.Pipeline.SupersedePending
	if c.Pipeline.ExpiryGraceMs > 0 {
		cfg.ExpiryGrace = time.Duration(c.Pipeline.ExpiryGraceMs) * time.Millisecond
	}
	return cfg
}

// NormalizerConfigValue converts to the normalizer's config type.
func (c *Config) NormalizerConfigValue() order.Config {
	return order.Config{
		DefaultCurrency:      c.Normalize.DefaultCurrency,
		Symbols:              c.Normalize.CurrencySymbols,
		FareRoundStep:        c.Normalize.FareRoundStep,
		DistanceBucketMeters: c.Normalize.DistanceBucketMeters,
		AddressPrefixLen:     c.Normalize.AddressPrefixLen,
		DefaultExpiry:        time.Duration(c.Normalize.DefaultExpirySec) * time.Second,
	}
}

// DecisionConfigValue converts to the decision engine's config type.
func (c *Config) DecisionConfigValue() decision.Config {
	return decision.Config{
		FuelCostPerKm:    c.Decision.FuelCostPerKm,
		MaxPickupKm:      c.Decision.MaxPickupKm,
		MinNet:           c.Decision.MinNet,
		MinRatePerMinute: c.Decision.MinRatePerMinute,
		MinTripKm:        c.Decision.MinTripKm,
	}
}

// LoggingConfigValue converts to the logging config type.
func (c *Config) LoggingConfigValue() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    c.Logging.Output,
		FilePath:  c.Logging.FilePath,
		Component: "offerwatchd",
	}
}
