// Package config loads the file/env configuration for an embedding app.
// Priority: env vars (STRIDE_*) > yaml file > defaults. The engine facade
// consumes the resulting struct; nothing here touches engine state.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full file-backed configuration.
type Config struct {
	AthleteWeightKg float64       `mapstructure:"athlete_weight_kg" yaml:"athlete_weight_kg"`
	TickInterval    time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	StorePath       string        `mapstructure:"store_path" yaml:"store_path"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsBackend string `mapstructure:"metrics_backend" yaml:"metrics_backend"`
	MetricsListen  string `mapstructure:"metrics_listen" yaml:"metrics_listen"`

	PeerThrottle    time.Duration `mapstructure:"peer_throttle" yaml:"peer_throttle"`
	DisplayInterval time.Duration `mapstructure:"display_interval" yaml:"display_interval"`
	CoachCooldown   time.Duration `mapstructure:"coach_cooldown" yaml:"coach_cooldown"`

	Tunables Tunables `mapstructure:"tunables" yaml:"tunables"`
}

// Tunables are the hot-reloadable calibration constants. Defaults mirror the
// shipped values; see the watcher in watch.go.
type Tunables struct {
	PaceVarianceRatio float64 `mapstructure:"pace_variance_ratio" yaml:"pace_variance_ratio"`
	DriftSlopeAlert   float64 `mapstructure:"drift_slope_alert" yaml:"drift_slope_alert"`
	FuelWarningGrams  float64 `mapstructure:"fuel_warning_grams" yaml:"fuel_warning_grams"`
	FuelCriticalGrams float64 `mapstructure:"fuel_critical_grams" yaml:"fuel_critical_grams"`
}

// Load reads configuration from stride.yaml and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("athlete_weight_kg", 70.0)
	v.SetDefault("tick_interval", "1s")
	v.SetDefault("store_path", "stride.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_backend", "prom")
	v.SetDefault("peer_throttle", "5s")
	v.SetDefault("display_interval", "15s")
	v.SetDefault("coach_cooldown", "45s")
	v.SetDefault("tunables.pace_variance_ratio", 0.05)
	v.SetDefault("tunables.drift_slope_alert", 0.015)
	v.SetDefault("tunables.fuel_warning_grams", 35.0)
	v.SetDefault("tunables.fuel_critical_grams", 20.0)

	v.SetConfigName("stride")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Missing file is fine; env vars and defaults carry the load.
	}

	v.SetEnvPrefix("STRIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.AthleteWeightKg <= 0 {
		return errors.New("athlete_weight_kg must be positive")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Tunables.FuelCriticalGrams >= cfg.Tunables.FuelWarningGrams {
		return errors.New("tunables: fuel_critical_grams must be below fuel_warning_grams")
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus", "otel", "opentelemetry", "noop":
	default:
		return fmt.Errorf("unknown metrics_backend %q", cfg.MetricsBackend)
	}
	return nil
}

// Dump renders the effective configuration as YAML for diagnostics.
func (c *Config) Dump() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("dump config: %w", err)
	}
	return string(b), nil
}
