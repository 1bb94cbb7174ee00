package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the staff session service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Sessions   SessionConfig    `mapstructure:"sessions"`
	Overrides  OverrideConfig   `mapstructure:"overrides"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SessionConfig tunes the staff session lifecycle.
type SessionConfig struct {
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	WarningWindow    time.Duration `mapstructure:"warning_window"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	MaxRefreshes     int           `mapstructure:"max_refreshes"`
}

// OverrideConfig tunes the manager override workflow.
type OverrideConfig struct {
	RequestTTL   time.Duration `mapstructure:"request_ttl"`
	AuthTTL      time.Duration `mapstructure:"auth_ttl"`
	DualApproval bool          `mapstructure:"dual_approval"`
	GrantSecret  string        `mapstructure:"grant_secret"`
	GrantIssuer  string        `mapstructure:"grant_issuer"`
}

// AuditConfig tunes audit log retention and sweep cadence.
type AuditConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("KRONGTHAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/krongthai.sqlite")

	v.SetDefault("sessions.max_duration", "8h")
	v.SetDefault("sessions.idle_timeout", "30m")
	v.SetDefault("sessions.warning_window", "30m")
	v.SetDefault("sessions.refresh_threshold", "1h")
	v.SetDefault("sessions.max_refreshes", 3)

	v.SetDefault("overrides.request_ttl", "24h")
	v.SetDefault("overrides.auth_ttl", "30m")
	v.SetDefault("overrides.dual_approval", true)
	v.SetDefault("overrides.grant_issuer", "krongthai-sessions")

	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.sweep_schedule", "*/5 * * * *")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
