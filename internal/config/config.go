// Package config loads mailmark settings from a YAML file, MAILMARK_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/rules"
	"github.com/FranksOps/mailmark/internal/storage/backends"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MAILMARK_STORAGE_DSN.
const EnvPrefix = "MAILMARK"

// Config is the full application configuration.
type Config struct {
	Storage backends.Config `mapstructure:"storage"`
	// Remote is the sync peer; an empty Kind disables sync.
	Remote  backends.Config `mapstructure:"remote"`
	Sync    SyncConfig      `mapstructure:"sync"`
	Server  ServerConfig    `mapstructure:"server"`
	Metrics MetricsConfig   `mapstructure:"metrics"`
	Scan    ScanConfig      `mapstructure:"scan"`
	Rules   rules.Ruleset   `mapstructure:"rules"`
	Log     LogConfig       `mapstructure:"log"`
}

// SyncConfig controls reconciliation with the remote backend.
type SyncConfig struct {
	Strategy string        `mapstructure:"strategy" validate:"omitempty,oneof=local_wins remote_wins latest_wins"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// ServerConfig configures the HTTP message server.
type ServerConfig struct {
	Port        int    `mapstructure:"port" validate:"min=0,max=65535"`
	AllowOrigin string `mapstructure:"allow_origin"`
}

// MetricsConfig configures the standalone metrics listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// ScanConfig tunes the active crawler.
type ScanConfig struct {
	MaxDepth          int           `mapstructure:"max_depth" validate:"min=0,max=10"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1,max=64"`
	MaxPages          int           `mapstructure:"max_pages" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"rps" validate:"gte=0"`
	Jitter            float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	UseSitemaps       bool          `mapstructure:"use_sitemaps"`
	Fingerprint       string        `mapstructure:"fingerprint" validate:"omitempty,oneof=chrome firefox safari go random"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gte=0"`
	UserAgents        []string      `mapstructure:"user_agents"`
	ProxyFile         string        `mapstructure:"proxy_file"`
	QueueSize         int           `mapstructure:"queue_size" validate:"gte=0"`
}

// LogConfig configures the slog handler and optional rotated log file.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// SetDefaults registers every scalar key so environment overrides apply
// even when no config file is present.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.kind", backends.KindSQLite)
	v.SetDefault("storage.dsn", "mailmark.db")
	v.SetDefault("storage.api_key", "")
	v.SetDefault("storage.timeout", 30*time.Second)
	v.SetDefault("storage.requests_per_second", 0)

	v.SetDefault("remote.kind", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.requests_per_second", 2)

	v.SetDefault("sync.strategy", reconcile.LatestWins.String())
	v.SetDefault("sync.interval", 0)

	v.SetDefault("server.port", 8787)
	v.SetDefault("server.allow_origin", "")
	v.SetDefault("metrics.port", 0)

	v.SetDefault("scan.max_depth", 1)
	v.SetDefault("scan.concurrency", 3)
	v.SetDefault("scan.max_pages", 500)
	v.SetDefault("scan.rps", 2)
	v.SetDefault("scan.jitter", 0.2)
	v.SetDefault("scan.respect_robots", true)
	v.SetDefault("scan.use_sitemaps", false)
	v.SetDefault("scan.fingerprint", "chrome")
	v.SetDefault("scan.timeout", 30*time.Second)
	v.SetDefault("scan.proxy_file", "")
	v.SetDefault("scan.queue_size", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	d := rules.Default()
	v.SetDefault("rules.record_cap", d.RecordCap)
	v.SetDefault("rules.settle_delay", d.SettleDelay)
	v.SetDefault("rules.max_json_depth", d.MaxJSONDepth)
}

// Load reads configuration into v and decodes it. An explicit path must
// exist; otherwise mailmark.yaml is looked up in the working directory and
// $HOME/.config/mailmark, and its absence is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mailmark")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mailmark")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Rules = cfg.Rules.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags across every section.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// SyncEnabled reports whether a remote peer is configured.
func (c Config) SyncEnabled() bool {
	return strings.TrimSpace(c.Remote.Kind) != ""
}

// SyncStrategy parses Sync.Strategy.
func (c Config) SyncStrategy() (reconcile.Strategy, error) {
	return reconcile.ParseStrategy(c.Sync.Strategy)
}
