// Package config loads the service configuration.
//
// Values are resolved in order: defaults, an optional YAML file, then
// environment variables prefixed INTAKE_ with dots replaced by underscores
// (database.path is INTAKE_DATABASE_PATH).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "INTAKE"
	configFileName = "intake"
	configFileType = "yaml"
)

// Config is the resolved configuration.
type Config struct {
	LogLevel string   `mapstructure:"log_level"`
	HTTP     HTTP     `mapstructure:"http"`
	Database Database `mapstructure:"database"`
	Signing  Signing  `mapstructure:"signing"`
	External External `mapstructure:"external"`
	Vendor   Vendor   `mapstructure:"vendor"`
}

// HTTP is the listening address of the web server.
type HTTP struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns host:port.
func (h HTTP) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Database configures storage. Path may be any SQLite location, including
// in-memory ones.
type Database struct {
	Path               string `mapstructure:"path"`
	Migrate            bool   `mapstructure:"migrate"`
	Migrations         string `mapstructure:"migrations"`
	Workers            int    `mapstructure:"workers"`
	BackgroundWorkers  int    `mapstructure:"background_workers"`
	ExternalCheckpoint bool   `mapstructure:"external_checkpoint"`
}

// Signing holds the voucher key and the lifetime of download vouchers.
type Signing struct {
	Voucher string        `mapstructure:"voucher"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// External is the public address of the service.
type External struct {
	Authority string `mapstructure:"authority"`
	Secure    bool   `mapstructure:"secure"`
}

// Vendor holds third-party integrations.
type Vendor struct {
	Slack Slack `mapstructure:"slack"`
}

// Slack configures the submission webhook and the slash-command callback.
// Both are optional.
type Slack struct {
	Webhook struct {
		Submission string `mapstructure:"submission"`
	} `mapstructure:"webhook"`
	Callback struct {
		SigningKey string `mapstructure:"signing_key"`
	} `mapstructure:"callback"`
}

// Error names a configuration key with a missing or invalid value.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

func defaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 3000)
	v.SetDefault("database.path", "./server.db")
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.migrations", "")
	v.SetDefault("database.workers", max(1, runtime.NumCPU()))
	v.SetDefault("database.background_workers", 1)
	v.SetDefault("database.external_checkpoint", false)
	v.SetDefault("signing.voucher", "")
	v.SetDefault("signing.ttl", 10*time.Second)
	v.SetDefault("external.authority", "")
	v.SetDefault("external.secure", true)
	v.SetDefault("vendor.slack.webhook.submission", "")
	v.SetDefault("vendor.slack.callback.signing_key", "")
}

// Load resolves the configuration. With an empty path, intake.yaml is
// looked up in the working directory and may be absent; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values every command depends on.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &Error{Key: "log_level", Message: err.Error()}
	}
	if c.Database.Path == "" {
		return &Error{Key: "database.path", Message: "must not be empty"}
	}
	if c.Database.Workers < 1 {
		return &Error{Key: "database.workers", Message: "must be at least 1"}
	}
	if c.Database.BackgroundWorkers < 0 {
		return &Error{Key: "database.background_workers", Message: "must not be negative"}
	}
	if c.Signing.TTL <= 0 {
		return &Error{Key: "signing.ttl", Message: "must be positive"}
	}
	if c.Signing.TTL%time.Second != 0 {
		return &Error{Key: "signing.ttl", Message: "must be a whole number of seconds"}
	}
	return nil
}

// RequireSigning fails unless a voucher signing key is set.
func (c *Config) RequireSigning() error {
	if c.Signing.Voucher == "" {
		return &Error{Key: "signing.voucher", Message: "is required"}
	}
	return nil
}

// RequireExternal fails unless the public authority is set.
func (c *Config) RequireExternal() error {
	if c.External.Authority == "" {
		return &Error{Key: "external.authority", Message: "is required"}
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
