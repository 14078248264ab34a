package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./server.db", cfg.Database.Path)
	assert.True(t, cfg.Database.Migrate)
	assert.GreaterOrEqual(t, cfg.Database.Workers, 1)
	assert.Equal(t, 1, cfg.Database.BackgroundWorkers)
	assert.False(t, cfg.Database.ExternalCheckpoint)
	assert.Equal(t, 10*time.Second, cfg.Signing.TTL)
	assert.True(t, cfg.External.Secure)
	assert.Equal(t, "127.0.0.1:3000", cfg.HTTP.Address())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
database:
  path: /var/lib/intake/server.db
  workers: 4
signing:
  voucher: from-file
  ttl: 30s
external:
  authority: example.com
vendor:
  slack:
    webhook:
      submission: https://hooks.slack.com/services/T/B/X
`), 0o644))

	t.Setenv("INTAKE_SIGNING_VOUCHER", "from-env")
	t.Setenv("INTAKE_DATABASE_BACKGROUND_WORKERS", "2")
	t.Setenv("INTAKE_VENDOR_SLACK_CALLBACK_SIGNING_KEY", "slack-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "/var/lib/intake/server.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Database.Workers)
	assert.Equal(t, 2, cfg.Database.BackgroundWorkers)
	assert.Equal(t, "from-env", cfg.Signing.Voucher)
	assert.Equal(t, 30*time.Second, cfg.Signing.TTL)
	assert.Equal(t, "example.com", cfg.External.Authority)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Vendor.Slack.Webhook.Submission)
	assert.Equal(t, "slack-key", cfg.Vendor.Slack.Callback.SigningKey)
	require.NoError(t, cfg.RequireSigning())
	require.NoError(t, cfg.RequireExternal())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"workers", func(c *Config) { c.Database.Workers = 0 }, "database.workers"},
		{"background workers", func(c *Config) { c.Database.BackgroundWorkers = -1 }, "database.background_workers"},
		{"ttl", func(c *Config) { c.Signing.TTL = 0 }, "signing.ttl"},
		{"sub-second ttl", func(c *Config) { c.Signing.TTL = 1500 * time.Millisecond }, "signing.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				LogLevel: "info",
				Database: Database{Path: "server.db", Workers: 1},
				Signing:  Signing{TTL: time.Second},
			}
			require.NoError(t, cfg.Validate())

			tt.modify(&cfg)
			err := cfg.Validate()
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestRequire(t *testing.T) {
	var cfg Config
	var cfgErr *Error

	require.ErrorAs(t, cfg.RequireSigning(), &cfgErr)
	assert.Equal(t, "signing.voucher", cfgErr.Key)

	require.ErrorAs(t, cfg.RequireExternal(), &cfgErr)
	assert.Equal(t, "external.authority", cfgErr.Key)
}
