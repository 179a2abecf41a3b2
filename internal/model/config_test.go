package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		require.NoError(t, err)

		assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
		assert.Equal(t, "Trainer Club Activation", cfg.IMAP.Subject)
		assert.Equal(t, uint32(100), cfg.IMAP.Batch)
		assert.Equal(t, uint32(1), cfg.IMAP.Start)
		assert.True(t, cfg.IMAP.TLS)
		assert.Equal(t, TransportHTTP, cfg.Transport.Mode)
		assert.Equal(t, DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, 65*time.Second, cfg.Verify.RateLimitBackoff)
		assert.Equal(t, time.Minute, cfg.Verify.ResendBackoff)
		assert.Equal(t, 5*time.Second, cfg.Transport.ElementTimeout)
		assert.Equal(t, "Your account is now active.", cfg.Verify.Markers.Activated)
		assert.Zero(t, cfg.Verify.MaxResendAttempts)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
imap:
  host: imap.example.com
  username: bot@example.com
  batch: 25
transport:
  mode: browser
verify:
  rate_limit_backoff: 2m
  max_resend_attempts: 4
accounts:
  default_password: hunter2
`)
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, "imap.example.com", cfg.IMAP.Host)
		assert.Equal(t, uint32(25), cfg.IMAP.Batch)
		assert.Equal(t, TransportBrowser, cfg.Transport.Mode)
		assert.Equal(t, 2*time.Minute, cfg.Verify.RateLimitBackoff)
		assert.Equal(t, 4, cfg.Verify.MaxResendAttempts)
		assert.Equal(t, "hunter2", cfg.Accounts.DefaultPassword)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "imap:\n  password: from-file\n")
		t.Setenv("ACTIVATOR_IMAP_PASSWORD", "from-env")
		t.Setenv("ACTIVATOR_DATABASE_DRIVER", "mysql")

		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.IMAP.Password)
		assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	})

	t.Run("changed flags win", func(t *testing.T) {
		path := writeConfig(t, "imap:\n  start: 10\n")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.Uint32("start", 1, "")
		fs.String("mode", TransportHTTP, "")
		require.NoError(t, fs.Parse([]string{"--start", "500"}))

		cfg, err := LoadConfig(path, fs)
		require.NoError(t, err)

		assert.Equal(t, uint32(500), cfg.IMAP.Start)
		assert.Equal(t, TransportHTTP, cfg.Transport.Mode)
	})

	t.Run("invalid mode is rejected", func(t *testing.T) {
		path := writeConfig(t, "transport:\n  mode: carrier-pigeon\n")

		_, err := LoadConfig(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport.mode")
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := writeConfig(t, "imap: [unterminated\n")

		_, err := LoadConfig(path, nil)
		require.Error(t, err)
	})
}

func TestAppConfigValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			IMAP:      IMAPConfig{Batch: 10},
			Database:  DatabaseConfig{Driver: DriverSQLite},
			Transport: TransportConfig{Mode: TransportHTTP},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.IMAP.Batch = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Verify.MaxRateLimitRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Sync.Concurrency = -2
	assert.Error(t, cfg.Validate())
}

func TestAccountIsActivated(t *testing.T) {
	assert.True(t, Account{Activated: ActivationDone}.IsActivated())
	assert.False(t, Account{Activated: ActivationRetry}.IsActivated())
	assert.False(t, Account{Activated: ActivationPending}.IsActivated())
}
