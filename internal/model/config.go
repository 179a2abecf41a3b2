package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport modes.
const (
	TransportHTTP    = "http"
	TransportBrowser = "browser"
)

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// LogConfig controls logger verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// IMAPConfig holds mailbox connection and scan parameters.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	// Insecure connects in plain text without STARTTLS. Only for local
	// relays.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// Mailbox is the folder searched for activation emails.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// Subject is the subject filter applied to the search.
	Subject string `mapstructure:"subject" yaml:"subject"`

	// Batch is the width of one UID window.
	Batch uint32 `mapstructure:"batch" yaml:"batch"`

	// Start is the first UID of the first window.
	Start uint32 `mapstructure:"start" yaml:"start"`
}

// DatabaseConfig selects the account store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// AccountsConfig holds settings for newly observed accounts.
type AccountsConfig struct {
	DefaultPassword string `mapstructure:"default_password" yaml:"default_password"`
}

// TransportConfig selects and tunes the verification transport.
type TransportConfig struct {
	Mode           string        `mapstructure:"mode" yaml:"mode"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	ReadyElementID string        `mapstructure:"ready_element_id" yaml:"ready_element_id"`
	IdentityField  string        `mapstructure:"identity_field" yaml:"identity_field"`
	SecretField    string        `mapstructure:"secret_field" yaml:"secret_field"`
	RateLimitTitle string        `mapstructure:"rate_limit_title" yaml:"rate_limit_title"`

	// ChromePath overrides the browser binary used in browser mode.
	ChromePath string `mapstructure:"chrome_path" yaml:"chrome_path"`
}

// MarkersConfig holds the page texts that identify each verification state.
type MarkersConfig struct {
	Activated        string `mapstructure:"activated" yaml:"activated"`
	AlreadyActivated string `mapstructure:"already_activated" yaml:"already_activated"`
	TokenExpired     string `mapstructure:"token_expired" yaml:"token_expired"`
	EmailResent      string `mapstructure:"email_resent" yaml:"email_resent"`
}

// VerifyConfig holds the retry policy of the verification workflow.
type VerifyConfig struct {
	RateLimitBackoff    time.Duration `mapstructure:"rate_limit_backoff" yaml:"rate_limit_backoff"`
	ResendBackoff       time.Duration `mapstructure:"resend_backoff" yaml:"resend_backoff"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries" yaml:"max_rate_limit_retries"`
	MaxResendAttempts   int           `mapstructure:"max_resend_attempts" yaml:"max_resend_attempts"`
	HaltOnFatal         bool          `mapstructure:"halt_on_fatal" yaml:"halt_on_fatal"`
	Markers             MarkersConfig `mapstructure:"markers" yaml:"markers"`
}

// ExtractConfig controls activation link extraction.
type ExtractConfig struct {
	LinkPattern string `mapstructure:"link_pattern" yaml:"link_pattern"`
}

// SyncConfig controls the batch loop.
type SyncConfig struct {
	// Concurrency caps concurrent message workflows per batch; 0 means
	// one goroutine per message.
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
	DryRun      bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	IMAP      IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Accounts  AccountsConfig  `mapstructure:"accounts" yaml:"accounts"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Verify    VerifyConfig    `mapstructure:"verify" yaml:"verify"`
	Extract   ExtractConfig   `mapstructure:"extract" yaml:"extract"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
}

// envPrefix prefixes every environment override, e.g. ACTIVATOR_IMAP_PASSWORD.
const envPrefix = "ACTIVATOR"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"start":     "imap.start",
	"batch":     "imap.batch",
	"mode":      "transport.mode",
	"log-level": "log.level",
	"dry-run":   "sync.dry_run",
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/activator/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "activator", "config.yaml")
}

// setDefaults registers a default for every key so that environment
// overrides resolve during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.insecure", false)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.subject", "Trainer Club Activation")
	v.SetDefault("imap.batch", 100)
	v.SetDefault("imap.start", 1)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "activator.db")

	v.SetDefault("accounts.default_password", "")

	v.SetDefault("transport.mode", TransportHTTP)
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.element_timeout", "5s")
	v.SetDefault("transport.headless", true)
	v.SetDefault("transport.user_agent", "")
	v.SetDefault("transport.ready_element_id", "sign-up-theme")
	v.SetDefault("transport.identity_field", "username")
	v.SetDefault("transport.secret_field", "password")
	v.SetDefault("transport.rate_limit_title", "403 Forbidden")
	v.SetDefault("transport.chrome_path", "")

	v.SetDefault("verify.rate_limit_backoff", "65s")
	v.SetDefault("verify.resend_backoff", "60s")
	v.SetDefault("verify.max_rate_limit_retries", 0)
	v.SetDefault("verify.max_resend_attempts", 0)
	v.SetDefault("verify.halt_on_fatal", false)
	v.SetDefault("verify.markers.activated", "Your account is now active.")
	v.SetDefault("verify.markers.already_activated", "Your account has already been activated.")
	v.SetDefault("verify.markers.token_expired", "We cannot find an account matching the confirmation email.")
	v.SetDefault("verify.markers.email_resent", "We have sent you an email to verify your account.")

	v.SetDefault("extract.link_pattern", `(https://club[a-z0-9./-]*)\b`)

	v.SetDefault("sync.concurrency", 0)
	v.SetDefault("sync.dry_run", false)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applies ACTIVATOR_* environment overrides and any changed flags from fs.
// A missing file is not an error; defaults and overrides still apply.
func LoadConfig(path string, fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *AppConfig) Validate() error {
	switch c.Transport.Mode {
	case TransportHTTP, TransportBrowser:
	default:
		return fmt.Errorf("invalid transport.mode %q: want %q or %q",
			c.Transport.Mode, TransportHTTP, TransportBrowser)
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("invalid database.driver %q: want %q or %q",
			c.Database.Driver, DriverSQLite, DriverMySQL)
	}

	if c.IMAP.Batch == 0 {
		return fmt.Errorf("imap.batch must be greater than zero")
	}
	if c.Verify.MaxRateLimitRetries < 0 || c.Verify.MaxResendAttempts < 0 {
		return fmt.Errorf("verify retry ceilings must not be negative")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative")
	}

	return nil
}
