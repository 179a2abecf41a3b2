package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "activator"

// Well-known keys.
const (
	// DefaultPasswordKey holds the password given to newly observed accounts.
	DefaultPasswordKey = "default-password"
)

// IMAPKey returns the keyring key for the mailbox password of username.
func IMAPKey(username string) string {
	return "imap-" + username
}

// Config selects where secrets are read from. The zero value uses the
// platform keyrings with a file fallback under ~/.config/activator.
type Config struct {
	// Backends restricts the keyring backends; empty means all supported.
	Backends []keyring.BackendType

	// FileDir is the directory of the encrypted file backend.
	FileDir string

	// FilePassword unlocks the file backend.
	FilePassword string
}

// ErrNotFound is returned when the key has no stored secret.
var ErrNotFound = errors.New("credential not found")

func (c Config) withDefaults() Config {
	if len(c.Backends) == 0 {
		c.Backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	if c.FileDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.FileDir = filepath.Join(home, ".config", serviceName, "credentials")
	}
	if c.FilePassword == "" {
		c.FilePassword = serviceName + "-file-key"
	}
	return c
}

// openKeyring returns a configured keyring instance.
func openKeyring(cfg Config) (keyring.Keyring, error) {
	cfg = cfg.withDefaults()
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          cfg.Backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func Get(cfg Config, key string) (string, error) {
	ring, err := openKeyring(cfg)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func Set(cfg Config, key string, value string) error {
	ring, err := openKeyring(cfg)
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Resolve returns value when it is set, otherwise the secret stored under key.
func Resolve(cfg Config, value, key string) (string, error) {
	if value != "" {
		return value, nil
	}
	return Get(cfg, key)
}
