package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimited(t *testing.T) {
	err := fmt.Errorf("fetching: %w", &RateLimitedError{
		URL:        "https://club.example.com/a",
		Reason:     "status 503",
		RetryAfter: 90 * time.Second,
	})

	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 90*time.Second, RetryAfter(err))
	assert.Contains(t, err.Error(), "status 503")

	plain := errors.New("connection reset")
	assert.False(t, IsRateLimited(plain))
	assert.Zero(t, RetryAfter(plain))
}

func TestFormConfigWithDefaults(t *testing.T) {
	cfg := FormConfig{IdentityField: "login"}.WithDefaults()

	assert.Equal(t, "sign-up-theme", cfg.ReadyElementID)
	assert.Equal(t, "login", cfg.IdentityField)
	assert.Equal(t, "password", cfg.SecretField)
	assert.Equal(t, 5*time.Second, cfg.ElementTimeout)
}
