// Package transport defines the capability the verification workflow
// needs from a page driver: open a URL, read the page, re-navigate and
// submit the login form. Plain HTTP and browser automation implement it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFormNotFound is returned by SubmitForm when the login form (or the
// page element it waits for) does not appear in time.
var ErrFormNotFound = errors.New("login form not found")

// RateLimitedError indicates that the remote service is throttling
// requests. It is distinct from every other transport failure.
type RateLimitedError struct {
	URL        string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s", e.URL, e.Reason)
}

// IsRateLimited reports whether err (or any error in its chain) is a
// RateLimitedError.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitedError
	return errors.As(err, &rlErr)
}

// RetryAfter returns the server supplied wait of a RateLimitedError in
// err's chain, or zero.
func RetryAfter(err error) time.Duration {
	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter
	}
	return 0
}

// Credentials fill the identity and secret inputs of the login form.
type Credentials struct {
	Identity string
	Secret   string
}

// Session is an isolated page-driving session. Form state and cookies
// never leak between sessions. A Session is used by one task at a time.
type Session interface {
	// Content returns the source of the current page.
	Content(ctx context.Context) (string, error)

	// Navigate loads url in this session.
	Navigate(ctx context.Context, url string) error

	// SubmitForm waits for the login form, fills it with creds and
	// submits it. The resulting page becomes the current page.
	SubmitForm(ctx context.Context, creds Credentials) error

	// Close releases the session.
	Close() error
}

// Transport opens sessions.
type Transport interface {
	// Open starts a new session and loads url in it.
	Open(ctx context.Context, url string) (Session, error)
}

// FormConfig names the page elements both transports look for.
type FormConfig struct {
	// ReadyElementID is the id of the element whose presence means the
	// page rendered (browser mode).
	ReadyElementID string

	IdentityField string
	SecretField   string

	// ElementTimeout bounds each wait for ReadyElementID or the form.
	ElementTimeout time.Duration
}

// WithDefaults fills empty fields with the values the club site uses.
func (c FormConfig) WithDefaults() FormConfig {
	if c.ReadyElementID == "" {
		c.ReadyElementID = "sign-up-theme"
	}
	if c.IdentityField == "" {
		c.IdentityField = "username"
	}
	if c.SecretField == "" {
		c.SecretField = "password"
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 5 * time.Second
	}
	return c
}
