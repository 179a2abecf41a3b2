// Package httpform implements transport.Transport with plain HTTP
// requests. Each session owns a cookie jar; login forms are discovered in
// the returned HTML and submitted as regular form posts.
package httpform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/transport"
)

// maxBodyBytes caps how much of a page is read into memory.
const maxBodyBytes = 4 << 20

// Transport opens plain HTTP sessions.
type Transport struct {
	form      transport.FormConfig
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates an HTTP transport. A zero timeout defaults to 30 seconds.
func New(
	form transport.FormConfig,
	timeout time.Duration,
	userAgent string,
	logger *zap.Logger,
) *Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		form:      form.WithDefaults(),
		timeout:   timeout,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Open creates a session with its own cookie jar and loads rawURL.
func (t *Transport) Open(
	ctx context.Context, rawURL string,
) (transport.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	s := &Session{
		client: &http.Client{
			Timeout: t.timeout,
			Jar:     jar,
		},
		form:      t.form,
		userAgent: t.userAgent,
		logger:    t.logger,
	}

	if err := s.Navigate(ctx, rawURL); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Session is one cookie-isolated HTTP browsing session.
type Session struct {
	client    *http.Client
	form      transport.FormConfig
	userAgent string
	logger    *zap.Logger

	pageURL *url.URL
	body    string
}

// Content returns the body of the last loaded page.
func (s *Session) Content(_ context.Context) (string, error) {
	return s.body, nil
}

// Navigate performs a GET on rawURL and makes the response the current page.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	return s.do(ctx, http.MethodGet, rawURL, nil)
}

// SubmitForm locates the form carrying the identity input on the current
// page, fills both credential inputs and submits it, keeping any hidden
// fields the page supplied.
func (s *Session) SubmitForm(
	ctx context.Context, creds transport.Credentials,
) error {
	f, err := findForm(s.body, s.form.IdentityField)
	if err != nil {
		return fmt.Errorf("parsing page: %w", err)
	}
	if f == nil {
		return transport.ErrFormNotFound
	}

	s.logger.Debug("writing credentials into form",
		zap.String("action", f.action),
		zap.String("method", f.method),
	)

	f.values.Set(s.form.IdentityField, creds.Identity)
	f.values.Set(s.form.SecretField, creds.Secret)

	base := s.pageURL
	if base == nil {
		base = &url.URL{}
	}
	action, err := base.Parse(f.action)
	if err != nil {
		return fmt.Errorf("resolving form action %q: %w", f.action, err)
	}

	if f.method == http.MethodGet {
		action.RawQuery = f.values.Encode()
		return s.do(ctx, http.MethodGet, action.String(), nil)
	}
	return s.do(ctx, http.MethodPost, action.String(), f.values)
}

// Close drops idle connections held by the session.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do executes a request and stores the response as the current page.
// Throttling statuses become a *transport.RateLimitedError.
func (s *Session) do(
	ctx context.Context,
	method string,
	rawURL string,
	form url.Values,
) error {
	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return &transport.RateLimitedError{
			URL:        rawURL,
			Reason:     fmt.Sprintf("status %d", resp.StatusCode),
			RetryAfter: retryAfterDuration(resp, time.Now()),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"unexpected status %d on %s %s", resp.StatusCode, method, rawURL,
		)
	}

	s.pageURL = resp.Request.URL
	s.body = string(respBody)
	return nil
}

// retryAfterDuration reads the Retry-After header as seconds or an HTTP
// date. Returns zero when absent or unparsable.
func retryAfterDuration(resp *http.Response, now time.Time) time.Duration {
	header := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
