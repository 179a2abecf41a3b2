// Package browser implements transport.Transport by driving headless
// Chrome through the DevTools protocol. It is the fallback for pages that
// need a real browser to render the login form.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/transport"
)

// Config tunes the browser transport.
type Config struct {
	Form transport.FormConfig

	// NavigationTimeout bounds a page load.
	NavigationTimeout time.Duration

	Headless  bool
	UserAgent string

	// ExecPath overrides the Chrome binary; empty lets chromedp find one.
	ExecPath string

	// RateLimitTitle is the page title served while throttled.
	RateLimitTitle string
}

// Transport launches one browser per session.
type Transport struct {
	cfg    Config
	logger *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a browser transport.
func New(cfg Config, logger *zap.Logger) *Transport {
	cfg.Form = cfg.Form.WithDefaults()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.RateLimitTitle == "" {
		cfg.RateLimitTitle = "403 Forbidden"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{cfg: cfg, logger: logger}
}

// Open starts a fresh browser process and loads url in it. The browser
// lives until the session is closed or ctx is cancelled.
func (t *Transport) Open(
	ctx context.Context, url string,
) (transport.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.cfg.Headless),
	)
	if t.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(t.cfg.UserAgent))
	}
	if t.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(t.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
		cfg:    t.cfg,
		logger: t.logger,
	}

	// The first Run allocates the browser and must not carry a timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	if err := s.Navigate(ctx, url); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Session is one browser instance.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *zap.Logger
}

// runContext derives a context for one chromedp.Run from the browser
// context, bounded by timeout and cancelled together with ctx.
func (s *Session) runContext(
	ctx context.Context, timeout time.Duration,
) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Content returns the outer HTML of the current document.
func (s *Session) Content(ctx context.Context) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var body string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &body, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page source: %w", err)
	}
	return body, nil
}

// Navigate loads url and waits for the ready element. A throttling status
// or the throttling page title becomes a *transport.RateLimitedError.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.load(ctx, url, chromedp.Navigate(url))
}

// SubmitForm waits for the ready element, types the credentials into the
// identity and secret inputs and submits the form.
func (s *Session) SubmitForm(
	ctx context.Context, creds transport.Credentials,
) error {
	identity := inputSelector(s.cfg.Form.IdentityField)
	secret := inputSelector(s.cfg.Form.SecretField)

	if err := s.waitReady(ctx); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrFormNotFound, err)
	}

	runCtx, cancel := s.runContext(ctx, s.cfg.Form.ElementTimeout)
	defer cancel()

	s.logger.Debug("writing username")
	s.logger.Debug("writing password")
	err := chromedp.Run(runCtx,
		chromedp.WaitVisible(identity, chromedp.ByQuery),
		chromedp.SendKeys(identity, creds.Identity, chromedp.ByQuery),
		chromedp.SendKeys(secret, creds.Secret, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrFormNotFound, err)
	}

	s.logger.Debug("submitting form")
	return s.load(ctx, "form submission", chromedp.Submit(secret, chromedp.ByQuery))
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

// load runs an action that triggers a navigation, checks the response
// status and waits for the ready element.
func (s *Session) load(ctx context.Context, target string, action chromedp.Action) error {
	runCtx, cancel := s.runContext(ctx, s.cfg.NavigationTimeout)
	resp, err := chromedp.RunResponse(runCtx, action)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("loading %s: %w", target, err)
	}

	if resp != nil && isThrottleStatus(resp) {
		return &transport.RateLimitedError{
			URL:    target,
			Reason: fmt.Sprintf("status %d", resp.Status),
		}
	}

	if err := s.waitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if title, titleErr := s.title(ctx); titleErr == nil && title == s.cfg.RateLimitTitle {
			return &transport.RateLimitedError{URL: target, Reason: "page title " + title}
		}
		return fmt.Errorf("waiting for #%s on %s: %w", s.cfg.Form.ReadyElementID, target, err)
	}
	return nil
}

func (s *Session) waitReady(ctx context.Context) error {
	runCtx, cancel := s.runContext(ctx, s.cfg.Form.ElementTimeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.WaitReady("#"+s.cfg.Form.ReadyElementID, chromedp.ByQuery))
}

func (s *Session) title(ctx context.Context) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.cfg.Form.ElementTimeout)
	defer cancel()

	var title string
	err := chromedp.Run(runCtx, chromedp.Title(&title))
	return title, err
}

func isThrottleStatus(resp *network.Response) bool {
	switch resp.Status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func inputSelector(name string) string {
	return fmt.Sprintf(`input[name=%q]`, name)
}
