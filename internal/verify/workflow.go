// Package verify drives one activation link to a terminal outcome. It
// retries through rate limiting with a fixed backoff and, when the token
// has expired, requests a new activation email through the login form.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/transport"
)

// Markers are the page texts that identify each state.
type Markers struct {
	Activated        string
	AlreadyActivated string
	TokenExpired     string
	EmailResent      string
}

// DefaultMarkers returns the texts the club site serves.
func DefaultMarkers() Markers {
	return Markers{
		Activated:        "Your account is now active.",
		AlreadyActivated: "Your account has already been activated.",
		TokenExpired:     "We cannot find an account matching the confirmation email.",
		EmailResent:      "We have sent you an email to verify your account.",
	}
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.Activated == "" {
		m.Activated = d.Activated
	}
	if m.AlreadyActivated == "" {
		m.AlreadyActivated = d.AlreadyActivated
	}
	if m.TokenExpired == "" {
		m.TokenExpired = d.TokenExpired
	}
	if m.EmailResent == "" {
		m.EmailResent = d.EmailResent
	}
	return m
}

// Policy is the retry policy. A zero ceiling means retry forever.
type Policy struct {
	RateLimitBackoff    time.Duration
	ResendBackoff       time.Duration
	MaxRateLimitRetries int
	MaxResendAttempts   int
}

// DefaultPolicy waits a little over a minute on throttling and a minute
// between form submissions, with no ceilings.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitBackoff: 65 * time.Second,
		ResendBackoff:    time.Minute,
	}
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in
// the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Workflow.
type Option func(*Workflow)

// WithSleep replaces the backoff timer.
func WithSleep(fn SleepFunc) Option {
	return func(w *Workflow) {
		w.sleep = fn
	}
}

// Workflow verifies activation links. It is safe for concurrent use as
// long as the transport is; each task gets its own session.
type Workflow struct {
	transport transport.Transport
	markers   Markers
	policy    Policy
	logger    *zap.Logger
	sleep     SleepFunc
}

// New creates a Workflow.
func New(t transport.Transport, markers Markers, policy Policy, logger *zap.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workflow{
		transport: t,
		markers:   markers.withDefaults(),
		policy:    policy,
		logger:    logger,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Verify runs task to a terminal outcome. A cancelled ctx yields Aborted
// with a nil error. Any other error is a *FatalError.
func (w *Workflow) Verify(ctx context.Context, task Task) (Result, error) {
	log := w.logger.With(
		zap.String("login", task.Login),
		zap.String("account_id", task.AccountID),
	)
	res := Result{AccountID: task.AccountID}

	outcome, err := w.run(ctx, task, &res, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("verification aborted", zap.Error(ctx.Err()))
			res.Outcome = Aborted
			return res, nil
		}
		return res, err
	}

	res.Outcome = outcome
	log.Info("verification finished", zap.String("outcome", string(outcome)))
	return res, nil
}

func (w *Workflow) run(ctx context.Context, task Task, res *Result, log *zap.Logger) (Outcome, error) {
	sess, page, err := w.fetch(ctx, task, res, log)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	switch w.classify(page) {
	case Activated:
		return Activated, nil
	case AlreadyActivated:
		return AlreadyActivated, nil
	case TokenExpiredEmailResent:
		log.Info("activation token expired, requesting a new email")
		return w.requestNewEmail(ctx, sess, task, res, log)
	}
	return "", &FatalError{Stage: "fetch", Link: task.Link, Err: ErrUnrecognizedPage}
}

// fetch opens the link in a new session, waiting out rate limiting.
func (w *Workflow) fetch(
	ctx context.Context, task Task, res *Result, log *zap.Logger,
) (transport.Session, string, error) {
	for {
		sess, err := w.transport.Open(ctx, task.Link)
		if err == nil {
			var page string
			page, err = sess.Content(ctx)
			if err == nil {
				return sess, page, nil
			}
			sess.Close()
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if !transport.IsRateLimited(err) {
			return nil, "", &FatalError{Stage: "fetch", Link: task.Link, Err: err}
		}
		if err := w.waitRateLimited(ctx, task, res, err, log); err != nil {
			return nil, "", err
		}
	}
}

// requestNewEmail submits the login form until the resend confirmation
// shows up, re-navigating to the link between attempts.
func (w *Workflow) requestNewEmail(
	ctx context.Context, sess transport.Session, task Task, res *Result, log *zap.Logger,
) (Outcome, error) {
	creds := transport.Credentials{Identity: task.Login, Secret: task.Password}

	for {
		res.Submissions++
		err := w.submit(ctx, sess, creds, log)
		if err == nil {
			return TokenExpiredEmailResent, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if limit := w.policy.MaxResendAttempts; limit > 0 && res.Submissions >= limit {
			return "", &FatalError{Stage: "resend", Link: task.Link, Err: errors.Join(ErrRetriesExhausted, err)}
		}

		wait := w.policy.ResendBackoff
		if transport.IsRateLimited(err) {
			wait = w.rateLimitWait(err)
		}
		log.Warn("new email not confirmed, retrying",
			zap.Error(err),
			zap.Int("attempt", res.Submissions),
			zap.Duration("wait", wait),
		)
		if err := w.sleep(ctx, wait); err != nil {
			return "", err
		}

		page, err := w.renavigate(ctx, sess, task, res, log)
		if err != nil {
			return "", err
		}
		switch w.classify(page) {
		case Activated:
			return Activated, nil
		case AlreadyActivated:
			return AlreadyActivated, nil
		}
	}
}

func (w *Workflow) submit(ctx context.Context, sess transport.Session, creds transport.Credentials, log *zap.Logger) error {
	log.Debug("submitting login form")
	if err := sess.SubmitForm(ctx, creds); err != nil {
		return err
	}
	page, err := sess.Content(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(page, w.markers.EmailResent) {
		return errNotConfirmed
	}
	return nil
}

// renavigate reloads the link in the existing session. Transport
// failures other than throttling are left for the next submission to
// trip over, so they count against the resend ceiling.
func (w *Workflow) renavigate(
	ctx context.Context, sess transport.Session, task Task, res *Result, log *zap.Logger,
) (string, error) {
	for {
		err := sess.Navigate(ctx, task.Link)
		if err == nil {
			page, err := sess.Content(ctx)
			if err != nil {
				log.Debug("reading page after navigation", zap.Error(err))
			}
			return page, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !transport.IsRateLimited(err) {
			log.Warn("navigating back to activation link", zap.Error(err))
			return "", nil
		}
		if err := w.waitRateLimited(ctx, task, res, err, log); err != nil {
			return "", err
		}
	}
}

func (w *Workflow) waitRateLimited(ctx context.Context, task Task, res *Result, cause error, log *zap.Logger) error {
	if limit := w.policy.MaxRateLimitRetries; limit > 0 && res.RateLimitWaits >= limit {
		return &FatalError{Stage: "rate limit", Link: task.Link, Err: errors.Join(ErrRetriesExhausted, cause)}
	}
	res.RateLimitWaits++

	wait := w.rateLimitWait(cause)
	log.Warn("rate limited, waiting",
		zap.Error(cause),
		zap.Int("attempt", res.RateLimitWaits),
		zap.Duration("wait", wait),
	)
	return w.sleep(ctx, wait)
}

// rateLimitWait is the configured backoff, stretched to a longer
// Retry-After if the server sent one.
func (w *Workflow) rateLimitWait(err error) time.Duration {
	wait := w.policy.RateLimitBackoff
	if ra := transport.RetryAfter(err); ra > wait {
		wait = ra
	}
	return wait
}

// classify maps a page onto an outcome. An expired token is reported as
// TokenExpiredEmailResent since that is where its sub-flow ends; an
// empty Outcome means no marker matched.
func (w *Workflow) classify(page string) Outcome {
	switch {
	case strings.Contains(page, w.markers.Activated):
		return Activated
	case strings.Contains(page, w.markers.AlreadyActivated):
		return AlreadyActivated
	case strings.Contains(page, w.markers.TokenExpired):
		return TokenExpiredEmailResent
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
