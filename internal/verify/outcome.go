package verify

import (
	"errors"
	"fmt"

	"github.com/nhle/club-activator/internal/model"
)

// Outcome is the terminal result of one verification task.
type Outcome string

const (
	// Activated means the link activated the account.
	Activated Outcome = "activated"

	// AlreadyActivated means the account was active before this link was used.
	AlreadyActivated Outcome = "already_activated"

	// TokenExpiredEmailResent means the link had expired and a new
	// activation email was requested.
	TokenExpiredEmailResent Outcome = "token_expired_email_resent"

	// Aborted means the task was cancelled before reaching a verdict.
	// Nothing may be persisted for an aborted task.
	Aborted Outcome = "aborted"
)

// Status maps the outcome onto the account activation flag. ok is false
// for Aborted.
func (o Outcome) Status() (status model.ActivationStatus, ok bool) {
	switch o {
	case Activated, AlreadyActivated:
		return model.ActivationDone, true
	case TokenExpiredEmailResent:
		return model.ActivationRetry, true
	default:
		return "", false
	}
}

// Task is the input of one verification. It is immutable.
type Task struct {
	Link      string
	AccountID string
	Login     string
	Password  string
}

// Result is produced once per task.
type Result struct {
	Outcome   Outcome
	AccountID string

	// RateLimitWaits counts backoff cycles caused by throttling.
	RateLimitWaits int

	// Submissions counts login form submissions.
	Submissions int
}

var (
	// ErrRetriesExhausted is wrapped in a FatalError when a configured
	// retry ceiling is reached.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrUnrecognizedPage means the activation page matched no marker.
	ErrUnrecognizedPage = errors.New("page matched no known marker")

	errNotConfirmed = errors.New("resend confirmation not shown")
)

// FatalError is a verification failure with no automated recovery. The
// caller decides whether to skip the task or stop the run.
type FatalError struct {
	Stage string
	Link  string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("verification failed during %s of %s: %v", e.Stage, e.Link, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err (or any error in its chain) is a FatalError.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
