package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/club-activator/internal/model"
)

var (
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateLogin is returned by Insert when the login already has a row.
	ErrDuplicateLogin = errors.New("login already exists")
)

// AccountFilter controls filtering and pagination for account queries.
type AccountFilter struct {
	Activated *model.ActivationStatus
	Limit     int
	Offset    int
}

// Store defines the persistence interface for accounts and the
// activation audit log. Implementations must be safe for concurrent use;
// every method is a single atomic statement.
type Store interface {
	// === Accounts ===

	FindByLogin(ctx context.Context, login string) (*model.Account, error)
	Insert(ctx context.Context, login, password, email string) (*model.Account, error)
	UpdateActivation(ctx context.Context, id string, status model.ActivationStatus, at time.Time) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)

	// === Activation events ===

	RecordEvent(ctx context.Context, ev model.ActivationEvent) error
	ListEvents(ctx context.Context, limit int) ([]model.ActivationEvent, error)

	Close() error
}
