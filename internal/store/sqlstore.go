package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/club-activator/internal/model"
)

const accountColumns = "id, login, password, email, activated, created_at, updated_at"

const eventColumns = "id, run_id, message_uid, login, account_id, outcome, detail, created_at"

// SQLStore implements the Store interface on top of sqlx. It supports
// sqlite (default, also used by tests) and MySQL.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database for driver ("sqlite" or "mysql") and
// runs any pending schema migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	d, dsn, err := dialectFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", d.driver, err)
	}

	if d.driver == sqliteDialect.driver {
		if err := prepareSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", d.driver, err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	return Open(model.DriverSQLite, dbPath)
}

// prepareSQLite pins the pool to one connection, so an in-memory database
// is shared by every caller and concurrent writers queue instead of
// failing with SQLITE_BUSY, then enables WAL and foreign keys.
func prepareSQLite(db *sqlx.DB) error {
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	if err := s.db.Get(&tableCount, s.dialect.schemaTableQuery); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range s.dialect.migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
	}

	return nil
}

// FindByLogin returns the account for login, or ErrNotFound.
func (s *SQLStore) FindByLogin(ctx context.Context, login string) (*model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc,
		"SELECT "+accountColumns+" FROM accounts WHERE login = ?", login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding login %q: %w", login, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding login %q: %w", login, err)
	}
	return &acc, nil
}

// Insert creates a pending account row. It returns ErrDuplicateLogin when
// another row already owns login.
func (s *SQLStore) Insert(
	ctx context.Context,
	login, password, email string,
) (*model.Account, error) {
	if strings.TrimSpace(login) == "" {
		return nil, fmt.Errorf("account login must not be empty")
	}

	now := time.Now().UTC()
	acc := model.Account{
		ID:        uuid.New().String(),
		Login:     login,
		Password:  password,
		Email:     email,
		Activated: model.ActivationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.db.ExecContext(ctx,
		s.dialect.insertIgnore+" accounts ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		acc.ID, acc.Login, acc.Password, acc.Email,
		string(acc.Activated), acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting account %q: %w", login, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("inserting account %q: %w", login, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("inserting account %q: %w", login, ErrDuplicateLogin)
	}

	return &acc, nil
}

// UpdateActivation sets the activation status and timestamp of an account.
func (s *SQLStore) UpdateActivation(
	ctx context.Context,
	id string,
	status model.ActivationStatus,
	at time.Time,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET activated = ?, updated_at = ? WHERE id = ?",
		string(status), at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating activation of %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("updating activation of %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &acc, nil
}

// ListAccounts retrieves accounts matching filter, most recently updated first.
func (s *SQLStore) ListAccounts(
	ctx context.Context,
	filter AccountFilter,
) ([]model.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts"
	var args []interface{}

	if filter.Activated != nil {
		query += " WHERE activated = ?"
		args = append(args, string(*filter.Activated))
	}
	query += " ORDER BY updated_at DESC, login ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// RecordEvent inserts an activation audit event. If the event has no ID,
// a new UUID is generated.
func (s *SQLStore) RecordEvent(ctx context.Context, ev model.ActivationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activation_events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		ev.ID, ev.RunID, ev.MessageUID, ev.Login, ev.AccountID,
		ev.Outcome, ev.Detail, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording event for uid %d: %w", ev.MessageUID, err)
	}
	return nil
}

// ListEvents returns the most recent activation events, newest first.
func (s *SQLStore) ListEvents(ctx context.Context, limit int) ([]model.ActivationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []model.ActivationEvent
	err := s.db.SelectContext(ctx, &events,
		fmt.Sprintf("SELECT %s FROM activation_events ORDER BY created_at DESC LIMIT %d",
			eventColumns, limit))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return events, nil
}
