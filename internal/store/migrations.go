package store

// migration holds a single schema migration with its target version and
// the statements that apply it. Statements run one at a time so that
// drivers without multi-statement support can apply them.
type migration struct {
	version    int
	statements []string
}

// sqliteMigrations is the ordered list of sqlite schema migrations.
// Each migration's version must be sequential starting from 1.
var sqliteMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	login      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL,
	activated  TEXT NOT NULL DEFAULT 'P' CHECK(activated IN ('P', 'Y', 'N')),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_accounts_activated ON accounts(activated)`,
			`CREATE INDEX IF NOT EXISTS idx_accounts_updated_at ON accounts(updated_at)`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS activation_events (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	message_uid INTEGER NOT NULL,
	login       TEXT NOT NULL DEFAULT '',
	account_id  TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_events_run_id ON activation_events(run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_events_created ON activation_events(created_at)`,
			`INSERT INTO schema_version (version) VALUES (2)`,
		},
	},
}

// mysqlMigrations mirrors sqliteMigrations for MySQL.
var mysqlMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
	version INT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS accounts (
	id         VARCHAR(36) NOT NULL PRIMARY KEY,
	login      VARCHAR(255) NOT NULL,
	password   VARCHAR(255) NOT NULL DEFAULT '',
	email      VARCHAR(320) NOT NULL,
	activated  CHAR(1) NOT NULL DEFAULT 'P',
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	UNIQUE KEY uq_accounts_login (login),
	KEY idx_accounts_activated (activated),
	KEY idx_accounts_updated_at (updated_at)
)`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS activation_events (
	id          VARCHAR(36) NOT NULL PRIMARY KEY,
	run_id      VARCHAR(36) NOT NULL,
	message_uid INT UNSIGNED NOT NULL,
	login       VARCHAR(255) NOT NULL DEFAULT '',
	account_id  VARCHAR(36) NOT NULL DEFAULT '',
	outcome     VARCHAR(32) NOT NULL,
	detail      TEXT NOT NULL,
	created_at  DATETIME(6) NOT NULL,
	KEY idx_events_run_id (run_id),
	KEY idx_events_created (created_at)
)`,
			`INSERT INTO schema_version (version) VALUES (2)`,
		},
	},
}
