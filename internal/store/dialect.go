package store

import (
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/nhle/club-activator/internal/model"
)

// dialect captures the SQL that differs between supported drivers.
type dialect struct {
	driver string

	// insertIgnore prefixes an INSERT that silently skips unique conflicts.
	insertIgnore string

	// schemaTableQuery counts schema_version tables; 0 means a fresh database.
	schemaTableQuery string

	migrations []migration
}

var sqliteDialect = dialect{
	driver:           "sqlite",
	insertIgnore:     "INSERT OR IGNORE INTO",
	schemaTableQuery: "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	migrations:       sqliteMigrations,
}

var mysqlDialect = dialect{
	driver:       "mysql",
	insertIgnore: "INSERT IGNORE INTO",
	schemaTableQuery: "SELECT COUNT(*) FROM information_schema.tables " +
		"WHERE table_schema = DATABASE() AND table_name = 'schema_version'",
	migrations: mysqlMigrations,
}

// dialectFor returns the dialect for a configured driver name together
// with the DSN the driver should be opened with.
func dialectFor(driver, dsn string) (dialect, string, error) {
	switch driver {
	case model.DriverSQLite:
		return sqliteDialect, dsn, nil
	case model.DriverMySQL:
		normalized, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return dialect{}, "", err
		}
		return mysqlDialect, normalized, nil
	default:
		return dialect{}, "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// normalizeMySQLDSN forces the options the store relies on: DATETIME
// columns scan into time.Time, and UPDATE reports matched rather than
// changed rows so an idempotent status write is not mistaken for a miss.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}
