package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/sqlite/*.sql files/postgres/*.sql
var migrationFiles embed.FS

// Dialect selects which schema a migration run applies.
type Dialect string

const (
	// SQLite is the on-device cache schema.
	SQLite Dialect = "sqlite"
	// Postgres is the remote pin table schema.
	Postgres Dialect = "postgres"
)

// CheckDBMigrationStatus verifies that the local SQLite schema is up-to-date.
// Returns nil if the database is at the latest version.
// Returns an error describing any version mismatch or migration issues.
func CheckDBMigrationStatus(db *sql.DB) error {
	return checkStatus(db, SQLite)
}

// MigrateUp runs all pending local SQLite migrations.
func MigrateUp(db *sql.DB) error {
	return migrateUp(db, SQLite)
}

// MigrateUpPostgres runs all pending migrations for the remote pins table.
func MigrateUpPostgres(db *sql.DB) error {
	return migrateUp(db, Postgres)
}

func checkStatus(db *sql.DB, dialect Dialect) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: closing it would close the caller's db.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version (needs migration)")
		}
		return fmt.Errorf("failed to get database version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	sourceDriver, err := iofs.New(migrationFiles, sourceDir(dialect))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	defer sourceDriver.Close()

	latestVersion, err := getLatestVersion(sourceDriver)
	if err != nil {
		return fmt.Errorf("failed to determine latest version: %w", err)
	}

	if version < latestVersion {
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latestVersion, latestVersion-version)
	}

	if version > latestVersion {
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			version, latestVersion)
	}

	return nil
}

func migrateUp(db *sql.DB, dialect Dialect) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func sourceDir(dialect Dialect) string {
	return "files/" + string(dialect)
}

// newMigrate creates a migrate instance for the given database and dialect.
func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, sourceDir(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	var (
		dbDriver database.Driver
		name     string
	)
	switch dialect {
	case SQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		name = "sqlite3"
	case Postgres:
		dbDriver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
		name = "pgx5"
	default:
		err = fmt.Errorf("unknown dialect: %s", dialect)
	}
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, name, dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}

// getLatestVersion returns the highest version number available in the source.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latestVersion := version
	for {
		nextVersion, err := src.Next(latestVersion)
		if err != nil {
			// Next fails once there are no more migrations.
			break
		}
		latestVersion = nextVersion
	}

	return latestVersion, nil
}
