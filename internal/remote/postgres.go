package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"pinnit-go/internal/database/migrations"
	"pinnit-go/internal/pinnit"
)

// PostgresRemote stores pins as rows of a shared pins table partitioned by
// user_id.
type PostgresRemote struct {
	db *sql.DB
}

// NewPostgresRemote connects to dsn and applies the pins schema.
func NewPostgresRemote(ctx context.Context, dsn string) (*PostgresRemote, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres remote requires postgres_dsn to be set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrations.MigrateUpPostgres(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating postgres: %w", err)
	}

	return &PostgresRemote{db: db}, nil
}

// NewPostgresRemoteFromDB wraps an existing connection whose schema is
// already applied.
func NewPostgresRemoteFromDB(db *sql.DB) *PostgresRemote {
	return &PostgresRemote{db: db}
}

func (r *PostgresRemote) FetchAll(ctx context.Context, identity pinnit.Identity) ([]pinnit.Pin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, timestamp
		FROM pins
		WHERE user_id = $1
		ORDER BY timestamp DESC
	`, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("selecting pins for %s: %w", identity.ID, err)
	}
	defer rows.Close()

	pins := []pinnit.Pin{}
	for rows.Next() {
		var p pinnit.Pin
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning pin: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("selecting pins for %s: %w", identity.ID, err)
	}
	return pins, nil
}

// ReplaceAll deletes and re-inserts the identity's rows in one transaction,
// so a failed insert leaves the previous rows in place.
func (r *PostgresRemote) ReplaceAll(ctx context.Context, identity pinnit.Identity, pins []pinnit.Pin) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pins WHERE user_id = $1", identity.ID); err != nil {
		return fmt.Errorf("deleting pins for %s: %w", identity.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pins (id, user_id, name, latitude, longitude, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pins {
		if _, err := stmt.ExecContext(ctx, p.ID, identity.ID, p.Name, p.Latitude, p.Longitude, p.Timestamp); err != nil {
			return fmt.Errorf("inserting pin %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pins for %s: %w", identity.ID, err)
	}
	return nil
}

// Close closes the database connection.
func (r *PostgresRemote) Close() error {
	return r.db.Close()
}

// Compile-time check that PostgresRemote implements pinnit.RemoteStore
var _ pinnit.RemoteStore = (*PostgresRemote)(nil)
