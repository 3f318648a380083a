package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pinnit-go/internal/auth"
	"pinnit-go/internal/database/migrations"
	"pinnit-go/internal/pinnit"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Keys in the sync_state table.
const (
	pendingWriteKey = "pending_write"
	lastSyncAtKey   = "last_sync_at"
	cacheOwnerKey   = "cache_owner"
)

// SyncOperation is one recorded CLI operation.
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

// SQLiteStore is the on-device store. It implements pinnit.LocalStore for the
// pin slots, auth.SessionStore for the signed-in session, and keeps the
// operation history.
//
// Each slot is a single row written by a single statement, which is what makes
// slot writes atomic. There are no cross-slot transactions.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path, creating parent directories,
// and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is applied.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// Exported for tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: :memory: databases are per-connection, and slot writes
	// rely on SQLite serializing statements.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Pin slots

func (s *SQLiteStore) ReadPins(ctx context.Context, slot pinnit.Slot) ([]pinnit.Pin, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM pin_slots WHERE slot = ?", string(slot)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []pinnit.Pin{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading slot %s: %w", slot, err)
	}

	var pins []pinnit.Pin
	if err := json.Unmarshal([]byte(payload), &pins); err != nil {
		return nil, false, fmt.Errorf("decoding slot %s: %w", slot, err)
	}
	if pins == nil {
		pins = []pinnit.Pin{}
	}
	return pins, true, nil
}

func (s *SQLiteStore) WritePins(ctx context.Context, slot pinnit.Slot, pins []pinnit.Pin) error {
	if pins == nil {
		pins = []pinnit.Pin{}
	}
	payload, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encoding slot %s: %w", slot, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pin_slots (slot, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, string(slot), string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing slot %s: %w", slot, err)
	}
	return nil
}

func (s *SQLiteStore) ClearPins(ctx context.Context, slot pinnit.Slot) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pin_slots WHERE slot = ?", string(slot)); err != nil {
		return fmt.Errorf("clearing slot %s: %w", slot, err)
	}
	return nil
}

// Sync state

func (s *SQLiteStore) PendingWrite(ctx context.Context) (bool, error) {
	_, ok, err := s.getState(ctx, pendingWriteKey)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *SQLiteStore) SetPendingWrite(ctx context.Context, pending bool) error {
	if pending {
		return s.setState(ctx, pendingWriteKey, "1")
	}
	return s.deleteState(ctx, pendingWriteKey)
}

func (s *SQLiteStore) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	value, ok, err := s.getState(ctx, lastSyncAtKey)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing last sync time %q: %w", value, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *SQLiteStore) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.setState(ctx, lastSyncAtKey, strconv.FormatInt(t.UnixMilli(), 10))
}

func (s *SQLiteStore) ClearLastSyncAt(ctx context.Context) error {
	return s.deleteState(ctx, lastSyncAtKey)
}

func (s *SQLiteStore) CacheOwner(ctx context.Context) (string, bool, error) {
	return s.getState(ctx, cacheOwnerKey)
}

func (s *SQLiteStore) SetCacheOwner(ctx context.Context, id string) error {
	if id == "" {
		return s.deleteState(ctx, cacheOwnerKey)
	}
	return s.setState(ctx, cacheOwnerKey, id)
}

func (s *SQLiteStore) getState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) deleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}
	return nil
}

// Session

func (s *SQLiteStore) LoadSession(ctx context.Context) (*auth.Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM sessions WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var session auth.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *auth.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = 1"); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteStore) CreateSyncOperation(ctx context.Context, operation, parameters string) (*SyncOperation, error) {
	startedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_operations (operation, parameters, started_at, status) VALUES (?, ?, ?, 'running')
	`, operation, parameters, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading sync operation id: %w", err)
	}

	return &SyncOperation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     "running",
	}, nil
}

func (s *SQLiteStore) FinishSyncOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?
	`, time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return nil
}

// ListSyncOperations returns up to limit operations, newest first.
func (s *SQLiteStore) ListSyncOperations(ctx context.Context, limit int) ([]*SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM sync_operations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*SyncOperation
	for rows.Next() {
		var op SyncOperation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	return ops, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time checks
var (
	_ pinnit.LocalStore = (*SQLiteStore)(nil)
	_ auth.SessionStore = (*SQLiteStore)(nil)
)
