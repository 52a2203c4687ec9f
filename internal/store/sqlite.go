package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB is a SQLite-backed store. A single writer connection is shared by
// every container scope; WAL mode keeps readers from blocking it.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	// Connection string parameters for concurrent access:
	// - _journal_mode=WAL: readers don't block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=NORMAL: durable under WAL without per-write fsync cost
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writes to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteDB{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS container_state (
		container_id TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		updated_at   DATETIME NOT NULL,
		PRIMARY KEY (container_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_container_state_id ON container_state(container_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Scope returns the view owned by one container identity.
func (s *SQLiteDB) Scope(containerID string) StateStore {
	return &sqliteScope{db: s.db, containerID: containerID}
}

// Close closes the underlying database.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type sqliteScope struct {
	db          *sql.DB
	containerID string
}

func (s *sqliteScope) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM container_state WHERE container_id = ? AND key = ?
	`, s.containerID, key).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *sqliteScope) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO container_state (container_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
	`, s.containerID, key, value, time.Now())
	return err
}

func (s *sqliteScope) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM container_state WHERE container_id = ? AND key = ?
	`, s.containerID, key)
	return err
}

func (s *sqliteScope) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM container_state WHERE container_id = ?
	`, s.containerID)
	return err
}
