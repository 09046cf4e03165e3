package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a key is absent from a collection.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned by Add on key collision.
	ErrDuplicateKey = errors.New("duplicate key")
)

// StorageError wraps persistence-layer failures so callers can tell them
// apart from data-level errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is a persistence-layer failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store is a generic per-collection keyed document store backed by sqlite.
// Documents are JSON; secondary-index lookup goes through json_extract so
// any top-level field can serve as an index.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func New(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Record store initialized")
	return &Store{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            collection TEXT NOT NULL,
            key TEXT NOT NULL,
            doc TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(collection, key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a new record; fails with ErrDuplicateKey if the key already
// exists in the collection.
func (s *Store) Add(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `INSERT INTO records (collection, key, doc) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, collection, key, string(raw)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("add %s/%s: %w", collection, key, ErrDuplicateKey)
		}
		return &StorageError{Op: "add", Err: err}
	}
	return nil
}

// Put upserts a record.
func (s *Store) Put(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `INSERT INTO records (collection, key, doc) VALUES (?, ?, ?)
              ON CONFLICT(collection, key) DO UPDATE SET doc = excluded.doc, updated_at = ?`
	if _, err := s.db.ExecContext(ctx, query, collection, key, string(raw), time.Now()); err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Get loads the record stored under key into dest.
func (s *Store) Get(ctx context.Context, collection, key string, dest any) error {
	var raw string
	query := `SELECT doc FROM records WHERE collection = ? AND key = ?`
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return &StorageError{Op: "get", Err: err}
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM records WHERE collection = ? AND key = ?`
	if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// GetAll returns the raw documents of a collection in insertion order.
func (s *Store) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	query := `SELECT doc FROM records WHERE collection = ? ORDER BY id ASC`
	return s.queryDocs(ctx, query, collection)
}

// GetAllByIndex returns documents whose top-level field matches value,
// in insertion order.
func (s *Store) GetAllByIndex(ctx context.Context, collection, field string, value any) ([]json.RawMessage, error) {
	query := `SELECT doc FROM records WHERE collection = ? AND json_extract(doc, '$.' || ?) = ? ORDER BY id ASC`
	return s.queryDocs(ctx, query, collection, field, value)
}

func (s *Store) queryDocs(ctx context.Context, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		docs = append(docs, json.RawMessage(raw))
	}
	return docs, rows.Err()
}

// Clear drops every record in a collection and returns the count removed.
func (s *Store) Clear(ctx context.Context, collection string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection)
	if err != nil {
		return 0, &StorageError{Op: "clear", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "clear", Err: err}
	}
	return n, nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}
