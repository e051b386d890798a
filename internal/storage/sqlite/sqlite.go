package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The in-memory database vanishes if all connections close; a single
	// connection also serializes writers, which SQLite wants anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// epoch converts a time to integer epoch seconds for storage
func epoch(t time.Time) int64 {
	return t.Unix()
}

// fromEpoch converts stored epoch seconds back to UTC time
func fromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// nullableEpoch converts an optional time for storage
func nullableEpoch(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// fromNullableEpoch converts an optional stored timestamp
func fromNullableEpoch(sec sql.NullInt64) *time.Time {
	if !sec.Valid {
		return nil
	}
	t := time.Unix(sec.Int64, 0).UTC()
	return &t
}
