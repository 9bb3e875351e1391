package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store persists the token pair across runs. No business logic lives here.
type Store interface {
	// Save persists both tokens, overwriting prior values.
	Save(accessToken, refreshToken string) error
	// Read returns the persisted tokens; empty strings mean never set or cleared.
	Read() (accessToken, refreshToken string, err error)
	// Clear removes both values.
	Clear() error
}

// SQLiteStore keeps the token pair in a single-row sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL
);
`

// OpenSQLite opens (or creates) the credential store at path. ":memory:" is
// supported for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(credentialsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save persists both tokens, overwriting prior values.
func (s *SQLiteStore) Save(accessToken, refreshToken string) error {
	query := `
		INSERT INTO credentials (id, access_token, refresh_token)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET access_token = excluded.access_token, refresh_token = excluded.refresh_token
	`
	if _, err := s.db.Exec(query, accessToken, refreshToken); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Read returns the persisted tokens, empty when never set or cleared.
func (s *SQLiteStore) Read() (string, string, error) {
	var access, refresh string
	err := s.db.QueryRow(`SELECT access_token, refresh_token FROM credentials WHERE id = 1`).Scan(&access, &refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("read credentials: %w", err)
	}
	return access, refresh, nil
}

// Clear removes both values.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore holds the token pair for the process lifetime only.
type MemoryStore struct {
	mu      sync.Mutex
	access  string
	refresh string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save overwrites both tokens.
func (s *MemoryStore) Save(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = accessToken, refreshToken
	return nil
}

// Read returns the held tokens.
func (s *MemoryStore) Read() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh, nil
}

// Clear removes both values.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh = "", ""
	return nil
}

// OpenStore opens the sqlite store at path, degrading to a non-persistent
// in-memory store when storage is unavailable. A degraded run starts
// unauthenticated and forgets the session on exit.
func OpenStore(path string, logger *zerolog.Logger) Store {
	st, err := OpenSQLite(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("credential storage unavailable, session will not persist")
		return NewMemoryStore()
	}
	return st
}
