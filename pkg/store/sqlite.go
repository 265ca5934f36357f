package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/wagateway/pkg/session"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config holds store configuration.
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// SQLiteStore implements session.Store.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

var _ session.Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if cfg.Path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Session store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts or replaces the record for sess.ID.
func (s *SQLiteStore) Save(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, retry_count, last_error, created_at, last_activity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			last_activity = excluded.last_activity,
			updated_at = excluded.updated_at
	`,
		sess.ID,
		string(sess.State),
		sess.RetryCount,
		sess.LastError,
		toMillis(sess.CreatedAt),
		toMillis(sess.LastActivity),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// Touch advances last_activity of an existing record. It never inserts, so
// a record removed by Delete stays removed.
func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ?, updated_at = ?
		WHERE id = ? AND last_activity < ?
	`,
		toMillis(at),
		time.Now().UnixMilli(),
		id,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	return nil
}

// Delete removes the record for id. Missing records are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List returns every record ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, retry_count, last_error, created_at, last_activity
		FROM sessions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var (
			sess              session.Session
			state             string
			created, activity int64
		)
		if err := rows.Scan(&sess.ID, &state, &sess.RetryCount, &sess.LastError, &created, &activity); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.State = session.State(state)
		if !sess.State.Valid() {
			s.logger.Warn().Str("session_id", sess.ID).Str("state", state).Msg("Skipping record with unknown state")
			continue
		}
		sess.CreatedAt = fromMillis(created)
		sess.LastActivity = fromMillis(activity)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
