package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/adagent/internal/domain"
	_ "modernc.org/sqlite"
)

// MemoryPath selects a process-local database that vanishes on exit.
const MemoryPath = ":memory:"

// SQLiteStore implements Repository using SQLite. Timestamps are stored as
// unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	var dsn string
	if dbPath == MemoryPath {
		dsn = MemoryPath + "?_pragma=busy_timeout(5000)"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for better concurrency.
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Each connection to :memory: is its own database; pin a single one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		app_name TEXT NOT NULL,
		remote_ip TEXT NOT NULL DEFAULT '',
		init_status TEXT NOT NULL,
		init_error TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		closed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_activity ON chat_sessions(last_activity_at) WHERE closed_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
	INSERT INTO chat_sessions (
		session_id, user_id, app_name, remote_ip, init_status, init_error,
		turn_count, created_at, last_activity_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	status := session.InitStatus
	if status == "" {
		status = domain.InitPending
	}

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.UserID, session.AppName, session.RemoteIP,
		string(status), session.InitError, session.TurnCount,
		session.CreatedAt.UnixMilli(), session.LastActivityAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `
	session_id, user_id, app_name, remote_ip, init_status, init_error,
	turn_count, created_at, last_activity_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var status string
	var createdAt, lastActivity int64
	var closedAt sql.NullInt64

	if err := row.Scan(
		&session.SessionID, &session.UserID, &session.AppName, &session.RemoteIP,
		&status, &session.InitError, &session.TurnCount,
		&createdAt, &lastActivity, &closedAt,
	); err != nil {
		return nil, err
	}

	session.InitStatus = domain.InitStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.LastActivityAt = time.UnixMilli(lastActivity)
	if closedAt.Valid {
		ts := time.UnixMilli(closedAt.Int64)
		session.ClosedAt = &ts
	}
	return &session, nil
}

// GetSession retrieves a session by its session ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// SetInitStatus records the outcome of remote session initialization.
func (s *SQLiteStore) SetInitStatus(ctx context.Context, sessionID string, status domain.InitStatus, detail string) error {
	query := `UPDATE chat_sessions SET init_status = ?, init_error = ? WHERE session_id = ?`
	return s.execOne(ctx, "set init status", query, string(status), detail, sessionID)
}

// TouchSession records activity and the current transcript length.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, turnCount int, at time.Time) error {
	query := `UPDATE chat_sessions SET turn_count = ?, last_activity_at = ? WHERE session_id = ?`
	return s.execOne(ctx, "touch session", query, turnCount, at.UnixMilli(), sessionID)
}

// CloseSession marks a session as torn down. Closing twice keeps the first
// timestamp.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE chat_sessions SET closed_at = COALESCE(closed_at, ?) WHERE session_id = ?`
	return s.execOne(ctx, "close session", query, at.UnixMilli(), sessionID)
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("Session update affected 0 rows", "op", op)
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// GetIdleSessions retrieves open sessions inactive for longer than ttl.
func (s *SQLiteStore) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions WHERE closed_at IS NULL AND last_activity_at < ?
		ORDER BY last_activity_at`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close idle sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}

	return sessions, nil
}

// CountOpenSessions returns the number of sessions not yet closed.
func (s *SQLiteStore) CountOpenSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE closed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open sessions: %w", err)
	}
	return n, nil
}

// CleanupClosedSessions removes records closed more than olderThan ago.
func (s *SQLiteStore) CleanupClosedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE closed_at IS NOT NULL AND closed_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup closed sessions: %w", err)
	}
	return result.RowsAffected()
}
