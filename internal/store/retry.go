package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const (
	maxWriteAttempts = 3
	retryBaseDelay   = 20 * time.Millisecond
)

// isConflictError reports whether err is a SQLITE_BUSY or "database is
// locked" error. Both clear once the competing writer commits.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// execWithRetry runs a write, retrying lock conflicts with linear backoff.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		result sql.Result
		err    error
	)
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		result, err = s.db.ExecContext(ctx, query, args...)
		if !isConflictError(err) || attempt == maxWriteAttempts {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}
	return result, err
}
