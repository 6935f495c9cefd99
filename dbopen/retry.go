package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLite takes a single writer lock; under contention modernc/sqlite
// surfaces SQLITE_BUSY as a plain error instead of blocking. Writes
// retry a few times with a growing pause before giving up.
const busyRetries = 3

var busyMarkers = []string{
	"SQLITE_BUSY",
	"database is locked",
	"database table is locked",
}

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RunTx runs fn inside a transaction, retrying the whole transaction
// when SQLITE_BUSY surfaces. An error from fn rolls the transaction back
// and is returned as-is unless it is a busy condition.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = runTxOnce(ctx, db, fn); err == nil || !IsBusy(err) || attempt == busyRetries {
			return err
		}
		if werr := busyPause(ctx, attempt); werr != nil {
			return fmt.Errorf("dbopen: busy retry interrupted: %w", werr)
		}
	}
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement with the same busy retry as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 1; ; attempt++ {
		if res, err = db.ExecContext(ctx, query, args...); err == nil || !IsBusy(err) || attempt == busyRetries {
			return res, err
		}
		if werr := busyPause(ctx, attempt); werr != nil {
			return nil, fmt.Errorf("dbopen: busy retry interrupted: %w", werr)
		}
	}
}

// busyPause sleeps 100ms times the attempt number, abandoning the wait
// when ctx is cancelled.
func busyPause(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * 100 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
