package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrStorage is the generic failure returned by writes.
	ErrStorage = errors.New("sqlite: storage failure")

	// ErrUnavailable means the database could not be opened; the store is
	// in degraded mode. It matches ErrStorage under errors.Is.
	ErrUnavailable = fmt.Errorf("%w: database unavailable", ErrStorage)
)

// policy says how an operation degrades when storage fails.
type policy int

const (
	// failEmpty: reads return zero, empty or absent.
	failEmpty policy = iota
	// failOpen: the duplicate check answers "not a duplicate" so capture
	// is never blocked.
	failOpen
	// failClosed: writes have no effect and report ErrStorage.
	failClosed
)

func (p policy) String() string {
	switch p {
	case failOpen:
		return "fail-open"
	case failClosed:
		return "fail-closed"
	default:
		return "fail-empty"
	}
}

type operation struct {
	name   string
	policy policy
}

var (
	opOpen            = operation{"open", failClosed}
	opSave            = operation{"save", failClosed}
	opExistsDuplicate = operation{"existsDuplicate", failOpen}
	opCount           = operation{"countMatching", failEmpty}
	opFetch           = operation{"fetchPage", failEmpty}
	opLoadAll         = operation{"loadAllMetadata", failEmpty}
	opLoadByID        = operation{"loadById", failEmpty}
	opMatches         = operation{"matches", failEmpty}
	opDeleteHost      = operation{"deleteByHostPattern", failClosed}
	opDeleteAll       = operation{"deleteAll", failClosed}
)

// ready returns ErrUnavailable in degraded mode or after Close.
func (s *SQLiteStore) ready() error {
	if s.db == nil || s.closed.Load() || s.unavailable.Load() {
		return ErrUnavailable
	}
	return nil
}

// fail absorbs err for op: it logs (once only in degraded mode) and returns
// the error a fail-closed caller reports, or nil for other policies.
func (s *SQLiteStore) fail(op operation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Abandoned reads are expected when a query is superseded.
		if op.policy == failClosed {
			return ErrStorage
		}
		return nil
	}

	if isUnavailable(err) {
		s.unavailable.Store(true)
	}

	if s.unavailable.Load() {
		if s.unavailableLogged.CompareAndSwap(false, true) {
			s.log.Error("sqlite unavailable, continuing without storage",
				"op", op.name, "path", s.path, "error", err)
		}
		if op.policy == failClosed {
			return ErrUnavailable
		}
		return nil
	}

	s.log.Error("storage operation failed", "op", op.name, "policy", op.policy.String(), "error", err)
	if op.policy == failClosed {
		return ErrStorage
	}
	return nil
}

// isUnavailable reports errors meaning the database file itself is unusable.
func isUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return true
		}
	}
	return false
}

// isBusy reports whether err is an SQLite BUSY/LOCKED condition.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

const maxRetries = 3

// runTx executes fn inside a transaction, retrying on SQLITE_BUSY with
// 100/200/300 ms backoff.
func (s *SQLiteStore) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	for i := range maxRetries {
		err := s.runTxOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxRetries-1 {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("runTx: max retries exceeded")
}

func (s *SQLiteStore) runTxOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
