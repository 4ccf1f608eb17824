package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/metrics"
)

// RetryPolicy bounds retries of lock-contention errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 5 attempts starting at 200ms, doubling with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// isLockError reports whether err is SQLite lock contention.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "database is busy")
}

// withRetry runs fn, retrying only lock errors with exponential backoff.
// Other errors return immediately. An exhausted budget wraps ErrTransientLock.
func withRetry[T any](ctx context.Context, p RetryPolicy, m *metrics.Metrics, op string, fn func() (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p = DefaultRetryPolicy()
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0.25,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !isLockError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.Retry(op)
			logging.Warnf("%s: database locked (attempt %d/%d), retrying in %s", op, attempts, p.MaxAttempts, next.Round(time.Millisecond))
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if err != nil && isLockError(err) {
		return res, fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrTransientLock, op, attempts, err)
	}
	return res, err
}

// inTx runs fn inside one transaction, retried as a unit on lock errors.
func inTx[T any](ctx context.Context, s *SQLiteStore, op string, fn func(tx *sql.Tx) (T, error)) (T, error) {
	return withRetry(ctx, s.opts.Retry, s.metrics, op, func() (T, error) {
		var zero T
		if s.db == nil {
			return zero, ErrStorageUnavailable
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return zero, err
		}
		v, err := fn(tx)
		if err != nil {
			tx.Rollback()
			return zero, err
		}
		if err := tx.Commit(); err != nil {
			tx.Rollback()
			return zero, err
		}
		return v, nil
	})
}

// withSavepoint scopes fn to a savepoint so a failure undoes only its writes.
func withSavepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		if _, relErr := tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE "+name)
	return err
}
