// Package distlock elects a single holder for periodic jobs that run on
// every replica, such as the idempotency retention sweep.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock is not held by this instance.
var ErrNotHeld = errors.New("distlock: lock not held")

// Lock is a non-blocking mutual-exclusion primitive shared across processes.
// A Lock value is meant for one goroutine at a time.
type Lock interface {
	// TryAcquire takes the lock if it is free and reports whether it did.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lock up.
	Release(ctx context.Context) error
}

// New picks Redis when a client is configured and falls back to a Postgres
// advisory lock otherwise.
func New(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	if rdb != nil {
		return NewRedisLock(rdb, name, ttl)
	}
	return NewAdvisoryLock(db, name)
}

// Do runs fn only if lock could be taken, releasing it afterwards. It reports
// whether fn ran.
func Do(ctx context.Context, lock Lock, fn func(ctx context.Context) error) (bool, error) {
	ok, err := lock.TryAcquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return true, fn(ctx)
}

// AdvisoryLock implements Lock with pg_try_advisory_lock. Advisory locks are
// session scoped, so the connection that took the lock is pinned until
// Release. If that connection dies the server drops the lock.
type AdvisoryLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

// NewAdvisoryLock derives a stable 64-bit lock id from name.
func NewAdvisoryLock(db *sql.DB, name string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &AdvisoryLock{db: db, id: int64(h.Sum64())}
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	return err
}
