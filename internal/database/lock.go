package database

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"
)

// Lock provides mutual exclusion for migration runs across processes
type Lock interface {
	// Acquire blocks until the lock for key is held. The returned release
	// function must be called to let go of it.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PostgresLock uses a session level advisory lock held on a dedicated
// connection, so lock and unlock always hit the same session.
type PostgresLock struct {
	db *sql.DB
}

// NewPostgresLock creates a PostgresLock
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// Acquire implements Lock
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		conn.Close()
	}
	return release, nil
}

// SQLiteLock is a process local mutex; SQLite is single writer and its file
// locking covers other processes.
type SQLiteLock struct {
	mu sync.Mutex
}

// NewSQLiteLock creates a SQLiteLock
func NewSQLiteLock() *SQLiteLock {
	return &SQLiteLock{}
}

// Acquire implements Lock
func (l *SQLiteLock) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock: %w", err)
	}

	l.mu.Lock()
	return func() { l.mu.Unlock() }, nil
}

// LockFor picks the lock implementation matching the connection's dialect
func LockFor(db *gorm.DB) (Lock, error) {
	if db.Dialector.Name() != DriverPostgres {
		return NewSQLiteLock(), nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return NewPostgresLock(sqlDB), nil
}

// hashLockKey produces a stable int64 from key for pg_advisory_lock
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
