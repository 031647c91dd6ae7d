package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestLockFor(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	lock, err := LockFor(db)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteLock{}, lock)
}

func TestSQLiteLock_Serializes(t *testing.T) {
	lock := NewSQLiteLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "migrations")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := lock.Acquire(ctx, "migrations")
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestSQLiteLock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSQLiteLock().Acquire(ctx, "migrations")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteLock_Counter(t *testing.T) {
	lock := NewSQLiteLock()
	ctx := context.Background()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(ctx, "k")
			if err != nil {
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
}

func TestHashLockKey(t *testing.T) {
	a := hashLockKey("schema_tenancy_migrations")
	assert.Equal(t, a, hashLockKey("schema_tenancy_migrations"))
	assert.NotEqual(t, a, hashLockKey("other"))
	assert.GreaterOrEqual(t, a, int64(0))
}
