package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/storage"
)

func newTestLockStore(t *testing.T, staleAfter time.Duration) *LockStore {
	t.Helper()
	ids, err := identity.NewGenerator(1)
	require.NoError(t, err)
	return NewLockStore(storage.NewMemoryStorage(), ids, staleAfter)
}

func testKey() LockKey {
	return LockKey{ResourceID: "Order:O-1", ModelName: "Order", ObjectID: "O-1", TenantID: "T1"}
}

func TestLockStore_MutualExclusion(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()
	key := testKey()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var handles []*LockHandle
	conflicts := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := s.Acquire(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				handles = append(handles, handle)
				return
			}
			if errors.Is(err, ErrLockConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, handles, 1, "exactly one concurrent acquire wins")
	assert.Equal(t, workers-1, conflicts, "every other acquire sees a lock conflict")

	held, err := s.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLockStore_ReleaseThenReacquire(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()
	key := testKey()

	first, err := s.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = s.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLockConflict)

	require.NoError(t, s.Release(ctx, first))

	held, err := s.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)

	// A new claim creates a new row; released rows are never re-opened.
	second, err := s.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NotEqual(t, first.LockID, second.LockID)
}

func TestLockStore_ReleaseIsIdempotent(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()

	handle, err := s.Acquire(ctx, testKey())
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, handle))
	require.NoError(t, s.Release(ctx, handle), "double release is a no-op")
	require.NoError(t, s.Release(ctx, nil))
}

func TestLockStore_DistinctKeysDoNotContend(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()

	_, err := s.Acquire(ctx, testKey())
	require.NoError(t, err)

	other := testKey()
	other.TenantID = "T2"
	_, err = s.Acquire(ctx, other)
	assert.NoError(t, err, "same object in another tenant is a different lock")
}

func TestLockStore_StaleLockReclaimed(t *testing.T) {
	s := newTestLockStore(t, 30*time.Second)
	ctx := context.Background()
	key := testKey()

	base := time.Now()
	s.now = func() time.Time { return base }

	_, err := s.Acquire(ctx, key)
	require.NoError(t, err)

	// Not stale yet: conflict.
	_, err = s.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLockConflict)

	// Holder dies; a later worker reclaims once the row ages out.
	s.now = func() time.Time { return base.Add(time.Minute) }
	handle, err := s.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, handle)
}

func TestLockStore_ReleaseStaleSweep(t *testing.T) {
	s := newTestLockStore(t, 30*time.Second)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	_, err := s.Acquire(ctx, testKey())
	require.NoError(t, err)
	fresh := testKey()
	fresh.ObjectID = "O-2"
	fresh.ResourceID = "Order:O-2"

	s.now = func() time.Time { return base.Add(time.Minute) }
	_, err = s.Acquire(ctx, fresh)
	require.NoError(t, err)

	released, err := s.ReleaseStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released, "only the aged-out lock is reaped")

	held, err := s.IsHeld(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLockStore_WithLockReleasesOnError(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()
	key := testKey()

	wantErr := errors.New("merge blew up")
	err := s.WithLock(ctx, key, func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	held, err := s.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held, "no leaked held lock after a failed critical section")
}

func TestLockStore_ResourceLock(t *testing.T) {
	s := newTestLockStore(t, time.Minute)
	ctx := context.Background()

	lockID, err := s.AcquireResource(ctx, "Order:O-1", "Order", "O-1")
	require.NoError(t, err)

	_, err = s.AcquireResource(ctx, "Order:O-1", "Order", "O-1")
	require.ErrorIs(t, err, ErrLockConflict)

	require.NoError(t, s.ReleaseResource(ctx, lockID))

	_, err = s.AcquireResource(ctx, "Order:O-1", "Order", "O-1")
	assert.NoError(t, err)
}
