package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/storage"
)

// ErrLockConflict means another worker holds the lock. Recoverable:
// callers retry with backoff or defer the work, never fail hard on the
// first occurrence.
var ErrLockConflict = errors.New("lock is held by another worker")

// LockHandle is returned by a successful acquire and consumed by Release.
type LockHandle struct {
	LockID  int64
	Key     LockKey
	Version int64
}

// LockStore arbitrates mutual exclusion through the backing store. Workers
// share nothing in memory; the unique index on the held-key column is the
// arbitration medium.
type LockStore struct {
	st         storage.TopicStorage
	ids        *identity.Generator
	staleAfter time.Duration
	now        func() time.Time
}

func NewLockStore(st storage.TopicStorage, ids *identity.Generator, staleAfter time.Duration) *LockStore {
	if mem, ok := st.(*storage.MemoryStorage); ok {
		mem.DefineUniqueKey(CollectionCompetitiveLocks, "held_key")
		mem.DefineUniqueKey(CollectionResourceLocks, "resource_id", "model_name", "object_id")
	}
	return &LockStore{
		st:         st,
		ids:        ids,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Acquire claims the competitive lock for key. An insert conflict means
// another held row exists; if that row is older than the staleness
// threshold it is reclaimed with a compare-and-swap and the insert retried
// once. Otherwise ErrLockConflict.
func (s *LockStore) Acquire(ctx context.Context, key LockKey) (*LockHandle, error) {
	handle, err := s.tryInsert(ctx, key)
	if err == nil {
		return handle, nil
	}
	var conflict *storage.InsertConflictError
	if !errors.As(err, &conflict) {
		return nil, err
	}

	reclaimed, rerr := s.reclaimStale(ctx, key)
	if rerr != nil {
		return nil, rerr
	}
	if !reclaimed {
		return nil, ErrLockConflict
	}

	handle, err = s.tryInsert(ctx, key)
	if err == nil {
		return handle, nil
	}
	if errors.As(err, &conflict) {
		// Another worker slipped in between reclaim and insert.
		return nil, ErrLockConflict
	}
	return nil, err
}

func (s *LockStore) tryInsert(ctx context.Context, key LockKey) (*LockHandle, error) {
	lockID, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	ent := storage.Entity{
		"lock_id":       lockID,
		"resource_id":   key.ResourceID,
		"model_name":    key.ModelName,
		"object_id":     key.ObjectID,
		"tenant_id":     key.TenantID,
		"registered_at": s.now(),
		"status":        LockStatusHeld,
		"held_key":      key.heldKey(),
		"version":       int64(1),
	}
	if err := s.st.Insert(ctx, CollectionCompetitiveLocks, ent); err != nil {
		return nil, err
	}
	return &LockHandle{LockID: lockID, Key: key, Version: 1}, nil
}

// reclaimStale force-releases a held row whose age exceeds the threshold.
// The CAS on (lock_id, status, version) ensures two workers cannot both
// reclaim the same row.
func (s *LockStore) reclaimStale(ctx context.Context, key LockKey) (bool, error) {
	held, err := s.findHeld(ctx, key)
	if err != nil || held == nil {
		return false, err
	}
	if s.staleAfter <= 0 || s.now().Sub(held.RegisteredAt) < s.staleAfter {
		return false, nil
	}

	logger.Log.Warn("Reclaiming stale lock",
		zap.Int64("lockID", held.LockID),
		zap.String("resourceID", key.ResourceID),
		zap.Time("registeredAt", held.RegisteredAt),
	)

	err = s.st.Update(ctx, CollectionCompetitiveLocks,
		storage.Entity{
			"status":   LockStatusReleased,
			"held_key": nil,
			"version":  held.Version,
		},
		storage.AllOf(
			storage.Eq("lock_id", held.LockID),
			storage.Eq("status", LockStatusHeld),
		),
	)
	var optimistic *storage.OptimisticLockError
	if errors.As(err, &optimistic) {
		// Lost the reclamation race; treat as not reclaimed.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release flips held -> released. Idempotent: releasing an already
// released handle is a no-op.
func (s *LockStore) Release(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return nil
	}
	err := s.st.Update(ctx, CollectionCompetitiveLocks,
		storage.Entity{
			"status":   LockStatusReleased,
			"held_key": nil,
			"version":  handle.Version,
		},
		storage.AllOf(
			storage.Eq("lock_id", handle.LockID),
			storage.Eq("status", LockStatusHeld),
		),
	)
	var optimistic *storage.OptimisticLockError
	if errors.As(err, &optimistic) {
		return nil
	}
	return err
}

// IsHeld is the read-only probe for callers that skip contended work.
func (s *LockStore) IsHeld(ctx context.Context, key LockKey) (bool, error) {
	held, err := s.findHeld(ctx, key)
	if err != nil {
		return false, err
	}
	return held != nil, nil
}

func (s *LockStore) findHeld(ctx context.Context, key LockKey) (*CompetitiveLock, error) {
	ent, err := s.st.FindOne(ctx, storage.Finder{
		Collection: CollectionCompetitiveLocks,
		Criteria: storage.AllOf(
			storage.Eq("resource_id", key.ResourceID),
			storage.Eq("model_name", key.ModelName),
			storage.Eq("object_id", key.ObjectID),
			storage.Eq("tenant_id", key.TenantID),
			storage.Eq("status", LockStatusHeld),
		),
	})
	if err != nil || ent == nil {
		return nil, err
	}
	return competitiveLockFromEntity(ent), nil
}

// ReleaseStale scans for held rows past the staleness threshold and
// force-releases each. Used by the reaper; best-effort per row.
func (s *LockStore) ReleaseStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	ents, err := s.st.Find(ctx, storage.Finder{
		Collection: CollectionCompetitiveLocks,
		Criteria: storage.AllOf(
			storage.Eq("status", LockStatusHeld),
			storage.Lt("registered_at", cutoff),
		),
	})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, ent := range ents {
		lock := competitiveLockFromEntity(ent)
		err := s.st.Update(ctx, CollectionCompetitiveLocks,
			storage.Entity{
				"status":   LockStatusReleased,
				"held_key": nil,
				"version":  lock.Version,
			},
			storage.AllOf(
				storage.Eq("lock_id", lock.LockID),
				storage.Eq("status", LockStatusHeld),
			),
		)
		var optimistic *storage.OptimisticLockError
		if errors.As(err, &optimistic) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// WithLock runs fn inside a claim -> work -> release cycle. The release
// happens on every exit path, panics included, so a failed merge never
// leaks a held lock.
func (s *LockStore) WithLock(ctx context.Context, key LockKey, fn func() error) error {
	handle, err := s.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(ctx, handle); rerr != nil {
			logger.Log.Error("Failed to release lock",
				zap.Int64("lockID", handle.LockID),
				zap.Error(rerr),
			)
		}
	}()
	return fn()
}

// AcquireResource claims the lighter resource lock. Release deletes the
// row rather than flipping status.
func (s *LockStore) AcquireResource(ctx context.Context, resourceID, modelName, objectID string) (int64, error) {
	lockID, err := s.ids.NextID()
	if err != nil {
		return 0, err
	}
	ent := storage.Entity{
		"lock_id":       lockID,
		"resource_id":   resourceID,
		"model_name":    modelName,
		"object_id":     objectID,
		"registered_at": s.now(),
	}
	if err := s.st.Insert(ctx, CollectionResourceLocks, ent); err != nil {
		var conflict *storage.InsertConflictError
		if errors.As(err, &conflict) {
			return 0, ErrLockConflict
		}
		return 0, err
	}
	return lockID, nil
}

func (s *LockStore) ReleaseResource(ctx context.Context, lockID int64) error {
	return s.st.Delete(ctx, CollectionResourceLocks,
		storage.AllOf(storage.Eq("lock_id", lockID)))
}
