package storage

import (
	"context"
)

// TopicStorage is the only surface through which the merger and reactor
// touch persisted state. Swapping the backend never changes core logic.
//
// Update checks-and-increments the entity's version field when present and
// returns *OptimisticLockError on mismatch. Update and Delete reject empty
// criteria with *NoCriteriaForUpdateError. Insert surfaces unique-key
// violations as *InsertConflictError.
type TopicStorage interface {
	// FindOne returns the first match, or (nil, nil) when absent.
	FindOne(ctx context.Context, finder Finder) (Entity, error)
	Find(ctx context.Context, finder Finder) ([]Entity, error)

	Insert(ctx context.Context, collection string, entity Entity) error
	Update(ctx context.Context, collection string, entity Entity, criteria *Joint) error
	// Upsert inserts when no row matches criteria, updates otherwise.
	// Not atomic across workers; callers serialize through the lock
	// protocol before upserting contended rows.
	Upsert(ctx context.Context, collection string, entity Entity, criteria *Joint) error
	Delete(ctx context.Context, collection string, criteria *Joint) error

	Close() error
}
