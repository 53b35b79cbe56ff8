package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/store"
)

// Merger folds change records into integrated records, resolving the
// cross-model dependency list before a merge is considered complete.
// A merge runs entirely inside the competitive lock for its object, so two
// workers never mutate the same integrated record concurrently. Reapplying
// the same change record is idempotent: fields overwrite last-write-wins.
type Merger struct {
	mapping    *Mapping
	locks      *store.LockStore
	integrated *store.IntegratedRecordStore
	ids        *identity.Generator
	now        func() time.Time
}

func NewMerger(mapping *Mapping, locks *store.LockStore, integrated *store.IntegratedRecordStore, ids *identity.Generator) *Merger {
	return &Merger{
		mapping:    mapping,
		locks:      locks,
		integrated: integrated,
		ids:        ids,
		now:        time.Now,
	}
}

// Merge applies one change record. store.ErrLockConflict means another
// worker owns the object right now; the caller defers and re-offers the
// record rather than dropping it.
func (m *Merger) Merge(ctx context.Context, rec *store.ChangeRecord) error {
	resolved, err := m.mapping.Resolve(rec)
	if err != nil {
		return err
	}

	key := store.LockKey{
		ResourceID: resolved.ResourceID,
		ModelName:  resolved.ModelName,
		ObjectID:   resolved.ObjectID,
		TenantID:   rec.TenantID,
	}
	return m.locks.WithLock(ctx, key, func() error {
		return m.mergeLocked(ctx, rec, resolved)
	})
}

func (m *Merger) mergeLocked(ctx context.Context, rec *store.ChangeRecord, resolved *Resolved) error {
	irec, err := m.integrated.GetByResource(ctx, resolved.ResourceID)
	if err != nil {
		return err
	}

	created := false
	if irec == nil {
		id, err := m.ids.NextID()
		if err != nil {
			return err
		}
		irec = &store.IntegratedRecord{
			IntegratedRecordID: id,
			ResourceID:         resolved.ResourceID,
			DataContent:        map[string]interface{}{},
			ModelName:          resolved.ModelName,
			ObjectID:           resolved.ObjectID,
			RootNode: store.RootNode{
				TableName:      rec.TableName,
				UniqueKey:      resolved.UniqueKey,
				UniqueKeyValue: rec.UniqueKeyValue,
			},
			TenantID: rec.TenantID,
		}
		created = true
	}

	var incoming map[string]interface{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &incoming); err != nil {
			return fmt.Errorf("malformed change payload for record %d: %w", rec.RecordID, err)
		}
	}

	// Per-field overwrite, last write wins in capture order. Never a deep
	// union: stale nested data must not survive a replacement.
	for field, value := range incoming {
		irec.DataContent[field] = value
	}

	m.extendDependencies(irec, resolved)

	needMerge, err := m.anyUnresolved(ctx, irec)
	if err != nil {
		return err
	}
	irec.NeedMergeJSON = needMerge
	irec.UpdatedAt = m.now()

	if created {
		err = m.integrated.Insert(ctx, irec)
	} else {
		err = m.integrated.Update(ctx, irec)
	}
	if err != nil {
		return err
	}

	logger.Log.Debug("Merged change record",
		zap.Int64("recordID", rec.RecordID),
		zap.String("resourceID", irec.ResourceID),
		zap.Bool("needMergeJson", irec.NeedMergeJSON),
	)
	return nil
}

// extendDependencies appends the cross-model references the data content
// implies. Set semantics, insertion order preserved for determinism.
func (m *Merger) extendDependencies(irec *store.IntegratedRecord, resolved *Resolved) {
	for _, ref := range resolved.References {
		value, ok := irec.DataContent[ref.Field]
		if !ok || value == nil {
			continue
		}
		dep := store.Dependency{ModelName: ref.Model, ObjectID: fmt.Sprint(value)}
		exists := false
		for _, d := range irec.Dependencies {
			if d == dep {
				exists = true
				break
			}
		}
		if !exists {
			irec.Dependencies = append(irec.Dependencies, dep)
		}
	}
}

// anyUnresolved reports whether some dependency still lacks a merged
// counterpart. The walk carries a visited set so mutually dependent
// objects converge once both exist, instead of deadlocking the check.
func (m *Merger) anyUnresolved(ctx context.Context, irec *store.IntegratedRecord) (bool, error) {
	visited := map[string]bool{ResourceID(irec.ModelName, irec.ObjectID): true}
	for _, dep := range irec.Dependencies {
		ok, err := m.resolved(ctx, dep, irec.TenantID, visited)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Merger) resolved(ctx context.Context, dep store.Dependency, tenantID string, visited map[string]bool) (bool, error) {
	key := ResourceID(dep.ModelName, dep.ObjectID)
	if visited[key] {
		// Already on the chain: a cycle counts as resolved once every
		// participant has merged at least once.
		return true, nil
	}
	visited[key] = true

	rec, err := m.integrated.GetByObject(ctx, dep.ModelName, dep.ObjectID, tenantID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	for _, child := range rec.Dependencies {
		ok, err := m.resolved(ctx, child, tenantID, visited)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
