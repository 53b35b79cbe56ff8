package store

import (
	"context"

	"cdc-collector-service/internal/storage"
)

// IntegratedRecordStore reads and writes merged model-level documents.
// Callers hold the competitive lock for the record before mutating it.
type IntegratedRecordStore struct {
	st storage.TopicStorage
}

func NewIntegratedRecordStore(st storage.TopicStorage) *IntegratedRecordStore {
	if mem, ok := st.(*storage.MemoryStorage); ok {
		mem.DefineUniqueKey(CollectionIntegratedRecords, "resource_id")
	}
	return &IntegratedRecordStore{st: st}
}

// GetByResource looks a record up by its globally unique resource id.
func (s *IntegratedRecordStore) GetByResource(ctx context.Context, resourceID string) (*IntegratedRecord, error) {
	ent, err := s.st.FindOne(ctx, storage.Finder{
		Collection: CollectionIntegratedRecords,
		Criteria:   storage.AllOf(storage.Eq("resource_id", resourceID)),
	})
	if err != nil || ent == nil {
		return nil, err
	}
	return integratedRecordFromEntity(ent), nil
}

// GetByObject looks a record up by model identity; used for dependency
// resolution where only (modelName, objectId) is known.
func (s *IntegratedRecordStore) GetByObject(ctx context.Context, modelName, objectID, tenantID string) (*IntegratedRecord, error) {
	ent, err := s.st.FindOne(ctx, storage.Finder{
		Collection: CollectionIntegratedRecords,
		Criteria: storage.AllOf(
			storage.Eq("model_name", modelName),
			storage.Eq("object_id", objectID),
			storage.Eq("tenant_id", tenantID),
		),
	})
	if err != nil || ent == nil {
		return nil, err
	}
	return integratedRecordFromEntity(ent), nil
}

func (s *IntegratedRecordStore) Insert(ctx context.Context, rec *IntegratedRecord) error {
	rec.Version = 1
	return s.st.Insert(ctx, CollectionIntegratedRecords, integratedRecordEntity(rec))
}

// Update persists a mutated record with an optimistic version check; the
// version on rec must be the one it was loaded with.
func (s *IntegratedRecordStore) Update(ctx context.Context, rec *IntegratedRecord) error {
	err := s.st.Update(ctx, CollectionIntegratedRecords, integratedRecordEntity(rec),
		storage.AllOf(storage.Eq("resource_id", rec.ResourceID)))
	if err != nil {
		return err
	}
	rec.Version++
	return nil
}
