package store

import (
	"context"

	"cdc-collector-service/internal/storage"
)

// ChangeRecordStore is append-only: records are inserted once and never
// updated or deleted here (archival is an external retention concern).
type ChangeRecordStore struct {
	st storage.TopicStorage
}

func NewChangeRecordStore(st storage.TopicStorage) *ChangeRecordStore {
	if mem, ok := st.(*storage.MemoryStorage); ok {
		mem.DefineUniqueKey(CollectionChangeRecords, "record_id")
	}
	return &ChangeRecordStore{st: st}
}

func (s *ChangeRecordStore) Append(ctx context.Context, rec *ChangeRecord) error {
	return s.st.Insert(ctx, CollectionChangeRecords, changeRecordEntity(rec))
}

// ListByTable returns the records captured for one table row in capture
// order, which is the order merges must reapply in.
func (s *ChangeRecordStore) ListByTable(ctx context.Context, tableName, uniqueKeyValue string) ([]*ChangeRecord, error) {
	ents, err := s.st.Find(ctx, storage.Finder{
		Collection: CollectionChangeRecords,
		Criteria: storage.AllOf(
			storage.Eq("table_name", tableName),
			storage.Eq("unique_key_value", uniqueKeyValue),
		),
		Sort: []storage.Order{{Field: "record_id", Direction: storage.Asc}},
	})
	if err != nil {
		return nil, err
	}
	records := make([]*ChangeRecord, 0, len(ents))
	for _, ent := range ents {
		records = append(records, changeRecordFromEntity(ent))
	}
	return records, nil
}
