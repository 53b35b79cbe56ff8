package store

import (
	"context"
	"time"

	"cdc-collector-service/internal/storage"
)

// TriggerOnlineStore tracks the lifecycle of ad-hoc trigger invocations:
// created running, updated as execution progresses, terminal at done or
// failed.
type TriggerOnlineStore struct {
	st  storage.TopicStorage
	now func() time.Time
}

func NewTriggerOnlineStore(st storage.TopicStorage) *TriggerOnlineStore {
	if mem, ok := st.(*storage.MemoryStorage); ok {
		mem.DefineUniqueKey(CollectionTriggerOnline, "online_trigger_id")
	}
	return &TriggerOnlineStore{st: st, now: time.Now}
}

func (s *TriggerOnlineStore) Create(ctx context.Context, t *TriggerOnline) error {
	t.Status = TriggerStatusRunning
	t.Version = 1
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	return s.st.Insert(ctx, CollectionTriggerOnline, triggerOnlineEntity(t))
}

// Finish moves a trigger to its terminal status with the result summary.
func (s *TriggerOnlineStore) Finish(ctx context.Context, t *TriggerOnline, status int, result string) error {
	t.Status = status
	t.Result = result
	t.UpdatedAt = s.now()
	err := s.st.Update(ctx, CollectionTriggerOnline, triggerOnlineEntity(t),
		storage.AllOf(storage.Eq("online_trigger_id", t.OnlineTriggerID)))
	if err != nil {
		return err
	}
	t.Version++
	return nil
}

func (s *TriggerOnlineStore) Get(ctx context.Context, onlineTriggerID int64) (*TriggerOnline, error) {
	ent, err := s.st.FindOne(ctx, storage.Finder{
		Collection: CollectionTriggerOnline,
		Criteria:   storage.AllOf(storage.Eq("online_trigger_id", onlineTriggerID)),
	})
	if err != nil || ent == nil {
		return nil, err
	}
	return triggerOnlineFromEntity(ent), nil
}
