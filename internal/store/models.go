package store

import (
	"encoding/json"
	"time"

	"cdc-collector-service/internal/storage"
)

const (
	CollectionChangeRecords     = "change_records"
	CollectionCompetitiveLocks  = "competitive_locks"
	CollectionResourceLocks     = "resource_locks"
	CollectionIntegratedRecords = "integrated_records"
	CollectionTriggerOnline     = "trigger_online"
)

const (
	LockStatusHeld     = 0
	LockStatusReleased = 1
)

const (
	TriggerStatusRunning = 0
	TriggerStatusDone    = 1
	TriggerStatusFailed  = 2
)

// ChangeRecord is one captured row mutation. Immutable once written.
type ChangeRecord struct {
	RecordID       int64           `json:"record_id"`
	ModelName      string          `json:"model_name"`
	TableName      string          `json:"table_name"`
	UniqueKeyValue string          `json:"unique_key_value"`
	Payload        json.RawMessage `json:"payload"`
	TenantID       string          `json:"tenant_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LockKey identifies the logical object a competitive lock serializes.
type LockKey struct {
	ResourceID string
	ModelName  string
	ObjectID   string
	TenantID   string
}

// heldKey is the column enforcing single-writer semantics: it carries the
// tuple while held and NULL after release, so a unique index admits at most
// one held row per key while released rows accumulate freely.
func (k LockKey) heldKey() string {
	return k.ResourceID + "|" + k.ModelName + "|" + k.ObjectID + "|" + k.TenantID
}

// CompetitiveLock is the persisted advisory lock row. Status moves
// held -> released once; the next claim inserts a fresh row.
type CompetitiveLock struct {
	LockID       int64
	ResourceID   string
	ModelName    string
	ObjectID     string
	TenantID     string
	RegisteredAt time.Time
	Status       int
	Version      int64
}

// ResourceLock is the lighter variant without status, used for short-lived
// critical sections; release deletes the row.
type ResourceLock struct {
	LockID       int64
	ResourceID   string
	ModelName    string
	ObjectID     string
	RegisteredAt time.Time
}

// Dependency is one cross-model reference an integrated record carries.
type Dependency struct {
	ModelName string `json:"model_name"`
	ObjectID  string `json:"object_id"`
}

// RootNode identifies the table row an integrated record was folded from.
type RootNode struct {
	TableName      string `json:"table_name"`
	UniqueKey      string `json:"unique_key"`
	UniqueKeyValue string `json:"unique_key_value"`
}

// IntegratedRecord is the merged model-level view of one or more change
// records. ResourceID is globally unique across tenants and models.
type IntegratedRecord struct {
	IntegratedRecordID int64
	ResourceID         string
	DataContent        map[string]interface{}
	ModelName          string
	ObjectID           string
	Dependencies       []Dependency
	NeedMergeJSON      bool
	RootNode           RootNode
	TenantID           string
	Version            int64
	UpdatedAt          time.Time
}

// TriggerOnline records the outcome of one ad-hoc trigger invocation.
type TriggerOnline struct {
	OnlineTriggerID int64
	TenantID        string
	Status          int
	Code            string
	Record          string
	TraceID         string
	Result          string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func changeRecordEntity(r *ChangeRecord) storage.Entity {
	return storage.Entity{
		"record_id":        r.RecordID,
		"model_name":       r.ModelName,
		"table_name":       r.TableName,
		"unique_key_value": r.UniqueKeyValue,
		"payload":          string(r.Payload),
		"tenant_id":        r.TenantID,
		"created_at":       r.CreatedAt,
	}
}

func changeRecordFromEntity(e storage.Entity) *ChangeRecord {
	return &ChangeRecord{
		RecordID:       entityInt64(e, "record_id"),
		ModelName:      entityString(e, "model_name"),
		TableName:      entityString(e, "table_name"),
		UniqueKeyValue: entityString(e, "unique_key_value"),
		Payload:        json.RawMessage(entityString(e, "payload")),
		TenantID:       entityString(e, "tenant_id"),
		CreatedAt:      entityTime(e, "created_at"),
	}
}

func competitiveLockFromEntity(e storage.Entity) *CompetitiveLock {
	return &CompetitiveLock{
		LockID:       entityInt64(e, "lock_id"),
		ResourceID:   entityString(e, "resource_id"),
		ModelName:    entityString(e, "model_name"),
		ObjectID:     entityString(e, "object_id"),
		TenantID:     entityString(e, "tenant_id"),
		RegisteredAt: entityTime(e, "registered_at"),
		Status:       int(entityInt64(e, "status")),
		Version:      entityInt64(e, "version"),
	}
}

func integratedRecordEntity(r *IntegratedRecord) storage.Entity {
	data, _ := json.Marshal(r.DataContent)
	deps, _ := json.Marshal(r.Dependencies)
	root, _ := json.Marshal(r.RootNode)
	return storage.Entity{
		"integrated_record_id": r.IntegratedRecordID,
		"resource_id":          r.ResourceID,
		"data_content":         string(data),
		"model_name":           r.ModelName,
		"object_id":            r.ObjectID,
		"dependencies":         string(deps),
		"need_merge_json":      r.NeedMergeJSON,
		"root_node":            string(root),
		"tenant_id":            r.TenantID,
		"version":              r.Version,
		"updated_at":           r.UpdatedAt,
	}
}

func integratedRecordFromEntity(e storage.Entity) *IntegratedRecord {
	r := &IntegratedRecord{
		IntegratedRecordID: entityInt64(e, "integrated_record_id"),
		ResourceID:         entityString(e, "resource_id"),
		ModelName:          entityString(e, "model_name"),
		ObjectID:           entityString(e, "object_id"),
		NeedMergeJSON:      entityBool(e, "need_merge_json"),
		TenantID:           entityString(e, "tenant_id"),
		Version:            entityInt64(e, "version"),
		UpdatedAt:          entityTime(e, "updated_at"),
	}
	_ = json.Unmarshal([]byte(entityString(e, "data_content")), &r.DataContent)
	_ = json.Unmarshal([]byte(entityString(e, "dependencies")), &r.Dependencies)
	_ = json.Unmarshal([]byte(entityString(e, "root_node")), &r.RootNode)
	return r
}

func triggerOnlineEntity(t *TriggerOnline) storage.Entity {
	return storage.Entity{
		"online_trigger_id": t.OnlineTriggerID,
		"tenant_id":         t.TenantID,
		"status":            t.Status,
		"code":              t.Code,
		"record":            t.Record,
		"trace_id":          t.TraceID,
		"result":            t.Result,
		"version":           t.Version,
		"created_at":        t.CreatedAt,
		"updated_at":        t.UpdatedAt,
	}
}

func triggerOnlineFromEntity(e storage.Entity) *TriggerOnline {
	return &TriggerOnline{
		OnlineTriggerID: entityInt64(e, "online_trigger_id"),
		TenantID:        entityString(e, "tenant_id"),
		Status:          int(entityInt64(e, "status")),
		Code:            entityString(e, "code"),
		Record:          entityString(e, "record"),
		TraceID:         entityString(e, "trace_id"),
		Result:          entityString(e, "result"),
		Version:         entityInt64(e, "version"),
		CreatedAt:       entityTime(e, "created_at"),
		UpdatedAt:       entityTime(e, "updated_at"),
	}
}

func entityString(e storage.Entity, field string) string {
	s, _ := e[field].(string)
	return s
}

func entityInt64(e storage.Entity, field string) int64 {
	switch n := e[field].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func entityBool(e storage.Entity, field string) bool {
	switch b := e[field].(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

func entityTime(e storage.Entity, field string) time.Time {
	switch t := e[field].(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}
