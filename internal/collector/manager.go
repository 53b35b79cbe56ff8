package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/storage"
	"cdc-collector-service/internal/store"
)

// Manager owns the capture path: the entry point stamps and persists each
// change record, then the worker pool merges it. Optionally a binlog
// source feeds the same entry point.
type Manager struct {
	cfg        *config.Config
	mapping    *Mapping
	ids        *identity.Generator
	changes    *store.ChangeRecordStore
	locks      *store.LockStore
	integrated *store.IntegratedRecordStore
	pool       *WorkerPool
	source     *BinlogSource
	reaper     *Reaper
	mu         sync.Mutex
	status     string
}

func NewManager(cfg *config.Config, st storage.TopicStorage, ids *identity.Generator) (*Manager, error) {
	mapping := NewMapping(cfg.Models)
	locks := store.NewLockStore(st, ids, cfg.Collector.GetLockStaleAfter())
	integrated := store.NewIntegratedRecordStore(st)
	merger := NewMerger(mapping, locks, integrated, ids)

	m := &Manager{
		cfg:        cfg,
		mapping:    mapping,
		ids:        ids,
		changes:    store.NewChangeRecordStore(st),
		locks:      locks,
		integrated: integrated,
		pool:       NewWorkerPool(cfg.Collector, merger),
		status:     "idle",
	}

	if cfg.Source.Enabled {
		source, err := NewBinlogSource(cfg.Source, cfg.Models, func(ctx context.Context, input CaptureInput) error {
			_, _, err := m.Capture(ctx, input)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init binlog source: %w", err)
		}
		m.source = source
	}
	if cfg.Reaper.Enabled {
		m.reaper = NewReaper(cfg.Reaper, locks)
	}

	return m, nil
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == "running" {
		return fmt.Errorf("collector is already running")
	}

	logger.Log.Info("Starting collector manager")

	m.pool.Start()
	if m.source != nil {
		if err := m.source.Start(); err != nil {
			m.pool.Stop()
			return err
		}
	}
	if m.reaper != nil {
		m.reaper.Start()
	}

	m.status = "running"
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != "running" {
		return
	}

	logger.Log.Info("Stopping collector manager")

	if m.source != nil {
		m.source.Stop()
	}
	if m.reaper != nil {
		m.reaper.Stop()
	}
	m.pool.Stop()

	m.status = "idle"
}

func (m *Manager) GetStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// CaptureInput is one row mutation as submitted by an event source.
type CaptureInput struct {
	TableName      string          `json:"table_name"`
	UniqueKeyValue string          `json:"unique_key_value"`
	Payload        json.RawMessage `json:"payload"`
	TenantID       string          `json:"tenant_id"`
}

// Capture accepts one row mutation: validates the table mapping, stamps a
// record id, appends to the immutable change log, and queues the merge.
func (m *Manager) Capture(ctx context.Context, input CaptureInput) (CaptureResult, *store.ChangeRecord, error) {
	mc, ok := m.cfg.ModelForTable(input.TableName)
	if !ok {
		return CaptureFailed, nil, fmt.Errorf("no model mapped for table %q", input.TableName)
	}
	if input.UniqueKeyValue == "" {
		return CaptureFailed, nil, fmt.Errorf("missing unique key value for table %q", input.TableName)
	}

	recordID, err := m.ids.NextID()
	if err != nil {
		return CaptureFailed, nil, err
	}

	rec := &store.ChangeRecord{
		RecordID:       recordID,
		ModelName:      mc.Name,
		TableName:      input.TableName,
		UniqueKeyValue: input.UniqueKeyValue,
		Payload:        input.Payload,
		TenantID:       input.TenantID,
		CreatedAt:      time.Now(),
	}
	if err := m.changes.Append(ctx, rec); err != nil {
		return CaptureFailed, nil, err
	}

	return m.pool.Enqueue(rec), rec, nil
}

// IsLockHeld exposes the read-only lock probe for the control plane.
func (m *Manager) IsLockHeld(ctx context.Context, key store.LockKey) (bool, error) {
	return m.locks.IsHeld(ctx, key)
}

// ListChanges returns the captured history of one table row in capture
// order.
func (m *Manager) ListChanges(ctx context.Context, tableName, uniqueKeyValue string) ([]*store.ChangeRecord, error) {
	return m.changes.ListByTable(ctx, tableName, uniqueKeyValue)
}
