package collector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/storage"
	"cdc-collector-service/internal/store"
)

func testModels() []config.ModelConfig {
	return []config.ModelConfig{
		{
			Name:      "Order",
			Table:     "orders",
			UniqueKey: "order_id",
			References: []config.ReferenceConfig{
				{Field: "customer_id", Model: "Customer"},
			},
		},
		{
			Name:      "Customer",
			Table:     "customers",
			UniqueKey: "customer_id",
			References: []config.ReferenceConfig{
				{Field: "last_order_id", Model: "Order"},
			},
		},
	}
}

type mergerFixture struct {
	merger     *Merger
	locks      *store.LockStore
	integrated *store.IntegratedRecordStore
}

func newMergerFixture(t *testing.T) *mergerFixture {
	t.Helper()
	ids, err := identity.NewGenerator(1)
	require.NoError(t, err)

	mem := storage.NewMemoryStorage()
	locks := store.NewLockStore(mem, ids, time.Minute)
	integrated := store.NewIntegratedRecordStore(mem)

	return &mergerFixture{
		merger:     NewMerger(NewMapping(testModels()), locks, integrated, ids),
		locks:      locks,
		integrated: integrated,
	}
}

func changeRecord(id int64, table, key, payload string) *store.ChangeRecord {
	return &store.ChangeRecord{
		RecordID:       id,
		TableName:      table,
		UniqueKeyValue: key,
		Payload:        json.RawMessage(payload),
		TenantID:       "T1",
		CreatedAt:      time.Now(),
	}
}

func TestMerger_OrderCustomerScenario(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	orderChange := changeRecord(1, "orders", "O-1",
		`{"order_id":"O-1","customer_id":"C-9","amount":100}`)
	require.NoError(t, f.merger.Merge(ctx, orderChange))

	order, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "Order", order.ModelName)
	assert.Equal(t, "O-1", order.ObjectID)
	assert.Equal(t, store.RootNode{TableName: "orders", UniqueKey: "order_id", UniqueKeyValue: "O-1"}, order.RootNode)
	assert.Equal(t, []store.Dependency{{ModelName: "Customer", ObjectID: "C-9"}}, order.Dependencies)
	assert.True(t, order.NeedMergeJSON, "customer has not merged yet")

	// The customer arrives.
	customerChange := changeRecord(2, "customers", "C-9",
		`{"customer_id":"C-9","name":"ada"}`)
	require.NoError(t, f.merger.Merge(ctx, customerChange))

	// Re-offering the order change flips needMergeJson.
	require.NoError(t, f.merger.Merge(ctx, orderChange))
	order, err = f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	assert.False(t, order.NeedMergeJSON)

	// No held locks survive the merges.
	held, err := f.locks.IsHeld(ctx, store.LockKey{
		ResourceID: "Order:O-1", ModelName: "Order", ObjectID: "O-1", TenantID: "T1",
	})
	require.NoError(t, err)
	assert.False(t, held)
}

func TestMerger_IdempotentReapplication(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	rec := changeRecord(1, "orders", "O-1",
		`{"order_id":"O-1","customer_id":"C-9","amount":100}`)

	require.NoError(t, f.merger.Merge(ctx, rec))
	once, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)

	// At-least-once redelivery: applying the same record again changes
	// nothing observable.
	require.NoError(t, f.merger.Merge(ctx, rec))
	twice, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)

	assert.Equal(t, once.DataContent, twice.DataContent)
	assert.Equal(t, once.Dependencies, twice.Dependencies)
	assert.Equal(t, once.NeedMergeJSON, twice.NeedMergeJSON)
}

func TestMerger_LastWriteWinsByCaptureOrder(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.merger.Merge(ctx, changeRecord(1, "orders", "O-1",
		`{"order_id":"O-1","amount":100,"note":"first"}`)))
	require.NoError(t, f.merger.Merge(ctx, changeRecord(2, "orders", "O-1",
		`{"order_id":"O-1","amount":250}`)))

	order, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	assert.Equal(t, float64(250), order.DataContent["amount"], "incoming fields replace existing ones")
	assert.Equal(t, "first", order.DataContent["note"], "fields absent from the change survive")
}

func TestMerger_NeedMergeJsonIsMonotonic(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	orderChange := changeRecord(1, "orders", "O-1",
		`{"order_id":"O-1","customer_id":"C-9"}`)
	require.NoError(t, f.merger.Merge(ctx, orderChange))
	require.NoError(t, f.merger.Merge(ctx, changeRecord(2, "customers", "C-9",
		`{"customer_id":"C-9"}`)))
	require.NoError(t, f.merger.Merge(ctx, orderChange))

	order, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	require.False(t, order.NeedMergeJSON)

	// Further changes with the same dependency set never flip it back.
	require.NoError(t, f.merger.Merge(ctx, changeRecord(3, "orders", "O-1",
		`{"order_id":"O-1","customer_id":"C-9","amount":7}`)))
	order, err = f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	assert.False(t, order.NeedMergeJSON)
}

func TestMerger_MutualDependencyConverges(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	orderChange := changeRecord(1, "orders", "O-1",
		`{"order_id":"O-1","customer_id":"C-9"}`)
	customerChange := changeRecord(2, "customers", "C-9",
		`{"customer_id":"C-9","last_order_id":"O-1"}`)

	require.NoError(t, f.merger.Merge(ctx, orderChange))
	require.NoError(t, f.merger.Merge(ctx, customerChange))
	require.NoError(t, f.merger.Merge(ctx, orderChange))

	order, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	customer, err := f.integrated.GetByResource(ctx, "Customer:C-9")
	require.NoError(t, err)

	assert.False(t, order.NeedMergeJSON, "cycle participants converge once both merged")
	assert.False(t, customer.NeedMergeJSON)
}

func TestMerger_LockReleasedAfterInjectedFailure(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	// Malformed payload fails inside the critical section, after the
	// lock was acquired.
	bad := changeRecord(1, "orders", "O-1", `{"order_id":`)
	err := f.merger.Merge(ctx, bad)
	require.Error(t, err)

	held, err := f.locks.IsHeld(ctx, store.LockKey{
		ResourceID: "Order:O-1", ModelName: "Order", ObjectID: "O-1", TenantID: "T1",
	})
	require.NoError(t, err)
	assert.False(t, held, "failed merge must not leak a held lock")

	// And the object stays in its last consistent state: never created.
	rec, err := f.integrated.GetByResource(ctx, "Order:O-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMerger_ContendedObjectReportsLockConflict(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	_, err := f.locks.Acquire(ctx, store.LockKey{
		ResourceID: "Order:O-1", ModelName: "Order", ObjectID: "O-1", TenantID: "T1",
	})
	require.NoError(t, err)

	err = f.merger.Merge(ctx, changeRecord(1, "orders", "O-1", `{"order_id":"O-1"}`))
	assert.ErrorIs(t, err, store.ErrLockConflict, "contention is deferrable, not a hard failure")
}

func TestMerger_UnmappedTableRejected(t *testing.T) {
	f := newMergerFixture(t)
	ctx := context.Background()

	err := f.merger.Merge(ctx, changeRecord(1, "unknown_table", "X-1", `{}`))
	assert.Error(t, err)
}
