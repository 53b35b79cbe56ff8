package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUsers(t *testing.T, m *MemoryStorage) {
	t.Helper()
	ctx := context.Background()
	rows := []Entity{
		{"id": "u1", "name": "ada", "age": int64(30), "city": "london"},
		{"id": "u2", "name": "bob", "age": int64(25), "city": nil},
		{"id": "u3", "name": "cyn", "age": int64(41), "city": "paris"},
	}
	for _, row := range rows {
		require.NoError(t, m.Insert(ctx, "users", row))
	}
}

func TestMemoryStorage_FindByCriteria(t *testing.T) {
	m := NewMemoryStorage()
	seedUsers(t, m)
	ctx := context.Background()

	got, err := m.Find(ctx, Finder{
		Collection: "users",
		Criteria:   AllOf(Expression{Field: "age", Operator: OpGT, Value: 26}),
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	one, err := m.FindOne(ctx, Finder{
		Collection: "users",
		Criteria:   AllOf(Eq("id", "u2")),
	})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "bob", one["name"])

	missing, err := m.FindOne(ctx, Finder{
		Collection: "users",
		Criteria:   AllOf(Eq("id", "nope")),
	})
	require.NoError(t, err)
	assert.Nil(t, missing, "absent row is (nil, nil), not an error")
}

func TestMemoryStorage_OrCriteriaAndNullOperators(t *testing.T) {
	m := NewMemoryStorage()
	seedUsers(t, m)
	ctx := context.Background()

	got, err := m.Find(ctx, Finder{
		Collection: "users",
		Criteria:   AnyOf(Eq("id", "u1"), Eq("id", "u3")),
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	noCity, err := m.Find(ctx, Finder{
		Collection: "users",
		Criteria:   AllOf(Expression{Field: "city", Operator: OpIsNull}),
	})
	require.NoError(t, err)
	require.Len(t, noCity, 1)
	assert.Equal(t, "u2", noCity[0]["id"])

	in, err := m.Find(ctx, Finder{
		Collection: "users",
		Criteria: AllOf(Expression{
			Field:    "name",
			Operator: OpIn,
			Value:    []interface{}{"ada", "cyn"},
		}),
	})
	require.NoError(t, err)
	assert.Len(t, in, 2)
}

func TestMemoryStorage_SortAndLimit(t *testing.T) {
	m := NewMemoryStorage()
	seedUsers(t, m)
	ctx := context.Background()

	got, err := m.Find(ctx, Finder{
		Collection: "users",
		Sort:       []Order{{Field: "age", Direction: Desc}},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "u3", got[0]["id"])
	assert.Equal(t, "u2", got[2]["id"])

	limited, err := m.Find(ctx, Finder{
		Collection: "users",
		Sort:       []Order{{Field: "age", Direction: Asc}},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "u2", limited[0]["id"])

	_, err = m.Find(ctx, Finder{
		Collection: "users",
		Sort:       []Order{{Field: "age", Direction: "SIDEWAYS"}},
	})
	var sortErr *UnsupportedSortMethodError
	assert.ErrorAs(t, err, &sortErr)
}

func TestMemoryStorage_UniqueKeyConflict(t *testing.T) {
	m := NewMemoryStorage()
	m.DefineUniqueKey("locks", "held_key")
	ctx := context.Background()

	require.NoError(t, m.Insert(ctx, "locks", Entity{"lock_id": int64(1), "held_key": "a"}))

	err := m.Insert(ctx, "locks", Entity{"lock_id": int64(2), "held_key": "a"})
	var conflict *InsertConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "locks", conflict.Collection)

	// NULL key fields never conflict, like a SQL unique index.
	require.NoError(t, m.Insert(ctx, "locks", Entity{"lock_id": int64(3), "held_key": nil}))
	require.NoError(t, m.Insert(ctx, "locks", Entity{"lock_id": int64(4), "held_key": nil}))
}

func TestMemoryStorage_OptimisticUpdate(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "docs", Entity{"id": "d1", "body": "v1", "version": int64(1)}))

	err := m.Update(ctx, "docs", Entity{"body": "v2", "version": int64(1)}, AllOf(Eq("id", "d1")))
	require.NoError(t, err)

	got, err := m.FindOne(ctx, Finder{Collection: "docs", Criteria: AllOf(Eq("id", "d1"))})
	require.NoError(t, err)
	assert.Equal(t, "v2", got["body"])
	assert.Equal(t, int64(2), got["version"], "update increments the version")

	// Stale version: checked-and-incremented atomically, mismatch fails.
	err = m.Update(ctx, "docs", Entity{"body": "v3", "version": int64(1)}, AllOf(Eq("id", "d1")))
	var optimistic *OptimisticLockError
	assert.ErrorAs(t, err, &optimistic)
}

func TestMemoryStorage_UpdatePatchesFields(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "docs", Entity{"id": "d1", "body": "v1", "owner": "ada"}))

	require.NoError(t, m.Update(ctx, "docs", Entity{"body": "v2"}, AllOf(Eq("id", "d1"))))

	got, err := m.FindOne(ctx, Finder{Collection: "docs", Criteria: AllOf(Eq("id", "d1"))})
	require.NoError(t, err)
	assert.Equal(t, "ada", got["owner"], "untouched columns keep their value")
}

func TestMemoryStorage_RejectsUnboundedMutation(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "docs", Entity{"id": "d1"}))

	var guard *NoCriteriaForUpdateError

	err := m.Update(ctx, "docs", Entity{"body": "x"}, nil)
	require.ErrorAs(t, err, &guard)

	err = m.Delete(ctx, "docs", &Joint{})
	require.ErrorAs(t, err, &guard)
}

func TestMemoryStorage_Upsert(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	criteria := AllOf(Eq("id", "d1"))
	require.NoError(t, m.Upsert(ctx, "docs", Entity{"id": "d1", "body": "v1", "version": int64(1)}, criteria))
	require.NoError(t, m.Upsert(ctx, "docs", Entity{"id": "d1", "body": "v2", "version": int64(1)}, criteria))

	got, err := m.Find(ctx, Finder{Collection: "docs", Criteria: criteria})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0]["body"])
}

func TestMemoryStorage_Delete(t *testing.T) {
	m := NewMemoryStorage()
	seedUsers(t, m)
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, "users", AllOf(Eq("id", "u2"))))

	got, err := m.Find(ctx, Finder{Collection: "users", Criteria: nil})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
