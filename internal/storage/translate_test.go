package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhereSQL_SimpleConjunction(t *testing.T) {
	sql, args, err := whereSQL(AllOf(
		Eq("resource_id", "Order:O-1"),
		Expression{Field: "status", Operator: OpNE, Value: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, "resource_id = ? AND status <> ?", sql)
	assert.Equal(t, []interface{}{"Order:O-1", 1}, args)
}

func TestWhereSQL_NestedJoints(t *testing.T) {
	criteria := &Joint{
		Conjunction: And,
		Expressions: []Expression{Eq("tenant_id", "T1")},
		Joints: []*Joint{
			AnyOf(Eq("model_name", "Order"), Eq("model_name", "Customer")),
		},
	}
	sql, args, err := whereSQL(criteria)
	require.NoError(t, err)
	assert.Equal(t, "tenant_id = ? AND (model_name = ? OR model_name = ?)", sql)
	assert.Len(t, args, 3)
}

func TestWhereSQL_InAndNullOperators(t *testing.T) {
	sql, args, err := whereSQL(AllOf(
		Expression{Field: "status", Operator: OpIn, Value: []interface{}{0, 1}},
		Expression{Field: "held_key", Operator: OpNotNull},
	))
	require.NoError(t, err)
	assert.Equal(t, "status IN (?, ?) AND held_key IS NOT NULL", sql)
	assert.Equal(t, []interface{}{0, 1}, args)
}

func TestWhereSQL_EmptyCriteria(t *testing.T) {
	sql, args, err := whereSQL(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestWhereSQL_UnknownOperatorIsTyped(t *testing.T) {
	_, _, err := whereSQL(AllOf(Expression{Field: "f", Operator: "regex", Value: ".*"}))
	var opErr *UnsupportedCriteriaOperatorError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, Operator("regex"), opErr.Operator)
}

func TestWhereSQL_EmptyInListRejected(t *testing.T) {
	_, _, err := whereSQL(AllOf(Expression{Field: "f", Operator: OpIn, Value: []interface{}{}}))
	var critErr *UnsupportedCriteriaError
	assert.ErrorAs(t, err, &critErr)
}

func TestOrderBySQL(t *testing.T) {
	sql, err := orderBySQL([]Order{
		{Field: "registered_at", Direction: Desc},
		{Field: "lock_id", Direction: Asc},
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER BY registered_at DESC, lock_id ASC", sql)

	// Nil and empty sort yield no clause: backend default order.
	sql, err = orderBySQL(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)

	_, err = orderBySQL([]Order{{Field: "f", Direction: "RANDOM"}})
	var sortErr *UnsupportedSortMethodError
	assert.ErrorAs(t, err, &sortErr)
}
