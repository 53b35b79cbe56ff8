package storage

import (
	"fmt"
	"strings"
)

// whereSQL renders a criteria tree as a WHERE fragment with ? placeholders.
// MySQL and SQLite share the placeholder syntax, so the translation is
// dialect-free; backends that cannot express a node raise the typed
// unsupported errors instead of dropping it.
func whereSQL(criteria *Joint) (string, []interface{}, error) {
	if criteria.Empty() {
		return "", nil, nil
	}

	var parts []string
	var args []interface{}

	for _, expr := range criteria.Expressions {
		sql, exprArgs, err := expressionSQL(expr)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, exprArgs...)
	}
	for _, child := range criteria.Joints {
		sql, childArgs, err := whereSQL(child)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, "("+sql+")")
		args = append(args, childArgs...)
	}

	joiner := " AND "
	if criteria.Conjunction == Or {
		joiner = " OR "
	} else if criteria.Conjunction != And && criteria.Conjunction != "" {
		return "", nil, &UnsupportedCriteriaError{Reason: fmt.Sprintf("conjunction %q", criteria.Conjunction)}
	}

	return strings.Join(parts, joiner), args, nil
}

func expressionSQL(expr Expression) (string, []interface{}, error) {
	switch expr.Operator {
	case OpEQ:
		return expr.Field + " = ?", []interface{}{expr.Value}, nil
	case OpNE:
		return expr.Field + " <> ?", []interface{}{expr.Value}, nil
	case OpGT:
		return expr.Field + " > ?", []interface{}{expr.Value}, nil
	case OpGTE:
		return expr.Field + " >= ?", []interface{}{expr.Value}, nil
	case OpLT:
		return expr.Field + " < ?", []interface{}{expr.Value}, nil
	case OpLTE:
		return expr.Field + " <= ?", []interface{}{expr.Value}, nil
	case OpLike:
		return expr.Field + " LIKE ?", []interface{}{expr.Value}, nil
	case OpIsNull:
		return expr.Field + " IS NULL", nil, nil
	case OpNotNull:
		return expr.Field + " IS NOT NULL", nil, nil
	case OpIn:
		items, ok := expr.Value.([]interface{})
		if !ok {
			return "", nil, &UnsupportedCriteriaError{Reason: "IN value must be a slice"}
		}
		if len(items) == 0 {
			return "", nil, &UnsupportedCriteriaError{Reason: "IN with empty value list"}
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ")
		return expr.Field + " IN (" + placeholders + ")", items, nil
	default:
		return "", nil, &UnsupportedCriteriaOperatorError{Operator: expr.Operator}
	}
}

// orderBySQL renders an ordered sort list. Empty input yields an empty
// fragment: backend default order, not an error.
func orderBySQL(orders []Order) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		switch o.Direction {
		case Asc, Desc:
			parts = append(parts, o.Field+" "+string(o.Direction))
		default:
			return "", &UnsupportedSortMethodError{Method: string(o.Direction)}
		}
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}
