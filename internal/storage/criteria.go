package storage

type Operator string

const (
	OpEQ      Operator = "eq"
	OpNE      Operator = "ne"
	OpGT      Operator = "gt"
	OpGTE     Operator = "gte"
	OpLT      Operator = "lt"
	OpLTE     Operator = "lte"
	OpIn      Operator = "in"
	OpLike    Operator = "like"
	OpIsNull  Operator = "is-null"
	OpNotNull Operator = "not-null"
)

type Conjunction string

const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

// Expression is one predicate: field <operator> value.
type Expression struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Joint combines expressions and nested joints under one conjunction.
// Order is preserved so translations are deterministic.
type Joint struct {
	Conjunction Conjunction
	Expressions []Expression
	Joints      []*Joint
}

func (j *Joint) Empty() bool {
	return j == nil || (len(j.Expressions) == 0 && len(j.Joints) == 0)
}

func AllOf(exprs ...Expression) *Joint {
	return &Joint{Conjunction: And, Expressions: exprs}
}

func AnyOf(exprs ...Expression) *Joint {
	return &Joint{Conjunction: Or, Expressions: exprs}
}

func Eq(field string, value interface{}) Expression {
	return Expression{Field: field, Operator: OpEQ, Value: value}
}

func Lt(field string, value interface{}) Expression {
	return Expression{Field: field, Operator: OpLT, Value: value}
}

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Order is one (field, direction) pair of a sort. A nil or empty sort list
// yields no ordering clause: the backend's default order, not an error.
type Order struct {
	Field     string
	Direction Direction
}

// Finder describes one read: the collection shape plus criteria and sort.
type Finder struct {
	Collection string
	Criteria   *Joint
	Sort       []Order
	Limit      int
}

// Entity is the backend-agnostic row/document representation.
type Entity = map[string]interface{}

// VersionField is the optimistic-lock counter carried by mutable entities.
const VersionField = "version"
