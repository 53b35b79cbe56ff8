package storage

import "fmt"

// InsertConflictError reports a unique-constraint violation on insert.
type InsertConflictError struct {
	Collection string
	Err        error
}

func (e *InsertConflictError) Error() string {
	return fmt.Sprintf("insert conflict on %s: %v", e.Collection, e.Err)
}

func (e *InsertConflictError) Unwrap() error { return e.Err }

// OptimisticLockError reports a version mismatch on update: the row was
// changed (or removed) by someone else since it was read.
type OptimisticLockError struct {
	Collection string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failure on %s", e.Collection)
}

// UnsupportedCriteriaError reports a criteria shape the backend cannot
// express. The caller must fall back or fail, never drop the clause.
type UnsupportedCriteriaError struct {
	Reason string
}

func (e *UnsupportedCriteriaError) Error() string {
	return fmt.Sprintf("unsupported criteria: %s", e.Reason)
}

type UnsupportedCriteriaOperatorError struct {
	Operator Operator
}

func (e *UnsupportedCriteriaOperatorError) Error() string {
	return fmt.Sprintf("unsupported criteria operator: %q", string(e.Operator))
}

type UnsupportedSortMethodError struct {
	Method string
}

func (e *UnsupportedSortMethodError) Error() string {
	return fmt.Sprintf("unsupported sort method: %q", e.Method)
}

// NoCriteriaForUpdateError rejects a bulk update or delete with no
// criteria, which would otherwise mutate the whole collection.
type NoCriteriaForUpdateError struct {
	Collection string
}

func (e *NoCriteriaForUpdateError) Error() string {
	return fmt.Sprintf("refusing update/delete on %s with no criteria", e.Collection)
}

// UnexpectedStorageError wraps transport and driver failures.
type UnexpectedStorageError struct {
	Op  string
	Err error
}

func (e *UnexpectedStorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *UnexpectedStorageError) Unwrap() error { return e.Err }
