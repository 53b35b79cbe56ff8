package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"
)

// sqlStorage implements TopicStorage over database/sql. Collections map to
// tables whose columns carry the entity fields; schema creation is an
// external migration concern. MySQL and SQLite differ only in how the
// driver reports a unique-key violation.
type sqlStorage struct {
	db             *sql.DB
	isDuplicateKey func(error) bool
}

func (s *sqlStorage) FindOne(ctx context.Context, finder Finder) (Entity, error) {
	finder.Limit = 1
	rows, err := s.Find(ctx, finder)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *sqlStorage) Find(ctx context.Context, finder Finder) ([]Entity, error) {
	where, args, err := whereSQL(finder.Criteria)
	if err != nil {
		return nil, err
	}
	orderBy, err := orderBySQL(finder.Sort)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + finder.Collection
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " " + orderBy
	}
	if finder.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, finder.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &UnexpectedStorageError{Op: "find " + finder.Collection, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &UnexpectedStorageError{Op: "find " + finder.Collection, Err: err}
	}

	var results []Entity
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanArgs := make([]interface{}, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, &UnexpectedStorageError{Op: "find " + finder.Collection, Err: err}
		}
		entity := make(Entity, len(columns))
		for i, col := range columns {
			entity[col] = normalizeValue(values[i])
		}
		results = append(results, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnexpectedStorageError{Op: "find " + finder.Collection, Err: err}
	}
	return results, nil
}

func (s *sqlStorage) Insert(ctx context.Context, collection string, entity Entity) error {
	fields := sortedFields(entity)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", ")
	query := "INSERT INTO " + collection + " (" + strings.Join(fields, ", ") + ") VALUES (" + placeholders + ")"

	args := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		args = append(args, entity[f])
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.isDuplicateKey(err) {
			return &InsertConflictError{Collection: collection, Err: err}
		}
		return &UnexpectedStorageError{Op: "insert " + collection, Err: err}
	}
	return nil
}

func (s *sqlStorage) Update(ctx context.Context, collection string, entity Entity, criteria *Joint) error {
	if criteria.Empty() {
		return &NoCriteriaForUpdateError{Collection: collection}
	}
	where, whereArgs, err := whereSQL(criteria)
	if err != nil {
		return err
	}

	expectVersion, hasVersion := asInt64(entity[VersionField])

	var setParts []string
	var args []interface{}
	for _, f := range sortedFields(entity) {
		if f == VersionField {
			continue
		}
		setParts = append(setParts, f+" = ?")
		args = append(args, entity[f])
	}
	if hasVersion {
		setParts = append(setParts, VersionField+" = ?")
		args = append(args, expectVersion+1)
		where += " AND " + VersionField + " = ?"
		whereArgs = append(whereArgs, expectVersion)
	}

	query := "UPDATE " + collection + " SET " + strings.Join(setParts, ", ") + " WHERE " + where
	res, err := s.db.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return &UnexpectedStorageError{Op: "update " + collection, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &UnexpectedStorageError{Op: "update " + collection, Err: err}
	}
	if affected == 0 {
		return &OptimisticLockError{Collection: collection}
	}
	return nil
}

func (s *sqlStorage) Upsert(ctx context.Context, collection string, entity Entity, criteria *Joint) error {
	existing, err := s.FindOne(ctx, Finder{Collection: collection, Criteria: criteria})
	if err != nil {
		return err
	}
	if existing == nil {
		return s.Insert(ctx, collection, entity)
	}
	if _, ok := entity[VersionField]; ok {
		clone := make(Entity, len(entity))
		for k, v := range entity {
			clone[k] = v
		}
		clone[VersionField] = existing[VersionField]
		entity = clone
	}
	return s.Update(ctx, collection, entity, criteria)
}

func (s *sqlStorage) Delete(ctx context.Context, collection string, criteria *Joint) error {
	if criteria.Empty() {
		return &NoCriteriaForUpdateError{Collection: collection}
	}
	where, args, err := whereSQL(criteria)
	if err != nil {
		return err
	}
	query := "DELETE FROM " + collection + " WHERE " + where
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &UnexpectedStorageError{Op: "delete " + collection, Err: err}
	}
	return nil
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}

func sortedFields(e Entity) []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val
	default:
		return v
	}
}
