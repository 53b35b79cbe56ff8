package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is the in-process backend. It is the default for tests and
// single-node deployments and the reference for contract semantics.
type MemoryStorage struct {
	mu          sync.RWMutex
	collections map[string][]Entity
	uniqueKeys  map[string][]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		collections: make(map[string][]Entity),
		uniqueKeys:  make(map[string][]string),
	}
}

// DefineUniqueKey declares the fields whose combined value must be unique
// within a collection. SQL backends get this from their unique indexes.
func (m *MemoryStorage) DefineUniqueKey(collection string, fields ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniqueKeys[collection] = fields
}

func (m *MemoryStorage) FindOne(ctx context.Context, finder Finder) (Entity, error) {
	results, err := m.Find(ctx, finder)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (m *MemoryStorage) Find(_ context.Context, finder Finder) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Entity
	for _, row := range m.collections[finder.Collection] {
		ok, err := matches(row, finder.Criteria)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, cloneEntity(row))
		}
	}

	if err := sortEntities(results, finder.Sort); err != nil {
		return nil, err
	}
	if finder.Limit > 0 && len(results) > finder.Limit {
		results = results[:finder.Limit]
	}
	return results, nil
}

func (m *MemoryStorage) Insert(_ context.Context, collection string, entity Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key := m.uniqueKeys[collection]; len(key) > 0 {
		for _, row := range m.collections[collection] {
			if sameKey(row, entity, key) {
				return &InsertConflictError{
					Collection: collection,
					Err:        fmt.Errorf("duplicate key %v", keyValues(entity, key)),
				}
			}
		}
	}

	m.collections[collection] = append(m.collections[collection], cloneEntity(entity))
	return nil
}

func (m *MemoryStorage) Update(_ context.Context, collection string, entity Entity, criteria *Joint) error {
	if criteria.Empty() {
		return &NoCriteriaForUpdateError{Collection: collection}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expectVersion, hasVersion := asInt64(entity[VersionField])
	updated := false
	for i, row := range m.collections[collection] {
		ok, err := matches(row, criteria)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if hasVersion {
			current, _ := asInt64(row[VersionField])
			if current != expectVersion {
				return &OptimisticLockError{Collection: collection}
			}
		}
		// UPDATE sets the given fields; untouched columns keep their value.
		next := cloneEntity(row)
		for k, v := range entity {
			next[k] = v
		}
		if hasVersion {
			next[VersionField] = expectVersion + 1
		}
		m.collections[collection][i] = next
		updated = true
	}

	if !updated {
		return &OptimisticLockError{Collection: collection}
	}
	return nil
}

func (m *MemoryStorage) Upsert(ctx context.Context, collection string, entity Entity, criteria *Joint) error {
	existing, err := m.FindOne(ctx, Finder{Collection: collection, Criteria: criteria})
	if err != nil {
		return err
	}
	if existing == nil {
		return m.Insert(ctx, collection, entity)
	}
	if _, ok := entity[VersionField]; ok {
		entity = cloneEntity(entity)
		entity[VersionField] = existing[VersionField]
	}
	return m.Update(ctx, collection, entity, criteria)
}

func (m *MemoryStorage) Delete(_ context.Context, collection string, criteria *Joint) error {
	if criteria.Empty() {
		return &NoCriteriaForUpdateError{Collection: collection}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.collections[collection]
	kept := rows[:0]
	for _, row := range rows {
		ok, err := matches(row, criteria)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, row)
		}
	}
	m.collections[collection] = kept
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

func matches(row Entity, criteria *Joint) (bool, error) {
	if criteria.Empty() {
		return true, nil
	}

	evalOne := func(ok bool) (done bool, result bool) {
		switch criteria.Conjunction {
		case Or:
			return ok, true
		default:
			return !ok, false
		}
	}

	for _, expr := range criteria.Expressions {
		ok, err := evalExpression(row, expr)
		if err != nil {
			return false, err
		}
		if done, result := evalOne(ok); done {
			return result, nil
		}
	}
	for _, child := range criteria.Joints {
		ok, err := matches(row, child)
		if err != nil {
			return false, err
		}
		if done, result := evalOne(ok); done {
			return result, nil
		}
	}

	// AND: nothing failed. OR: nothing matched.
	return criteria.Conjunction != Or, nil
}

func evalExpression(row Entity, expr Expression) (bool, error) {
	value, present := row[expr.Field]

	switch expr.Operator {
	case OpIsNull:
		return !present || value == nil, nil
	case OpNotNull:
		return present && value != nil, nil
	case OpEQ:
		return equalValues(value, expr.Value), nil
	case OpNE:
		return !equalValues(value, expr.Value), nil
	case OpGT, OpGTE, OpLT, OpLTE:
		cmp, ok := compareValues(value, expr.Value)
		if !ok {
			return false, nil
		}
		switch expr.Operator {
		case OpGT:
			return cmp > 0, nil
		case OpGTE:
			return cmp >= 0, nil
		case OpLT:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn:
		items, ok := expr.Value.([]interface{})
		if !ok {
			return false, &UnsupportedCriteriaError{Reason: "IN value must be a slice"}
		}
		for _, item := range items {
			if equalValues(value, item) {
				return true, nil
			}
		}
		return false, nil
	case OpLike:
		pattern, ok := expr.Value.(string)
		s, ok2 := value.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return likeMatch(s, pattern), nil
	default:
		return false, &UnsupportedCriteriaOperatorError{Operator: expr.Operator}
	}
}

// likeMatch supports the %prefix, suffix% and %contains% shapes the core
// actually issues; anything richer belongs on a SQL backend.
func likeMatch(s, pattern string) bool {
	leading := strings.HasPrefix(pattern, "%")
	trailing := strings.HasSuffix(pattern, "%")
	needle := strings.Trim(pattern, "%")
	switch {
	case leading && trailing:
		return strings.Contains(s, needle)
	case leading:
		return strings.HasSuffix(s, needle)
	case trailing:
		return strings.HasPrefix(s, needle)
	default:
		return s == pattern
	}
}

func sortEntities(rows []Entity, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if o.Direction != Asc && o.Direction != Desc {
			return &UnsupportedSortMethodError{Method: string(o.Direction)}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			cmp, ok := compareValues(rows[i][o.Field], rows[j][o.Field])
			if !ok || cmp == 0 {
				continue
			}
			if o.Direction == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func equalValues(a, b interface{}) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return a == b
}

func compareValues(a, b interface{}) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	if af, ok := asFloat64(a); ok {
		bf, ok := asFloat64(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// sameKey mirrors SQL unique-index semantics: a NULL in any key field
// never conflicts.
func sameKey(a, b Entity, fields []string) bool {
	for _, f := range fields {
		if a[f] == nil || b[f] == nil {
			return false
		}
		if !equalValues(a[f], b[f]) {
			return false
		}
	}
	return true
}

func keyValues(e Entity, fields []string) []interface{} {
	vals := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		vals = append(vals, e[f])
	}
	return vals
}

func cloneEntity(e Entity) Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
