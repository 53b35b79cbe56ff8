package collector

import (
	"fmt"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/store"
)

// Mapping resolves captured tables onto logical models and carries the
// cross-model reference rules used for dependency extraction.
type Mapping struct {
	byTable map[string]config.ModelConfig
	byName  map[string]config.ModelConfig
}

func NewMapping(models []config.ModelConfig) *Mapping {
	m := &Mapping{
		byTable: make(map[string]config.ModelConfig, len(models)),
		byName:  make(map[string]config.ModelConfig, len(models)),
	}
	for _, mc := range models {
		m.byTable[mc.Table] = mc
		m.byName[mc.Name] = mc
	}
	return m
}

// Resolved is the model identity derived from one change record.
type Resolved struct {
	ModelName  string
	ObjectID   string
	ResourceID string
	UniqueKey  string
	References []config.ReferenceConfig
}

// Resolve derives (modelName, objectId, resourceId) for a change record.
// A table with no model mapping is a configuration error.
func (m *Mapping) Resolve(rec *store.ChangeRecord) (*Resolved, error) {
	mc, ok := m.byTable[rec.TableName]
	if !ok {
		return nil, fmt.Errorf("no model mapped for table %q", rec.TableName)
	}
	return &Resolved{
		ModelName:  mc.Name,
		ObjectID:   rec.UniqueKeyValue,
		ResourceID: ResourceID(mc.Name, rec.UniqueKeyValue),
		UniqueKey:  mc.UniqueKey,
		References: mc.References,
	}, nil
}

// ResourceID builds the cross-system join key for one model object.
func ResourceID(modelName, objectID string) string {
	return modelName + ":" + objectID
}
