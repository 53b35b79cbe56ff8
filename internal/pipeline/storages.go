package pipeline

import (
	"fmt"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/storage"
)

// TopicStorages resolves which physical backend serves each topic. A
// schema naming no storage falls back to the state store.
type TopicStorages struct {
	fallback storage.TopicStorage
	named    map[string]storage.TopicStorage
	schemas  map[string]TopicSchema
}

func NewTopicStorages(fallback storage.TopicStorage, named map[string]storage.TopicStorage, topics []config.TopicConfig) *TopicStorages {
	schemas := make(map[string]TopicSchema, len(topics))
	for _, t := range topics {
		schemas[t.TopicID] = TopicSchema{TopicID: t.TopicID, Name: t.Name, Storage: t.Storage}
	}
	if named == nil {
		named = map[string]storage.TopicStorage{}
	}
	return &TopicStorages{fallback: fallback, named: named, schemas: schemas}
}

// AskTopicStorage returns the backend serving the given topic schema.
func (s *TopicStorages) AskTopicStorage(schema TopicSchema) (storage.TopicStorage, error) {
	if schema.Storage == "" {
		return s.fallback, nil
	}
	st, ok := s.named[schema.Storage]
	if !ok {
		return nil, fmt.Errorf("no storage registered under %q for topic %q", schema.Storage, schema.TopicID)
	}
	return st, nil
}

// Schema looks a topic schema up by id.
func (s *TopicStorages) Schema(topicID string) (TopicSchema, bool) {
	schema, ok := s.schemas[topicID]
	return schema, ok
}
