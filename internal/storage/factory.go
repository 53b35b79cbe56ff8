package storage

import (
	"fmt"

	"cdc-collector-service/internal/config"
)

// New opens the backend named by config. Unknown types are a configuration
// error, not a silent default.
func New(cfg config.StateStorage) (TopicStorage, error) {
	switch cfg.Type {
	case "mysql":
		return NewMySQLStorage(cfg)
	case "sqlite":
		return NewSQLiteStorage(cfg)
	case "memory", "":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
