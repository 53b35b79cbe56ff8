package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"cdc-collector-service/internal/config"
)

// NewSQLiteStorage opens a file-backed store for embedded deployments.
func NewSQLiteStorage(cfg config.StateStorage) (TopicStorage, error) {
	db, err := sql.Open("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// SQLite serializes writers; keep the pool single-connection.
	db.SetMaxOpenConns(1)

	return &sqlStorage{
		db: db,
		isDuplicateKey: func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	}, nil
}
