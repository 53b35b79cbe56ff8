package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/logger"
)

// CaptureFunc is the entry point a source feeds row mutations into.
type CaptureFunc func(ctx context.Context, input CaptureInput) error

// BinlogSource turns MySQL row events into change records. Only tables
// with a model mapping are watched; everything else is filtered at the
// replication layer.
type BinlogSource struct {
	cfg     config.SourceConfig
	canal   *canal.Canal
	capture CaptureFunc
	ctx     context.Context
	cancel  context.CancelFunc
	keys    map[string]string // table -> unique key column
}

func NewBinlogSource(cfg config.SourceConfig, models []config.ModelConfig, capture CaptureFunc) (*BinlogSource, error) {

	keys := make(map[string]string)
	var tableRegex []string
	for _, mc := range models {
		keys[mc.Table] = mc.UniqueKey
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, mc.Table))
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     cfg.ReplicationUser,
		Password: cfg.ReplicationPassword,
		Flavor:   "mysql",
		ServerID: cfg.ServerID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // binlog only, no initial dump
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BinlogSource{
		cfg:     cfg,
		canal:   c,
		capture: capture,
		ctx:     ctx,
		cancel:  cancel,
		keys:    keys,
	}
	c.SetEventHandler(&rowHandler{source: s})
	return s, nil
}

func (s *BinlogSource) Start() error {
	logger.Log.Info("Starting binlog source", zap.String("host", s.cfg.Host))

	go func() {
		if err := s.canal.Run(); err != nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	return nil
}

func (s *BinlogSource) Stop() {
	s.cancel()
	s.canal.Close()
	logger.Log.Info("Stopped binlog source")
}

type rowHandler struct {
	canal.DummyEventHandler
	source *BinlogSource
}

func (h *rowHandler) OnRow(e *canal.RowsEvent) error {
	keyColumn, ok := h.source.keys[e.Table.Name]
	if !ok {
		return nil
	}

	// Updates arrive as (old, new) pairs; capture the new image. Inserts
	// and deletes arrive one image per row.
	stride := 1
	offset := 0
	if e.Action == canal.UpdateAction {
		stride = 2
		offset = 1
	}

	for i := offset; i < len(e.Rows); i += stride {
		row := make(map[string]interface{}, len(e.Table.Columns))
		for c, col := range e.Table.Columns {
			if c < len(e.Rows[i]) {
				row[col.Name] = e.Rows[i][c]
			}
		}

		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode row from %s: %w", e.Table.Name, err)
		}

		input := CaptureInput{
			TableName:      e.Table.Name,
			UniqueKeyValue: fmt.Sprint(row[keyColumn]),
			Payload:        payload,
			TenantID:       h.source.cfg.TenantID,
		}
		if err := h.source.capture(h.source.ctx, input); err != nil {
			logger.Log.Error("Failed to capture binlog row",
				zap.String("table", e.Table.Name),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (h *rowHandler) String() string {
	return "BinlogRowHandler"
}
