package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source       SourceConfig    `mapstructure:"source"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Collector    CollectorConfig `mapstructure:"collector"`
	Identity     IdentityConfig  `mapstructure:"identity"`
	Models       []ModelConfig   `mapstructure:"models"`
	Topics       []TopicConfig   `mapstructure:"topics"`
	Pipelines    []PipelineDef   `mapstructure:"pipelines"`
	Reaper       ReaperConfig    `mapstructure:"reaper"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig describes the binlog capture source. Capture can also be
// fed purely through the HTTP entry point, in which case Enabled is false.
type SourceConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
	ServerID            uint32 `mapstructure:"server_id"`
	TenantID            string `mapstructure:"tenant_id"`
}

type StateStorage struct {
	Type     string `mapstructure:"type"` // mysql, sqlite, memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type CollectorConfig struct {
	Workers          int    `mapstructure:"workers"`
	QueueSize        int    `mapstructure:"queue_size"`
	AcquireRetries   int    `mapstructure:"acquire_retries"`
	AcquireBackoff   string `mapstructure:"acquire_backoff"`
	LockStaleAfter   string `mapstructure:"lock_stale_after"`
	StorageTimeout   string `mapstructure:"storage_timeout"`
	TransportRetries int    `mapstructure:"transport_retries"`
}

func (c CollectorConfig) GetAcquireBackoff() time.Duration {
	return durationOr(c.AcquireBackoff, 200*time.Millisecond)
}

func (c CollectorConfig) GetLockStaleAfter() time.Duration {
	return durationOr(c.LockStaleAfter, 5*time.Minute)
}

func (c CollectorConfig) GetStorageTimeout() time.Duration {
	return durationOr(c.StorageTimeout, 10*time.Second)
}

// IdentityConfig carries the externally assigned worker id used for
// snowflake generation. Assignment must be collision-free across workers.
type IdentityConfig struct {
	WorkerID int64 `mapstructure:"worker_id"`
}

// ModelConfig maps a captured table onto a logical model and declares the
// cross-model references its merged document implies.
type ModelConfig struct {
	Name       string            `mapstructure:"name"`
	Table      string            `mapstructure:"table"`
	UniqueKey  string            `mapstructure:"unique_key"`
	References []ReferenceConfig `mapstructure:"references"`
}

// ReferenceConfig says: when dataContent carries Field, the object depends
// on the Model object identified by that field's value.
type ReferenceConfig struct {
	Field string `mapstructure:"field"`
	Model string `mapstructure:"model"`
}

// TopicConfig declares a topic schema and the backend that serves it.
type TopicConfig struct {
	TopicID string `mapstructure:"topic_id"`
	Name    string `mapstructure:"name"`
	Storage string `mapstructure:"storage"` // named storage key; empty = state storage
}

// PipelineDef subscribes a pipeline to a topic with an ordered action list.
type PipelineDef struct {
	PipelineID string         `mapstructure:"pipeline_id"`
	Name       string         `mapstructure:"name"`
	TopicID    string         `mapstructure:"topic_id"`
	Actions    []ActionConfig `mapstructure:"actions"`
}

type ActionConfig struct {
	Type       string `mapstructure:"type"` // insert-row, merge-row, delete-row, write-to-topic
	Collection string `mapstructure:"collection"`
	TopicID    string `mapstructure:"topic_id"`  // for write-to-topic
	KeyField   string `mapstructure:"key_field"` // record key column; defaults to "id"
}

type ReaperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(s.ReadTimeout, 15*time.Second)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(s.WriteTimeout, 15*time.Second)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("collector.workers", 4)
	v.SetDefault("collector.queue_size", 10000)
	v.SetDefault("collector.acquire_retries", 3)
	v.SetDefault("collector.transport_retries", 3)
	v.SetDefault("reaper.interval", "@every 1m")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ModelForTable resolves the model a captured table maps to.
func (c *Config) ModelForTable(table string) (*ModelConfig, bool) {
	for i := range c.Models {
		if c.Models[i].Table == table {
			return &c.Models[i], true
		}
	}
	return nil, false
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
