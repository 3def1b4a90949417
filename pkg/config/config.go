// Package config loads process settings from the environment and pool
// definitions from a YAML file.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load reads an optional .env file, then parses the environment into cfg.
func Load[T any](cfg *T) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return env.Parse(cfg)
}

// MustLoad is Load that panics on error.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Config holds the process settings.
type Config struct {
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	PoolsFile   string `env:"POOLS_FILE" envDefault:"./pools.yaml"`

	WAL      WALConfig      `envPrefix:"WAL_"`
	Snapshot SnapshotConfig `envPrefix:"SNAPSHOT_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
}

type WALConfig struct {
	SegmentSize     int64         `env:"SEGMENT_SIZE" envDefault:"2097152"`
	SegmentDuration time.Duration `env:"SEGMENT_DURATION" envDefault:"1m"`
	Sync            bool          `env:"SYNC" envDefault:"true"`
}

type SnapshotConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
	// Store is "file" or "redis".
	Store string `env:"STORE" envDefault:"file"`
	Key   string `env:"KEY" envDefault:"hybridbook:snapshot"`
}

// KafkaConfig is optional: without brokers the event feed and the
// settlement relay are disabled.
type KafkaConfig struct {
	Brokers         []string      `env:"BROKERS" envSeparator:","`
	EventsTopic     string        `env:"EVENTS_TOPIC" envDefault:"hybridbook.events"`
	SettlementTopic string        `env:"SETTLEMENT_TOPIC" envDefault:"hybridbook.settlement"`
	RelayInterval   time.Duration `env:"RELAY_INTERVAL" envDefault:"250ms"`
	EventQueue      int           `env:"EVENT_QUEUE" envDefault:"4096"`
}

type RedisConfig struct {
	Addr     string `env:"ADDRESS"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}
