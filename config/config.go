// Package config loads server configuration from a yaml file with
// environment overrides.
package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type HTTPServer struct {
	Addr       string `yaml:"address" env:"HTTP_ADDR" env-default:":8080"`
	CORSOrigin string `yaml:"cors_origin" env:"CORS_ORIGIN" env-default:"*"`
}

type Kafka struct {
	Enabled    bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	TradeTopic string   `yaml:"trade_topic" env:"KAFKA_TRADE_TOPIC" env-default:"trades"`
	OrderTopic string   `yaml:"order_topic" env:"KAFKA_ORDER_TOPIC" env-default:"orders"`
}

type Redis struct {
	Enabled    bool    `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr       string  `yaml:"address" env:"REDIS_ADDR" env-default:"localhost:6379"`
	BucketSize int64   `yaml:"bucket_size" env:"RATE_BUCKET_SIZE" env-default:"20"`
	RefillRate float64 `yaml:"refill_rate" env:"RATE_REFILL_RATE" env-default:"10"`
}

type Config struct {
	Env              string        `yaml:"env" env:"ENV" env-default:"production"`
	WALDir           string        `yaml:"wal_dir" env:"WAL_DIR" env-default:"./data/wal"`
	OutboxDir        string        `yaml:"outbox_dir" env:"OUTBOX_DIR" env-default:"./data/outbox"`
	SnapshotDir      string        `yaml:"snapshot_dir" env:"SNAPSHOT_DIR" env-default:"./data/snapshot"`
	WALSegmentSize   int64         `yaml:"wal_segment_size" env:"WAL_SEGMENT_SIZE" env-default:"2097152"`
	ExpiryInterval   time.Duration `yaml:"expiry_interval" env:"EXPIRY_INTERVAL" env-default:"5s"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL" env-default:"60s"`
	JWTSecret        string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:""`
	HTTPServer       `yaml:"http_server"`
	Kafka            Kafka `yaml:"kafka"`
	Redis            Redis `yaml:"redis"`
}

// MustLoad reads configuration from CONFIG_PATH or -config. With
// neither set it falls back to env-defaults only.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		flagPath := flag.String("config", "", "path to config file")
		flag.Parse()
		configPath = *flagPath
	}

	var cfg Config
	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			log.Fatalf("unable to load config from env: %s", err)
		}
		return &cfg
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", configPath)
	}
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("unable to load config: %s", err)
	}
	return &cfg
}
