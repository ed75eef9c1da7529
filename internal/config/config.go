package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Retry     RetryConfig     `mapstructure:"retry"`
	History   HistoryConfig   `mapstructure:"history"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
}

type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	HistoryKey  string        `mapstructure:"history_key"`
}

type IngestionConfig struct {
	ErrorStream        string        `mapstructure:"error_stream"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	ConsumerName       string        `mapstructure:"consumer_name"`
	Concurrency        int           `mapstructure:"concurrency"`
	ReadCount          int64         `mapstructure:"read_count"`
	BlockTimeout       time.Duration `mapstructure:"block_timeout"`
	RedeliverAfter     time.Duration `mapstructure:"redeliver_after"`
	MaxConflictRetries int           `mapstructure:"max_conflict_retries"`
}

type RetryConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	Parallelism     int           `mapstructure:"parallelism"`
	MaxSendAttempts int           `mapstructure:"max_send_attempts"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PickLimit       int           `mapstructure:"pick_limit"`
}

type HistoryConfig struct {
	Depth int `mapstructure:"depth"`
}

type WorkersConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	OutboxMaxRetry  int           `mapstructure:"outbox_max_retry"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReplaySize        int           `mapstructure:"replay_size"`
	EventStream       string        `mapstructure:"event_stream"`
	EventStreamMaxLen int64         `mapstructure:"event_stream_max_len"`
}

type AuthConfig struct {
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	SigningKey      string        `mapstructure:"signing_key"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/recoverflow?charset=utf8mb4&parseTime=True&loc=UTC")
	v.SetDefault("mysql.auto_migrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.history_key", "/recoverflow/retry-history")

	v.SetDefault("ingestion.error_stream", "error")
	v.SetDefault("ingestion.consumer_group", "recoverflow")
	v.SetDefault("ingestion.consumer_name", "recoverflow-1")
	v.SetDefault("ingestion.concurrency", 4)
	v.SetDefault("ingestion.read_count", 32)
	v.SetDefault("ingestion.block_timeout", 2*time.Second)
	v.SetDefault("ingestion.redeliver_after", 30*time.Second)
	v.SetDefault("ingestion.max_conflict_retries", 5)

	v.SetDefault("retry.batch_size", 1000)
	v.SetDefault("retry.parallelism", 4)
	v.SetDefault("retry.max_send_attempts", 3)
	v.SetDefault("retry.stale_after", 5*time.Minute)
	v.SetDefault("retry.poll_interval", 2*time.Second)
	v.SetDefault("retry.pick_limit", 20)

	v.SetDefault("history.depth", 50)

	v.SetDefault("workers.outbox_interval", time.Second)
	v.SetDefault("workers.outbox_batch_size", 50)
	v.SetDefault("workers.outbox_max_retry", 5)

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.replay_size", 1000)
	v.SetDefault("stream.event_stream", "recoverflow.events")
	v.SetDefault("stream.event_stream_max_len", 100000)

	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.signing_key", "recoverflow-dev-signing-key")
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin")

	v.SetDefault("ratelimit.requests_per_second", 20)
}

func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RECOVERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, defaults and env cover every key
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}
