package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
)

type DBConfig struct {
	Type string `koanf:"type" validate:"required,oneof=file memory postgres"`
	Path string `koanf:"path" validate:"required_if=Type file"`
	DSN  string `koanf:"dsn" validate:"required_if=Type postgres"`
}

type LimiterConfig struct {
	Rate  float64 `koanf:"rate" validate:"gt=0"`
	Burst int     `koanf:"burst" validate:"gte=1"`
}

type RemoteConfig struct {
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
	PageSize            int           `koanf:"page_size" validate:"gte=1"`
	BatchSize           int           `koanf:"batch_size" validate:"gte=1"`
	FetchConcurrency    int           `koanf:"fetch_concurrency" validate:"gte=1,lte=64"`
	Rate                float64       `koanf:"rate" validate:"gt=0"`
	Burst               int           `koanf:"burst" validate:"gte=1"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests" validate:"gte=1"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio" validate:"gt=0,lte=1"`
	BreakerOpenTimeout  time.Duration `koanf:"breaker_open_timeout" validate:"gt=0"`
}

type SyncConfig struct {
	IncrementalOverlap  time.Duration `koanf:"incremental_overlap" validate:"gte=0"`
	EventLookback       time.Duration `koanf:"event_lookback" validate:"gt=0"`
	HistoryLookback     time.Duration `koanf:"history_lookback" validate:"gte=0"`
	LeaseTTL            time.Duration `koanf:"lease_ttl" validate:"gt=0"`
	TenantConcurrency   int           `koanf:"tenant_concurrency" validate:"gte=1"`
	FullInterval        time.Duration `koanf:"full_interval" validate:"gte=0"`
	IncrementalInterval time.Duration `koanf:"incremental_interval" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr" validate:"required_if=Enabled true"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type CacheConfig struct {
	TTL     time.Duration `koanf:"ttl" validate:"gt=0"`
	MaxCost int64         `koanf:"max_cost" validate:"gte=1"`
}

type NotifyConfig struct {
	NatsURL string `koanf:"nats_url"`
	Topic   string `koanf:"topic" validate:"required"`
}

type Config struct {
	DB      DBConfig      `koanf:"db"`
	HTTP    HostPort      `koanf:"http"`
	GRPC    HostPort      `koanf:"grpc"`
	Limiter LimiterConfig `koanf:"limiter"`
	Remote  RemoteConfig  `koanf:"remote"`
	Sync    SyncConfig    `koanf:"sync"`
	Redis   RedisConfig   `koanf:"redis"`
	Cache   CacheConfig   `koanf:"cache"`
	Notify  NotifyConfig  `koanf:"notify"`
}

type HostPort struct {
	HostPort string `koanf:"host_port"`
}

func Default() *Config {
	return &Config{
		DB: DBConfig{
			Type: "file",
			Path: "mirror.db",
		},
		HTTP: HostPort{HostPort: ":1080"},
		GRPC: HostPort{HostPort: ""},
		Limiter: LimiterConfig{
			Rate:  1,
			Burst: 3,
		},
		Remote: RemoteConfig{
			Timeout:             30 * time.Second,
			PageSize:            1000,
			BatchSize:           200,
			FetchConcurrency:    4,
			Rate:                20,
			Burst:               20,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
			BreakerOpenTimeout:  2 * time.Minute,
		},
		Sync: SyncConfig{
			IncrementalOverlap:  5 * time.Minute,
			EventLookback:       720 * time.Hour,
			HistoryLookback:     24 * time.Hour,
			LeaseTTL:            30 * time.Minute,
			TenantConcurrency:   4,
			FullInterval:        24 * time.Hour,
			IncrementalInterval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
		},
		Cache: CacheConfig{
			TTL:     10 * time.Minute,
			MaxCost: 1 << 22,
		},
		Notify: NotifyConfig{
			Topic: "mirror.run.completed",
		},
	}
}

var envMappings = map[string]string{
	common.EnvKeyMirrorDBType:                 "db.type",
	common.EnvKeyMirrorDbPath:                 "db.path",
	common.EnvKeyMirrorDbDSN:                  "db.dsn",
	common.EnvKeyMirrorHttpHostPort:           "http.host_port",
	common.EnvKeyMirrorGrpcHostPort:           "grpc.host_port",
	common.EnvKeyMirrorDefaultRate:            "limiter.rate",
	common.EnvKeyMirrorDefaultBurst:           "limiter.burst",
	common.EnvKeyMirrorRemoteTimeout:          "remote.timeout",
	common.EnvKeyMirrorRemotePageSize:         "remote.page_size",
	common.EnvKeyMirrorRemoteBatchSize:        "remote.batch_size",
	common.EnvKeyMirrorRemoteFetchConcurrency: "remote.fetch_concurrency",
	common.EnvKeyMirrorRemoteRate:             "remote.rate",
	common.EnvKeyMirrorRemoteBurst:            "remote.burst",
	common.EnvKeyMirrorBreakerMinRequests:     "remote.breaker_min_requests",
	common.EnvKeyMirrorBreakerFailureRatio:    "remote.breaker_failure_ratio",
	common.EnvKeyMirrorBreakerOpenTimeout:     "remote.breaker_open_timeout",
	common.EnvKeyMirrorIncrementalOverlap:     "sync.incremental_overlap",
	common.EnvKeyMirrorEventLookback:          "sync.event_lookback",
	common.EnvKeyMirrorHistoryLookback:        "sync.history_lookback",
	common.EnvKeyMirrorLeaseTTL:               "sync.lease_ttl",
	common.EnvKeyMirrorTenantConcurrency:      "sync.tenant_concurrency",
	common.EnvKeyMirrorFullInterval:           "sync.full_interval",
	common.EnvKeyMirrorIncrementalInterval:    "sync.incremental_interval",
	common.EnvKeyMirrorRedisEnabled:           "redis.enabled",
	common.EnvKeyMirrorRedisAddr:              "redis.addr",
	common.EnvKeyMirrorRedisPassword:          "redis.password",
	common.EnvKeyMirrorRedisDB:                "redis.db",
	common.EnvKeyMirrorCacheTTL:               "cache.ttl",
	common.EnvKeyMirrorCacheMaxCost:           "cache.max_cost",
	common.EnvKeyMirrorNatsURL:                "notify.nats_url",
	common.EnvKeyMirrorNotifyTopic:            "notify.topic",
}

// envTransformFunc maps known MIRROR_* variables onto config paths. Returning
// an empty key makes koanf skip the variable.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToUpper(key)]; ok {
		return path
	}
	return ""
}

// LoadDotEnv loads .env into the process environment. A missing file is only
// an error in development, where .env is expected to exist.
func LoadDotEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if err != nil && errors.Is(err, os.ErrNotExist) && !common.IsDevelopment() {
		return nil
	}
	return err
}

// Load layers defaults, an optional yaml file (CONFIG_PATH) and MIRROR_*
// environment variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := os.Getenv(common.EnvKeyConfigPath); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("MIRROR_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	return validate.Struct(c)
}
