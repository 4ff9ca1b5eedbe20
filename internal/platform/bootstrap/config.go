package bootstrap

import (
	"time"

	"github.com/cashflow/platform/internal/platform/dbpool"
	"github.com/cashflow/platform/internal/platform/env"
	"github.com/cashflow/platform/internal/replication"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

const defaultJitter = 0.2

// Config is everything a service binary reads from the environment.
type Config struct {
	Service            string
	Addr               string
	AllowedOrigin      string
	NATSURL            string
	NATSConnectTimeout time.Duration
	StoreDriver        string
	DatabaseURL        string
	DB                 dbpool.Config
	RedisURL           string
	SchemaTimeout      time.Duration
	JWTSecret          string
	TokenTTL           time.Duration
	LogLevel           string
	ShutdownTimeout    time.Duration
	Prefetch           int
	Workers            int
	FetchWait          time.Duration
	AckWait            time.Duration
	Redelivery         replication.Policy
}

func LoadConfig(service string) Config {
	prefetch := env.Int("CONSUMER_PREFETCH", 16)
	cfg := Config{
		Service:            service,
		Addr:               env.String("SERVICE_ADDR", env.DefaultAddr),
		AllowedOrigin:      env.String("UI_ORIGINS", "http://localhost:8081"),
		NATSURL:            env.String("NATS_URL", env.DefaultNATSURL),
		NATSConnectTimeout: env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second),
		StoreDriver:        env.OneOf("STORE_DRIVER", env.DefaultStoreDriver, DriverPostgres, DriverRedis, DriverMemory),
		DatabaseURL:        env.String("DATABASE_URL", env.DefaultDatabaseURL),
		DB:                 dbpool.ConfigFromEnv(),
		RedisURL:           env.String("REDIS_URL", env.DefaultRedisURL),
		SchemaTimeout:      env.Duration("SCHEMA_TIMEOUT", 30*time.Second),
		JWTSecret:          env.String("JWT_SECRET", env.DefaultJWTSecret),
		TokenTTL:           env.Duration("JWT_TTL", 24*time.Hour),
		LogLevel:           env.String("LOG_LEVEL", "info"),
		ShutdownTimeout:    env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Prefetch:           prefetch,
		Workers:            env.Int("CONSUMER_WORKERS", prefetch),
		FetchWait:          env.Duration("CONSUMER_FETCH_WAIT", 2*time.Second),
		AckWait:            env.Duration("CONSUMER_ACK_WAIT", 30*time.Second),
		Redelivery: replication.Policy{
			Delay:       env.Duration("REDELIVERY_DELAY", replication.DefaultDelay),
			MaxDelay:    env.Duration("REDELIVERY_MAX_DELAY", replication.DefaultMaxDelay),
			Backoff:     replication.ParseBackoff(env.String("REDELIVERY_BACKOFF", string(replication.BackoffFixed))),
			MaxAttempts: env.Int("REDELIVERY_MAX_ATTEMPTS", 0),
		},
	}
	if cfg.Redelivery.Backoff == replication.BackoffExponential {
		cfg.Redelivery.Jitter = env.Float("REDELIVERY_JITTER", defaultJitter)
	}
	if cfg.Redelivery.MaxAttempts < 0 {
		cfg.Redelivery.MaxAttempts = 0
	}
	return cfg
}
