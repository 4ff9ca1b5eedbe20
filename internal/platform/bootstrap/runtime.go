// Package bootstrap wires a service binary: config, connections, stores,
// consumers and the HTTP server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cashflow/platform/internal/messaging"
	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/platform/dbpool"
	"github.com/cashflow/platform/internal/platform/logging"
	"github.com/cashflow/platform/internal/platform/natsutil"
	"github.com/cashflow/platform/internal/platform/server"
	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/store"
	"github.com/cashflow/platform/internal/store/postgres"
	"github.com/cashflow/platform/internal/store/redisstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 1500 * time.Millisecond

// Runtime owns the connections of one service process.
type Runtime struct {
	Config Config
	Log    *log.Entry
	NATS   *natsutil.Client
	Pool   *pgxpool.Pool
	Redis  *redis.Client

	tables []postgres.SchemaEnsurer
}

// Open connects to NATS and to the configured store.
func Open(ctx context.Context, cfg Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: logging.New(cfg.Service, cfg.LogLevel)}

	client, err := natsutil.Connect(ctx, natsutil.Options{
		URL:     cfg.NATSURL,
		Name:    cfg.Service,
		Timeout: cfg.NATSConnectTimeout,
		Log:     rt.Log,
	})
	if err != nil {
		return nil, err
	}
	rt.NATS = client

	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Pool = pool
	case DriverRedis:
		client, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
	default:
		rt.Log.Warn("using the in-memory store, state is lost on restart")
	}
	return rt, nil
}

// Backend returns the store for one entity set. name is the table or key
// prefix.
func Backend[T any](rt *Runtime, name string) store.Backend[T] {
	switch {
	case rt.Pool != nil:
		table := postgres.NewTable[T](rt.Pool, name)
		rt.tables = append(rt.tables, table)
		return table
	case rt.Redis != nil:
		return redisstore.NewHash[T](rt.Redis, name)
	default:
		return store.NewMemory[T]()
	}
}

func (rt *Runtime) Bus() replication.Bus {
	return natsutil.JetStreamPublisher{JS: rt.NATS.JS}
}

func (rt *Runtime) Tokens() auth.Manager {
	return auth.NewManager(rt.Config.JWTSecret, rt.Config.TokenTTL)
}

func (rt *Runtime) checks() map[string]server.Check {
	checks := map[string]server.Check{
		"nats": func(context.Context) error {
			if !rt.NATS.Connected() {
				return errors.New("nats is not connected")
			}
			return nil
		},
	}
	switch {
	case rt.Pool != nil:
		checks["postgres"] = rt.Pool.Ping
	case rt.Redis != nil:
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	for name, check := range checks {
		checks[name] = withTimeout(check)
	}
	return checks
}

func withTimeout(check server.Check) server.Check {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		return check(ctx)
	}
}

// Consumers subscribes one durable pull consumer per route.
func (rt *Runtime) Consumers(routes []replication.Route) ([]*messaging.Consumer, error) {
	cfg := rt.Config
	consumers := make([]*messaging.Consumer, 0, len(routes))
	for _, route := range routes {
		sub, err := messaging.PullSubscribe(rt.NATS.JS, cfg.Service, route.EventType, messaging.SubscribeOptions{
			Prefetch: cfg.Prefetch,
			AckWait:  cfg.AckWait,
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", route.EventType, err)
		}
		consumers = append(consumers, &messaging.Consumer{
			Name:           messaging.DurableName(cfg.Service, route.EventType),
			Fetcher:        messaging.PullFetcher{Sub: sub, MaxWait: cfg.FetchWait},
			Handler:        route.Handler,
			DeadLetters:    messaging.JetStreamDeadLetters{JS: rt.NATS.JS},
			Prefetch:       cfg.Prefetch,
			Workers:        cfg.Workers,
			ParkRetryDelay: cfg.Redelivery.Delay,
			Log:            rt.Log,
		})
	}
	return consumers, nil
}

// Serve prepares the schema, then runs the consumers and the HTTP API until
// ctx is cancelled or one of them fails.
func (rt *Runtime) Serve(ctx context.Context, api http.Handler, routes []replication.Route) error {
	if rt.Pool != nil {
		err := postgres.WaitReady(ctx, rt.Pool, rt.Config.SchemaTimeout, func(err error) {
			rt.Log.WithError(err).Warn("waiting for postgres schema")
		}, rt.tables...)
		if err != nil {
			return fmt.Errorf("prepare schema: %w", err)
		}
	}
	consumers, err := rt.Consumers(routes)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return messaging.RunAll(ctx, consumers...)
	})
	g.Go(func() error {
		return server.Run(ctx, rt.Config.Addr, server.Router(api, rt.checks()), rt.Config.ShutdownTimeout, rt.Log)
	})
	rt.Log.WithField("consumers", len(consumers)).Info("service started")
	return g.Wait()
}

func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	rt.NATS.Close()
}
