package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cashflow/platform/internal/app/replay"
	"github.com/cashflow/platform/internal/platform/env"
	"github.com/cashflow/platform/internal/platform/logging"
	"github.com/cashflow/platform/internal/platform/metrics"
	"github.com/cashflow/platform/internal/platform/natsutil"
	"github.com/cashflow/platform/internal/replication"
	log "github.com/sirupsen/logrus"
)

type config struct {
	NATSURL     string
	Users       int
	Versions    int
	Duplicates  int
	Seed        int
	Rate        int
	Duration    time.Duration
	MetricsAddr string
	LogLevel    string
}

func loadConfig() config {
	return config{
		NATSURL:     env.String("NATS_URL", env.DefaultNATSURL),
		Users:       env.Int("REPLAY_USERS", 100),
		Versions:    env.Int("REPLAY_VERSIONS", 10),
		Duplicates:  env.Int("REPLAY_DUPLICATE_PERCENT", 20),
		Seed:        env.Int("REPLAY_SEED", 0),
		Rate:        env.Int("REPLAY_RATE", 500),
		Duration:    env.Duration("REPLAY_DURATION", 10*time.Minute),
		MetricsAddr: env.String("REPLAY_METRICS_ADDR", ":9099"),
		LogLevel:    env.String("LOG_LEVEL", "info"),
	}
}

func main() {
	cfg := loadConfig()
	logger := logging.New("replay", cfg.LogLevel)
	if cfg.Users <= 0 || cfg.Versions <= 0 {
		logger.Fatal("REPLAY_USERS and REPLAY_VERSIONS must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	go runMetricsServer(cfg.MetricsAddr, logger)

	client, err := natsutil.Connect(ctx, natsutil.Options{
		URL:     cfg.NATSURL,
		Name:    "replay",
		Timeout: 20 * time.Second,
		Log:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("connect nats")
	}
	defer client.Close()

	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	runID := strconv.FormatUint(seed, 36)
	history := replay.History(runID, cfg.Users, cfg.Versions, time.Now().UTC())
	deliveries := replay.Scramble(history, float64(cfg.Duplicates)/100, rand.New(rand.NewPCG(seed, seed)))

	logger.WithFields(log.Fields{
		"run_id":     runID,
		"events":     len(history),
		"deliveries": len(deliveries),
	}).Info("replay started")

	emitter := replication.Emitter{Bus: natsutil.JetStreamPublisher{JS: client.JS}, Log: logger}
	published, failed := replay.Publish(ctx, emitter, deliveries, float64(cfg.Rate), logger)

	logger.WithFields(log.Fields{
		"run_id":    runID,
		"published": published,
		"failed":    failed,
	}).Info("replay finished")
}

func runMetricsServer(addr string, logger *log.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithField("addr", addr).Info("replay metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("replay metrics server failed")
	}
}
