package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fenrir/api/httpserver"
	"fenrir/auth"
	"fenrir/config"
	"fenrir/domain/engine"
	"fenrir/infra/kafka"
	"fenrir/infra/outbox"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
	"fenrir/jobs/broadcaster"
	"fenrir/jobs/expiry"
	"fenrir/jobs/snapshotter"
	"fenrir/service"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---------------- Entry WAL ----------------

	entryWAL, err := wal.Open(wal.Config{
		Dir:         cfg.WALDir,
		SegmentSize: cfg.WALSegmentSize,
	})
	if err != nil {
		log.Fatalf("entry WAL init failed: %v", err)
	}
	defer entryWAL.Close()

	// ---------------- Trade outbox ----------------

	tradeOutbox, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		log.Fatalf("trade outbox init failed: %v", err)
	}
	defer tradeOutbox.Close()

	// ---------------- Domain ----------------

	eng := engine.New()
	seqGen := sequence.New(0)

	// ---------------- Replay ----------------

	if err := service.Replay(cfg.WALDir, cfg.SnapshotDir, eng, seqGen, logger); err != nil {
		log.Fatalf("WAL replay failed: %v", err)
	}

	// ---------------- Outbound producer ----------------

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)
		defer producer.Close()
	}

	// ---------------- Service ----------------

	svc := service.NewOrderService(eng, seqGen, entryWAL, tradeOutbox, producer, logger)
	defer svc.Close()

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go expiry.New(svc, cfg.ExpiryInterval, logger).Run(ctx)
	go snapshotter.New(eng, seqGen, entryWAL, cfg.SnapshotDir, cfg.SnapshotInterval, logger).Run(ctx)

	if cfg.Kafka.Enabled {
		bc, err := broadcaster.New(tradeOutbox, cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, logger)
		if err != nil {
			log.Fatalf("broadcaster init failed: %v", err)
		}
		defer bc.Close()
		go bc.Run(ctx)
	}

	// ---------------- Transport ----------------

	var redisClient redis.Cmdable
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
	}

	authn := auth.New(jwtSecret(cfg, logger), 24*time.Hour)
	srv := httpserver.New(
		svc,
		authn,
		redisClient,
		cfg.Redis.BucketSize,
		cfg.Redis.RefillRate,
		cfg.CORSOrigin,
		logger,
	)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Routes(),
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exited: %v", err)
		}
	}()

	// ---------------- Shutdown ----------------

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	_ = entryWAL.Sync()
}

// jwtSecret prefers the configured secret; without one it generates
// a random per-process secret, which invalidates tokens on restart.
func jwtSecret(cfg *config.Config, logger *slog.Logger) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("jwt secret generation failed: %v", err)
	}
	logger.Warn("JWT_SECRET not set, using generated secret")
	return hex.EncodeToString(buf)
}
