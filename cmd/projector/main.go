package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/shop-orders/internal/config"
	"github.com/ariefcatur/shop-orders/internal/httpx"
	kafkax "github.com/ariefcatur/shop-orders/internal/kafka"
	"github.com/ariefcatur/shop-orders/internal/logging"
	"github.com/ariefcatur/shop-orders/internal/metrics"
	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/ariefcatur/shop-orders/internal/projector"
	"github.com/ariefcatur/shop-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-projector"
	log := logging.MustNewLogger(name, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("invalid_config", zap.String("reason", "KAFKA_BROKERS is empty"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis holds both the status projection and the dedup marks.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	svc := &projector.Service{Cache: cache, Dedup: cache, Metrics: m, Log: log}

	// Consumer
	topics := orders.LifecycleTopics()
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, topics, cfg.ProjectorWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("projector_started",
			zap.String("group", cfg.ProjectorGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.ProjectorWorkers),
		)
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	// Health and metrics only; no order routes.
	srv := &http.Server{Addr: cfg.ProjectorHTTPAddr, Handler: httpx.NewRouter(log, m, reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down")
	cancel()
	<-done

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
