package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/caconnect/market-api/internal/config"
	"github.com/caconnect/market-api/internal/gateway"
	"github.com/caconnect/market-api/internal/repository/postgres"
	assignmentService "github.com/caconnect/market-api/internal/service/assignment"
	escrowService "github.com/caconnect/market-api/internal/service/escrow"
	eventService "github.com/caconnect/market-api/internal/service/event"
	"github.com/caconnect/market-api/internal/worker"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/messaging/redis"
	"github.com/caconnect/market-api/pkg/metrics"
	pkgworker "github.com/caconnect/market-api/pkg/worker"
)

// workerEnv are the runtime knobs specific to the worker process,
// overridable without touching the shared config file.
type workerEnv struct {
	HealthPort       int           `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxPoll       time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	OutboxRetries    int           `envconfig:"OUTBOX_RETRY_ATTEMPTS" default:"3"`
	OutboxRetryDelay time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"1s"`
	ReconcileEvery   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1h"`
	StuckAge         time.Duration `envconfig:"RECONCILE_STUCK_AGE" default:"24h"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var env workerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to process environment")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("market", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	zl := log.Logger
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
	}, &zl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	requestRepo := postgres.NewRequestRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	distributionRepo := postgres.NewDistributionRepository(db)
	providerRepo := postgres.NewProviderRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	eventSvc := eventService.NewService(outboxRepo, appLogger)
	assignmentSvc := assignmentService.NewService(providerRepo, appLogger)
	gatewayClient := gateway.NewClient(cfg.Gateway, appMetrics)
	escrowSvc := escrowService.NewService(
		paymentRepo, requestRepo, distributionRepo,
		gatewayClient, assignmentSvc, eventSvc,
		cfg.Escrow.HoldPeriod, appLogger, appMetrics,
	)

	outboxProcessor := pkgworker.NewOutboxProcessor(outboxRepo, broker, pkgworker.OutboxProcessorConfig{
		BatchSize:     env.OutboxBatchSize,
		PollInterval:  env.OutboxPoll,
		RetryAttempts: env.OutboxRetries,
		RetryDelay:    env.OutboxRetryDelay,
	}, appLogger, appMetrics)

	autoRelease := worker.NewAutoReleaseScheduler(escrowSvc, worker.AutoReleaseConfig{
		SweepInterval: cfg.Scheduler.SweepInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
	}, appLogger, appMetrics)

	reconciler := worker.NewPaymentReconciler(escrowSvc, worker.ReconcilerConfig{
		Interval:  env.ReconcileEvery,
		StuckAge:  env.StuckAge,
		BatchSize: cfg.Scheduler.BatchSize,
	}, appLogger)

	setupHealthCheck(env.HealthPort, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		outboxProcessor.Start,
		autoRelease.Start,
		reconciler.Start,
	} {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(run)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down workers")
	cancel()
	wg.Wait()
}

func setupHealthCheck(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		addr := fmt.Sprintf(":%d", port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			appLogger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
