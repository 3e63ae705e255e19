package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caconnect/market-api/internal/config"
	"github.com/caconnect/market-api/internal/gateway"
	"github.com/caconnect/market-api/internal/handler"
	bookingHandler "github.com/caconnect/market-api/internal/handler/booking"
	paymentHandler "github.com/caconnect/market-api/internal/handler/payment"
	requestHandler "github.com/caconnect/market-api/internal/handler/request"
	reviewHandler "github.com/caconnect/market-api/internal/handler/review"
	"github.com/caconnect/market-api/internal/middleware"
	"github.com/caconnect/market-api/internal/repository/postgres"
	"github.com/caconnect/market-api/internal/router"
	assignmentService "github.com/caconnect/market-api/internal/service/assignment"
	bookingService "github.com/caconnect/market-api/internal/service/booking"
	escrowService "github.com/caconnect/market-api/internal/service/escrow"
	eventService "github.com/caconnect/market-api/internal/service/event"
	requestService "github.com/caconnect/market-api/internal/service/request"
	reviewService "github.com/caconnect/market-api/internal/service/review"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/metrics"
	"github.com/caconnect/market-api/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("market", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Repositories
	requestRepo := postgres.NewRequestRepository(db)
	slotRepo := postgres.NewSlotRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	distributionRepo := postgres.NewDistributionRepository(db)
	reviewRepo := postgres.NewReviewRepository(db)
	providerRepo := postgres.NewProviderRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	eventSvc := eventService.NewService(outboxRepo, appLogger)
	assignmentSvc := assignmentService.NewService(providerRepo, appLogger)
	gatewayClient := gateway.NewClient(cfg.Gateway, appMetrics)
	escrowSvc := escrowService.NewService(
		paymentRepo, requestRepo, distributionRepo,
		gatewayClient, assignmentSvc, eventSvc,
		cfg.Escrow.HoldPeriod, appLogger, appMetrics,
	)
	requestSvc := requestService.NewService(
		requestRepo, paymentRepo, providerRepo,
		assignmentSvc, assignmentSvc, appLogger, appMetrics,
	)
	bookingSvc := bookingService.NewService(slotRepo, requestRepo, appLogger, appMetrics)
	reviewSvc := reviewService.NewService(reviewRepo, requestRepo, escrowSvc, appLogger)

	// Handlers
	v := validator.New()
	h := handler.NewHandler()
	requestH := requestHandler.NewHandler(requestSvc, v)
	paymentH := paymentHandler.NewHandler(escrowSvc, v)
	bookingH := bookingHandler.NewHandler(bookingSvc, v)
	reviewH := reviewHandler.NewHandler(reviewSvc, v)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r := router.NewRouter(authMiddleware, h, requestH, paymentH, bookingH, reviewH, router.RouterConfig{
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		appLogger.Info("starting API server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "forced shutdown")
	}
}
