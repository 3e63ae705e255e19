package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caconnect/market-api/internal/service/escrow"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/metrics"
)

type AutoReleaseConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// AutoReleaseScheduler sweeps escrowed payments whose hold period elapsed
// and releases them. Multiple instances may run at once; the batch query
// locks rows per instance and the release itself is a guarded transition,
// so a payment is released exactly once no matter how many sweepers race.
type AutoReleaseScheduler struct {
	escrow  *escrow.Service
	config  AutoReleaseConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAutoReleaseScheduler(escrowSvc *escrow.Service, config AutoReleaseConfig, logger *logger.Logger, m *metrics.Metrics) *AutoReleaseScheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 6 * time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &AutoReleaseScheduler{
		escrow:  escrowSvc,
		config:  config,
		logger:  logger.WithComponent("auto_release"),
		metrics: m,
	}
}

func (s *AutoReleaseScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("starting auto-release scheduler",
		"sweep_interval", s.config.SweepInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down auto-release scheduler")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error(err, "auto-release sweep failed")
			}
		}
	}
}

// Sweep runs one pass. Exported so an operator endpoint or test can trigger
// it without waiting for the ticker.
func (s *AutoReleaseScheduler) Sweep(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.AutoReleaseSweeps.Inc()
		timer := prometheus.NewTimer(s.metrics.AutoReleaseLatency)
		defer timer.ObserveDuration()
	}

	payments, err := s.escrow.ListAutoReleasable(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AutoReleaseEligible.Set(float64(len(payments)))
	}
	if len(payments) == 0 {
		return nil
	}

	released, conflicts := 0, 0
	for _, payment := range payments {
		won, err := s.escrow.ReleaseOnSchedule(ctx, payment)
		if err != nil {
			s.logger.Error(err, "failed to auto-release payment",
				"payment_id", payment.ID.String())
			continue
		}
		if won {
			released++
		} else {
			conflicts++
			if s.metrics != nil {
				s.metrics.AutoReleaseConflicts.Inc()
			}
		}
	}

	s.logger.Info("auto-release sweep finished",
		"eligible", len(payments), "released", released, "conflicts", conflicts)
	return nil
}
