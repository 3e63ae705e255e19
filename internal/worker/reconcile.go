package worker

import (
	"context"
	"time"

	"github.com/caconnect/market-api/internal/service/escrow"
	"github.com/caconnect/market-api/pkg/logger"
)

type ReconcilerConfig struct {
	Interval  time.Duration
	StuckAge  time.Duration
	BatchSize int
}

// PaymentReconciler surfaces payments stuck in PENDING or PROCESSING past
// the stuck age. It only reports; deciding between failing the payment and
// replaying the gateway callback stays with an operator.
type PaymentReconciler struct {
	escrow *escrow.Service
	config ReconcilerConfig
	logger *logger.Logger
}

func NewPaymentReconciler(escrowSvc *escrow.Service, config ReconcilerConfig, logger *logger.Logger) *PaymentReconciler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.StuckAge <= 0 {
		config.StuckAge = 24 * time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &PaymentReconciler{
		escrow: escrowSvc,
		config: config,
		logger: logger.WithComponent("reconciler"),
	}
}

func (r *PaymentReconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("starting payment reconciler")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down payment reconciler")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *PaymentReconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.config.StuckAge)
	payments, err := r.escrow.ListStuckPending(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error(err, "failed to list stuck payments")
		return
	}
	for _, payment := range payments {
		r.logger.Warn("payment stuck awaiting gateway confirmation",
			"payment_id", payment.ID.String(),
			"request_id", payment.RequestID.String(),
			"status", string(payment.Status),
			"age", time.Since(payment.CreatedAt).String())
	}
}
