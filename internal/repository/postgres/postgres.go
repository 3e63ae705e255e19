package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/caconnect/market-api/internal/repository"
)

type requestRepository struct {
	BaseRepository
}

type slotRepository struct {
	BaseRepository
}

type paymentRepository struct {
	BaseRepository
}

type distributionRepository struct {
	BaseRepository
}

type reviewRepository struct {
	BaseRepository
}

type providerRepository struct {
	BaseRepository
}

func NewRequestRepository(db *sqlx.DB) repository.RequestRepository {
	return &requestRepository{NewBaseRepository(db)}
}

func NewSlotRepository(db *sqlx.DB) repository.SlotRepository {
	return &slotRepository{NewBaseRepository(db)}
}

func NewPaymentRepository(db *sqlx.DB) repository.PaymentRepository {
	return &paymentRepository{NewBaseRepository(db)}
}

func NewDistributionRepository(db *sqlx.DB) repository.DistributionRepository {
	return &distributionRepository{NewBaseRepository(db)}
}

func NewReviewRepository(db *sqlx.DB) repository.ReviewRepository {
	return &reviewRepository{NewBaseRepository(db)}
}

func NewProviderRepository(db *sqlx.DB) repository.ProviderRepository {
	return &providerRepository{NewBaseRepository(db)}
}
