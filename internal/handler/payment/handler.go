package payment

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/handler"
	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/service/escrow"
	"github.com/caconnect/market-api/pkg/validator"
)

type Handler struct {
	service   *escrow.Service
	validator *validator.Validator
}

func NewHandler(service *escrow.Service, v *validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

// CreateOrder opens the payment for a request and registers the gateway
// order.
func (h *Handler) CreateOrder(c *gin.Context) {
	var input model.CreatePaymentOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if err := h.validator.Validate(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	payment, err := h.service.CreateOrder(c.Request.Context(), &input)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusCreated, payment)
}

// Verify is the gateway callback: signature check then escrow hold.
func (h *Handler) Verify(c *gin.Context) {
	var input model.VerifyPaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if err := h.validator.Validate(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	payment, err := h.service.Verify(c.Request.Context(), &input)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, payment)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid payment ID"))
		return
	}

	payment, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, payment)
}

func (h *Handler) MarkProcessing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid payment ID"))
		return
	}

	if err := h.service.MarkProcessing(c.Request.Context(), id); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"payment_id": id})
}

// AttachDistribution creates the DRAFT payout split for a firm payment.
func (h *Handler) AttachDistribution(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid payment ID"))
		return
	}

	var input model.BuildDistributionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	input.PaymentID = paymentID
	if err := h.validator.Validate(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	dist, err := h.service.AttachDistribution(c.Request.Context(), input)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusCreated, dist)
}

func (h *Handler) ApproveDistribution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("distribution_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid distribution ID"))
		return
	}

	if err := h.service.ApproveDistribution(c.Request.Context(), id); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"distribution_id": id})
}

// ListStuck reports payments sitting in PENDING or PROCESSING past the
// given age. Reconciliation against the gateway stays a manual step.
func (h *Handler) ListStuck(c *gin.Context) {
	olderThan := 24 * time.Hour
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid older_than duration"))
			return
		}
		olderThan = d
	}

	payments, err := h.service.ListStuckPending(c.Request.Context(), time.Now().Add(-olderThan), 100)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, payments)
}

// Distribute applies an approved split to a released payment.
func (h *Handler) Distribute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid payment ID"))
		return
	}

	if err := h.service.Distribute(c.Request.Context(), id); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"payment_id": id})
}
