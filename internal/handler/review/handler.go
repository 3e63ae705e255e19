package review

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/handler"
	"github.com/caconnect/market-api/internal/middleware"
	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/service/review"
	"github.com/caconnect/market-api/pkg/validator"
)

type Handler struct {
	service   *review.Service
	validator *validator.Validator
}

func NewHandler(service *review.Service, v *validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) Submit(c *gin.Context) {
	var input model.SubmitReviewInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if actorID, ok := middleware.ActorID(c); ok {
		input.ClientID = actorID
	}
	if err := h.validator.Validate(&input); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	rev, err := h.service.Submit(c.Request.Context(), &input)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusCreated, rev)
}

func (h *Handler) GetByRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}

	rev, err := h.service.GetByRequest(c.Request.Context(), requestID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, rev)
}
