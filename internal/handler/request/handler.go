package request

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/handler"
	"github.com/caconnect/market-api/internal/middleware"
	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/service/request"
	"github.com/caconnect/market-api/pkg/validator"
)

type Handler struct {
	service   *request.Service
	validator *validator.Validator
}

func NewHandler(service *request.Service, v *validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) Create(c *gin.Context) {
	var input model.CreateRequestInput
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

	req, err := h.service.Create(c.Request.Context(), &input)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusCreated, req)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}

	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, req)
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.RequestFilters{}
	if id := c.Query("client_id"); id != "" {
		clientID, err := uuid.Parse(id)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid client ID"))
			return
		}
		filters.ClientID = clientID
	}
	if id := c.Query("provider_id"); id != "" {
		providerID, err := uuid.Parse(id)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid provider ID"))
			return
		}
		filters.ProviderID = providerID
	}
	if status := c.Query("status"); status != "" {
		filters.Status = model.RequestStatus(status)
	}

	requests, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, requests)
}

// acceptInput carries the optional assignment preference for firm accepts.
type acceptInput struct {
	Preference model.AssignmentPreference `json:"preference"`
}

func (h *Handler) Accept(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}
	actorID, ok := middleware.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	var input acceptInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	identity := model.ProviderIdentity{
		ProviderID: actorID,
		FirmID:     middleware.FirmID(c),
		Preference: input.Preference,
	}
	req, err := h.service.Accept(c.Request.Context(), id, identity)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, req)
}

type rejectInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}
	actorID, ok := middleware.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	var input rejectInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	identity := model.ProviderIdentity{ProviderID: actorID, FirmID: middleware.FirmID(c)}
	if err := h.service.Reject(c.Request.Context(), id, identity, input.Reason); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"request_id": id})
}

func (h *Handler) Start(c *gin.Context) {
	h.transition(c, h.service.Start)
}

func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, h.service.Complete)
}

type cancelInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}
	actorID, ok := middleware.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	var input cancelInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	if err := h.service.Cancel(c.Request.Context(), id, actorID, input.Reason); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"request_id": id})
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID, identity model.ProviderIdentity) error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}
	actorID, ok := middleware.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	identity := model.ProviderIdentity{ProviderID: actorID, FirmID: middleware.FirmID(c)}
	if err := fn(c.Request.Context(), id, identity); err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"request_id": id})
}
