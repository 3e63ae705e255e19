package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caconnect/market-api/internal/handler"
	bookinghandler "github.com/caconnect/market-api/internal/handler/booking"
	paymenthandler "github.com/caconnect/market-api/internal/handler/payment"
	requesthandler "github.com/caconnect/market-api/internal/handler/request"
	reviewhandler "github.com/caconnect/market-api/internal/handler/review"
	"github.com/caconnect/market-api/internal/middleware"
)

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	h        *handler.Handler
	requestH *requesthandler.Handler
	paymentH *paymenthandler.Handler
	bookingH *bookinghandler.Handler
	reviewH  *reviewhandler.Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	h *handler.Handler,
	requestH *requesthandler.Handler,
	paymentH *paymenthandler.Handler,
	bookingH *bookinghandler.Handler,
	reviewH *reviewhandler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = 50
	}
	if config.RateLimitBurst <= 0 {
		config.RateLimitBurst = 100
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	rateLimiter := middleware.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst)
	engine.Use(rateLimiter.RateLimit())

	return &Router{
		engine:   engine,
		auth:     auth,
		h:        h,
		requestH: requestH,
		paymentH: paymentH,
		bookingH: bookingH,
		reviewH:  reviewH,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.setupHealthCheck(api)

	// Gateway callback authenticates by signature, not by bearer token.
	api.POST("/payments/verify", r.paymentH.Verify)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
		health.GET("/metrics", r.h.MetricsHandler)
	}
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/requests")
	{
		requests.POST("", r.requestH.Create)
		requests.GET("", r.requestH.List)
		requests.GET("/:id", r.requestH.Get)
		requests.POST("/:id/accept", r.requestH.Accept)
		requests.POST("/:id/reject", r.requestH.Reject)
		requests.POST("/:id/start", r.requestH.Start)
		requests.POST("/:id/complete", r.requestH.Complete)
		requests.POST("/:id/cancel", r.requestH.Cancel)
		requests.GET("/:id/review", r.reviewH.GetByRequest)
	}

	payments := rg.Group("/payments")
	{
		payments.POST("/orders", r.paymentH.CreateOrder)
		payments.GET("/:id", r.paymentH.Get)
		payments.POST("/:id/processing", r.paymentH.MarkProcessing)
		payments.POST("/:id/distribution", r.paymentH.AttachDistribution)
		payments.POST("/:id/distribute", r.paymentH.Distribute)
		payments.GET("/stuck", r.auth.RequireRole(middleware.RoleAdmin), r.paymentH.ListStuck)
	}
	rg.POST("/distributions/:distribution_id/approve", r.paymentH.ApproveDistribution)

	slots := rg.Group("/slots")
	{
		slots.POST("", r.bookingH.CreateSlot)
		slots.GET("", r.bookingH.ListSlots)
		slots.POST("/book", r.bookingH.Book)
	}

	rg.POST("/reviews", r.reviewH.Submit)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
