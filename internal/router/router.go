package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/medication-api/internal/handler"
	"github.com/jwalitptl/medication-api/internal/middleware"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	h           *handler.Handler
	doseH       Handler
	adherenceH  Handler
	medicationH Handler
}

type RouterConfig struct {
	Mode             string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
	Metrics          *metrics.Metrics
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	h *handler.Handler,
	doseH Handler,
	adherenceH Handler,
	medicationH Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	r := &Router{
		engine:      engine,
		auth:        auth,
		h:           h,
		doseH:       doseH,
		adherenceH:  adherenceH,
		medicationH: medicationH,
	}

	// Add core middlewares. ErrorHandler sits outside Validation so that
	// field errors are rendered first.
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)
	if config.Metrics != nil {
		engine.Use(middleware.Metrics(config.Metrics))
	}

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	r.setupHealthCheck(r.engine.Group(""))

	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}
	rg.GET("/metrics", r.h.MetricsHandler)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	r.doseH.RegisterRoutes(rg)
	r.adherenceH.RegisterRoutes(rg)
	r.medicationH.RegisterRoutes(rg)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
