package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alleraid-api/internal/handler"
	"github.com/jwalitptl/alleraid-api/internal/handler/health"
	"github.com/jwalitptl/alleraid-api/internal/handler/prometheus"
	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
)

const APIVersion = "1.0"

type RouterConfig struct {
	// Mode is the gin mode; empty means release.
	Mode             string
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORSConfig       middleware.CORSConfig
	Security         middleware.SecurityConfig
	MaxBodyBytes     int64
	MetricsPath      string
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	health   *health.Handler
	metrics  *prometheus.Handler
	handlers []handler.RouteRegistrar
	config   RouterConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
	log *logger.Logger,
	handlers ...handler.RouteRegistrar,
) *Router {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorHandler(log),
	)
	if metricsH != nil {
		engine.Use(metricsH.Middleware())
	}
	engine.Use(
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodyBytes),
	)

	return &Router{
		engine:   engine,
		auth:     auth,
		health:   healthH,
		metrics:  metricsH,
		handlers: handlers,
		config:   config,
	}
}

func (r *Router) Setup() {
	if r.metrics != nil {
		path := r.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, r.metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	api.Use(middleware.APIVersion(APIVersion))

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	if r.config.RateLimitEnabled {
		protected.Use(middleware.NewRateLimiter(r.config.RateLimit).RateLimit())
	}
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
