package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/chess-portal/pkg/metrics"
	"example.com/chess-portal/services/payment/internal/middleware"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация HTTP роутера платёжного сервиса.
type Router struct {
	engine         *gin.Engine
	paymentHandler *PaymentHandler
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Service        PaymentService
	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware("payment"))
	engine.Use(metrics.GinMetricsMiddleware("payment"))
	engine.Use(middleware.Tracing())

	r := &Router{
		engine:         engine,
		paymentHandler: NewPaymentHandler(cfg.Service),
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")

	if r.rateLimitMW != nil {
		v1.Use(r.rateLimitMW.Handle())
	}

	payments := v1.Group("/payments")

	// Callback провайдера — публичный: шлюз не умеет JWT портала.
	// Подлинность обеспечивает HMAC подпись тела.
	payments.POST("/callback", r.paymentHandler.Callback)

	// Остальные платёжные маршруты — только для аутентифицированных.
	authed := payments.Group("")
	if r.authMW != nil {
		authed.Use(r.authMW.Handle())
	}
	{
		authed.POST("/membership", r.paymentHandler.InitiateMembership)
		authed.POST("/tournament", r.paymentHandler.InitiateTournament)
		authed.POST("/certification", r.paymentHandler.InitiateCertification)
		authed.GET("/status/:orderId", r.paymentHandler.GetStatus)
		authed.GET("/history", r.paymentHandler.GetHistory)
		authed.POST("/:orderId/refund", middleware.RequireAdmin(), r.paymentHandler.Refund)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
