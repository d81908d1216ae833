package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"netpilot/internal/ai"
	"netpilot/internal/crypto"
	"netpilot/internal/metrics"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

// Server is the HTTP surface: the JSON API under /api/v1, the rendered
// pages, and the health and metrics endpoints.
type Server struct {
	engine  *gin.Engine
	store   *storage.Store
	ai      *ai.Service
	keyring *crypto.Keyring
	limiter *queue.RateLimiter
	jobs    *queue.StreamQueue
	redis   *redis.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	Store        *storage.Store
	AI           *ai.Service
	Keyring      *crypto.Keyring
	Limiter      *queue.RateLimiter
	Jobs         *queue.StreamQueue
	Redis        *redis.Client
	TemplatesDir string
	HealthPath   string
	MetricsPath  string
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		store:   cfg.Store,
		ai:      cfg.AI,
		keyring: cfg.Keyring,
		limiter: cfg.Limiter,
		jobs:    cfg.Jobs,
		redis:   cfg.Redis,
		logger:  cfg.Logger,
		metrics: m,
	}

	engine.Use(s.requestLogger())

	if cfg.TemplatesDir != "" {
		engine.LoadHTMLGlob(cfg.TemplatesDir + "/*.html")
		s.registerPages()
	}

	engine.GET(cfg.HealthPath, s.handleHealth)
	engine.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		chat := api.Group("/chat")
		chat.POST("/send", s.handleChatSend)
		chat.GET("/history/:session_id", s.handleChatHistory)
		chat.GET("/sessions", s.handleChatSessions)
		chat.DELETE("/sessions/:session_id", s.handleChatDeleteSession)
		chat.POST("/generate-config", s.handleGenerateConfig)
		chat.POST("/validate-config", s.handleValidateConfig)

		settings := api.Group("/genai-settings")
		settings.GET("/api-keys", s.handleListAPIKeys)
		settings.POST("/api-keys", s.handleAddAPIKey)
		settings.DELETE("/api-keys/:id", s.handleDeleteAPIKey)
		settings.POST("/test-connection", s.handleTestConnection)
		settings.GET("/:section", s.handleGetSettings)
		settings.PUT("/:section", s.handlePutSettings)

		devices := api.Group("/devices")
		devices.GET("", s.handleListDevices)
		devices.POST("", s.handleCreateDevice)
		devices.GET("/:id", s.handleGetDevice)
		devices.PUT("/:id", s.handleUpdateDevice)
		devices.DELETE("/:id", s.handleDeleteDevice)
		devices.POST("/:id/status", s.handleDeviceStatus)

		dash := api.Group("/dashboard")
		dash.GET("/stats", s.handleDashboardStats)
		dash.GET("/recent-operations", s.handleRecentOperations)

		api.GET("/operations", s.handleListOperations)

		auto := api.Group("/automation")
		auto.POST("/jobs", s.handleEnqueueJob)
		auto.GET("/jobs/:id", s.handleGetJob)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := gin.H{"status": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		out["status"] = "degraded"
		out["database"] = err.Error()
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status = http.StatusServiceUnavailable
			out["status"] = "degraded"
			out["redis"] = err.Error()
		}
	}
	c.JSON(status, out)
}

// errorJSON is the uniform error body for the JSON API.
func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}
