// Package api exposes telemetry, findings and operator feedback over HTTP.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hydropulse/internal/alerting"
	"hydropulse/internal/api/handlers"
	"hydropulse/internal/api/middleware"
	"hydropulse/internal/api/models"
	"hydropulse/internal/config"
	"hydropulse/internal/feedback"
	"hydropulse/internal/gateway"
	"hydropulse/internal/link"
	"hydropulse/internal/metrics"
	"hydropulse/internal/pipeline"
	"hydropulse/internal/telemetry"
)

// Deps are the services behind the routes. Link, Alerts and Metrics may
// be nil.
type Deps struct {
	Config   config.APIConfig
	Store    *telemetry.Store
	Gateway  *gateway.Gateway
	Link     *link.Link
	Pipeline *pipeline.Pipeline
	Feedback *feedback.Service
	Alerts   *alerting.MemoryJournal
	Hub      *handlers.Hub
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.ErrorHandler(d.Logger))
	router.Use(middleware.Logger(d.Logger))
	router.Use(middleware.CORS(d.Config.AllowedOrigins))

	telemetryHandler := handlers.NewTelemetryHandler(d.Store, d.Gateway, d.Link)
	correlationHandler := handlers.NewCorrelationHandler(d.Store)
	feedbackHandler := handlers.NewFeedbackHandler(d.Feedback)
	statusHandler := handlers.NewStatusHandler(d.Pipeline, d.Link, d.Alerts)
	streamHandler := handlers.NewStreamHandler(d.Hub, d.Store)
	ingestHandler := handlers.NewIngestHandler(d.Gateway, d.Logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"gateway": d.Gateway.Status(),
			"mode":    handlers.Mode(d.Link),
		})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	limiter := middleware.NewRateLimiter(d.Config.RateLimit, d.Config.RateBurst)
	api := router.Group("/api/v1")
	{
		// Long-lived websockets are not rate limited.
		api.GET("/stream", streamHandler.Stream)
		api.GET("/ingest", ingestHandler.Ingest)

		limited := api.Group("", limiter.Middleware())
		limited.POST("/ingest", ingestHandler.IngestBatch)

		limited.GET("/tags", telemetryHandler.Tags)
		limited.GET("/telemetry", telemetryHandler.List)
		limited.GET("/telemetry/:tag", telemetryHandler.Get)
		limited.GET("/telemetry/:tag/history", telemetryHandler.History)
		limited.GET("/correlations", correlationHandler.Rank)

		limited.GET("/anomalies", statusHandler.Anomalies)
		limited.GET("/plan", statusHandler.Plan)
		limited.GET("/alerts", statusHandler.Alerts)
		limited.GET("/link", statusHandler.Link)
		limited.PUT("/link/profile", statusHandler.SetProfile)

		limited.POST("/vetoes", feedbackHandler.RecordVeto)
		limited.GET("/feedback/:actionType", feedbackHandler.Modifiers)
	}

	serveStatic(router, d.Config.StaticDir, d.Logger)
	return router
}

// serveStatic serves the dashboard build, falling back to index.html for
// client-side routes.
func serveStatic(router *gin.Engine, staticDir string, logger *zap.Logger) {
	notFound := func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.NewError("NOT_FOUND", "Not found"))
	}
	if staticDir == "" {
		router.NoRoute(notFound)
		return
	}
	if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
		logger.Info("Static directory not found, skipping static file serving", zap.String("dir", staticDir))
		router.NoRoute(notFound)
		return
	}
	router.Static("/assets", filepath.Join(staticDir, "assets"))
	router.StaticFile("/favicon.ico", filepath.Join(staticDir, "favicon.ico"))
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			notFound(c)
			return
		}
		c.File(filepath.Join(staticDir, "index.html"))
	})
	logger.Info("Serving static files", zap.String("dir", staticDir))
}
