package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/api/handlers"
	"github.com/alexharl/vulture-events-backend/internal/api/middleware"
	"github.com/alexharl/vulture-events-backend/internal/metrics"
	"github.com/alexharl/vulture-events-backend/internal/services"
	"github.com/alexharl/vulture-events-backend/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	service    *services.EventsService
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, service *services.EventsService, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	if tracer == nil {
		tracer = tracing.NewNoopTracer()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	server := &Server{
		config:  cfg,
		service: service,
		metrics: m,
		tracer:  tracer,
	}
	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Router exposes the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	if app := s.tracer.Application(); app != nil {
		router.Use(middleware.NewRelicMiddleware(app))
	}
	if s.config.Server.CorsEnabled {
		router.Use(middleware.CORS(s.config.Server.CorsOrigins))
	}

	handlers.NewMetricsHandler(s.metrics).RegisterRoutes(router)

	apiGroup := router.Group("/api")
	handlers.NewEventsHandler(s.service, s.tracer).RegisterRoutes(apiGroup)
	handlers.NewImportHandler(s.service, s.tracer).RegisterRoutes(apiGroup)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
