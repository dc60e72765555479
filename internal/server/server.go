package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/aevon-lab/recalc/internal/engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthTimeout = 2 * time.Second

type Server struct {
	Engine *gin.Engine
	Addr   string
	health HealthChecker
	status StatusProvider
}

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatusProvider reports the state of the recompute pipeline.
type StatusProvider interface {
	Status() engine.Status
}

// New builds the HTTP surface. health may be nil when the store has no
// connection to check; gatherer may be nil to leave /metrics out.
func New(addr string, health HealthChecker, status StatusProvider, gatherer prometheus.Gatherer, mode string) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine: r,
		Addr:   addr,
		health: health,
		status: status,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/v1/status", s.statusHandler)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "none"})
		return
	}

	if err := s.health.Ping(ctx); err != nil {
		slog.Error("[Server] Health check failed: database unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	status := s.status.Status()

	switch status.State {
	case engine.StateNotInitialized:
		c.JSON(http.StatusServiceUnavailable, recalcerr.ErrorResponse{
			ErrorType: recalcerr.HttpNotInitializedError,
			Message:   "platform is not initialised, reactive processing is disabled",
			Details:   status,
		})
	case engine.StateFailed:
		c.JSON(http.StatusInternalServerError, recalcerr.ErrorResponse{
			ErrorType: recalcerr.HttpInternalError,
			Message:   status.Error,
			Details:   status,
		})
	default:
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("[Server] Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
