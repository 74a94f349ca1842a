// Package admin serves the daemon's local observation surface: health,
// readiness, Prometheus metrics, and the live session snapshot.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/scantap/scantap/internal/acquire"
	"github.com/scantap/scantap/internal/observability"
)

// StatsSource yields the current session snapshot. The admin server
// never touches session internals.
type StatsSource interface {
	Stats() acquire.Stats
}

type Server struct {
	instrument string
	addr       string
	source     StatsSource
	started    time.Time
	router     *gin.Engine
}

func New(instrument, addr string, corsOrigins []string, source StatsSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(instrument))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		instrument: instrument,
		addr:       addr,
		source:     source,
		started:    time.Now(),
		router:     r,
	}
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"uptime":     time.Since(s.started).String(),
			"instrument": s.instrument,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		stats := s.source.Stats()
		c.JSON(http.StatusOK, gin.H{
			"ready":      stats.Running,
			"uptime":     time.Since(s.started).String(),
			"instrument": s.instrument,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Stats())
	})
}

// Serve blocks on the listen address; run it on its own goroutine.
func (s *Server) Serve() error {
	s.RegisterRoutes()
	return s.router.Run(s.addr)
}

// HTTPRouter exposes the engine for tests.
func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
