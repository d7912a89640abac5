// Package health serves liveness, readiness, stats and current results over HTTP.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

// Status represents the health state of the service
type Status struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Detection       string `json:"detection"`
	Model           string `json:"model"`
	WorkerRunning   bool   `json:"worker_running"`
	SourceConnected bool   `json:"source_connected"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	MQTTEnabled     bool   `json:"mqtt_enabled"`
}

// Provider is the service view the health server reads from
type Provider interface {
	HealthCheck() Status
	Stats() map[string]interface{}
	Results() types.Snapshot
}

// Server is the HTTP health server
type Server struct {
	provider Provider
	started  time.Time
	srv      *http.Server
}

// New creates a health server bound to addr (e.g. ":8080")
func New(addr string, provider Provider) *Server {
	s := &Server{
		provider: provider,
		started:  time.Now(),
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.liveness)
	router.GET("/readiness", s.readiness)
	router.GET("/stats", s.stats)
	router.GET("/results", s.results)
	return router
}

// Start serves in the background. It does not block.
func (s *Server) Start() {
	slog.Info("starting health check server",
		"addr", s.srv.Addr,
		"endpoints", []string{"/health", "/readiness", "/stats", "/results"},
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health check server failed", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// liveness returns 200 while the process can serve requests
func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness returns 503 only when unhealthy; degraded is still ready
func (s *Server) readiness(c *gin.Context) {
	status := s.provider.HealthCheck()

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Stats())
}

func (s *Server) results(c *gin.Context) {
	snap := s.provider.Results()
	c.JSON(http.StatusOK, gin.H{
		"seq":      snap.Seq,
		"faces":    snap.Faces,
		"trace_id": snap.TraceID,
		"at":       snap.At,
		"results":  snap.Results,
	})
}
