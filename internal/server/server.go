// Package server exposes the operational HTTP surface: health and
// readiness probes, Prometheus metrics, and the stream diagnostics API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/halcyon-labs/edgelink/internal/api/v1"
	"github.com/halcyon-labs/edgelink/internal/bus"
	"github.com/halcyon-labs/edgelink/internal/core/storage"
)

const (
	healthPingTimeout = 2 * time.Second
	diagnosticTimeout = 5 * time.Second

	defaultArchivePage = 100
	maxArchivePage     = 1000
)

// Bus is the bus surface the server reads. Satisfied by *bus.EventBus.
type Bus interface {
	Report() bus.Report
	Streams() []string
	BreakerState() bus.CircuitState
}

type Server struct {
	Engine  *gin.Engine
	Addr    string
	store   bus.StreamStore
	bus     Bus
	archive storage.ArchiveStore
}

// New builds the engine and registers all routes. gatherer backs the
// Prometheus /metrics endpoint; nil falls back to the default gatherer.
// arch is nil when the archive is disabled; its endpoint then answers 404.
func New(addr string, store bus.StreamStore, b Bus, arch storage.ArchiveStore, gatherer prometheus.Gatherer, mode string) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine:  r,
		Addr:    addr,
		store:   store,
		bus:     b,
		archive: arch,
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.GET("/health", s.healthHandler)
	r.GET("/ready", s.readyHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.GET("/metrics", s.metricsHandler)
	api.GET("/streams", s.listStreamsHandler)
	api.GET("/streams/:name", s.streamDetailHandler)
	api.GET("/archive/:name", s.archiveHandler)

	return s
}

// healthHandler verifies store connectivity with a short ping and
// reports the breaker state alongside.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		slog.Error("Health check failed: store unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, v1.HealthResponse{
			Status:  "unhealthy",
			Store:   "unreachable",
			Breaker: s.bus.BreakerState(),
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, v1.HealthResponse{
		Status:  "healthy",
		Store:   "connected",
		Breaker: s.bus.BreakerState(),
	})
}

// readyHandler reports not-ready while the breaker is open. It costs no
// store roundtrip, so probes can poll it tightly.
func (s *Server) readyHandler(c *gin.Context) {
	if state := s.bus.BreakerState(); state == bus.CircuitOpen {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "store circuit open",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Report())
}

func (s *Server) listStreamsHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), diagnosticTimeout)
	defer cancel()

	streams := s.bus.Streams()
	out := make([]v1.StreamSummary, 0, len(streams))
	for _, stream := range streams {
		info, err := s.store.Info(ctx, stream)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, v1.ErrorResponse{Error: err.Error()})
			return
		}
		groups, err := s.store.Groups(ctx, stream)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, v1.ErrorResponse{Error: err.Error()})
			return
		}
		out = append(out, v1.StreamSummary{
			Name:   stream,
			Length: info.Length,
			LastID: info.LastID,
			Groups: len(groups),
		})
	}

	c.JSON(http.StatusOK, v1.StreamsResponse{Streams: out, Count: len(out)})
}

func (s *Server) streamDetailHandler(c *gin.Context) {
	name := c.Param("name")
	if !slices.Contains(s.bus.Streams(), name) {
		c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: "unknown stream"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), diagnosticTimeout)
	defer cancel()

	info, err := s.store.Info(ctx, name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, v1.ErrorResponse{Error: err.Error()})
		return
	}
	groups, err := s.store.Groups(ctx, name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, v1.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, v1.StreamDetail{
		Name:   name,
		Length: info.Length,
		LastID: info.LastID,
		Groups: groups,
	})
}

// archiveHandler reads back archived entries of one stream. The archive
// outlives stream trimming and configuration changes, so the stream is
// not required to be registered on the current bus.
func (s *Server) archiveHandler(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: "archive disabled"})
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "since must be an RFC 3339 timestamp"})
			return
		}
		since = parsed
	}

	limit := defaultArchivePage
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxArchivePage)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), diagnosticTimeout)
	defer cancel()

	name := c.Param("name")
	entries, err := s.archive.EntriesSince(ctx, name, since, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, v1.ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]v1.ArchivedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, archivedEntry(e))
	}
	c.JSON(http.StatusOK, v1.ArchiveResponse{Stream: name, Entries: out, Count: len(out)})
}

func archivedEntry(e *storage.ArchivedEntry) v1.ArchivedEntry {
	out := v1.ArchivedEntry{
		ArchiveSeq: e.ArchiveSeq,
		EventID:    e.EventID,
		EntryID:    e.EntryID,
		Group:      e.Group,
		ArchivedAt: e.ArchivedAt,
		Fields:     e.Fields,
	}
	if !e.OccurredAt.IsZero() {
		occurred := e.OccurredAt
		out.OccurredAt = &occurred
	}
	return out
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
