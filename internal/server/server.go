// Package server exposes the bookshelf scanner over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"

	bookshelf "github.com/menta2k/bookshelf-analyzer"
	"github.com/menta2k/bookshelf-analyzer/internal/config"
	"github.com/menta2k/bookshelf-analyzer/internal/utils"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
)

const (
	serviceName        = "Ultimate Bookshelf API"
	serviceDescription = "AI-powered book detection and metadata extraction service"
)

// Service is the part of the scanner the HTTP layer depends on
type Service interface {
	DetectBooksFromBase64(ctx context.Context, payload string) (*bookshelf.DetectionResponse, error)
	Stats() stats.Snapshot
}

// DetectRequest is the body of POST /api/v1/detect-books
type DetectRequest struct {
	Image string `json:"image"`
}

// Server routes HTTP requests to the scanner
type Server struct {
	engine  *gin.Engine
	service Service
	cfg     config.ServerConfig
	started time.Time
}

// New builds the router. gin's mode must be set by the caller.
func New(service Service, cfg config.ServerConfig) *Server {
	s := &Server{
		engine:  gin.New(),
		service: service,
		cfg:     cfg,
		started: time.Now(),
	}

	s.engine.Use(gin.Recovery(), requestLogger(), cors(cfg))
	if cfg.MaxBodyMB > 0 {
		s.engine.Use(limitBody(int64(cfg.MaxBodyMB) << 20))
	}

	s.engine.GET("/", s.index)
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/api").Group("/v1")
	v1.POST("/detect-books", s.detectBooks)
	v1.GET("/books/stats", s.stats)

	return s
}

// Handler returns the router as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.cfg.ShutdownSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Dur("timeout", timeout).Msg("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) detectBooks(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Err(err).Msg("read request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image data", "detail": "image is required"})
		return
	}

	resp, err := s.service.DetectBooksFromBase64(c.Request.Context(), req.Image)
	if err != nil {
		status, msg := classify(err)
		log.Err(err).Int("status", status).Msg("book detection")
		detail := err.Error()
		if status == http.StatusInternalServerError {
			detail = msg + ": " + detail
		}
		c.JSON(status, gin.H{"error": msg, "detail": detail})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// classify maps pipeline errors to an HTTP status and a short message
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, bookshelf.ErrInvalidImage):
		return http.StatusBadRequest, "Invalid image data"
	case errors.Is(err, bookshelf.ErrDetection):
		return http.StatusBadGateway, "Detection service failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Error processing image"
	}
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Stats())
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        serviceName,
		"description": serviceDescription,
		"version":     bookshelf.Version,
		"status":      "operational",
		"endpoints": gin.H{
			"detect_books":  "/api/v1/detect-books",
			"service_stats": "/api/v1/books/stats",
			"health":        "/health",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			body["memory_rss"] = utils.FormatFileSize(int64(mem.RSS))
		}
		if cpu, err := p.CPUPercent(); err == nil {
			body["cpu_percent"] = cpu
		}
	} else {
		log.Debug().Err(err).Msg("process stats unavailable")
	}

	c.JSON(http.StatusOK, body)
}
