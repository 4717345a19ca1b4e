// Package server wires the HTTP API into a gin engine and serves it.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-export/internal/api"
	"github.com/celerix-dev/celerix-export/internal/metrics"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultMaxInFlight bounds concurrent requests.
const DefaultMaxInFlight = 100

// Options configures the router and the HTTP server around it.
type Options struct {
	// CORSOrigins lists allowed origins. Empty allows any origin.
	CORSOrigins []string
	// MetricsPath is where the collector is exposed, e.g. "/metrics".
	MetricsPath  string
	Metrics      *metrics.Collector
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxInFlight  int
}

type Router struct {
	engine *gin.Engine
	opts   Options
	logger *zap.Logger
	cert   *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewRouter builds the gin engine serving h.
func NewRouter(h *api.Handler, opts Options, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	r := &Router{opts: opts, logger: logger}

	e := gin.New()
	e.Use(
		gin.CustomRecovery(r.recovery),
		r.requestLogger(),
		cors(opts.CORSOrigins),
		limit(opts.MaxInFlight),
	)

	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil && opts.MetricsPath != "" {
		e.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}

	apiGroup := e.Group("/api")
	{
		apiGroup.GET("/clients", h.ListClients)
		apiGroup.GET("/submissions", h.ListSubmissions)
		apiGroup.POST("/forms/submit/:client", h.SubmitForm)
		apiGroup.DELETE("/submissions/:id", h.DeleteSubmission)

		apiGroup.GET("/exports/submissions.csv", h.Export(export.FormatCSV))
		apiGroup.GET("/exports/submissions.pdf", h.Export(export.FormatPDF))
		apiGroup.GET("/exports/submissions.xlsx", h.Export(export.FormatXLSX))
		apiGroup.GET("/exports/submissions/:id/pdf", h.ExportSubmission)
		apiGroup.GET("/exports/audit", h.RecentExports)
	}

	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	r.engine = e
	return r
}

// Handler returns the gin engine.
func (r *Router) Handler() http.Handler { return r.engine }

// SetCertificate enables TLS on the next Listen.
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Listen serves on addr until Stop. It returns nil after a clean shutdown.
func (r *Router) Listen(addr string) error {
	var (
		listener net.Listener
		err      error
	)
	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           r.engine,
		ReadTimeout:       r.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      r.opts.WriteTimeout,
		ErrorLog:          zap.NewStdLog(r.logger),
	}
	r.mu.Lock()
	r.listener = listener
	r.srv = srv
	r.mu.Unlock()

	r.logger.Info("http server listening",
		zap.String("address", listener.Addr().String()),
		zap.Bool("tls", r.cert != nil))

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (r *Router) recovery(c *gin.Context, recovered any) {
	r.logger.Error("panic serving request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("request", fields...)
		default:
			r.logger.Debug("request", fields...)
		}
	}
}

func cors(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(origins) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// limit rejects requests beyond n concurrent ones instead of queueing.
func limit(n int) gin.HandlerFunc {
	semaphore := make(chan struct{}, n)
	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		}
	}
}
