// Package httpapi exposes the REST surface of the denoising service: path
// and upload based denoise requests, artifact download, health and model
// introspection, plus a WebSocket endpoint for realtime PCM streaming.
//
// The HTTP layer is a thin protocol adapter: all inference goes through the
// shared engine, all temp-file handling through the artifact store.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/auralab/clarion/internal/artifact"
	"github.com/auralab/clarion/internal/engine"
	"github.com/auralab/clarion/internal/observe"
)

// Deps are the collaborators the server needs. Engine and Store must be
// non-nil; Metrics may be nil to disable instrumentation.
type Deps struct {
	Engine  *engine.Engine
	Store   *artifact.Store
	Metrics *observe.Metrics
	Logger  *slog.Logger

	// DefaultSampleRate is used when a request omits the sample rate.
	DefaultSampleRate int

	// AllowedExtensions gates uploads (lowercase, no dot).
	AllowedExtensions []string

	// Version is reported by the liveness banner.
	Version string
}

// Server is the HTTP request router.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	store   *artifact.Store
	metrics *observe.Metrics
	log     *slog.Logger

	defaultRate int
	allowedExts map[string]bool
	version     string
	started     time.Time
}

// New constructs a Server and registers all routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	rate := deps.DefaultSampleRate
	if rate <= 0 {
		rate = engine.DefaultSampleRate
	}

	exts := make(map[string]bool, len(deps.AllowedExtensions))
	for _, ext := range deps.AllowedExtensions {
		exts[ext] = true
	}

	s := &Server{
		echo:        e,
		engine:      deps.Engine,
		store:       deps.Store,
		metrics:     deps.Metrics,
		log:         log,
		defaultRate: rate,
		allowedExts: exts,
		version:     deps.Version,
		started:     time.Now(),
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("http request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(s.metricsMiddleware)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/models/info", s.handleModelInfo)
	s.echo.POST("/denoise", s.handleDenoise)
	s.echo.POST("/denoise/upload", s.handleUpload)
	s.echo.GET("/denoise/stream", s.handleStream)
	s.echo.GET("/download/:artifact_id", s.handleDownload)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// metricsMiddleware records request duration per method/route.
func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.metrics == nil {
			return next(c)
		}
		start := time.Now()
		err := next(c)
		s.metrics.HTTPRequestDuration.Record(c.Request().Context(),
			time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("path", c.Path()),
			))
		return err
	}
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run starts the HTTP server on addr and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutCtx)
}
