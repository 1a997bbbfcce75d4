// Package app assembles the Clarion server from its parts: engine, artifact
// store, HTTP surface and the optional UDP surface, all driven from one
// configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/auralab/clarion/internal/artifact"
	"github.com/auralab/clarion/internal/config"
	"github.com/auralab/clarion/internal/engine"
	"github.com/auralab/clarion/internal/httpapi"
	"github.com/auralab/clarion/internal/observe"
	"github.com/auralab/clarion/internal/udpserver"
	"github.com/auralab/clarion/pkg/normalize"
	"github.com/auralab/clarion/pkg/processor"
)

// Version is reported by the liveness banner and startup log.
const Version = "1.0.0"

// Option configures the App beyond what the config file covers.
type Option func(*options)

type options struct {
	proc    processor.FrameProcessor
	metrics *observe.Metrics
	logger  *slog.Logger
}

// WithProcessor injects the frame processor. A nil processor is valid and
// leaves the server running in degraded mode.
func WithProcessor(p processor.FrameProcessor) Option {
	return func(o *options) { o.proc = p }
}

// WithMetrics installs metrics instruments. Default is
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the application logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// App is the assembled server.
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	engine *engine.Engine
	store  *artifact.Store
	http   *httpapi.Server
	udp    *udpserver.Server
}

// New wires up all components from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		metrics: observe.DefaultMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger

	engOpts := []engine.Option{
		engine.WithMetrics(o.metrics),
		engine.WithLogger(log.With("component", "engine")),
	}
	if cfg.Audio.NormalizeInput {
		engOpts = append(engOpts, engine.WithNormalizer(&normalize.FFmpeg{
			FFmpegPath:  cfg.Audio.FFmpegPath,
			FFprobePath: cfg.Audio.FFprobePath,
			Logger:      log.With("component", "normalize"),
		}))
	}
	eng := engine.New(o.proc, engOpts...)

	store, err := artifact.NewStore(cfg.Storage.TempDir,
		artifact.WithLogger(log.With("component", "artifact")),
		artifact.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init artifact store: %w", err)
	}

	httpSrv := httpapi.New(httpapi.Deps{
		Engine:            eng,
		Store:             store,
		Metrics:           o.metrics,
		Logger:            log.With("component", "http"),
		DefaultSampleRate: cfg.Audio.SampleRate,
		AllowedExtensions: cfg.Storage.AllowedExtensions,
		Version:           Version,
	})

	var udpSrv *udpserver.Server
	if cfg.UDP.Enabled {
		udpSrv = udpserver.New(eng, cfg.Audio.SampleRate,
			udpserver.WithLogger(log.With("component", "udp")),
			udpserver.WithMetrics(o.metrics),
		)
	}

	return &App{
		cfg:    cfg,
		log:    log,
		engine: eng,
		store:  store,
		http:   httpSrv,
		udp:    udpSrv,
	}, nil
}

// Engine exposes the denoising engine, mainly for tests.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run serves all enabled surfaces until ctx is cancelled or one of them
// fails. The remaining surfaces are shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.cfg.Server.ListenAddr)
		return a.http.Run(ctx, a.cfg.Server.ListenAddr)
	})
	if a.udp != nil {
		g.Go(func() error {
			return a.udp.Run(ctx, a.cfg.UDP.ListenAddr)
		})
	}

	err := g.Wait()

	if cerr := a.engine.Close(); cerr != nil {
		a.log.Warn("close processor", "err", cerr)
	}
	return err
}
