// Clarion is a streaming speech-denoising server. It enhances noisy speech
// recordings frame by frame through a recurrent ONNX model and serves the
// results over HTTP, WebSocket and a minimal UDP protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auralab/clarion/internal/app"
	"github.com/auralab/clarion/internal/config"
	"github.com/auralab/clarion/internal/observe"
	"github.com/auralab/clarion/pkg/processor"
	"github.com/auralab/clarion/pkg/processor/onnx"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	modelPath := flag.String("model", "", "path to the ONNX model, overrides the config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "clarion: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}

	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "clarion",
		ServiceVersion: app.Version,
	})
	if err != nil {
		return fmt.Errorf("init metrics provider: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.Warn("metrics shutdown", "err", err)
		}
	}()

	// A broken or missing model is not fatal: the server comes up in
	// degraded mode, /health reports model_loaded=false, and denoise
	// requests are rejected until a restart with a working model.
	var proc processor.FrameProcessor
	if cfg.Model.Path == "" {
		log.Warn("no model path configured, starting in degraded mode")
	} else {
		p, err := onnx.New(onnx.Config{
			ModelPath:     cfg.Model.Path,
			SharedLibrary: cfg.Model.SharedLibrary,
		})
		if err != nil {
			log.Error("failed to load model, starting in degraded mode",
				"model", cfg.Model.Path, "err", err)
		} else {
			proc = p
			log.Info("model loaded", "model", cfg.Model.Path)
		}
	}

	a, err := app.New(cfg,
		app.WithProcessor(proc),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithLogger(log),
	)
	if err != nil {
		return err
	}

	printBanner(cfg, proc != nil)

	return a.Run(ctx)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printBanner(cfg *config.Config, modelLoaded bool) {
	fmt.Printf("clarion v%s\n", app.Version)
	fmt.Printf("  http:      %s\n", cfg.Server.ListenAddr)
	if cfg.UDP.Enabled {
		fmt.Printf("  udp:       %s\n", cfg.UDP.ListenAddr)
	}
	fmt.Printf("  model:     %s (loaded: %t)\n", cfg.Model.Path, modelLoaded)
	fmt.Printf("  audio:     %d Hz\n", cfg.Audio.SampleRate)
	fmt.Printf("  artifacts: %s\n", cfg.Storage.TempDir)
}
