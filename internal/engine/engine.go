// Package engine drives the frame-by-frame denoising pipeline: forward
// spectral transform, the strictly sequential frame loop through the
// FrameProcessor with its cache state, and overlap-add reconstruction.
//
// The engine is shared by every serving surface (HTTP, UDP, WebSocket
// streaming). Requests are admitted concurrently but serialise at the
// processor guard: exactly one run evaluates frames at any moment, which
// guarantees that no two runs' cache states can ever meet the same
// evaluation call. This bounds worst-case latency under load instead of
// maximising throughput.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/auralab/clarion/internal/observe"
	"github.com/auralab/clarion/pkg/dsp"
	"github.com/auralab/clarion/pkg/normalize"
	"github.com/auralab/clarion/pkg/processor"
	"github.com/auralab/clarion/pkg/wavio"
)

// DefaultSampleRate is the sample rate assumed when a request does not
// specify one, and the rate used by the UDP surface.
const DefaultSampleRate = 16000

// Result describes a completed denoise run.
type Result struct {
	// OutputPath is where the enhanced audio was written.
	OutputPath string

	// Elapsed is the wall time of the whole run including audio I/O.
	Elapsed time.Duration

	// OutputBytes is the size of the written output file.
	OutputBytes int64

	// FrameCount is the number of spectral frames evaluated.
	FrameCount int

	// FrameTimings holds the wall time of each individual frame
	// evaluation, in frame order. Diagnostic only.
	FrameTimings []time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithNormalizer installs an input normalizer consulted before each run.
func WithNormalizer(n normalize.Normalizer) Option {
	return func(e *Engine) { e.norm = n }
}

// WithMetrics installs the metrics instruments. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns the frame processor handle and runs denoise requests against
// it. Safe for concurrent use.
type Engine struct {
	proc      processor.FrameProcessor
	transform *dsp.Transform

	// guard serialises frame evaluation across runs. A single-slot
	// semaphore rather than a mutex so acquisition respects ctx.
	guard *semaphore.Weighted

	norm    normalize.Normalizer
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates an Engine around proc. proc may be nil when the model failed
// to load; the engine then rejects every run with [ErrProcessorNotReady]
// while the rest of the server (health, introspection) keeps working.
func New(proc processor.FrameProcessor, opts ...Option) *Engine {
	e := &Engine{
		proc:      proc,
		transform: dsp.NewTransform(),
		guard:     semaphore.NewWeighted(1),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ready reports whether the frame processor loaded successfully.
func (e *Engine) Ready() bool { return e.proc != nil }

// ProcessorInfo returns the loaded model's introspection data. The boolean
// is false when the processor is not ready.
func (e *Engine) ProcessorInfo() (processor.Info, bool) {
	if e.proc == nil {
		return processor.Info{}, false
	}
	return e.proc.Info(), true
}

// Denoise runs one complete inference run: read input, forward transform,
// sequential frame loop, overlap-add reconstruction, write output.
//
// The run fails atomically: if any frame evaluation fails, nothing is
// written to outputPath. Validation errors (missing input) are detected
// before any work starts. ctx cancels the run at the guard and between
// frames; a frame evaluation already in flight runs to completion.
func (e *Engine) Denoise(ctx context.Context, inputPath, outputPath string, sampleRate int) (*Result, error) {
	start := time.Now()
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	if e.proc == nil {
		return nil, ErrProcessorNotReady
	}
	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
	}

	readPath := inputPath
	if e.norm != nil {
		prepared, cleanup, err := e.norm.Prepare(ctx, inputPath, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("engine: normalize input: %w", err)
		}
		defer cleanup()
		readPath = prepared
	}

	samples, _, err := wavio.ReadMono(readPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read input: %w", err)
	}

	frames := e.transform.Analyze(samples)
	outFrames, timings, err := e.runFrames(ctx, frames)
	if err != nil {
		return nil, err
	}

	enhanced := e.transform.Synthesize(outFrames, len(samples))
	if err := wavio.WriteMono(outputPath, enhanced, sampleRate); err != nil {
		return nil, &ReconstructionError{Path: outputPath, Err: err}
	}

	var size int64
	if fi, err := os.Stat(outputPath); err == nil {
		size = fi.Size()
	}

	res := &Result{
		OutputPath:   outputPath,
		Elapsed:      time.Since(start),
		OutputBytes:  size,
		FrameCount:   len(frames),
		FrameTimings: timings,
	}
	e.log.Info("denoise complete",
		"input", inputPath,
		"output", outputPath,
		"frames", res.FrameCount,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// runFrames drives the ordered frame recurrence under the processor guard.
// Frame i+1 cannot be evaluated before frame i's cache update is known, so
// the loop is inherently sequential; parallelism exists only across runs,
// and those serialise here.
func (e *Engine) runFrames(ctx context.Context, frames [][]complex64) ([][]complex64, []time.Duration, error) {
	if e.metrics != nil {
		e.metrics.ActiveRuns.Add(ctx, 1)
		defer e.metrics.ActiveRuns.Add(ctx, -1)
	}

	waitStart := time.Now()
	if err := e.guard.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("engine: acquire processor: %w", err)
	}
	defer e.guard.Release(1)
	if e.metrics != nil {
		e.metrics.GuardWait.Record(ctx, time.Since(waitStart).Seconds())
	}

	cache := processor.NewCacheState()
	out := make([][]complex64, 0, len(frames))
	timings := make([]time.Duration, 0, len(frames))

	for i, frame := range frames {
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("engine: run cancelled at frame %d: %w", i, ctx.Err())
		default:
		}

		tic := time.Now()
		enhanced, err := e.proc.ProcessFrame(frame, cache)
		elapsed := time.Since(tic)

		if e.metrics != nil {
			e.metrics.FrameDuration.Record(ctx, elapsed.Seconds())
			e.metrics.FramesProcessed.Add(ctx, 1)
		}
		if err != nil {
			return nil, nil, &FrameError{Index: i, Err: err}
		}
		out = append(out, enhanced)
		timings = append(timings, elapsed)
	}
	return out, timings, nil
}

// RecordRun records run-level metrics for a finished request. surface names
// the serving layer ("http", "udp", "stream").
func (e *Engine) RecordRun(ctx context.Context, surface string, elapsed time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("surface", surface),
		attribute.String("status", status),
	)
	e.metrics.Runs.Add(ctx, 1, attrs)
	e.metrics.RunDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// Close releases the processor handle.
func (e *Engine) Close() error {
	if e.proc == nil {
		return nil
	}
	return e.proc.Close()
}
