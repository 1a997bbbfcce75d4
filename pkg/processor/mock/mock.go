// Package mock provides an in-memory processor.FrameProcessor for tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/auralab/clarion/pkg/processor"
)

// Processor is a deterministic test double. By default it passes frames
// through unchanged (scaled by Gain) and counts frames in the cache: slot 0
// of the recurrent cache holds the number of frames processed so far in the
// run, which lets tests assert that cache threading is strictly sequential
// and never shared across runs.
type Processor struct {
	// Gain scales every output frame. Zero means 1.0 (identity).
	Gain float32

	// FailAt makes the FailAt-th frame call of any run return an error.
	// Negative means never fail.
	FailAt int

	// Delay, when non-nil, is called once per frame before returning.
	// Tests use it to widen the window for interleaving concurrent runs.
	Delay func()

	mu     sync.Mutex
	calls  int
	closed bool
}

// New returns an identity mock that never fails.
func New() *Processor {
	return &Processor{FailAt: -1}
}

// Calls reports the total number of ProcessFrame invocations across runs.
func (p *Processor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// ProcessFrame implements processor.FrameProcessor.
func (p *Processor) ProcessFrame(frame []complex64, cache *processor.CacheState) ([]complex64, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, processor.ErrClosed
	}
	p.calls++
	p.mu.Unlock()

	if p.Delay != nil {
		p.Delay()
	}

	// The frame index within this run is threaded through the cache the
	// same way the real model threads its recurrent state. A cache that
	// was mixed between runs or fed out of order shows up immediately.
	idx := int(cache.Recurrent[0])
	if p.FailAt >= 0 && idx == p.FailAt {
		return nil, fmt.Errorf("mock: frame %d failed as configured", idx)
	}
	cache.Recurrent[0] = float32(idx + 1)

	gain := p.Gain
	if gain == 0 {
		gain = 1
	}
	out := make([]complex64, len(frame))
	for i, c := range frame {
		out[i] = c * complex(gain, 0)
	}
	return out, nil
}

// Info implements processor.FrameProcessor.
func (p *Processor) Info() processor.Info {
	return processor.Info{
		ModelPath:   "mock",
		Providers:   []string{"MockExecutionProvider"},
		InputNames:  []string{"mix", "conv_cache", "tra_cache", "inter_cache"},
		OutputNames: []string{"enh", "conv_cache_out", "tra_cache_out", "inter_cache_out"},
	}
}

// Close implements processor.FrameProcessor.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
