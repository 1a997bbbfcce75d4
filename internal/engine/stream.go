package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/auralab/clarion/pkg/dsp"
	"github.com/auralab/clarion/pkg/processor"
)

// ErrStreamClosed is returned by Stream.Write after Close.
var ErrStreamClosed = errors.New("engine: stream closed")

// Stream is a realtime denoising session: PCM chunks go in, denoised PCM
// comes out with one window of algorithmic latency. Each stream owns its
// own cache state and overlap-add carry; frame evaluation still serialises
// with every other run at the engine's processor guard.
//
// A Stream is not safe for concurrent Write calls. It belongs to a single
// connection, which feeds it sequentially.
type Stream struct {
	engine *Engine

	mu     sync.Mutex
	cache  *processor.CacheState
	pend   []float32 // samples not yet framed, always < WindowSize+Hop
	ola    []float32 // overlap-add carry, len WindowSize
	wrote  int       // samples emitted so far
	closed bool
}

// OpenStream starts a new streaming session.
func (e *Engine) OpenStream() (*Stream, error) {
	if e.proc == nil {
		return nil, ErrProcessorNotReady
	}
	return &Stream{
		engine: e,
		cache:  processor.NewCacheState(),
		ola:    make([]float32, dsp.WindowSize),
	}, nil
}

// Write feeds PCM samples into the stream and returns whatever denoised
// samples became ready. Output lags input by one window minus one hop.
func (s *Stream) Write(ctx context.Context, pcm []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}

	s.pend = append(s.pend, pcm...)
	if len(s.pend) < dsp.WindowSize {
		return nil, nil
	}
	return s.drain(ctx, false)
}

// Flush processes any buffered tail (zero-padded to a full window) and
// returns the remaining denoised samples. The stream stays open; a final
// Flush before Close ends the signal cleanly.
func (s *Stream) Flush(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	return s.drain(ctx, true)
}

// drain runs full windows out of the pending buffer under the processor
// guard. With tail set, a final partial window is zero-padded and the
// overlap-add carry is emitted to the end of the signal.
func (s *Stream) drain(ctx context.Context, tail bool) ([]float32, error) {
	e := s.engine

	if err := e.guard.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.guard.Release(1)

	var out []float32
	for len(s.pend) >= dsp.WindowSize || (tail && len(s.pend) > 0) {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		n := dsp.WindowSize
		if n > len(s.pend) {
			n = len(s.pend) // zero-padded by AnalyzeFrame
		}
		frame := e.transform.AnalyzeFrame(s.pend[:n])

		enhanced, err := e.proc.ProcessFrame(frame, s.cache)
		if err != nil {
			return nil, &FrameError{Index: s.wrote / dsp.Hop, Err: err}
		}

		chunk := e.transform.InverseFrame(enhanced)
		for i, v := range chunk {
			s.ola[i] += v
		}

		// One hop of the carry is final once the next window can no
		// longer overlap it.
		out = append(out, s.ola[:dsp.Hop]...)
		copy(s.ola, s.ola[dsp.Hop:])
		for i := dsp.WindowSize - dsp.Hop; i < dsp.WindowSize; i++ {
			s.ola[i] = 0
		}
		s.wrote += dsp.Hop

		if n < len(s.pend) || !tail {
			s.pend = s.pend[min(dsp.Hop, len(s.pend)):]
		} else {
			s.pend = nil
		}
	}

	if tail {
		// Remaining carry is the decaying window tail; emit and reset.
		out = append(out, s.ola[:dsp.WindowSize-dsp.Hop]...)
		for i := range s.ola {
			s.ola[i] = 0
		}
		s.cache = processor.NewCacheState()
	}
	return out, nil
}

// Close ends the session and discards its state.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pend = nil
	return nil
}
