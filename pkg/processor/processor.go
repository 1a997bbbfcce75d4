// Package processor defines the FrameProcessor abstraction: an opaque
// per-frame neural evaluation step that maps one spectral frame plus a
// recurrent cache state to one enhanced frame plus the updated cache.
//
// The processor's internals (model topology, weights) are irrelevant to the
// rest of the system. Implementations live in subpackages: onnx wraps an
// ONNX Runtime session, mock provides a test double.
package processor

import "errors"

// Cache tensor lengths, flattened from the model's streaming state shapes.
const (
	// ConvCacheLen is the flattened size of the convolution cache,
	// shape [2, 1, 16, 16, 33].
	ConvCacheLen = 2 * 1 * 16 * 16 * 33

	// RecurrentCacheLen is the flattened size of the recurrent
	// (transformer) cache, shape [2, 3, 1, 1, 16].
	RecurrentCacheLen = 2 * 3 * 1 * 1 * 16

	// InterCacheLen is the flattened size of the inter-block cache,
	// shape [2, 1, 33, 16].
	InterCacheLen = 2 * 1 * 33 * 16
)

// ErrClosed is returned by ProcessFrame after the processor has been closed.
var ErrClosed = errors.New("processor: closed")

// CacheState is the recurrent memory threaded between consecutive frame
// evaluations within one run. The state produced by frame i is the only
// valid input for frame i+1 of the same run; states from different runs must
// never be mixed. A fresh run starts from the all-zero state.
type CacheState struct {
	Conv      []float32
	Recurrent []float32
	Inter     []float32
}

// NewCacheState returns the all-zero initial state for a new run.
func NewCacheState() *CacheState {
	return &CacheState{
		Conv:      make([]float32, ConvCacheLen),
		Recurrent: make([]float32, RecurrentCacheLen),
		Inter:     make([]float32, InterCacheLen),
	}
}

// Info describes the loaded model for the introspection endpoint.
type Info struct {
	ModelPath   string
	Providers   []string
	InputNames  []string
	OutputNames []string
}

// FrameProcessor evaluates one spectral frame at a time. ProcessFrame
// consumes the cache produced by the previous call of the same run and
// updates it in place for the next call. frame holds the one-sided spectrum
// of a single analysis window.
//
// Implementations need not be safe for concurrent ProcessFrame calls; the
// engine serialises evaluation across runs.
type FrameProcessor interface {
	ProcessFrame(frame []complex64, cache *CacheState) ([]complex64, error)
	Info() Info
	Close() error
}
