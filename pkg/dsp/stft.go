// Package dsp implements the short-time spectral transform used by the
// denoising pipeline: a 512-sample analysis window with a 256-sample hop and
// a square-root Hann window on both the analysis and synthesis side.
//
// The pairing of sqrt-Hann analysis and sqrt-Hann synthesis at 50% overlap
// satisfies the constant-overlap-add condition, so Synthesize needs no
// normalisation pass. Frame order is significant end-to-end: frame i of the
// forward transform corresponds to sample offset i*Hop, and the inverse must
// receive frames in that same order.
package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// WindowSize is the analysis window length in samples.
	WindowSize = 512

	// Hop is the stride between consecutive analysis frames in samples.
	Hop = 256

	// NumBins is the number of one-sided frequency bins per frame
	// (WindowSize/2 + 1).
	NumBins = WindowSize/2 + 1
)

// Transform performs forward and inverse short-time Fourier transforms with
// a fixed sqrt-Hann window. It is stateless apart from the precomputed
// window and safe for concurrent use.
type Transform struct {
	window []float64
}

// NewTransform builds a Transform with a periodic sqrt-Hann window of
// [WindowSize] samples.
func NewTransform() *Transform {
	w := make([]float64, WindowSize)
	for i := range w {
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(WindowSize)))
		w[i] = math.Sqrt(hann)
	}
	return &Transform{window: w}
}

// NumFrames reports how many analysis frames Analyze produces for a signal
// of n samples. Signals shorter than one window still yield a single
// (zero-padded) frame; empty signals yield zero frames.
func NumFrames(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= WindowSize {
		return 1
	}
	return (n-WindowSize+Hop-1)/Hop + 1
}

// Analyze slices samples into overlapping windows, applies the analysis
// window, and returns one one-sided complex spectrum of [NumBins] bins per
// frame. The tail of the signal is zero-padded to fill the last window, so
// every input sample is covered by at least one frame.
func (t *Transform) Analyze(samples []float32) [][]complex64 {
	n := NumFrames(len(samples))
	frames := make([][]complex64, 0, n)

	buf := make([]complex128, WindowSize)
	for f := 0; f < n; f++ {
		off := f * Hop
		for i := 0; i < WindowSize; i++ {
			var s float64
			if off+i < len(samples) {
				s = float64(samples[off+i])
			}
			buf[i] = complex(s*t.window[i], 0)
		}

		spectrum := fft.FFT(buf)
		frame := make([]complex64, NumBins)
		for i := 0; i < NumBins; i++ {
			frame[i] = complex64(spectrum[i])
		}
		frames = append(frames, frame)
	}
	return frames
}

// Synthesize reconstructs a time-domain signal from an ordered frame
// sequence by windowed overlap-add. numSamples trims the result to the
// original signal length; pass a non-positive value to keep the full
// Hop*(N-1)+WindowSize output. Frames must be in original time order; the
// transform cannot detect reordering, it simply produces wrong audio.
func (t *Transform) Synthesize(frames [][]complex64, numSamples int) []float32 {
	if len(frames) == 0 {
		return nil
	}

	total := Hop*(len(frames)-1) + WindowSize
	out := make([]float64, total)

	buf := make([]complex128, WindowSize)
	for f, frame := range frames {
		t.inverseFrame(frame, buf)
		off := f * Hop
		for i := 0; i < WindowSize; i++ {
			out[off+i] += real(buf[i]) * t.window[i]
		}
	}

	if numSamples > 0 && numSamples < total {
		out = out[:numSamples]
	}
	res := make([]float32, len(out))
	for i, v := range out {
		res[i] = float32(v)
	}
	return res
}

// AnalyzeFrame windows and transforms a single chunk of exactly
// [WindowSize] samples. Shorter chunks are zero-padded. Used by the
// streaming path, which frames incrementally as samples arrive.
func (t *Transform) AnalyzeFrame(samples []float32) []complex64 {
	buf := make([]complex128, WindowSize)
	for i := 0; i < WindowSize; i++ {
		var s float64
		if i < len(samples) {
			s = float64(samples[i])
		}
		buf[i] = complex(s*t.window[i], 0)
	}
	spectrum := fft.FFT(buf)
	frame := make([]complex64, NumBins)
	for i := 0; i < NumBins; i++ {
		frame[i] = complex64(spectrum[i])
	}
	return frame
}

// InverseFrame converts a single one-sided spectrum back to a windowed
// time-domain chunk of [WindowSize] samples. Used by the streaming path,
// which overlap-adds frames incrementally instead of all at once.
func (t *Transform) InverseFrame(frame []complex64) []float32 {
	buf := make([]complex128, WindowSize)
	t.inverseFrame(frame, buf)
	out := make([]float32, WindowSize)
	for i := 0; i < WindowSize; i++ {
		out[i] = float32(real(buf[i]) * t.window[i])
	}
	return out
}

// inverseFrame expands the one-sided spectrum into buf with conjugate
// symmetry and runs the inverse FFT in place.
func (t *Transform) inverseFrame(frame []complex64, buf []complex128) {
	for i := range buf {
		buf[i] = 0
	}
	for i := 0; i < NumBins && i < len(frame); i++ {
		buf[i] = complex128(frame[i])
	}
	for i := 1; i < NumBins-1; i++ {
		buf[WindowSize-i] = cmplx.Conj(buf[i])
	}
	copy(buf, fft.IFFT(buf))
}
