package dsp_test

import (
	"math"
	"testing"

	"github.com/auralab/clarion/pkg/dsp"
)

func TestNumFrames(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"empty", 0, 0},
		{"negative", -5, 0},
		{"one sample", 1, 1},
		{"half window", 256, 1},
		{"exact window", 512, 1},
		{"window plus one", 513, 2},
		{"window plus hop", 768, 2},
		{"two windows", 1024, 3},
		{"one second at 16k", 16000, 62},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dsp.NumFrames(tt.n); got != tt.want {
				t.Errorf("NumFrames(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestAnalyzeShape(t *testing.T) {
	tr := dsp.NewTransform()
	samples := sine(2000, 440, 16000)

	frames := tr.Analyze(samples)
	if got, want := len(frames), dsp.NumFrames(len(samples)); got != want {
		t.Fatalf("got %d frames, want %d", got, want)
	}
	for i, f := range frames {
		if len(f) != dsp.NumBins {
			t.Fatalf("frame %d has %d bins, want %d", i, len(f), dsp.NumBins)
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	tr := dsp.NewTransform()
	if frames := tr.Analyze(nil); len(frames) != 0 {
		t.Errorf("got %d frames for empty input, want 0", len(frames))
	}
}

// Identity round trip: analysis followed by synthesis must reproduce the
// signal wherever two analysis windows overlap. The first hop and the final
// stretch past the last full overlap are covered by a single window and
// therefore attenuated; everything between must match.
func TestRoundTrip(t *testing.T) {
	tr := dsp.NewTransform()
	samples := sine(4096, 440, 16000)

	out := tr.Synthesize(tr.Analyze(samples), len(samples))
	if got, want := len(out), len(samples); got != want {
		t.Fatalf("got %d output samples, want %d", got, want)
	}

	upper := len(samples) - dsp.WindowSize + dsp.Hop
	for i := dsp.Hop; i < upper; i++ {
		if diff := math.Abs(float64(out[i] - samples[i])); diff > 1e-3 {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, out[i], samples[i], diff)
		}
	}
}

func TestRoundTripShortSignal(t *testing.T) {
	tr := dsp.NewTransform()
	samples := sine(300, 440, 16000)

	frames := tr.Analyze(samples)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	out := tr.Synthesize(frames, len(samples))
	if got, want := len(out), len(samples); got != want {
		t.Fatalf("got %d output samples, want %d", got, want)
	}
}

// The streaming single-frame entry points must agree with the batch
// transform frame by frame.
func TestAnalyzeFrameMatchesAnalyze(t *testing.T) {
	tr := dsp.NewTransform()
	samples := sine(1024, 330, 16000)

	batch := tr.Analyze(samples)
	for i := range batch {
		off := i * dsp.Hop
		end := off + dsp.WindowSize
		if end > len(samples) {
			end = len(samples)
		}
		single := tr.AnalyzeFrame(samples[off:end])
		for b := 0; b < dsp.NumBins; b++ {
			if d := cabs(single[b] - batch[i][b]); d > 1e-4 {
				t.Fatalf("frame %d bin %d: streaming %v vs batch %v", i, b, single[b], batch[i][b])
			}
		}
	}
}

func TestInverseFrameOverlapAdd(t *testing.T) {
	tr := dsp.NewTransform()
	samples := sine(1024, 330, 16000)
	frames := tr.Analyze(samples)

	// Overlap-add the per-frame inverses by hand and compare with
	// Synthesize.
	total := dsp.Hop*(len(frames)-1) + dsp.WindowSize
	manual := make([]float32, total)
	for i, f := range frames {
		chunk := tr.InverseFrame(f)
		for j, v := range chunk {
			manual[i*dsp.Hop+j] += v
		}
	}

	batch := tr.Synthesize(frames, 0)
	if len(batch) != len(manual) {
		t.Fatalf("length mismatch: %d vs %d", len(batch), len(manual))
	}
	for i := range batch {
		if d := math.Abs(float64(batch[i] - manual[i])); d > 1e-4 {
			t.Fatalf("sample %d: batch %v vs manual %v", i, batch[i], manual[i])
		}
	}
}

func TestSynthesizeEmpty(t *testing.T) {
	tr := dsp.NewTransform()
	if out := tr.Synthesize(nil, 0); out != nil {
		t.Errorf("got %d samples for empty frames, want nil", len(out))
	}
}

func sine(n int, freq, rate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func cabs(c complex64) float64 {
	return math.Hypot(float64(real(c)), float64(imag(c)))
}
