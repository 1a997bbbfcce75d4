// Package wavio reads and writes mono PCM WAV files as float32 sample
// slices, the interchange format of the denoising engine.
package wavio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadMono decodes the WAV file at path into float32 samples in [-1, 1] and
// returns them with the file's sample rate. Multi-channel files are downmixed
// by averaging.
func ReadMono(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wavio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("wavio: %q is not a valid WAV file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wavio: read PCM from %q: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, 0, fmt.Errorf("wavio: %q reports %d channels", path, channels)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	// AsFloat32Buffer keeps raw integer magnitudes, so scale to [-1, 1]
	// ourselves.
	scale := float32(int64(1) << (bitDepth - 1))

	if channels == 1 {
		mono := make([]float32, len(buf.Data))
		for i, v := range buf.Data {
			mono[i] = float32(v) / scale
		}
		return mono, buf.Format.SampleRate, nil
	}

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c])
		}
		mono[i] = sum / float32(channels) / scale
	}
	return mono, buf.Format.SampleRate, nil
}

// WriteMono encodes samples as a 16-bit mono PCM WAV file at path, creating
// parent directories as needed. Samples outside [-1, 1] are clipped.
func WriteMono(path string, samples []float32, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("wavio: create output dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: create %q: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf.Data[i] = int(math.Round(v * 32767))
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("wavio: write %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("wavio: finalize %q: %w", path, err)
	}
	return f.Close()
}
