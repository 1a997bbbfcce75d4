// Package normalize prepares arbitrary audio inputs for the denoising
// engine by converting them to mono WAV at the target sample rate.
//
// The conversion itself is delegated to the external ffmpeg/ffprobe binaries;
// this package only decides whether a conversion is needed and manages the
// intermediate file. When ffmpeg is not installed the input passes through
// untouched and the engine works with whatever it was given.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Normalizer converts an input file to the target sample rate if required.
// Prepare returns the path to use for inference and a cleanup function that
// removes any intermediate file it created (a no-op when the input was
// already suitable).
type Normalizer interface {
	Prepare(ctx context.Context, inputPath string, targetRate int) (path string, cleanup func(), err error)
}

// StreamInfo describes the audio stream of a probed file.
type StreamInfo struct {
	SampleRate int
	Channels   int
	Codec      string
}

// FFmpeg implements Normalizer using the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	// FFmpegPath is the ffmpeg binary. Empty means "ffmpeg" on PATH.
	FFmpegPath string

	// FFprobePath is the ffprobe binary. Empty means "ffprobe" on PATH.
	FFprobePath string

	// Logger receives conversion progress. Nil means slog.Default().
	Logger *slog.Logger
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

func (f *FFmpeg) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Available reports whether the ffmpeg binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.ffmpeg())
	return err == nil
}

// Probe runs ffprobe on path and returns the first audio stream's format.
func (f *FFmpeg) Probe(ctx context.Context, path string) (StreamInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return StreamInfo{}, fmt.Errorf("normalize: ffprobe %q: %w", path, err)
	}

	var parsed struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		return StreamInfo{}, fmt.Errorf("normalize: parse ffprobe output: %w", err)
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "audio" {
			continue
		}
		rate, _ := strconv.Atoi(s.SampleRate)
		return StreamInfo{SampleRate: rate, Channels: s.Channels, Codec: s.CodecName}, nil
	}
	return StreamInfo{}, fmt.Errorf("normalize: no audio stream in %q", path)
}

// Convert transcodes inputPath to mono WAV at targetRate, writing outputPath.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string, targetRate int) error {
	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("normalize: create output dir: %w", err)
		}
	}
	cmd := exec.CommandContext(ctx, f.ffmpeg(),
		"-i", inputPath,
		"-ar", strconv.Itoa(targetRate),
		"-ac", "1",
		"-y",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("normalize: ffmpeg convert %q: %w: %s", inputPath, err, lastLine(stderr.String()))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("normalize: ffmpeg produced no output: %w", err)
	}
	return nil
}

// Prepare implements Normalizer. Files already at the target rate (or whose
// format cannot be probed) pass through unchanged; everything else is
// converted into a temp_<rate>k_<stem>.wav sibling that cleanup removes.
func (f *FFmpeg) Prepare(ctx context.Context, inputPath string, targetRate int) (string, func(), error) {
	noop := func() {}

	if !f.Available() {
		f.log().Warn("ffmpeg not available, skipping input normalization", "input", inputPath)
		return inputPath, noop, nil
	}

	info, err := f.Probe(ctx, inputPath)
	if err != nil {
		f.log().Warn("probe failed, using input as-is", "input", inputPath, "err", err)
		return inputPath, noop, nil
	}
	if info.SampleRate == targetRate && info.Channels == 1 && info.Codec == "pcm_s16le" {
		return inputPath, noop, nil
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	converted := filepath.Join(filepath.Dir(inputPath),
		fmt.Sprintf("temp_%dk_%s.wav", targetRate/1000, stem))

	f.log().Info("converting input",
		"input", inputPath,
		"from_rate", info.SampleRate,
		"to_rate", targetRate,
		"channels", info.Channels,
	)
	if err := f.Convert(ctx, inputPath, converted, targetRate); err != nil {
		return "", noop, err
	}

	cleanup := func() {
		if err := os.Remove(converted); err != nil && !os.IsNotExist(err) {
			f.log().Warn("failed to remove converted temp file", "path", converted, "err", err)
		}
	}
	return converted, cleanup, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
