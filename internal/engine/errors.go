package engine

import (
	"errors"
	"fmt"
)

// ErrProcessorNotReady means the frame processor failed to load at startup.
// Every denoise request is rejected with this error until the process is
// restarted with a working model.
var ErrProcessorNotReady = errors.New("engine: processor not ready")

// ErrInputNotFound means the request's input path does not exist. Detected
// before the run starts; no side effects have occurred.
var ErrInputNotFound = errors.New("engine: input file not found")

// ErrUnsupportedFormat means an uploaded filename carries an extension
// outside the allowed set. Detected before any temp file is created.
var ErrUnsupportedFormat = errors.New("engine: unsupported audio format")

// FrameError reports that a single frame evaluation failed. The whole run
// is aborted and no output is written.
type FrameError struct {
	// Index is the zero-based frame index that failed.
	Index int

	// Err is the underlying processor error.
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("engine: frame %d evaluation failed: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ReconstructionError reports that inference succeeded but writing the
// result failed. Distinct from inference failure so callers can tell a full
// disk from a broken model.
type ReconstructionError struct {
	// Path is the output path that could not be written.
	Path string

	// Err is the underlying I/O error.
	Err error
}

func (e *ReconstructionError) Error() string {
	return fmt.Sprintf("engine: write output %q: %v", e.Path, e.Err)
}

func (e *ReconstructionError) Unwrap() error { return e.Err }
