// Package artifact manages the temporary files that flow through the
// server: uploaded input copies and denoised outputs held for download.
//
// Every artifact name embeds a per-request random identifier, so concurrent
// requests can never collide. Cleanup is idempotent: removing an artifact
// that is already gone is a no-op, and cleanup failures are logged but
// never surface past the request that scheduled them.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/auralab/clarion/internal/observe"
)

// ErrNotFound means the requested artifact does not exist in the store:
// either it was already cleaned up or it was never created.
var ErrNotFound = errors.New("artifact: not found")

// Store owns the temporary-artifacts directory.
type Store struct {
	dir     string
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics installs metrics instruments. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates the artifacts directory if needed and returns a Store
// rooted there.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create dir %q: %w", dir, err)
	}
	s := &Store{dir: dir, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// UploadPaths holds the per-request temp file locations for an upload.
type UploadPaths struct {
	// Input is where the uploaded bytes are persisted.
	Input string

	// Output is where the denoised result is written.
	Output string

	// OutputID is the identifier the client uses to download the output.
	OutputID string
}

// NewUploadPaths derives fresh, collision-free temp paths for an uploaded
// file. filename is reduced to its base name, so client-supplied paths
// cannot escape the store.
func (s *Store) NewUploadPaths(filename string) UploadPaths {
	name := filepath.Base(filename)
	id := uuid.NewString()
	outName := fmt.Sprintf("output_%s_%s", id, name)
	return UploadPaths{
		Input:    filepath.Join(s.dir, fmt.Sprintf("input_%s_%s", id, name)),
		Output:   filepath.Join(s.dir, outName),
		OutputID: outName,
	}
}

// Resolve maps a download identifier back to a path inside the store.
// Identifiers containing path separators are rejected outright; a missing
// file yields [ErrNotFound].
func (s *Store) Resolve(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return "", fmt.Errorf("%w: invalid identifier %q", ErrNotFound, id)
	}
	path := filepath.Join(s.dir, id)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return path, nil
}

// Remove deletes a temp file. Removing a file that is already gone is a
// no-op; any other failure is logged and swallowed so cleanup never masks
// the primary result of a request.
func (s *Store) Remove(ctx context.Context, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		s.log.Debug("removed temp artifact", "path", path)
		if s.metrics != nil {
			s.metrics.ArtifactsCleaned.Add(ctx, 1)
		}
	case os.IsNotExist(err):
		// Already cleaned up elsewhere.
	default:
		s.log.Warn("failed to remove temp artifact", "path", path, "err", err)
	}
}
