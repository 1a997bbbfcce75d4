package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auralab/clarion/internal/artifact"
)

func TestNewStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	s, err := artifact.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", s.Dir(), dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("store dir not created: %v", err)
	}
}

func TestNewStoreEmptyDir(t *testing.T) {
	if _, err := artifact.NewStore(""); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestNewUploadPaths(t *testing.T) {
	s := newStore(t)

	p := s.NewUploadPaths("speech.wav")
	if !strings.HasPrefix(filepath.Base(p.Input), "input_") {
		t.Errorf("input name %q lacks input_ prefix", p.Input)
	}
	if !strings.HasPrefix(p.OutputID, "output_") {
		t.Errorf("output id %q lacks output_ prefix", p.OutputID)
	}
	if !strings.HasSuffix(p.Input, "_speech.wav") || !strings.HasSuffix(p.Output, "_speech.wav") {
		t.Errorf("paths %q / %q do not keep the original filename", p.Input, p.Output)
	}
	if filepath.Dir(p.Input) != s.Dir() || filepath.Dir(p.Output) != s.Dir() {
		t.Errorf("paths escape the store dir: %q / %q", p.Input, p.Output)
	}
	if p.OutputID != filepath.Base(p.Output) {
		t.Errorf("OutputID %q does not match output base %q", p.OutputID, filepath.Base(p.Output))
	}
}

func TestNewUploadPathsUnique(t *testing.T) {
	s := newStore(t)
	a := s.NewUploadPaths("x.wav")
	b := s.NewUploadPaths("x.wav")
	if a.Input == b.Input || a.Output == b.Output {
		t.Error("two uploads of the same filename collided")
	}
}

func TestNewUploadPathsStripsClientPath(t *testing.T) {
	s := newStore(t)
	p := s.NewUploadPaths("../../etc/passwd.wav")
	if filepath.Dir(p.Input) != s.Dir() {
		t.Errorf("client-supplied path escaped the store: %q", p.Input)
	}
	if strings.Contains(filepath.Base(p.Input), "..") {
		t.Errorf("input name %q kept traversal components", p.Input)
	}
}

func TestResolve(t *testing.T) {
	s := newStore(t)
	name := "output_abc_x.wav"
	if err := os.WriteFile(filepath.Join(s.Dir(), name), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := s.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != filepath.Join(s.Dir(), name) {
		t.Errorf("got %q", path)
	}
}

func TestResolveRejects(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"", "missing.wav", "../escape.wav", "a/b.wav", `a\b.wav`} {
		if _, err := s.Resolve(id); !errors.Is(err, artifact.ErrNotFound) {
			t.Errorf("Resolve(%q) = %v, want ErrNotFound", id, err)
		}
	}
}

func TestRemoveIdempotent(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir(), "input_abc_x.wav")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.Remove(ctx, path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Remove")
	}

	// Removing again must be a silent no-op.
	s.Remove(ctx, path)
}

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	s, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}
