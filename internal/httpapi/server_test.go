package httpapi_test

import (
	"bytes"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auralab/clarion/internal/artifact"
	"github.com/auralab/clarion/internal/engine"
	"github.com/auralab/clarion/internal/httpapi"
	"github.com/auralab/clarion/pkg/processor"
	"github.com/auralab/clarion/pkg/processor/mock"
	"github.com/auralab/clarion/pkg/wavio"
)

type fixture struct {
	server *httpapi.Server
	store  *artifact.Store
}

// newFixture builds a server around proc with a fresh temp store. proc may
// be nil to simulate a failed model load.
func newFixture(t *testing.T, proc processor.FrameProcessor) *fixture {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := httpapi.New(httpapi.Deps{
		Engine:            engine.New(proc),
		Store:             store,
		DefaultSampleRate: 16000,
		AllowedExtensions: []string{"wav", "mp3", "flac", "m4a"},
		Version:           "test",
	})
	return &fixture{server: srv, store: store}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func writeTone(t *testing.T, dir string, n int) string {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	path := filepath.Join(dir, "tone.wav")
	if err := wavio.WriteMono(path, samples, 16000); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRoot(t *testing.T) {
	f := newFixture(t, mock.New())
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSON[map[string]any](t, rec)
	if body["status"] != "running" {
		t.Errorf("status field = %v, want running", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version field = %v, want test", body["version"])
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		proc       processor.FrameProcessor
		wantStatus string
		wantLoaded bool
	}{
		{"model loaded", mock.New(), "healthy", true},
		{"degraded", nil, "degraded", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.proc)
			rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := decodeJSON[httpapi.HealthResponse](t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.ModelLoaded != tt.wantLoaded {
				t.Errorf("ModelLoaded = %t, want %t", body.ModelLoaded, tt.wantLoaded)
			}
		})
	}
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, mock.New())
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/models/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSON[httpapi.ModelInfoResponse](t, rec)
	if len(body.InputNames) == 0 || body.InputNames[0] != "mix" {
		t.Errorf("InputNames = %v, want mix first", body.InputNames)
	}
	if body.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", body.SampleRate)
	}
}

func TestModelInfoDegraded(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/models/info", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDenoiseByPath(t *testing.T) {
	f := newFixture(t, mock.New())
	input := writeTone(t, t.TempDir(), 4000)

	body, _ := json.Marshal(httpapi.DenoiseRequest{InputFile: input})
	req := httptest.NewRequest(http.MethodPost, "/denoise", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[httpapi.DenoiseResponse](t, rec)
	if !resp.Success {
		t.Errorf("Success = false: %s", resp.Message)
	}
	want := strings.TrimSuffix(input, ".wav") + "_denoised.wav"
	if resp.OutputFile != want {
		t.Errorf("OutputFile = %q, want %q", resp.OutputFile, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output file missing: %v", err)
	}
	if resp.ProcessingTime <= 0 {
		t.Errorf("ProcessingTime = %v, want > 0", resp.ProcessingTime)
	}
}

func TestDenoiseMissingInput(t *testing.T) {
	f := newFixture(t, mock.New())

	body, _ := json.Marshal(httpapi.DenoiseRequest{InputFile: "/nonexistent/in.wav"})
	req := httptest.NewRequest(http.MethodPost, "/denoise", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(t, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeJSON[httpapi.DenoiseResponse](t, rec)
	if resp.Success {
		t.Error("Success = true for missing input")
	}
	if resp.ProcessingTime < 0 {
		t.Error("ProcessingTime missing from error response")
	}
}

func TestDenoiseDegraded(t *testing.T) {
	f := newFixture(t, nil)
	input := writeTone(t, t.TempDir(), 1000)

	body, _ := json.Marshal(httpapi.DenoiseRequest{InputFile: input})
	req := httptest.NewRequest(http.MethodPost, "/denoise", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(t, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDenoiseMissingInputFile(t *testing.T) {
	f := newFixture(t, mock.New())
	req := httptest.NewRequest(http.MethodPost, "/denoise", strings.NewReader("{}"))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadAndDownload(t *testing.T) {
	f := newFixture(t, mock.New())
	input := writeTone(t, t.TempDir(), 4000)

	rec := f.do(t, uploadRequest(t, input, "speech.wav"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[httpapi.DenoiseResponse](t, rec)
	if !resp.Success {
		t.Fatalf("Success = false: %s", resp.Message)
	}
	if resp.DownloadURL != "/download/"+resp.OutputFile {
		t.Errorf("DownloadURL = %q, OutputFile = %q", resp.DownloadURL, resp.OutputFile)
	}

	// The uploaded input copy must be gone; only the output remains.
	entries, err := os.ReadDir(f.store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "output_") {
		t.Errorf("store dir after upload: %v", names(entries))
	}

	dl := f.do(t, httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if dl.Body.Len() == 0 {
		t.Error("download body is empty")
	}
}

func TestUploadRejectedExtensionLeavesNoTrace(t *testing.T) {
	f := newFixture(t, mock.New())
	input := writeTone(t, t.TempDir(), 1000)

	rec := f.do(t, uploadRequest(t, input, "speech.ogg"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	entries, err := os.ReadDir(f.store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left temp files: %v", names(entries))
	}
}

func TestUploadFailedRunCleansUp(t *testing.T) {
	proc := mock.New()
	proc.FailAt = 0
	f := newFixture(t, proc)
	input := writeTone(t, t.TempDir(), 1000)

	rec := f.do(t, uploadRequest(t, input, "speech.wav"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	entries, err := os.ReadDir(f.store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed upload left temp files: %v", names(entries))
	}
}

func TestDownloadNotFound(t *testing.T) {
	f := newFixture(t, mock.New())
	for _, id := range []string{"missing.wav", "..%2Fescape.wav"} {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("download %q: status = %d, want 404", id, rec.Code)
		}
	}
}

const echoContentType = "Content-Type"

// uploadRequest builds a multipart POST to /denoise/upload carrying the
// file at path under the given client filename.
func uploadRequest(t *testing.T, path, filename string) *http.Request {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/denoise/upload", &buf)
	req.Header.Set(echoContentType, w.FormDataContentType())
	return req
}

func names(entries []os.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}
