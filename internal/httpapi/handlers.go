package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/auralab/clarion/internal/artifact"
	"github.com/auralab/clarion/internal/engine"
)

// DenoiseRequest is the JSON body of POST /denoise.
type DenoiseRequest struct {
	// InputFile is a server-local path to the audio file to denoise.
	InputFile string `json:"input_file"`

	// OutputFile is where to write the result. Defaults to
	// <stem>_denoised<ext> next to the input.
	OutputFile string `json:"output_file,omitempty"`

	// SampleRate overrides the configured default rate.
	SampleRate int `json:"samplerate,omitempty"`
}

// DenoiseResponse is the JSON result of POST /denoise and /denoise/upload.
// ProcessingTime is populated on both success and failure.
type DenoiseResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	InputFile      string  `json:"input_file,omitempty"`
	OutputFile     string  `json:"output_file,omitempty"`
	DownloadURL    string  `json:"download_url,omitempty"`
	ProcessingTime float64 `json:"processing_time"`
	FileSize       int64   `json:"file_size,omitempty"`
}

// HealthResponse is the JSON result of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	ModelLoaded   bool    `json:"model_loaded"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ModelInfoResponse is the JSON result of GET /models/info.
type ModelInfoResponse struct {
	ModelLoaded bool     `json:"model_loaded"`
	ModelPath   string   `json:"model_path"`
	Providers   []string `json:"providers"`
	InputNames  []string `json:"input_names"`
	OutputNames []string `json:"output_names"`
	SampleRate  int      `json:"samplerate"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service": "clarion speech denoising",
		"version": s.version,
		"status":  "running",
		"endpoints": map[string]string{
			"health":     "/health",
			"model_info": "/models/info",
			"denoise":    "/denoise",
			"upload":     "/denoise/upload",
			"stream":     "/denoise/stream",
			"metrics":    "/metrics",
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	status := "healthy"
	if !s.engine.Ready() {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        status,
		ModelLoaded:   s.engine.Ready(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleModelInfo(c echo.Context) error {
	info, ok := s.engine.ProcessorInfo()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "model not loaded",
		})
	}
	return c.JSON(http.StatusOK, ModelInfoResponse{
		ModelLoaded: true,
		ModelPath:   info.ModelPath,
		Providers:   info.Providers,
		InputNames:  info.InputNames,
		OutputNames: info.OutputNames,
		SampleRate:  s.defaultRate,
	})
}

// handleDenoise processes a server-local file in place. The response always
// carries the elapsed time, so clients can observe how long a failed run
// took to fail.
func (s *Server) handleDenoise(c echo.Context) error {
	start := time.Now()

	var req DenoiseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, DenoiseResponse{
			Message:        "invalid request body",
			ProcessingTime: time.Since(start).Seconds(),
		})
	}
	if req.InputFile == "" {
		return c.JSON(http.StatusBadRequest, DenoiseResponse{
			Message:        "input_file is required",
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	outputPath := req.OutputFile
	if outputPath == "" {
		outputPath = defaultOutputPath(req.InputFile)
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = s.defaultRate
	}

	ctx := c.Request().Context()
	res, err := s.engine.Denoise(ctx, req.InputFile, outputPath, rate)
	s.engine.RecordRun(ctx, "http", time.Since(start), err)
	if err != nil {
		s.log.Error("denoise failed", "input", req.InputFile, "err", err)
		return c.JSON(statusFor(err), DenoiseResponse{
			Message:        err.Error(),
			InputFile:      req.InputFile,
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	return c.JSON(http.StatusOK, DenoiseResponse{
		Success:        true,
		Message:        "audio denoised successfully",
		InputFile:      req.InputFile,
		OutputFile:     res.OutputPath,
		ProcessingTime: time.Since(start).Seconds(),
		FileSize:       res.OutputBytes,
	})
}

// handleUpload accepts a multipart file, denoises it into a downloadable
// temp artifact, and removes the input copy once the request finishes. The
// extension gate runs before any temp file exists, so rejected uploads leave
// no trace on disk.
func (s *Server) handleUpload(c echo.Context) error {
	start := time.Now()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, DenoiseResponse{
			Message:        "multipart field \"file\" is required",
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fh.Filename)), ".")
	if !s.allowedExts[ext] {
		err := fmt.Errorf("%w: %q", engine.ErrUnsupportedFormat, ext)
		return c.JSON(http.StatusBadRequest, DenoiseResponse{
			Message:        err.Error(),
			InputFile:      fh.Filename,
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	rate := s.defaultRate
	if v := c.FormValue("samplerate"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, DenoiseResponse{
				Message:        fmt.Sprintf("invalid samplerate %q", v),
				InputFile:      fh.Filename,
				ProcessingTime: time.Since(start).Seconds(),
			})
		}
		rate = parsed
	}

	paths := s.store.NewUploadPaths(fh.Filename)
	ctx := c.Request().Context()

	if err := saveUpload(fh, paths.Input); err != nil {
		s.log.Error("persist upload failed", "file", fh.Filename, "err", err)
		s.store.Remove(ctx, paths.Input)
		return c.JSON(http.StatusInternalServerError, DenoiseResponse{
			Message:        "failed to persist upload",
			InputFile:      fh.Filename,
			ProcessingTime: time.Since(start).Seconds(),
		})
	}
	// The input copy is only needed for the duration of the run.
	defer s.store.Remove(ctx, paths.Input)

	res, err := s.engine.Denoise(ctx, paths.Input, paths.Output, rate)
	s.engine.RecordRun(ctx, "http", time.Since(start), err)
	if err != nil {
		s.log.Error("denoise upload failed", "file", fh.Filename, "err", err)
		s.store.Remove(ctx, paths.Output)
		return c.JSON(statusFor(err), DenoiseResponse{
			Message:        err.Error(),
			InputFile:      fh.Filename,
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	return c.JSON(http.StatusOK, DenoiseResponse{
		Success:        true,
		Message:        "audio denoised successfully",
		InputFile:      fh.Filename,
		OutputFile:     paths.OutputID,
		DownloadURL:    "/download/" + paths.OutputID,
		ProcessingTime: time.Since(start).Seconds(),
		FileSize:       res.OutputBytes,
	})
}

func (s *Server) handleDownload(c echo.Context) error {
	id := c.Param("artifact_id")
	path, err := s.store.Resolve(id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "file not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve file",
		})
	}
	return c.Attachment(path, id)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInputNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrProcessorNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// defaultOutputPath places the result next to the input as
// <stem>_denoised<ext>.
func defaultOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	stem := strings.TrimSuffix(inputPath, ext)
	return stem + "_denoised" + ext
}

// saveUpload copies the multipart part to dst.
func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
