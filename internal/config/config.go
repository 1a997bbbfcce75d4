// Package config provides the configuration schema and loader for the
// Clarion denoising server.
package config

// LogLevel controls log verbosity for the Clarion server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Clarion.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	UDP     UDPConfig     `yaml:"udp"`
	Model   ModelConfig   `yaml:"model"`
	Audio   AudioConfig   `yaml:"audio"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds network and logging settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// UDPConfig holds settings for the datagram surface.
type UDPConfig struct {
	// Enabled turns the UDP listener on.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the UDP address to bind (e.g., ":7000").
	ListenAddr string `yaml:"listen_addr"`
}

// ModelConfig locates the frame-processor model.
type ModelConfig struct {
	// Path is the .onnx model file.
	Path string `yaml:"path"`

	// SharedLibrary optionally points at the onnxruntime shared library.
	SharedLibrary string `yaml:"shared_library"`
}

// AudioConfig holds audio pipeline settings.
type AudioConfig struct {
	// SampleRate is the default (and UDP-surface) sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// NormalizeInput enables ffmpeg-based conversion of inputs whose
	// format differs from the target rate.
	NormalizeInput bool `yaml:"normalize_input"`

	// FFmpegPath overrides the ffmpeg binary location.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath overrides the ffprobe binary location.
	FFprobePath string `yaml:"ffprobe_path"`
}

// StorageConfig holds temp-artifact settings.
type StorageConfig struct {
	// TempDir is the temporary-artifacts directory.
	TempDir string `yaml:"temp_dir"`

	// AllowedExtensions lists accepted upload extensions without the dot.
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// Default returns the configuration used when no config file is given:
// HTTP on :8000, UDP on :7000, 16 kHz audio, ./temp artifacts, and the
// upload formats the original service accepted.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   LogInfo,
		},
		UDP: UDPConfig{
			Enabled:    true,
			ListenAddr: ":7000",
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			NormalizeInput: true,
		},
		Storage: StorageConfig{
			TempDir:           "temp",
			AllowedExtensions: []string{"wav", "mp3", "flac", "m4a"},
		},
	}
}
