// Package config loads clipqueue runtime configuration.
//
// Precedence, highest first: runtime overrides, environment variables, the
// config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/clipqueue/pkg/match"
)

// Config is the full runtime configuration.
type Config struct {
	Server            ServerConfig   `mapstructure:"server"`
	Logging           LoggingConfig  `mapstructure:"logging"`
	Storage           StorageConfig  `mapstructure:"storage"`
	Media             MediaConfig    `mapstructure:"media"`
	Pipeline          PipelineConfig `mapstructure:"pipeline"`
	Workers           int            `mapstructure:"workers"`
	Publish           PublishConfig  `mapstructure:"publish"`
	AllowedExtensions []string       `mapstructure:"allowed_extensions"`
}

// ServerConfig configures the HTTP status and upload API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxUploadBytes caps a single upload request body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// SubmitRate is the sustained uploads per second allowed. Zero disables
	// throttling.
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig names the local directories jobs read from and write to.
type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// MediaConfig locates the external tools.
type MediaConfig struct {
	FFmpegPath  string  `mapstructure:"ffmpeg_path"`
	FFprobePath string  `mapstructure:"ffprobe_path"`
	FallbackFPS float64 `mapstructure:"fallback_fps"`
}

// PipelineConfig configures background removal.
type PipelineConfig struct {
	// Transform is "chroma" or "matte".
	Transform           string        `mapstructure:"transform"`
	Chroma              ChromaConfig  `mapstructure:"chroma"`
	Matte               MatteConfig   `mapstructure:"matte"`
	EncoderWaitTimeout  time.Duration `mapstructure:"encoder_wait_timeout"`
	RemovePartialOutput bool          `mapstructure:"remove_partial_output"`
	ProgressLogEvery    int           `mapstructure:"progress_log_every"`
}

// ChromaConfig configures the chroma keyer.
type ChromaConfig struct {
	KeyColor  string  `mapstructure:"key_color"`
	Tolerance float64 `mapstructure:"tolerance"`
	Softness  float64 `mapstructure:"softness"`
}

// MatteConfig configures the external matting helper.
type MatteConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// PublishConfig configures artifact publishing after a job completes.
type PublishConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Provider is "s3" or "file".
	Provider string            `mapstructure:"provider"`
	Prefix   string            `mapstructure:"prefix"`
	S3       S3PublishConfig   `mapstructure:"s3"`
	File     FilePublishConfig `mapstructure:"file"`
}

// S3PublishConfig configures the S3 publish target.
type S3PublishConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// FilePublishConfig configures the local mirror publish target.
type FilePublishConfig struct {
	Dir string `mapstructure:"dir"`
}

// Defaults returns the built-in defaults keyed by dotted path.
func Defaults() map[string]any {
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8500,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",
		"server.max_upload_bytes": int64(2 << 30),
		"server.submit_rate":      5.0,
		"server.submit_burst":     10,

		"logging.level":   "info",
		"logging.profile": "structured",

		"storage.upload_dir": "uploads",
		"storage.output_dir": "outputs",

		"media.ffmpeg_path":  "ffmpeg",
		"media.ffprobe_path": "ffprobe",
		"media.fallback_fps": 25.0,

		"pipeline.transform":             "chroma",
		"pipeline.chroma.key_color":      "#00b140",
		"pipeline.chroma.tolerance":      80.0,
		"pipeline.chroma.softness":       40.0,
		"pipeline.matte.command":         "",
		"pipeline.matte.args":            []string{},
		"pipeline.encoder_wait_timeout":  "0s",
		"pipeline.remove_partial_output": false,
		"pipeline.progress_log_every":    30,

		"workers": 1,

		"publish.enabled":             false,
		"publish.provider":            "s3",
		"publish.prefix":              "",
		"publish.s3.bucket":           "",
		"publish.s3.region":           "",
		"publish.s3.endpoint":         "",
		"publish.s3.profile":          "",
		"publish.s3.force_path_style": false,
		"publish.file.dir":            "",
		"allowed_extensions":          append([]string(nil), match.DefaultExtensions...),
	}
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		add("server.max_upload_bytes must be positive")
	}
	if c.Server.SubmitRate < 0 {
		add("server.submit_rate must not be negative")
	}
	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	}
	if c.Media.FallbackFPS <= 0 {
		add("media.fallback_fps must be positive")
	}
	if c.Storage.OutputDir == "" {
		add("storage.output_dir is required")
	}
	if c.Storage.UploadDir == "" {
		add("storage.upload_dir is required")
	}
	switch strings.ToLower(c.Pipeline.Transform) {
	case "chroma":
	case "matte":
		if c.Pipeline.Matte.Command == "" {
			add("pipeline.matte.command is required when pipeline.transform is matte")
		}
	default:
		add("pipeline.transform %q is not chroma or matte", c.Pipeline.Transform)
	}
	if _, err := match.ExtensionPattern(c.AllowedExtensions); err != nil {
		add("allowed_extensions: %v", err)
	}
	if c.Publish.Enabled {
		switch c.Publish.Provider {
		case "s3":
			if c.Publish.S3.Bucket == "" {
				add("publish.s3.bucket is required when publishing to s3")
			}
		case "file":
			if c.Publish.File.Dir == "" {
				add("publish.file.dir is required when publishing to file")
			}
		default:
			add("publish.provider %q is not s3 or file", c.Publish.Provider)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
