package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"go2tv.app/screenrec/compose"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/recorder"
)

// Config represents the complete screenrec configuration
type Config struct {
	Recording RecordingConfig `mapstructure:"recording"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RecordingConfig holds the per-session recording settings
type RecordingConfig struct {
	Webcam  WebcamConfig `mapstructure:"webcam"`
	Audio   AudioConfig  `mapstructure:"audio"`
	Quality string       `mapstructure:"quality"`
	// SavePath is a directory or a file path. Empty saves a default-named
	// file in the working directory.
	SavePath string `mapstructure:"save_path"`
	// CopyPath copies the saved file path to the clipboard
	CopyPath bool `mapstructure:"copy_path"`
}

// WebcamConfig controls the camera overlay
type WebcamConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Position string `mapstructure:"position"`
	// Size is the overlay width as a percentage of the output width
	Size   int    `mapstructure:"size"`
	Shape  string `mapstructure:"shape"`
	Device string `mapstructure:"device"`
}

// AudioConfig controls microphone capture
type AudioConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Device  string `mapstructure:"device"`
}

// EncoderConfig controls the ffmpeg encoder
type EncoderConfig struct {
	FFmpegPath      string `mapstructure:"ffmpeg_path"`
	FlushIntervalMs int    `mapstructure:"flush_interval_ms"`
	FrameRate       int    `mapstructure:"frame_rate"`
}

// CaptureConfig controls source acquisition
type CaptureConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	CameraWidth  int           `mapstructure:"camera_width"`
	CameraHeight int           `mapstructure:"camera_height"`
}

// LoggingConfig controls the JSON log output
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File is the log file path; empty logs to stderr
	File string `mapstructure:"file"`
}

// Clamp bounds for numeric knobs.
const (
	MinFlushIntervalMs = 20
	MaxFlushIntervalMs = 1000
	MinReadyTimeout    = time.Second
	MaxReadyTimeout    = 60 * time.Second
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Recording: RecordingConfig{
			Webcam: WebcamConfig{
				Enabled:  true,
				Position: string(compose.BottomRight),
				Size:     20,
				Shape:    string(compose.ShapeCircle),
			},
			Audio: AudioConfig{
				Enabled: true,
				Device:  "default",
			},
			Quality: string(media.Quality1080p),
		},
		Encoder: EncoderConfig{
			FFmpegPath:      "ffmpeg",
			FlushIntervalMs: 100,
			FrameRate:       30,
		},
		Capture: CaptureConfig{
			ReadyTimeout: recorder.DefaultReadyTimeout,
			CameraWidth:  recorder.DefaultCameraResolution.Width,
			CameraHeight: recorder.DefaultCameraResolution.Height,
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Recording defaults
	v.SetDefault("recording.webcam.enabled", defaults.Recording.Webcam.Enabled)
	v.SetDefault("recording.webcam.position", defaults.Recording.Webcam.Position)
	v.SetDefault("recording.webcam.size", defaults.Recording.Webcam.Size)
	v.SetDefault("recording.webcam.shape", defaults.Recording.Webcam.Shape)
	v.SetDefault("recording.webcam.device", defaults.Recording.Webcam.Device)
	v.SetDefault("recording.audio.enabled", defaults.Recording.Audio.Enabled)
	v.SetDefault("recording.audio.device", defaults.Recording.Audio.Device)
	v.SetDefault("recording.quality", defaults.Recording.Quality)
	v.SetDefault("recording.save_path", defaults.Recording.SavePath)
	v.SetDefault("recording.copy_path", defaults.Recording.CopyPath)

	// Encoder defaults
	v.SetDefault("encoder.ffmpeg_path", defaults.Encoder.FFmpegPath)
	v.SetDefault("encoder.flush_interval_ms", defaults.Encoder.FlushIntervalMs)
	v.SetDefault("encoder.frame_rate", defaults.Encoder.FrameRate)

	// Capture defaults
	v.SetDefault("capture.ready_timeout", defaults.Capture.ReadyTimeout)
	v.SetDefault("capture.camera_width", defaults.Capture.CameraWidth)
	v.SetDefault("capture.camera_height", defaults.Capture.CameraHeight)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
}

// Load reads the configuration from v, clamps the bounded knobs and
// validates the result
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.clamp()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

func (c *Config) clamp() {
	c.Encoder.FlushIntervalMs = clampInt(c.Encoder.FlushIntervalMs, MinFlushIntervalMs, MaxFlushIntervalMs)
	c.Capture.ReadyTimeout = clampDuration(c.Capture.ReadyTimeout, MinReadyTimeout, MaxReadyTimeout)
}

func clampInt(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	return max(lo, min(d, hi))
}

// FlushInterval returns the encoder chunk cadence as a Duration
func (c *EncoderConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// CameraResolution returns the requested camera capture size
func (c *CaptureConfig) CameraResolution() media.Resolution {
	return media.Resolution{Width: c.CameraWidth, Height: c.CameraHeight}
}

// Settings converts the recording section into session settings. The
// config must have passed Validate.
func (c *Config) Settings() recorder.Settings {
	r := c.Recording
	position, _ := compose.ParsePosition(r.Webcam.Position)
	shape, _ := compose.ParseShape(r.Webcam.Shape)
	quality, _ := media.ParseQuality(r.Quality)
	return recorder.Settings{
		Layout: compose.Layout{
			WebcamEnabled: r.Webcam.Enabled,
			Position:      position,
			SizePercent:   r.Webcam.Size,
			Shape:         shape,
		},
		WebcamDevice: r.Webcam.Device,
		AudioEnabled: r.Audio.Enabled,
		AudioDevice:  r.Audio.Device,
		Quality:      quality,
		SavePath:     r.SavePath,
	}
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "screenrec")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screenrec"
	}
	return filepath.Join(home, ".config", "screenrec")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
