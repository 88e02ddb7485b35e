package config

import (
	"fmt"
	"slices"
	"strings"

	"go2tv.app/screenrec/compose"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "recording.webcam.size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateRecording()...)
	errors = append(errors, c.validateEncoder()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateRecording() []ValidationError {
	var errors []ValidationError
	r := c.Recording

	if _, err := media.ParseQuality(r.Quality); err != nil {
		errors = append(errors, ValidationError{
			Field:   "recording.quality",
			Value:   r.Quality,
			Message: "must be one of: 1080p, 4k",
		})
	}
	if _, err := compose.ParsePosition(r.Webcam.Position); err != nil {
		errors = append(errors, ValidationError{
			Field:   "recording.webcam.position",
			Value:   r.Webcam.Position,
			Message: "must be one of: top-left, top-right, bottom-left, bottom-right",
		})
	}
	if _, err := compose.ParseShape(r.Webcam.Shape); err != nil {
		errors = append(errors, ValidationError{
			Field:   "recording.webcam.shape",
			Value:   r.Webcam.Shape,
			Message: "must be one of: square, rounded, circle",
		})
	}
	if r.Webcam.Size < compose.MinSizePercent || r.Webcam.Size > compose.MaxSizePercent {
		errors = append(errors, ValidationError{
			Field:   "recording.webcam.size",
			Value:   r.Webcam.Size,
			Message: fmt.Sprintf("must be between %d and %d", compose.MinSizePercent, compose.MaxSizePercent),
		})
	}
	return errors
}

func (c *Config) validateEncoder() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Encoder.FFmpegPath) == "" {
		errors = append(errors, ValidationError{
			Field:   "encoder.ffmpeg_path",
			Value:   c.Encoder.FFmpegPath,
			Message: "must not be empty",
		})
	}
	if c.Encoder.FrameRate < 1 || c.Encoder.FrameRate > 120 {
		errors = append(errors, ValidationError{
			Field:   "encoder.frame_rate",
			Value:   c.Encoder.FrameRate,
			Message: "must be between 1 and 120",
		})
	}
	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError
	if c.Capture.CameraWidth <= 0 || c.Capture.CameraHeight <= 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.camera_width",
			Value:   c.Capture.CameraResolution().String(),
			Message: "camera size must be positive",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	level := strings.ToUpper(strings.TrimSpace(c.Logging.Level))
	if level == "" || slices.Contains(logging.ValidLevels(), level) {
		return nil
	}
	return []ValidationError{{
		Field:   "logging.level",
		Value:   c.Logging.Level,
		Message: "must be one of: " + strings.ToLower(strings.Join(logging.ValidLevels(), ", ")),
	}}
}
