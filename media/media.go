// Package media holds the value types shared by the capture, compose, encode
// and recorder packages.
package media

import (
	"fmt"
	"image"
	"strings"
	"time"
)

const (
	// PixelFormatBGRA is the pixel layout of every video buffer in the pipeline.
	PixelFormatBGRA = "BGRA"

	// BytesPerPixel is the size of one BGRA pixel.
	BytesPerPixel = 4
)

// Audio is captured and encoded as interleaved signed 16-bit PCM.
const (
	AudioSampleRate    = 48000
	AudioChannels      = 2
	AudioBitsPerSample = 16
	AudioFormatFFmpeg  = "s16le"
)

// Resolution is a video size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FrameBytes is the size of a tightly packed BGRA frame at this resolution.
func (r Resolution) FrameBytes() int {
	return r.Width * r.Height * BytesPerPixel
}

// Quality selects the output resolution and bitrate preset.
type Quality string

const (
	Quality1080p Quality = "1080p"
	Quality4K    Quality = "4k"
)

// ParseQuality accepts the preset names case-insensitively.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1080p", "":
		return Quality1080p, nil
	case "4k", "2160p":
		return Quality4K, nil
	default:
		return "", fmt.Errorf("unknown quality %q (want 1080p or 4k)", s)
	}
}

// Resolution returns the composite frame size for the preset.
func (q Quality) Resolution() Resolution {
	if q == Quality4K {
		return Resolution{Width: 3840, Height: 2160}
	}
	return Resolution{Width: 1920, Height: 1080}
}

// VideoBitrate returns the target video bitrate in bits per second.
func (q Quality) VideoBitrate() int {
	if q == Quality4K {
		return 20_000_000
	}
	return 8_000_000
}

// Frame is a BGRA pixel buffer. Pix is tightly packed unless Stride says
// otherwise.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	Seq    uint64
	At     time.Time
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(res Resolution) *Frame {
	return &Frame{
		Pix:    make([]byte, res.FrameBytes()),
		Width:  res.Width,
		Height: res.Height,
		Stride: res.Width * BytesPerPixel,
	}
}

// Valid reports whether the frame has a usable size and enough bytes for it.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	stride := f.rowStride()
	return stride >= f.Width*BytesPerPixel && len(f.Pix) >= stride*(f.Height-1)+f.Width*BytesPerPixel
}

func (f *Frame) rowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * BytesPerPixel
}

// Image wraps the buffer as an *image.RGBA without copying. The channel order
// stays BGRA; scaling and masking treat channels independently so the order is
// preserved end to end.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.rowStride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Chunk is one unit of encoded container output.
type Chunk struct {
	Seq  int
	Data []byte
}

// Len returns the payload size.
func (c Chunk) Len() int { return len(c.Data) }
