// Package capture acquires the screen, camera and microphone sources a
// recording reads from. Video sources keep only their latest frame; audio
// sources expose interleaved s16le PCM as an io.Reader.
package capture

import (
	"context"
	"errors"
	"io"

	"go2tv.app/screenrec/media"
)

var (
	ErrNotImplemented = errors.New("capture backend is not implemented on this platform")
	ErrCancelled      = errors.New("capture request was cancelled")
	ErrNoStreams      = errors.New("screen capture returned no streams")
	ErrDeviceNotFound = errors.New("capture device not found")
	ErrNotReady       = errors.New("capture source did not become ready")
)

// Kind identifies what a source captures.
type Kind int

const (
	KindScreen Kind = iota
	KindCamera
	KindMicrophone
)

func (k Kind) String() string {
	switch k {
	case KindScreen:
		return "screen"
	case KindCamera:
		return "camera"
	case KindMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// Source is a live capture handle. Close is idempotent.
type Source interface {
	Kind() Kind
	// Ready reports, without blocking, whether the source has produced data.
	Ready() bool
	Close() error
}

// VideoSource holds the most recent frame from a screen or camera.
type VideoSource interface {
	Source
	Size() media.Resolution
	// View calls fn with the current frame while holding it against
	// replacement. fn must not retain the frame. Returns false when no frame
	// has arrived yet.
	View(fn func(*media.Frame)) bool
}

// AudioSource yields interleaved PCM in the media.Audio* format. Read
// returns io.EOF after Close.
type AudioSource interface {
	Source
	io.Reader
}

// Provider creates sources. Each Acquire call observes ctx.
type Provider interface {
	AcquireScreen(ctx context.Context, hint media.Resolution) (VideoSource, error)
	AcquireCamera(ctx context.Context, deviceID string, res media.Resolution) (VideoSource, error)
	AcquireMicrophone(ctx context.Context, deviceID string) (AudioSource, error)
	Release(src Source) error
}
