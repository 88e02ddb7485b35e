//go:build !linux

package pipewire

import "errors"

var ErrLibraryNotLoaded = errors.New("pipewire capture backend is only available on linux")

type FrameHandler func(data []byte, stride int)

const (
	StateError       int32 = -1
	StateUnconnected int32 = 0
	StateConnecting  int32 = 1
	StatePaused      int32 = 2
	StateStreaming   int32 = 3
)

type Stream struct{}

func IsAvailable() bool { return false }

func NewStream(fd int, nodeID uint32, width, height, frameRate uint32, onFrame FrameHandler) (*Stream, error) {
	return nil, ErrLibraryNotLoaded
}

func (s *Stream) Start() {}

func (s *Stream) State() int32 { return StateUnconnected }

func (s *Stream) Err() error { return nil }

func (s *Stream) Faults() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}

func (s *Stream) Close() error { return nil }
