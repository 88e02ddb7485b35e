package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/media"
)

// frameSlot holds the latest frame of a video source. Producers never block:
// if a reader is viewing the frame, the incoming frame is dropped.
type frameSlot struct {
	mu    sync.RWMutex
	frame *media.Frame

	has     atomic.Bool
	stored  atomic.Uint64
	dropped atomic.Uint64
}

// Store copies a BGRA image into the slot. stride may be 0 for tightly
// packed rows. Returns false when the frame was dropped.
func (s *frameSlot) Store(pix []byte, width, height, stride int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	rowBytes := width * media.BytesPerPixel
	if stride <= 0 {
		stride = rowBytes
	}
	if stride < rowBytes || len(pix) < stride*(height-1)+rowBytes {
		s.dropped.Add(1)
		return false
	}

	if !s.mu.TryLock() {
		s.dropped.Add(1)
		return false
	}

	f := s.frame
	if f == nil || f.Width != width || f.Height != height {
		f = media.NewFrame(media.Resolution{Width: width, Height: height})
		s.frame = f
	}
	if stride == rowBytes {
		copy(f.Pix, pix[:rowBytes*height])
	} else {
		for y := 0; y < height; y++ {
			copy(f.Pix[y*rowBytes:(y+1)*rowBytes], pix[y*stride:y*stride+rowBytes])
		}
	}
	f.Seq = s.stored.Add(1)
	f.At = time.Now()
	s.mu.Unlock()

	s.has.Store(true)
	return true
}

func (s *frameSlot) View(fn func(*media.Frame)) bool {
	if !s.has.Load() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return false
	}
	fn(s.frame)
	return true
}

func (s *frameSlot) Ready() bool {
	return s.has.Load()
}

// Stats returns the number of stored and dropped frames.
func (s *frameSlot) Stats() (stored, dropped uint64) {
	return s.stored.Load(), s.dropped.Load()
}
