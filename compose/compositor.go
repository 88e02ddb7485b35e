// Package compose draws the screen and the optional camera overlay into a
// fixed-size BGRA frame on a periodic tick.
package compose

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/tick"
	"go2tv.app/screenrec/media"
)

// DefaultInterval is the 30 fps compositing period.
const DefaultInterval = time.Second / 30

// poolSize covers one frame held by the encoder, one waiting in the mailbox
// and one being drawn.
const poolSize = 3

type Config struct {
	Output media.Resolution
	Layout Layout
	Screen capture.VideoSource
	// Camera is ignored unless Layout.WebcamEnabled is set.
	Camera capture.VideoSource
	Logger *logging.Logger
}

// Stats counts compositor activity since construction.
type Stats struct {
	Composed      uint64
	TicksSkipped  uint64
	ScreenMissing uint64
	CameraMissing uint64
	PoolExhausted uint64
}

// Compositor publishes the most recent composed frame. Consumers Take the
// frame and Release it when done; frames are recycled from a fixed pool.
type Compositor struct {
	out     media.Resolution
	screen  capture.VideoSource
	camera  capture.VideoSource
	camRect image.Rectangle
	mask    *image.Alpha
	scratch *image.RGBA
	log     *logging.Logger

	free chan *media.Frame

	mu     sync.Mutex
	latest *media.Frame

	ticker tick.Ticker
	seq    atomic.Uint64

	composed      atomic.Uint64
	screenMissing atomic.Uint64
	cameraMissing atomic.Uint64
	poolExhausted atomic.Uint64
}

func New(cfg Config) (*Compositor, error) {
	if cfg.Output.Width <= 0 || cfg.Output.Height <= 0 {
		return nil, errors.New("compose: output resolution must be positive")
	}
	if cfg.Screen == nil {
		return nil, errors.New("compose: screen source is required")
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NopLogger()
	}

	c := &Compositor{
		out:    cfg.Output,
		screen: cfg.Screen,
		log:    log.WithComponent("compose"),
		free:   make(chan *media.Frame, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		c.free <- media.NewFrame(cfg.Output)
	}

	if cfg.Layout.WebcamEnabled && cfg.Camera != nil {
		c.camera = cfg.Camera
		c.camRect = CameraRect(cfg.Output, cfg.Layout).Intersect(image.Rect(0, 0, cfg.Output.Width, cfg.Output.Height))
		c.mask = clipMask(cfg.Layout.Shape, c.camRect.Dx(), c.camRect.Dy())
		if c.mask != nil {
			c.scratch = image.NewRGBA(image.Rect(0, 0, c.camRect.Dx(), c.camRect.Dy()))
		}
	}
	return c, nil
}

// CameraRect is the overlay rectangle in output coordinates, empty when the
// camera layer is disabled.
func (c *Compositor) CameraRect() image.Rectangle { return c.camRect }

// Start composes every interval until Stop. Ticks that arrive while a
// composition is in progress are dropped.
func (c *Compositor) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.log.Debug("compositor starting", "output", c.out.String(), "interval", interval.String(), "camera", c.camera != nil)
	return c.ticker.Start(ctx, interval, func(context.Context) { c.ComposeOnce() })
}

// Stop halts the tick and waits for an in-flight composition.
func (c *Compositor) Stop() {
	c.ticker.Stop()
	st := c.Stats()
	c.log.Debug("compositor stopped",
		"composed", st.Composed,
		"ticks_skipped", st.TicksSkipped,
		"screen_missing", st.ScreenMissing,
		"pool_exhausted", st.PoolExhausted,
	)
}

// ComposeOnce draws one frame and publishes it. Returns false when every
// pooled frame is in use.
func (c *Compositor) ComposeOnce() bool {
	var dst *media.Frame
	select {
	case dst = <-c.free:
	default:
		c.poolExhausted.Add(1)
		return false
	}

	img := dst.Image()
	if !c.screen.View(func(f *media.Frame) { c.drawScreen(img, f) }) {
		c.screenMissing.Add(1)
		clear(dst.Pix)
	}
	if c.camera != nil {
		if !c.camera.View(func(f *media.Frame) { c.drawCamera(img, f) }) {
			c.cameraMissing.Add(1)
		}
	}

	dst.Seq = c.seq.Add(1)
	dst.At = time.Now()
	c.composed.Add(1)
	c.publish(dst)
	return true
}

func (c *Compositor) drawScreen(dst *image.RGBA, f *media.Frame) {
	if !f.Valid() {
		clear(dst.Pix)
		return
	}
	src := f.Image()
	if src.Rect == dst.Rect && src.Stride == dst.Stride {
		copy(dst.Pix, src.Pix)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

func (c *Compositor) drawCamera(dst *image.RGBA, f *media.Frame) {
	if !f.Valid() || c.camRect.Empty() {
		return
	}
	src := f.Image()
	if c.mask == nil {
		xdraw.ApproxBiLinear.Scale(dst, c.camRect, src, src.Bounds(), xdraw.Src, nil)
		return
	}
	xdraw.ApproxBiLinear.Scale(c.scratch, c.scratch.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	opaque(c.scratch.Pix)
	// Over keeps the screen pixels wherever the mask is transparent.
	draw.DrawMask(dst, c.camRect, c.scratch, image.Point{}, c.mask, image.Point{}, draw.Over)
}

// opaque sets every alpha byte to 255. BGRx sources leave it at zero, which
// would make Over treat the camera as transparent.
func opaque(pix []byte) {
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
}

func (c *Compositor) publish(f *media.Frame) {
	c.mu.Lock()
	old := c.latest
	c.latest = f
	c.mu.Unlock()
	if old != nil {
		c.Release(old)
	}
}

// Take hands the latest composed frame to the caller, or nil if none has
// been composed since the last Take.
func (c *Compositor) Take() *media.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.latest
	c.latest = nil
	return f
}

// Release returns a frame obtained from Take to the pool.
func (c *Compositor) Release(f *media.Frame) {
	if f == nil {
		return
	}
	select {
	case c.free <- f:
	default:
	}
}

func (c *Compositor) Stats() Stats {
	_, skipped := c.ticker.Stats()
	return Stats{
		Composed:      c.composed.Load(),
		TicksSkipped:  skipped,
		ScreenMissing: c.screenMissing.Load(),
		CameraMissing: c.cameraMissing.Load(),
		PoolExhausted: c.poolExhausted.Load(),
	}
}
