// Package recorder runs recording sessions. A Controller acquires the
// capture sources, drives the compositor and the encoder, collects encoded
// chunks in order and hands the finished recording to an output writer.
// Every exit path releases every resource the session holds.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/compose"
	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/tick"
	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/output"
)

const (
	DefaultReadyTimeout   = 8 * time.Second
	DefaultStatusInterval = time.Second
)

// DefaultCameraResolution is the size requested from the camera.
var DefaultCameraResolution = media.Resolution{Width: 640, Height: 480}

// Options configures a Controller. Provider, Encoders and Writer are
// required.
type Options struct {
	Provider capture.Provider
	// Devices validates configured device ids before acquisition. Optional.
	Devices  capture.DeviceLister
	Encoders EncoderFactory
	Writer   output.Writer

	ReadyTimeout     time.Duration
	CameraResolution media.Resolution
	ComposeInterval  time.Duration
	StatusInterval   time.Duration

	// OnStatus receives a snapshot on every status tick while recording.
	OnStatus func(Snapshot)
	Logger   *logging.Logger
	Now      func() time.Time
}

// Result describes a saved recording.
type Result struct {
	SessionID string
	Path      string
	Bytes     int
	Chunks    int
	Duration  time.Duration
	Plan      string
	MIMEType  string
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	SessionID string
	State     State
	StartedAt time.Time
	Elapsed   time.Duration
	Paused    time.Duration
	Chunks    int64
	Bytes     int64
	Plan      string
}

// Controller runs at most one recording session at a time.
type Controller struct {
	opts Options
	log  *logging.Logger

	// mu serializes Start, Pause, Resume, Stop and fault handling.
	mu    sync.Mutex
	state atomic.Int32
	sess  atomic.Pointer[session]

	failures chan error
	errMu    sync.Mutex
	lastErr  error
}

// New fills unset Options with defaults and returns an idle Controller.
func New(opts Options) (*Controller, error) {
	if opts.Provider == nil {
		return nil, errors.New("recorder: capture provider is required")
	}
	if opts.Encoders == nil {
		return nil, errors.New("recorder: encoder factory is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("recorder: output writer is required")
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.CameraResolution.Width <= 0 || opts.CameraResolution.Height <= 0 {
		opts.CameraResolution = DefaultCameraResolution
	}
	if opts.ComposeInterval <= 0 {
		opts.ComposeInterval = compose.DefaultInterval
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		opts:     opts,
		log:      opts.Logger.WithComponent("recorder"),
		failures: make(chan error, 1),
	}, nil
}

type session struct {
	id       string
	settings Settings
	quality  media.Quality
	log      *logging.Logger
	clock    *clock

	screen capture.VideoSource
	camera capture.VideoSource
	mic    capture.AudioSource

	comp *compose.Compositor
	enc  Encoder
	plan atomic.Pointer[encode.Plan]

	status tick.Ticker
	done   chan struct{}

	chunkMu    sync.Mutex
	chunks     []media.Chunk
	chunkCount atomic.Int64
	byteCount  atomic.Int64

	teardownOnce sync.Once
	teardownErr  error
}

func (s *session) sources() []capture.Source {
	var out []capture.Source
	if s.screen != nil {
		out = append(out, s.screen)
	}
	if s.camera != nil {
		out = append(out, s.camera)
	}
	if s.mic != nil {
		out = append(out, s.mic)
	}
	return out
}

// appendChunk is the encoder's only way into the session. Empty chunks are
// discarded.
func (s *session) appendChunk(ch media.Chunk) {
	if ch.Len() == 0 {
		return
	}
	s.chunkMu.Lock()
	s.chunks = append(s.chunks, ch)
	s.chunkMu.Unlock()
	s.chunkCount.Add(1)
	s.byteCount.Add(int64(ch.Len()))
}

func (s *session) payload() ([]byte, int) {
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	total := 0
	for _, ch := range s.chunks {
		total += ch.Len()
	}
	buf := make([]byte, 0, total)
	for _, ch := range s.chunks {
		buf = append(buf, ch.Data...)
	}
	return buf, len(s.chunks)
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(st State) {
	prev := State(c.state.Swap(int32(st)))
	if prev != st {
		c.log.Debug("state change", "from", prev.String(), "to", st.String())
	}
}

// Elapsed returns the recorded time of the current session, excluding
// pauses.
func (c *Controller) Elapsed() time.Duration {
	if s := c.sess.Load(); s != nil {
		return s.clock.Elapsed()
	}
	return 0
}

func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{State: c.State()}
	s := c.sess.Load()
	if s == nil {
		return snap
	}
	snap.SessionID = s.id
	snap.StartedAt = s.clock.StartedAt()
	snap.Elapsed = s.clock.Elapsed()
	snap.Paused = s.clock.PausedTotal()
	snap.Chunks = s.chunkCount.Load()
	snap.Bytes = s.byteCount.Load()
	if p := s.plan.Load(); p != nil {
		snap.Plan = p.Label
	}
	return snap
}

// Failures delivers errors that ended a session while recording.
func (c *Controller) Failures() <-chan error { return c.failures }

// LastError returns the error that ended the most recent failed session.
func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Controller) setLastErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// Start acquires the screen, then the camera and the microphone when
// enabled, waits for them to produce data and starts recording. On any
// failure everything acquired so far is released.
func (c *Controller) Start(ctx context.Context, settings Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateIdle {
		return ErrSessionActive
	}
	if err := settings.validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	id := uuid.NewString()
	s := &session{
		id:       id,
		settings: settings,
		quality:  settings.quality(),
		log:      c.log.WithSession(id),
		clock:    newClock(c.opts.Now),
		done:     make(chan struct{}),
	}
	c.sess.Store(s)
	c.setState(StateAcquiring)
	s.log.Info("acquiring sources", "settings", settings.String())

	if err := c.acquire(ctx, s); err != nil {
		c.abort(s, err)
		return err
	}
	if err := c.begin(ctx, s); err != nil {
		c.abort(s, err)
		return err
	}

	s.log.Info("recording started", "plan", s.plan.Load().Label, "output", s.quality.Resolution().String())
	return nil
}

func (c *Controller) acquire(ctx context.Context, s *session) error {
	if err := ctx.Err(); err != nil {
		return &AcquisitionError{Kind: capture.KindScreen, Err: err}
	}
	screen, err := c.opts.Provider.AcquireScreen(ctx, s.quality.Resolution())
	if err != nil {
		return &AcquisitionError{Kind: capture.KindScreen, Err: err}
	}
	s.screen = screen
	s.log.Debug("source acquired", "kind", capture.KindScreen.String(), "size", screen.Size().String())

	if s.settings.Layout.WebcamEnabled {
		if err := ctx.Err(); err != nil {
			return &AcquisitionError{Kind: capture.KindCamera, Err: err}
		}
		if err := c.checkCamera(ctx, s.settings.WebcamDevice); err != nil {
			return &AcquisitionError{Kind: capture.KindCamera, Err: err}
		}
		camera, err := c.opts.Provider.AcquireCamera(ctx, s.settings.WebcamDevice, c.opts.CameraResolution)
		if err != nil {
			return &AcquisitionError{Kind: capture.KindCamera, Err: err}
		}
		s.camera = camera
		s.log.Debug("source acquired", "kind", capture.KindCamera.String(), "size", camera.Size().String())
	}

	if s.settings.AudioEnabled {
		if err := ctx.Err(); err != nil {
			return &AcquisitionError{Kind: capture.KindMicrophone, Err: err}
		}
		if err := c.checkMicrophone(ctx, s.settings.AudioDevice); err != nil {
			return &AcquisitionError{Kind: capture.KindMicrophone, Err: err}
		}
		mic, err := c.opts.Provider.AcquireMicrophone(ctx, s.settings.AudioDevice)
		if err != nil {
			return &AcquisitionError{Kind: capture.KindMicrophone, Err: err}
		}
		s.mic = mic
		s.log.Debug("source acquired", "kind", capture.KindMicrophone.String())
	}

	sources := s.sources()
	if err := capture.WaitReady(ctx, c.opts.ReadyTimeout, sources...); err != nil {
		return &AcquisitionError{Kind: firstPending(sources), Err: err}
	}
	return nil
}

func firstPending(sources []capture.Source) capture.Kind {
	for _, src := range sources {
		if !src.Ready() {
			return src.Kind()
		}
	}
	return capture.KindScreen
}

func (c *Controller) checkCamera(ctx context.Context, id string) error {
	if c.opts.Devices == nil || id == "" {
		return nil
	}
	cams, err := c.opts.Devices.Cameras(ctx)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}
	if _, ok := capture.FindDevice(cams, id); !ok {
		return fmt.Errorf("%w: camera %q", capture.ErrDeviceNotFound, id)
	}
	return nil
}

func (c *Controller) checkMicrophone(ctx context.Context, id string) error {
	if c.opts.Devices == nil || defaultAudioDevice(id) {
		return nil
	}
	mics, err := c.opts.Devices.Microphones(ctx)
	if err != nil {
		return fmt.Errorf("list microphones: %w", err)
	}
	if _, ok := capture.FindDevice(mics, id); !ok {
		return fmt.Errorf("%w: microphone %q", capture.ErrDeviceNotFound, id)
	}
	return nil
}

// begin starts the compositor, then the encoder that pulls from it, then
// the clock.
func (c *Controller) begin(ctx context.Context, s *session) error {
	out := s.quality.Resolution()
	comp, err := compose.New(compose.Config{
		Output: out,
		Layout: s.settings.Layout,
		Screen: s.screen,
		Camera: s.camera,
		Logger: s.log,
	})
	if err != nil {
		return fmt.Errorf("compositor: %w", err)
	}
	if err := comp.Start(context.Background(), c.opts.ComposeInterval); err != nil {
		return fmt.Errorf("compositor: %w", err)
	}
	s.comp = comp

	var audio io.Reader
	if s.mic != nil {
		audio = s.mic
	}
	enc, err := c.opts.Encoders.Start(ctx, EncoderRequest{
		Output:  out,
		Quality: s.quality,
		Frames:  comp,
		Audio:   audio,
		OnChunk: s.appendChunk,
		Logger:  s.log,
	})
	if err != nil {
		return &EncodingError{Err: err}
	}
	s.enc = enc
	plan := enc.Plan()
	s.plan.Store(&plan)

	s.clock.Start()
	c.setState(StateRecording)

	if err := s.status.Start(context.Background(), c.opts.StatusInterval, func(context.Context) {
		c.publishStatus(s)
	}); err != nil {
		return err
	}
	go c.watch(s)
	return nil
}

func (c *Controller) publishStatus(s *session) {
	if c.sess.Load() != s || c.State() != StateRecording {
		return
	}
	snap := c.Snapshot()
	s.log.Debug("recording status",
		"elapsed", FormatElapsed(snap.Elapsed),
		"chunks", snap.Chunks,
		"bytes", snap.Bytes,
	)
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(snap)
	}
}

// watch ends s on the first encoder or source fault.
func (c *Controller) watch(s *session) {
	for _, src := range s.sources() {
		if ch := capture.Faults(src); ch != nil {
			kind := src.Kind()
			go c.watchFaults(s, ch, func(err error) error { return &SourceError{Kind: kind, Err: err} })
		}
	}
	c.watchFaults(s, s.enc.Faults(), func(err error) error { return &EncodingError{Err: err} })
}

func (c *Controller) watchFaults(s *session, faults <-chan error, wrap func(error) error) {
	select {
	case cause, ok := <-faults:
		if ok && cause != nil {
			c.fail(s, wrap(cause))
		}
	case <-s.done:
	}
}

// fail ends s after a fault while recording or paused.
func (c *Controller) fail(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Load() != s || !c.State().Active() {
		return
	}
	s.log.Error("recording failed", "error", err, "code", Code(err))
	c.abort(s, err)

	select {
	case <-c.failures:
	default:
	}
	c.failures <- err
}

// abort routes s through Errored and teardown back to Idle.
func (c *Controller) abort(s *session, err error) {
	c.setState(StateErrored)
	s.log.Warn("session aborted", "error", err, "code", Code(err))
	_ = c.teardown(s)
	c.setLastErr(err)
	c.finish(s)
}

func (c *Controller) finish(s *session) {
	c.sess.CompareAndSwap(s, nil)
	c.setState(StateIdle)
}

// Pause suspends encoding and the clock. Compositing continues.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess.Load()
	if s == nil || c.State() != StateRecording {
		return nil
	}
	s.enc.Pause()
	s.clock.Pause()
	c.setState(StatePaused)
	s.log.Info("recording paused", "elapsed", FormatElapsed(s.clock.Elapsed()))
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess.Load()
	if s == nil || c.State() != StatePaused {
		return nil
	}
	s.clock.Resume()
	s.enc.Resume()
	c.setState(StateRecording)
	s.log.Info("recording resumed", "elapsed", FormatElapsed(s.clock.Elapsed()))
	return nil
}

// Stop finishes the encoder, saves the recording and releases everything.
// It returns (nil, nil) when no session is recording.
func (c *Controller) Stop(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess.Load()
	if s == nil || !c.State().Active() {
		return nil, nil
	}
	c.setState(StateFinalizing)
	s.status.Stop()
	s.comp.Stop()
	duration := s.clock.Stop()

	if err := s.enc.Flush(ctx); err != nil {
		eerr := &EncodingError{Err: err}
		c.abort(s, eerr)
		return nil, eerr
	}

	payload, count := s.payload()
	if count == 0 {
		c.abort(s, ErrEmptyRecording)
		return nil, ErrEmptyRecording
	}

	plan := s.plan.Load()
	name := output.Target(s.settings.SavePath, plan.Extension, s.clock.StartedAt())
	path, err := c.opts.Writer.Write(ctx, payload, name)
	if err != nil {
		perr := &PersistenceError{Path: name, Err: err}
		c.abort(s, perr)
		return nil, perr
	}

	if err := c.teardown(s); err != nil {
		s.log.Warn("teardown after save incomplete", "error", err)
	}
	c.finish(s)

	res := &Result{
		SessionID: s.id,
		Path:      path,
		Bytes:     len(payload),
		Chunks:    count,
		Duration:  duration,
		Plan:      plan.Label,
		MIMEType:  plan.MIMEType,
	}
	s.log.Info("recording finished",
		"path", path,
		"bytes", res.Bytes,
		"chunks", res.Chunks,
		"duration", FormatElapsed(duration),
	)
	return res, nil
}

// teardown stops every activity of s and releases its sources in reverse
// acquisition order. Safe to call more than once.
func (c *Controller) teardown(s *session) error {
	s.teardownOnce.Do(func() {
		close(s.done)
		s.status.Stop()
		if s.comp != nil {
			s.comp.Stop()
		}

		var errs []error
		if s.enc != nil {
			if err := s.enc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close encoder: %w", err))
			}
		}
		sources := s.sources()
		for i := len(sources) - 1; i >= 0; i-- {
			if err := c.opts.Provider.Release(sources[i]); err != nil {
				errs = append(errs, err)
			}
		}
		s.clock.Stop()

		s.teardownErr = errors.Join(errs...)
		if s.teardownErr != nil {
			s.log.Warn("teardown incomplete", "error", s.teardownErr)
		} else {
			s.log.Debug("teardown complete")
		}
	})
	return s.teardownErr
}
