package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/compose"
	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
)

type fakeVideo struct {
	kind   capture.Kind
	frame  *media.Frame
	ready  atomic.Bool
	closed atomic.Int32
	faults chan error
}

func newFakeVideo(kind capture.Kind, res media.Resolution) *fakeVideo {
	v := &fakeVideo{kind: kind, frame: media.NewFrame(res), faults: make(chan error, 1)}
	v.ready.Store(true)
	return v
}

func (v *fakeVideo) Kind() capture.Kind     { return v.kind }
func (v *fakeVideo) Faults() <-chan error   { return v.faults }
func (v *fakeVideo) Ready() bool            { return v.ready.Load() }
func (v *fakeVideo) Size() media.Resolution { return media.Resolution{Width: v.frame.Width, Height: v.frame.Height} }
func (v *fakeVideo) Close() error {
	v.closed.Add(1)
	return nil
}

func (v *fakeVideo) View(fn func(*media.Frame)) bool {
	if !v.ready.Load() {
		return false
	}
	fn(v.frame)
	return true
}

type fakeAudio struct {
	closed atomic.Int32
}

func (a *fakeAudio) Kind() capture.Kind       { return capture.KindMicrophone }
func (a *fakeAudio) Ready() bool              { return true }
func (a *fakeAudio) Read([]byte) (int, error) { return 0, io.EOF }
func (a *fakeAudio) Close() error {
	a.closed.Add(1)
	return nil
}

type fakeProvider struct {
	screenErr, cameraErr, micErr error
	screenNotReady               bool

	mu        sync.Mutex
	acquired  []capture.Kind
	released  []capture.Kind
	cameraIDs []string
	screen    *fakeVideo
	camera    *fakeVideo
	mic       *fakeAudio
}

func (p *fakeProvider) record(kind capture.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired = append(p.acquired, kind)
}

func (p *fakeProvider) AcquireScreen(ctx context.Context, _ media.Resolution) (capture.VideoSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.screenErr != nil {
		return nil, p.screenErr
	}
	p.record(capture.KindScreen)
	p.screen = newFakeVideo(capture.KindScreen, media.Resolution{Width: 64, Height: 36})
	if p.screenNotReady {
		p.screen.ready.Store(false)
	}
	return p.screen, nil
}

func (p *fakeProvider) AcquireCamera(ctx context.Context, id string, res media.Resolution) (capture.VideoSource, error) {
	p.mu.Lock()
	p.cameraIDs = append(p.cameraIDs, id)
	p.mu.Unlock()
	if p.cameraErr != nil {
		return nil, p.cameraErr
	}
	p.record(capture.KindCamera)
	p.camera = newFakeVideo(capture.KindCamera, media.Resolution{Width: res.Width / 10, Height: res.Height / 10})
	return p.camera, nil
}

func (p *fakeProvider) AcquireMicrophone(ctx context.Context, _ string) (capture.AudioSource, error) {
	if p.micErr != nil {
		return nil, p.micErr
	}
	p.record(capture.KindMicrophone)
	p.mic = &fakeAudio{}
	return p.mic, nil
}

func (p *fakeProvider) Release(src capture.Source) error {
	p.mu.Lock()
	p.released = append(p.released, src.Kind())
	p.mu.Unlock()
	return src.Close()
}

func (p *fakeProvider) snapshot() (acquired, released []capture.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.acquired), slices.Clone(p.released)
}

type fakeEncoder struct {
	req      EncoderRequest
	plan     encode.Plan
	faults   chan error
	flushErr error
	final    []string

	mu      sync.Mutex
	pauses  int
	resumes int
	flushes int
	closes  int
}

func (e *fakeEncoder) emit(data string) {
	e.req.OnChunk(media.Chunk{Data: []byte(data)})
}

func (e *fakeEncoder) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses++
}

func (e *fakeEncoder) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumes++
}

func (e *fakeEncoder) Flush(context.Context) error {
	e.mu.Lock()
	e.flushes++
	e.mu.Unlock()
	for _, d := range e.final {
		e.emit(d)
	}
	return e.flushErr
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

func (e *fakeEncoder) Faults() <-chan error { return e.faults }
func (e *fakeEncoder) Plan() encode.Plan    { return e.plan }

func (e *fakeEncoder) counts() (pauses, resumes, flushes, closes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauses, e.resumes, e.flushes, e.closes
}

type fakeEncoders struct {
	startErr error
	flushErr error
	final    []string

	mu      sync.Mutex
	started []*fakeEncoder
}

func (f *fakeEncoders) Start(_ context.Context, req EncoderRequest) (Encoder, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	enc := &fakeEncoder{
		req:      req,
		plan:     encode.Preferences(req.Quality.VideoBitrate())[0],
		faults:   make(chan error, 1),
		flushErr: f.flushErr,
		final:    f.final,
	}
	f.mu.Lock()
	f.started = append(f.started, enc)
	f.mu.Unlock()
	return enc, nil
}

func (f *fakeEncoders) last(t *testing.T) *fakeEncoder {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.started) == 0 {
		t.Fatal("no encoder started")
	}
	return f.started[len(f.started)-1]
}

type fakeWriter struct {
	err error

	mu      sync.Mutex
	calls   int
	payload []byte
	name    string
}

func (w *fakeWriter) Write(_ context.Context, payload []byte, name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return "", w.err
	}
	w.payload = slices.Clone(payload)
	w.name = name
	return "/out/" + name, nil
}

type fakeDevices struct {
	mics, cams []capture.Device
}

func (d fakeDevices) Microphones(context.Context) ([]capture.Device, error) { return d.mics, nil }
func (d fakeDevices) Cameras(context.Context) ([]capture.Device, error)     { return d.cams, nil }

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (n *fakeNow) Now() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.t
}

func (n *fakeNow) Advance(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.t = n.t.Add(d)
}

type harness struct {
	provider *fakeProvider
	encoders *fakeEncoders
	writer   *fakeWriter
	now      *fakeNow
	ctrl     *Controller
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{},
		encoders: &fakeEncoders{},
		writer:   &fakeWriter{},
		now:      &fakeNow{t: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)},
	}
	opts := Options{
		Provider:        h.provider,
		Encoders:        h.encoders,
		Writer:          h.writer,
		ReadyTimeout:    200 * time.Millisecond,
		ComposeInterval: 5 * time.Millisecond,
		StatusInterval:  5 * time.Millisecond,
		Now:             h.now.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() { _, _ = ctrl.Stop(context.Background()) })
	return h
}

func screenOnly() Settings {
	return Settings{Quality: media.Quality1080p}
}

func withCamera() Settings {
	return Settings{
		Quality: media.Quality1080p,
		Layout: compose.Layout{
			WebcamEnabled: true,
			Position:      compose.BottomRight,
			SizePercent:   20,
			Shape:         compose.ShapeCircle,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("missing provider should fail")
	}
	if _, err := New(Options{Provider: &fakeProvider{}}); err == nil {
		t.Error("missing encoder factory should fail")
	}
	if _, err := New(Options{Provider: &fakeProvider{}, Encoders: &fakeEncoders{}}); err == nil {
		t.Error("missing writer should fail")
	}
}

func TestScreenOnly1080p(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, screenOnly()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := h.ctrl.State(); got != StateRecording {
		t.Fatalf("state = %s, want recording", got)
	}

	enc := h.encoders.last(t)
	if enc.req.Output != (media.Resolution{Width: 1920, Height: 1080}) {
		t.Errorf("encoder output = %v", enc.req.Output)
	}
	if enc.req.Audio != nil {
		t.Error("screen-only session should not pass audio")
	}
	if enc.req.Frames == nil {
		t.Fatal("encoder has no frame source")
	}
	waitFor(t, "composed frame", func() bool {
		f := enc.req.Frames.Take()
		if f == nil {
			return false
		}
		ok := f.Width == 1920 && f.Height == 1080
		enc.req.Frames.Release(f)
		return ok
	})

	enc.emit("abc")
	enc.emit("")
	enc.emit("def")
	enc.final = []string{"g"}
	h.now.Advance(4 * time.Second)

	res, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if res.Bytes != 7 || res.Chunks != 3 {
		t.Errorf("result = %+v, want 7 bytes in 3 chunks", res)
	}
	if string(h.writer.payload) != "abcdefg" {
		t.Errorf("payload = %q", h.writer.payload)
	}
	if h.writer.name != "recording-2024-03-09T14-05-07.webm" {
		t.Errorf("suggested name = %q", h.writer.name)
	}
	if res.Path != "/out/"+h.writer.name || res.Duration != 4*time.Second || res.Plan != "vp9/webm" {
		t.Errorf("result = %+v", res)
	}

	acquired, released := h.provider.snapshot()
	if !slices.Equal(acquired, []capture.Kind{capture.KindScreen}) || !slices.Equal(released, acquired) {
		t.Errorf("acquired %v released %v", acquired, released)
	}
	if _, _, flushes, closes := enc.counts(); flushes != 1 || closes != 1 {
		t.Errorf("flushes = %d closes = %d", flushes, closes)
	}
	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state after stop = %s", got)
	}
}

func TestCameraAndMicrophone(t *testing.T) {
	h := newHarness(t, nil)
	s := withCamera()
	s.AudioEnabled = true

	if err := h.ctrl.Start(context.Background(), s); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	enc := h.encoders.last(t)
	if enc.req.Audio == nil {
		t.Error("microphone should feed the encoder")
	}
	enc.emit("x")

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	acquired, released := h.provider.snapshot()
	if want := []capture.Kind{capture.KindScreen, capture.KindCamera, capture.KindMicrophone}; !slices.Equal(acquired, want) {
		t.Errorf("acquired = %v", acquired)
	}
	if want := []capture.Kind{capture.KindMicrophone, capture.KindCamera, capture.KindScreen}; !slices.Equal(released, want) {
		t.Errorf("released = %v, want reverse order", released)
	}
	if h.provider.camera.closed.Load() != 1 || h.provider.mic.closed.Load() != 1 {
		t.Error("every source should be closed exactly once")
	}
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(context.Background(), screenOnly()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}
	if len(h.encoders.started) != 1 {
		t.Errorf("encoders started = %d", len(h.encoders.started))
	}
}

func TestStartRejectsInvalidSettings(t *testing.T) {
	h := newHarness(t, nil)
	s := withCamera()
	s.Layout.SizePercent = 5

	if err := h.ctrl.Start(context.Background(), s); err == nil {
		t.Fatal("size below minimum should fail")
	}
	if acquired, _ := h.provider.snapshot(); len(acquired) != 0 {
		t.Errorf("nothing should be acquired, got %v", acquired)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %s", h.ctrl.State())
	}
}

func TestAcquisitionFailureRollsBack(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name         string
		setup        func(*fakeProvider)
		settings     func() Settings
		cancel       bool
		wantKind     capture.Kind
		wantCause    error
		wantReleased []capture.Kind
	}{
		{
			name:      "screen denied",
			setup:     func(p *fakeProvider) { p.screenErr = capture.ErrCancelled },
			settings:  withCamera,
			wantKind:  capture.KindScreen,
			wantCause: capture.ErrCancelled,
		},
		{
			name:         "camera fails",
			setup:        func(p *fakeProvider) { p.cameraErr = capture.ErrDeviceNotFound },
			settings:     withCamera,
			wantKind:     capture.KindCamera,
			wantCause:    capture.ErrDeviceNotFound,
			wantReleased: []capture.Kind{capture.KindScreen},
		},
		{
			name:  "microphone fails",
			setup: func(p *fakeProvider) { p.micErr = boom },
			settings: func() Settings {
				s := withCamera()
				s.AudioEnabled = true
				return s
			},
			wantKind:     capture.KindMicrophone,
			wantCause:    boom,
			wantReleased: []capture.Kind{capture.KindCamera, capture.KindScreen},
		},
		{
			name:      "cancelled",
			setup:     func(*fakeProvider) {},
			settings:  screenOnly,
			cancel:    true,
			wantKind:  capture.KindScreen,
			wantCause: context.Canceled,
		},
		{
			name:         "never ready",
			setup:        func(p *fakeProvider) { p.screenNotReady = true },
			settings:     screenOnly,
			wantKind:     capture.KindScreen,
			wantCause:    capture.ErrNotReady,
			wantReleased: []capture.Kind{capture.KindScreen},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.ReadyTimeout = 50 * time.Millisecond })
			tt.setup(h.provider)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			err := h.ctrl.Start(ctx, tt.settings())
			var acqErr *AcquisitionError
			if !errors.As(err, &acqErr) {
				t.Fatalf("Start error = %v, want *AcquisitionError", err)
			}
			if acqErr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", acqErr.Kind, tt.wantKind)
			}
			if !errors.Is(err, tt.wantCause) {
				t.Errorf("error %v does not wrap %v", err, tt.wantCause)
			}
			if Code(err) != CodeAcquisition {
				t.Errorf("code = %q", Code(err))
			}
			if _, released := h.provider.snapshot(); !slices.Equal(released, tt.wantReleased) {
				t.Errorf("released = %v, want %v", released, tt.wantReleased)
			}
			if len(h.encoders.started) != 0 {
				t.Error("encoder started after failed acquisition")
			}
			if h.ctrl.State() != StateIdle {
				t.Errorf("state = %s, want idle", h.ctrl.State())
			}
			if !errors.Is(h.ctrl.LastError(), tt.wantCause) {
				t.Errorf("LastError = %v", h.ctrl.LastError())
			}
		})
	}
}

func TestDeviceValidation(t *testing.T) {
	devices := fakeDevices{
		cams: []capture.Device{{ID: "/dev/video0", Name: "Integrated", Kind: capture.KindCamera}},
		mics: []capture.Device{{ID: "mic-1", Name: "USB Mic", Kind: capture.KindMicrophone}},
	}

	t.Run("unknown camera", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Devices = devices })
		s := withCamera()
		s.WebcamDevice = "/dev/video9"
		err := h.ctrl.Start(context.Background(), s)
		if !errors.Is(err, capture.ErrDeviceNotFound) {
			t.Fatalf("Start = %v", err)
		}
		if len(h.provider.cameraIDs) != 0 {
			t.Error("camera acquisition should not be attempted")
		}
	})

	t.Run("unknown microphone", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Devices = devices })
		s := screenOnly()
		s.AudioEnabled = true
		s.AudioDevice = "missing"
		var acqErr *AcquisitionError
		if err := h.ctrl.Start(context.Background(), s); !errors.As(err, &acqErr) || acqErr.Kind != capture.KindMicrophone {
			t.Fatalf("Start = %v", err)
		}
	})

	t.Run("known devices by name", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Devices = devices })
		s := withCamera()
		s.WebcamDevice = "/dev/video0"
		s.AudioEnabled = true
		s.AudioDevice = "USB Mic"
		if err := h.ctrl.Start(context.Background(), s); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if !slices.Equal(h.provider.cameraIDs, []string{"/dev/video0"}) {
			t.Errorf("camera ids = %v", h.provider.cameraIDs)
		}
	})
}

func TestPauseResumeClock(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	enc := h.encoders.last(t)

	h.now.Advance(10 * time.Second)
	if err := h.ctrl.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Pause(); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.State() != StatePaused {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	h.now.Advance(5 * time.Second)
	if got := h.ctrl.Elapsed(); got != 10*time.Second {
		t.Errorf("elapsed while paused = %v, want 10s", got)
	}
	if got := h.ctrl.Snapshot().Paused; got != 5*time.Second {
		t.Errorf("paused total = %v, want 5s", got)
	}

	if err := h.ctrl.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Resume(); err != nil {
		t.Fatal(err)
	}
	h.now.Advance(3 * time.Second)
	if got := h.ctrl.Elapsed(); got != 13*time.Second {
		t.Errorf("elapsed = %v, want 13s", got)
	}

	pauses, resumes, _, _ := enc.counts()
	if pauses != 1 || resumes != 1 {
		t.Errorf("encoder pauses = %d resumes = %d, want 1 each", pauses, resumes)
	}

	enc.emit("data")
	res, err := h.ctrl.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration != 13*time.Second {
		t.Errorf("duration = %v, want 18s wall minus 5s paused", res.Duration)
	}
}

func TestStopWhilePaused(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	h.encoders.last(t).emit("data")
	_ = h.ctrl.Pause()
	res, err := h.ctrl.Stop(context.Background())
	if err != nil || res == nil {
		t.Fatalf("Stop = %v, %v", res, err)
	}
}

func TestControlsWhenIdle(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Pause(); err != nil {
		t.Errorf("Pause = %v", err)
	}
	if err := h.ctrl.Resume(); err != nil {
		t.Errorf("Resume = %v", err)
	}
	res, err := h.ctrl.Stop(context.Background())
	if res != nil || err != nil {
		t.Errorf("Stop in idle = %v, %v", res, err)
	}
	if _, released := h.provider.snapshot(); len(released) != 0 || h.writer.calls != 0 {
		t.Error("idle Stop should not tear anything down")
	}
	if h.ctrl.Elapsed() != 0 || h.ctrl.Snapshot().SessionID != "" {
		t.Error("idle controller should report no session")
	}
}

func TestDoubleStop(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	h.encoders.last(t).emit("data")

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := h.ctrl.Stop(context.Background())
	if res != nil || err != nil {
		t.Errorf("second Stop = %v, %v", res, err)
	}
	if h.writer.calls != 1 {
		t.Errorf("writer calls = %d", h.writer.calls)
	}
	if _, released := h.provider.snapshot(); len(released) != 1 {
		t.Errorf("released = %v", released)
	}
}

func TestEmptyRecording(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), withCamera()); err != nil {
		t.Fatal(err)
	}
	enc := h.encoders.last(t)
	enc.emit("")

	res, err := h.ctrl.Stop(context.Background())
	if !errors.Is(err, ErrEmptyRecording) || res != nil {
		t.Fatalf("Stop = %v, %v, want ErrEmptyRecording", res, err)
	}
	if Code(err) != CodeEmptyRecording {
		t.Errorf("code = %q", Code(err))
	}
	if h.writer.calls != 0 {
		t.Error("empty recording should not be written")
	}
	if _, released := h.provider.snapshot(); len(released) != 2 {
		t.Errorf("released = %v, want screen and camera", released)
	}
	if _, _, _, closes := enc.counts(); closes != 1 {
		t.Errorf("encoder closes = %d", closes)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %s", h.ctrl.State())
	}
}

func TestEncoderFaultEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	enc := h.encoders.last(t)
	cause := errors.New("ffmpeg exited unexpectedly: exit status 1: broken pipe")
	enc.faults <- cause

	var err error
	select {
	case err = <-h.ctrl.Failures():
	case <-time.After(3 * time.Second):
		t.Fatal("no failure delivered")
	}
	var encErr *EncodingError
	if !errors.As(err, &encErr) || !errors.Is(err, cause) {
		t.Fatalf("failure = %v, want *EncodingError wrapping the cause", err)
	}
	if !strings.Contains(err.Error(), "broken pipe") || Code(err) != CodeEncoding {
		t.Errorf("failure lost detail: %v (%s)", err, Code(err))
	}
	waitFor(t, "idle", func() bool { return h.ctrl.State() == StateIdle })
	if !errors.Is(h.ctrl.LastError(), cause) {
		t.Errorf("LastError = %v", h.ctrl.LastError())
	}
	if _, released := h.provider.snapshot(); len(released) != 1 {
		t.Errorf("released = %v", released)
	}
	if res, err := h.ctrl.Stop(context.Background()); res != nil || err != nil {
		t.Errorf("Stop after failure = %v, %v", res, err)
	}
	if h.ctrl.Start(context.Background(), screenOnly()) != nil {
		t.Error("controller should accept a new session after a failure")
	}
}

func TestSourceFaultEndsSession(t *testing.T) {
	tests := []struct {
		name   string
		pause  bool
		source func(p *fakeProvider) *fakeVideo
		kind   capture.Kind
	}{
		{name: "camera unplugged", source: func(p *fakeProvider) *fakeVideo { return p.camera }, kind: capture.KindCamera},
		{name: "screen share revoked while paused", pause: true, source: func(p *fakeProvider) *fakeVideo { return p.screen }, kind: capture.KindScreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if err := h.ctrl.Start(context.Background(), withCamera()); err != nil {
				t.Fatal(err)
			}
			if tt.pause {
				_ = h.ctrl.Pause()
			}
			cause := fmt.Errorf("%w: device went away", capture.ErrSourceLost)
			tt.source(h.provider).faults <- cause

			var err error
			select {
			case err = <-h.ctrl.Failures():
			case <-time.After(3 * time.Second):
				t.Fatal("no failure delivered")
			}
			var srcErr *SourceError
			if !errors.As(err, &srcErr) || srcErr.Kind != tt.kind {
				t.Fatalf("failure = %v, want *SourceError for %s", err, tt.kind)
			}
			if !errors.Is(err, capture.ErrSourceLost) || Code(err) != CodeSource {
				t.Errorf("failure = %v (%s), want source code wrapping the cause", err, Code(err))
			}
			waitFor(t, "idle", func() bool { return h.ctrl.State() == StateIdle })
			if _, released := h.provider.snapshot(); !slices.Equal(released, []capture.Kind{capture.KindCamera, capture.KindScreen}) {
				t.Errorf("released = %v", released)
			}
			if _, _, _, closes := h.encoders.last(t).counts(); closes != 1 {
				t.Errorf("encoder closes = %d", closes)
			}
			if h.writer.calls != 0 {
				t.Error("failed session should not be written")
			}
		})
	}
}

func TestFlushFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.encoders.flushErr = errors.New("muxer failed")
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	h.encoders.last(t).emit("data")

	_, err := h.ctrl.Stop(context.Background())
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Stop = %v, want *EncodingError", err)
	}
	if h.writer.calls != 0 {
		t.Error("failed flush should not be written")
	}
	if _, released := h.provider.snapshot(); len(released) != 1 {
		t.Errorf("released = %v", released)
	}
}

func TestPersistenceFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.writer.err = errors.New("disk full")
	settings := screenOnly()
	settings.SavePath = "clip.webm"
	if err := h.ctrl.Start(context.Background(), settings); err != nil {
		t.Fatal(err)
	}
	h.encoders.last(t).emit("data")

	_, err := h.ctrl.Stop(context.Background())
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Path != "clip.webm" || Code(err) != CodePersistence {
		t.Fatalf("Stop = %v, want PersistenceError for clip.webm", err)
	}
	if _, released := h.provider.snapshot(); len(released) != 1 {
		t.Errorf("released = %v", released)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %s", h.ctrl.State())
	}
}

func TestEncoderStartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.encoders.startErr = errors.New("ffmpeg not found")

	err := h.ctrl.Start(context.Background(), withCamera())
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Start = %v, want *EncodingError", err)
	}
	if _, released := h.provider.snapshot(); len(released) != 2 {
		t.Errorf("released = %v", released)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %s", h.ctrl.State())
	}
}

func TestStatusPublishedWhileRecording(t *testing.T) {
	var mu sync.Mutex
	var got []Snapshot
	h := newHarness(t, func(o *Options) {
		o.OnStatus = func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, s)
		}
	})
	if err := h.ctrl.Start(context.Background(), screenOnly()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})

	mu.Lock()
	first := got[0]
	mu.Unlock()
	if first.State != StateRecording || first.Plan != "vp9/webm" {
		t.Errorf("snapshot = %+v", first)
	}
	if _, err := uuid.Parse(first.SessionID); err != nil {
		t.Errorf("session id %q is not a uuid: %v", first.SessionID, err)
	}

	_ = h.ctrl.Pause()
	time.Sleep(15 * time.Millisecond)
	mu.Lock()
	n := len(got)
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Errorf("status published while paused: %d -> %d", n, len(got))
	}
}

func TestClockArithmetic(t *testing.T) {
	now := &fakeNow{t: time.Unix(1000, 0)}
	c := newClock(now.Now)
	c.Start()

	var paused time.Duration
	for _, step := range []struct{ run, pause time.Duration }{
		{run: 2 * time.Second, pause: time.Second},
		{run: 500 * time.Millisecond, pause: 7 * time.Second},
		{run: 3 * time.Second},
	} {
		now.Advance(step.run)
		c.Pause()
		now.Advance(step.pause)
		paused += step.pause
		c.Resume()
	}
	total := now.Now().Sub(time.Unix(1000, 0))
	if got := c.Elapsed(); got != total-paused {
		t.Errorf("elapsed = %v, want %v", got, total-paused)
	}
	if got := c.PausedTotal(); got != paused {
		t.Errorf("paused = %v, want %v", got, paused)
	}
	if got := c.Stop(); got != 5500*time.Millisecond {
		t.Errorf("Stop = %v", got)
	}
	now.Advance(time.Hour)
	if got := c.Elapsed(); got != 5500*time.Millisecond {
		t.Errorf("elapsed after stop = %v", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59*time.Second + 900*time.Millisecond, "00:00:59"},
		{61 * time.Second, "00:01:01"},
		{3*time.Hour + 25*time.Minute + 9*time.Second, "03:25:09"},
		{-time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStateStrings(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle: "idle", StateAcquiring: "acquiring", StateRecording: "recording",
		StatePaused: "paused", StateFinalizing: "finalizing", StateErrored: "errored",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
}
