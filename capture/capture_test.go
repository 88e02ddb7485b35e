package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go2tv.app/screenrec/media"
)

func TestFrameSlotStoreAndView(t *testing.T) {
	var slot frameSlot
	if slot.Ready() {
		t.Fatal("empty slot should not be ready")
	}
	if slot.View(func(*media.Frame) { t.Fatal("view on empty slot") }) {
		t.Fatal("View on empty slot should return false")
	}

	pix := bytes.Repeat([]byte{1, 2, 3, 4}, 2*2)
	if !slot.Store(pix, 2, 2, 0) {
		t.Fatal("Store failed")
	}
	if !slot.Ready() {
		t.Fatal("slot should be ready after a store")
	}

	var seen []byte
	slot.View(func(f *media.Frame) {
		seen = append(seen, f.Pix...)
		if f.Seq != 1 {
			t.Errorf("seq = %d, want 1", f.Seq)
		}
	})
	if !bytes.Equal(seen, pix) {
		t.Errorf("view saw %v, want %v", seen, pix)
	}
}

func TestFrameSlotStride(t *testing.T) {
	var slot frameSlot
	// 2x2 frame with 4 padding bytes per row.
	pix := []byte{
		1, 1, 1, 1, 2, 2, 2, 2, 9, 9, 9, 9,
		3, 3, 3, 3, 4, 4, 4, 4, 9, 9, 9, 9,
	}
	if !slot.Store(pix, 2, 2, 12) {
		t.Fatal("Store failed")
	}
	slot.View(func(f *media.Frame) {
		want := []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
		if !bytes.Equal(f.Pix, want) {
			t.Errorf("pix = %v, want %v", f.Pix, want)
		}
	})
}

func TestFrameSlotDropsWhileViewed(t *testing.T) {
	var slot frameSlot
	pix := make([]byte, 16)
	slot.Store(pix, 2, 2, 0)

	slot.View(func(*media.Frame) {
		if slot.Store(pix, 2, 2, 0) {
			t.Error("Store should drop while a reader holds the frame")
		}
	})
	if _, dropped := slot.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if !slot.Store(pix, 2, 2, 0) {
		t.Error("Store should succeed after the reader released")
	}
}

func TestFrameSlotRejectsShortBuffer(t *testing.T) {
	var slot frameSlot
	if slot.Store(make([]byte, 10), 2, 2, 0) {
		t.Fatal("short buffer should be rejected")
	}
	if slot.Ready() {
		t.Error("rejected frame should not make the slot ready")
	}
}

func TestPCMQueueDropsOldest(t *testing.T) {
	q := newPCMQueue(2)
	q.Enqueue([]byte{1})
	q.Enqueue([]byte{2})
	q.Enqueue([]byte{3})

	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
	buf := make([]byte, 1)
	for _, want := range []byte{2, 3} {
		n, err := q.Read(buf)
		if err != nil || n != 1 || buf[0] != want {
			t.Fatalf("Read = %d %v %v, want %d", n, buf, err, want)
		}
	}
}

func TestPCMQueuePartialReadsAndClose(t *testing.T) {
	q := newPCMQueue(4)
	q.Enqueue([]byte{1, 2, 3})
	if !q.Received() {
		t.Fatal("Received should be true after enqueue")
	}

	buf := make([]byte, 2)
	n, _ := q.Read(buf)
	if n != 2 || !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("first read = %v", buf[:n])
	}
	n, _ = q.Read(buf)
	if n != 1 || buf[0] != 3 {
		t.Fatalf("second read = %v", buf[:n])
	}

	q.Close()
	if _, err := q.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read after close = %v, want EOF", err)
	}
	q.Enqueue([]byte{4})
	q.Close()
}

type stubSource struct {
	kind  Kind
	ready atomic.Bool
}

func (s *stubSource) Kind() Kind   { return s.kind }
func (s *stubSource) Ready() bool  { return s.ready.Load() }
func (s *stubSource) Close() error { return nil }

func TestWaitReady(t *testing.T) {
	screen := &stubSource{kind: KindScreen}
	cam := &stubSource{kind: KindCamera}
	screen.ready.Store(true)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cam.ready.Store(true)
	}()
	if err := WaitReady(context.Background(), 2*time.Second, screen, cam, nil); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	screen := &stubSource{kind: KindScreen}
	mic := &stubSource{kind: KindMicrophone}
	screen.ready.Store(true)

	err := WaitReady(context.Background(), 40*time.Millisecond, screen, mic)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if want := "microphone"; !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Errorf("error %q should name %q", err, want)
	}
}

func TestWaitReadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitReady(ctx, time.Second, &stubSource{kind: KindScreen})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHostDevicesCameras(t *testing.T) {
	dev := t.TempDir()
	sys := t.TempDir()
	for _, name := range []string{"video2", "video0"} {
		if err := os.WriteFile(filepath.Join(dev, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(sys, "video0"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sys, "video0", "name"), []byte("Integrated Camera\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lister := HostDevices{CameraGlob: filepath.Join(dev, "video*"), SysfsRoot: sys}
	cams, err := lister.Cameras(context.Background())
	if err != nil {
		t.Fatalf("Cameras failed: %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cams))
	}
	if cams[0].Name != "Integrated Camera" || !cams[0].Default {
		t.Errorf("first camera = %+v", cams[0])
	}
	if cams[1].Name != "video2" || cams[1].Default {
		t.Errorf("second camera = %+v", cams[1])
	}

	if got, ok := FindDevice(cams, "integrated camera"); !ok || got.ID != cams[0].ID {
		t.Errorf("FindDevice by name = %+v %v", got, ok)
	}
	if _, ok := FindDevice(cams, "/dev/video9"); ok {
		t.Error("FindDevice should miss unknown id")
	}
}

type stubLister struct{ cams []Device }

func (s stubLister) Microphones(context.Context) ([]Device, error) { return nil, nil }
func (s stubLister) Cameras(context.Context) ([]Device, error)     { return s.cams, nil }

func TestHostAcquireCameraUnknownDevice(t *testing.T) {
	h := NewHost(30, stubLister{cams: []Device{{ID: "/dev/video0", Kind: KindCamera}}}, nil)
	_, err := h.AcquireCamera(context.Background(), "/dev/video7", media.Resolution{Width: 640, Height: 480})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}

	h = NewHost(30, stubLister{}, nil)
	if _, err := h.AcquireCamera(context.Background(), "", media.Resolution{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound with no cameras", err)
	}
}

func TestHostReleaseNil(t *testing.T) {
	h := NewHost(30, stubLister{}, nil)
	if err := h.Release(nil); err != nil {
		t.Fatalf("Release(nil) = %v", err)
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{KindScreen: "screen", KindCamera: "camera", KindMicrophone: "microphone", Kind(9): "unknown"}
	for k, want := range tests {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}

type faultingSource struct {
	stubSource
	*faultSignal
}

func TestFaultsKeepsFirstReport(t *testing.T) {
	src := &faultingSource{stubSource: stubSource{kind: KindCamera}, faultSignal: newFaultSignal()}
	first := errors.New("unplugged")
	src.report(first)
	src.report(errors.New("second"))

	ch := Faults(src)
	if ch == nil {
		t.Fatal("faulting source should expose its channel")
	}
	select {
	case err := <-ch:
		if err != first {
			t.Errorf("fault = %v, want the first report", err)
		}
	default:
		t.Fatal("no fault delivered")
	}
	select {
	case err := <-ch:
		t.Errorf("unexpected second fault %v", err)
	default:
	}

	if Faults(&stubSource{kind: KindScreen}) != nil {
		t.Error("plain source should have no fault channel")
	}
}
