//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/pipewire"
	"go2tv.app/screenrec/internal/portal"
	"go2tv.app/screenrec/media"
)

type screenSource struct {
	session *portal.Session
	stream  *pipewire.Stream
	slot    *frameSlot
	size    media.Resolution
	log     *logging.Logger
	faults  *faultSignal

	closeOnce sync.Once
	closeErr  error
}

// openScreen asks the ScreenCast portal for a monitor or window and connects
// a PipeWire stream to the granted node.
func openScreen(ctx context.Context, hint media.Resolution, frameRate int, log *logging.Logger) (*screenSource, error) {
	if !pipewire.IsAvailable() {
		return nil, pipewire.ErrLibraryNotLoaded
	}

	sess, err := portal.CreateSession(ctx)
	if err != nil {
		return nil, portalError("create session", err)
	}

	cleanupSession := true
	defer func() {
		if cleanupSession {
			_ = sess.Close()
		}
	}()

	err = sess.SelectSources(ctx, portal.SourceOptions{
		Types:      portal.SourceTypeMonitor | portal.SourceTypeWindow,
		CursorMode: portal.CursorModeEmbedded,
	})
	if err != nil {
		return nil, portalError("select sources", err)
	}

	streams, err := sess.Start(ctx, "")
	if err != nil {
		return nil, portalError("start", err)
	}

	selected := streams[0]
	size := media.Resolution{Width: int(selected.Size[0]), Height: int(selected.Size[1])}
	if size.Width <= 0 || size.Height <= 0 {
		size = hint
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid stream size %s", size)
	}

	fd, err := sess.OpenPipeWireRemote(ctx)
	if err != nil {
		return nil, portalError("open pipewire remote", err)
	}
	defer syscall.Close(fd)

	src := &screenSource{
		session: sess,
		slot:    &frameSlot{},
		size:    size,
		log:     log,
		faults:  newFaultSignal(),
	}
	src.stream, err = pipewire.NewStream(fd, selected.NodeID, uint32(size.Width), uint32(size.Height), uint32(frameRate), src.onFrame)
	if err != nil {
		return nil, err
	}
	src.stream.Start()
	go src.watchStream()

	log.Info("screen stream connected", "node_id", selected.NodeID, "size", size.String())
	cleanupSession = false
	return src, nil
}

func (s *screenSource) onFrame(data []byte, stride int) {
	s.slot.Store(data, s.size.Width, s.size.Height, stride)
}

// watchStream forwards the first PipeWire stream failure. It returns once
// the stream is closed.
func (s *screenSource) watchStream() {
	if err, ok := <-s.stream.Faults(); ok && err != nil {
		s.log.Error("screen stream failed", "error", err)
		s.faults.report(fmt.Errorf("%w: screen: %v", ErrSourceLost, err))
	}
}

func (s *screenSource) Faults() <-chan error { return s.faults.Faults() }

func (s *screenSource) Kind() Kind             { return KindScreen }
func (s *screenSource) Size() media.Resolution { return s.size }
func (s *screenSource) Ready() bool            { return s.slot.Ready() }

func (s *screenSource) View(fn func(*media.Frame)) bool {
	return s.slot.View(fn)
}

func (s *screenSource) Close() error {
	s.closeOnce.Do(func() {
		streamErr := s.stream.Err()
		closeErr := s.stream.Close()
		sessErr := s.session.Close()
		stored, dropped := s.slot.Stats()
		s.log.Debug("screen stream closed", "frames", stored, "dropped", dropped, "stream_error", streamErr)
		s.closeErr = errors.Join(closeErr, sessErr)
	})
	return s.closeErr
}

func portalError(step string, err error) error {
	switch {
	case errors.Is(err, portal.ErrCancelled):
		return ErrCancelled
	case errors.Is(err, portal.ErrNoStreams):
		return ErrNoStreams
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("screencast %s: %w", step, err)
	}
}
