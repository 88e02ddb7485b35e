package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

type microphoneSource struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	queue  *pcmQueue
	name   string
	log    *logging.Logger
	faults *faultSignal

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func initAudioContext() (*malgo.AllocatedContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	return mctx, nil
}

func freeAudioContext(mctx *malgo.AllocatedContext) error {
	err := mctx.Uninit()
	mctx.Free()
	return err
}

// openMicrophone starts capturing s16le 48 kHz stereo from deviceID, or from
// the system default when deviceID is empty or "default".
func openMicrophone(ctx context.Context, deviceID string, log *logging.Logger) (*microphoneSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := initAudioContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = media.AudioChannels
	cfg.SampleRate = media.AudioSampleRate
	cfg.Alsa.NoMMap = 1

	name := "default"
	if !isDefaultDevice(deviceID) {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			_ = freeAudioContext(mctx)
			return nil, fmt.Errorf("list microphones: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].ID.String() == deviceID || strings.EqualFold(infos[i].Name(), deviceID) {
				cfg.Capture.DeviceID = infos[i].ID.Pointer()
				name = infos[i].Name()
				found = true
				break
			}
		}
		if !found {
			_ = freeAudioContext(mctx)
			return nil, fmt.Errorf("%w: microphone %q", ErrDeviceNotFound, deviceID)
		}
	}

	m := &microphoneSource{
		mctx:  mctx,
		queue: newPCMQueue(defaultPCMQueue),
		name:   name,
		log:    log,
		faults: newFaultSignal(),
	}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if frameCount == 0 {
				return
			}
			m.queue.Enqueue(input)
		},
		Stop: func() {
			if m.closing.Load() {
				return
			}
			m.log.Error("microphone stopped unexpectedly", "device", m.name)
			m.faults.report(fmt.Errorf("%w: microphone %q stopped", ErrSourceLost, m.name))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = freeAudioContext(mctx)
		return nil, fmt.Errorf("open microphone %q: %w", name, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = freeAudioContext(mctx)
		return nil, fmt.Errorf("start microphone %q: %w", name, err)
	}
	m.device = device

	log.Info("microphone capture started", "device", name)
	return m, nil
}

func isDefaultDevice(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || strings.EqualFold(id, "default")
}

func (m *microphoneSource) Kind() Kind  { return KindMicrophone }
func (m *microphoneSource) Ready() bool { return m.queue.Received() }

func (m *microphoneSource) Faults() <-chan error { return m.faults.Faults() }

func (m *microphoneSource) Read(p []byte) (int, error) {
	return m.queue.Read(p)
}

func (m *microphoneSource) Close() error {
	m.closeOnce.Do(func() {
		m.closing.Store(true)
		var errs []error
		if m.device != nil {
			if err := m.device.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop microphone: %w", err))
			}
			m.device.Uninit()
		}
		m.queue.Close()
		if err := freeAudioContext(m.mctx); err != nil {
			errs = append(errs, err)
		}
		m.log.Debug("microphone capture closed", "device", m.name, "dropped_packets", m.queue.Dropped())
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
