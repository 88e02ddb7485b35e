package capture

import (
	"context"
	"fmt"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

// Host acquires sources from the desktop: the ScreenCast portal for the
// screen, GStreamer for the camera and miniaudio for the microphone.
type Host struct {
	frameRate int
	devices   DeviceLister
	log       *logging.Logger
}

// NewHost returns a provider that requests screen frames at frameRate.
func NewHost(frameRate int, devices DeviceLister, log *logging.Logger) *Host {
	if log == nil {
		log = logging.NopLogger()
	}
	if devices == nil {
		devices = HostDevices{}
	}
	return &Host{
		frameRate: frameRate,
		devices:   devices,
		log:       log.WithComponent("capture"),
	}
}

func (h *Host) AcquireScreen(ctx context.Context, hint media.Resolution) (VideoSource, error) {
	src, err := openScreen(ctx, hint, h.frameRate, h.log)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// AcquireCamera opens deviceID, or the first camera when deviceID is empty.
func (h *Host) AcquireCamera(ctx context.Context, deviceID string, res media.Resolution) (VideoSource, error) {
	cams, err := h.devices.Cameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	if len(cams) == 0 {
		return nil, fmt.Errorf("%w: no cameras present", ErrDeviceNotFound)
	}

	dev := cams[0]
	if deviceID != "" {
		var ok bool
		if dev, ok = FindDevice(cams, deviceID); !ok {
			return nil, fmt.Errorf("%w: camera %q", ErrDeviceNotFound, deviceID)
		}
	}

	src, err := openCamera(ctx, dev.ID, res, h.log)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (h *Host) AcquireMicrophone(ctx context.Context, deviceID string) (AudioSource, error) {
	src, err := openMicrophone(ctx, deviceID, h.log)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Release closes src. A nil source is ignored.
func (h *Host) Release(src Source) error {
	if src == nil {
		return nil
	}
	if err := src.Close(); err != nil {
		h.log.Warn("release failed", "kind", src.Kind().String(), "error", err)
		return fmt.Errorf("release %s: %w", src.Kind(), err)
	}
	return nil
}
