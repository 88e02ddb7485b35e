package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/malgo"
)

// Device is one selectable capture device.
type Device struct {
	ID      string
	Name    string
	Kind    Kind
	Default bool
}

// DeviceLister enumerates capture devices.
type DeviceLister interface {
	Microphones(ctx context.Context) ([]Device, error)
	Cameras(ctx context.Context) ([]Device, error)
}

const (
	defaultCameraGlob = "/dev/video*"
	defaultSysfsRoot  = "/sys/class/video4linux"
)

// HostDevices lists microphones through miniaudio and cameras through the
// video4linux device nodes.
type HostDevices struct {
	CameraGlob string
	SysfsRoot  string
}

func (d HostDevices) Microphones(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := initAudioContext()
	if err != nil {
		return nil, err
	}
	defer freeAudioContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(infos))
	for i := range infos {
		out = append(out, Device{
			ID:      infos[i].ID.String(),
			Name:    infos[i].Name(),
			Kind:    KindMicrophone,
			Default: infos[i].IsDefault != 0,
		})
	}
	return out, nil
}

// Cameras returns device nodes in name order. The first entry is the
// default camera.
func (d HostDevices) Cameras(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pattern := d.CameraGlob
	if pattern == "" {
		pattern = defaultCameraGlob
	}
	root := d.SysfsRoot
	if root == "" {
		root = defaultSysfsRoot
	}

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]Device, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		name := base
		if b, err := os.ReadFile(filepath.Join(root, base, "name")); err == nil {
			if n := strings.TrimSpace(string(b)); n != "" {
				name = n
			}
		}
		out = append(out, Device{ID: p, Name: name, Kind: KindCamera, Default: len(out) == 0})
	}
	return out, nil
}

// FindDevice matches id against device IDs, then case-insensitively against
// names.
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, dev := range devices {
		if dev.ID == id {
			return dev, true
		}
	}
	for _, dev := range devices {
		if strings.EqualFold(dev.Name, id) {
			return dev, true
		}
	}
	return Device{}, false
}
