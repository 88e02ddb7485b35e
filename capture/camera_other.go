//go:build !linux

package capture

import (
	"context"
	"fmt"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

type cameraSource struct{ VideoSource }

func openCamera(ctx context.Context, device string, res media.Resolution, log *logging.Logger) (*cameraSource, error) {
	return nil, fmt.Errorf("%w: camera capture requires video4linux", ErrNotImplemented)
}
