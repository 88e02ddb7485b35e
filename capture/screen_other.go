//go:build !linux

package capture

import (
	"context"
	"fmt"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

type screenSource struct{ VideoSource }

func openScreen(ctx context.Context, hint media.Resolution, frameRate int, log *logging.Logger) (*screenSource, error) {
	return nil, fmt.Errorf("%w: screen capture requires the xdg ScreenCast portal", ErrNotImplemented)
}
