package compose

import (
	"image"

	"github.com/gogpu/gg"
)

// clipMask rasterizes the anti-aliased clip for an overlay of size w x h.
// Square overlays need no mask and get nil.
func clipMask(shape Shape, w, h int) *image.Alpha {
	if w <= 0 || h <= 0 || shape == ShapeSquare {
		return nil
	}

	dc := gg.NewContext(w, h)
	defer dc.Close()

	fw, fh := float64(w), float64(h)
	switch shape {
	case ShapeCircle:
		dc.DrawCircle(fw/2, fh/2, float64(min(w, h))/2)
	case ShapeRounded:
		dc.DrawRoundedRectangle(0, 0, fw, fh, CornerRadius)
	default:
		return nil
	}

	m := dc.AsMask()
	return &image.Alpha{
		Pix:    m.Data(),
		Stride: m.Width(),
		Rect:   image.Rect(0, 0, m.Width(), m.Height()),
	}
}
