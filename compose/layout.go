package compose

import (
	"fmt"
	"image"
	"strings"

	"go2tv.app/screenrec/media"
)

// Position is the output corner the camera overlay is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// Shape is the clip applied to the camera overlay.
type Shape string

const (
	ShapeSquare  Shape = "square"
	ShapeRounded Shape = "rounded"
	ShapeCircle  Shape = "circle"
)

const (
	MinSizePercent = 10
	MaxSizePercent = 40

	// Padding is the gap in pixels between the overlay and the output edges.
	Padding = 20
	// CornerRadius is the radius of the rounded shape.
	CornerRadius = 15
)

func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(s))); p {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return p, nil
	case "":
		return BottomRight, nil
	default:
		return "", fmt.Errorf("unknown webcam position %q", s)
	}
}

func ParseShape(s string) (Shape, error) {
	switch sh := Shape(strings.ToLower(strings.TrimSpace(s))); sh {
	case ShapeSquare, ShapeRounded, ShapeCircle:
		return sh, nil
	case "":
		return ShapeCircle, nil
	default:
		return "", fmt.Errorf("unknown webcam shape %q", s)
	}
}

// Layout is the camera overlay configuration. It is fixed for a session.
type Layout struct {
	WebcamEnabled bool
	Position      Position
	SizePercent   int
	Shape         Shape
}

func (l Layout) Validate() error {
	if !l.WebcamEnabled {
		return nil
	}
	if _, err := ParsePosition(string(l.Position)); err != nil {
		return err
	}
	if _, err := ParseShape(string(l.Shape)); err != nil {
		return err
	}
	if l.SizePercent < MinSizePercent || l.SizePercent > MaxSizePercent {
		return fmt.Errorf("webcam size %d%% outside [%d, %d]", l.SizePercent, MinSizePercent, MaxSizePercent)
	}
	return nil
}

// CameraRect returns where the overlay is drawn in an output of size out.
// The overlay is 4:3, its width sizePercent of the output width.
func CameraRect(out media.Resolution, l Layout) image.Rectangle {
	w := out.Width * l.SizePercent / 100
	h := w * 3 / 4

	x := Padding
	y := Padding
	switch l.Position {
	case TopRight:
		x = out.Width - w - Padding
	case BottomLeft:
		y = out.Height - h - Padding
	case TopLeft:
	default:
		x = out.Width - w - Padding
		y = out.Height - h - Padding
	}
	return image.Rect(x, y, x+w, y+h)
}
