package recorder

import (
	"fmt"
	"strings"

	"go2tv.app/screenrec/compose"
	"go2tv.app/screenrec/media"
)

// Settings are fixed for the lifetime of one session.
type Settings struct {
	Layout       compose.Layout
	WebcamDevice string

	AudioEnabled bool
	// AudioDevice is a device id or name; empty or "default" selects the
	// system default.
	AudioDevice string

	Quality media.Quality
	// SavePath is a directory or file path; see output.Target.
	SavePath string
}

func (s Settings) validate() error {
	if err := s.Layout.Validate(); err != nil {
		return err
	}
	if _, err := media.ParseQuality(string(s.Quality)); err != nil {
		return err
	}
	return nil
}

func (s Settings) quality() media.Quality {
	q, err := media.ParseQuality(string(s.Quality))
	if err != nil {
		return media.Quality1080p
	}
	return q
}

func defaultAudioDevice(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || strings.EqualFold(id, "default")
}

func (s Settings) String() string {
	cam := "off"
	if s.Layout.WebcamEnabled {
		cam = fmt.Sprintf("%s/%d%%/%s", s.Layout.Position, s.Layout.SizePercent, s.Layout.Shape)
	}
	return fmt.Sprintf("quality=%s webcam=%s audio=%t", s.quality(), cam, s.AudioEnabled)
}
