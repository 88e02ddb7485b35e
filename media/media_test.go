package media

import "testing"

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{in: "1080p", want: Quality1080p},
		{in: "", want: Quality1080p},
		{in: "4K", want: Quality4K},
		{in: " 2160p ", want: Quality4K},
		{in: "720p", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuality(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseQuality(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuality(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseQuality(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQualityPresets(t *testing.T) {
	if got := Quality1080p.Resolution(); got != (Resolution{1920, 1080}) {
		t.Errorf("1080p resolution = %v", got)
	}
	if got := Quality4K.Resolution(); got != (Resolution{3840, 2160}) {
		t.Errorf("4k resolution = %v", got)
	}
	if Quality4K.VideoBitrate() <= Quality1080p.VideoBitrate() {
		t.Error("4k bitrate should exceed 1080p bitrate")
	}
}

func TestFrameValid(t *testing.T) {
	f := NewFrame(Resolution{Width: 4, Height: 2})
	if !f.Valid() {
		t.Fatal("fresh frame should be valid")
	}
	if got := f.Image().Bounds().Dx(); got != 4 {
		t.Errorf("image width = %d, want 4", got)
	}

	short := &Frame{Pix: make([]byte, 10), Width: 4, Height: 2}
	if short.Valid() {
		t.Error("frame with too few bytes should be invalid")
	}

	var nilFrame *Frame
	if nilFrame.Valid() {
		t.Error("nil frame should be invalid")
	}
}
