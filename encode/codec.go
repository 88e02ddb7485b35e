package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/processutil"
)

const encoderProbeTimeout = 5 * time.Second

// Plan is one codec/container combination ffmpeg can produce.
type Plan struct {
	Label string
	// VideoCodec is the ffmpeg encoder name. Empty means the muxer default.
	VideoCodec string
	AudioCodec string
	// Format is the ffmpeg muxer.
	Format    string
	Extension string
	MIMEType  string
	// Bitrate is the target video bitrate in bits per second.
	Bitrate int

	videoArgs []string
	audioArgs []string
}

// Generic reports whether the plan leaves codec choice to the muxer.
func (p Plan) Generic() bool { return p.VideoCodec == "" }

func (p Plan) VideoArgs() []string { return append([]string(nil), p.videoArgs...) }
func (p Plan) AudioArgs() []string { return append([]string(nil), p.audioArgs...) }

// Preferences returns the ordered candidates for bitrate bits per second:
// VP9 in WebM, VP8 in WebM, then a codec-agnostic Matroska container.
func Preferences(bitrate int) []Plan {
	br := strconv.Itoa(bitrate)
	opus := []string{"-c:a", "libopus", "-b:a", "128k"}
	return []Plan{
		{
			Label:      "vp9/webm",
			VideoCodec: "libvpx-vp9",
			AudioCodec: "libopus",
			Format:     "webm",
			Extension:  "webm",
			MIMEType:   "video/webm;codecs=vp9",
			Bitrate:    bitrate,
			videoArgs: []string{
				"-c:v", "libvpx-vp9",
				"-b:v", br,
				"-deadline", "realtime",
				"-cpu-used", "8",
				"-row-mt", "1",
				"-pix_fmt", "yuv420p",
			},
			audioArgs: opus,
		},
		{
			Label:      "vp8/webm",
			VideoCodec: "libvpx",
			AudioCodec: "libopus",
			Format:     "webm",
			Extension:  "webm",
			MIMEType:   "video/webm;codecs=vp8",
			Bitrate:    bitrate,
			videoArgs: []string{
				"-c:v", "libvpx",
				"-b:v", br,
				"-deadline", "realtime",
				"-cpu-used", "8",
				"-pix_fmt", "yuv420p",
			},
			audioArgs: opus,
		},
		genericPlan(bitrate),
	}
}

// genericPlan picks no codec but still carries the bitrate target. A
// non-positive bitrate leaves the encoder default.
func genericPlan(bitrate int) Plan {
	p := Plan{
		Label:     "matroska",
		Format:    "matroska",
		Extension: "mkv",
		MIMEType:  "video/x-matroska",
	}
	if bitrate > 0 {
		p.Bitrate = bitrate
		p.videoArgs = []string{"-b:v", strconv.Itoa(bitrate)}
	}
	return p
}

// Prober checks what the local ffmpeg can encode.
type Prober interface {
	Encoders(ctx context.Context) (map[string]struct{}, error)
	Probe(ctx context.Context, plan Plan) error
}

// Negotiate returns the first candidate that ffmpeg lists and can encode a
// short test clip with. The generic plan is returned without probing when
// every other candidate fails.
func Negotiate(ctx context.Context, prober Prober, candidates []Plan, log *logging.Logger) Plan {
	if log == nil {
		log = logging.NopLogger()
	}

	available, err := prober.Encoders(ctx)
	if err != nil {
		log.Debug("ffmpeg encoder list failed", "error", err)
	}

	for _, candidate := range candidates {
		if candidate.Generic() {
			log.Info("video encoder selected", "plan", candidate.Label, "reason", "fallback")
			return candidate
		}
		if len(available) > 0 {
			if _, ok := available[candidate.VideoCodec]; !ok {
				log.Debug("encoder skipped", "plan", candidate.Label, "reason", "not_in_ffmpeg_encoder_list")
				continue
			}
		}
		if err := prober.Probe(ctx, candidate); err != nil {
			log.Debug("encoder probe failed", "plan", candidate.Label, "error", err)
			continue
		}
		log.Info("video encoder selected", "plan", candidate.Label)
		return candidate
	}

	bitrate := 0
	if len(candidates) > 0 {
		bitrate = candidates[0].Bitrate
	}
	plan := genericPlan(bitrate)
	log.Info("video encoder selected", "plan", plan.Label, "reason", "no_candidate_succeeded")
	return plan
}

// FFmpegProber runs the ffmpeg binary at Path.
type FFmpegProber struct {
	Path string
}

func (p FFmpegProber) Encoders(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Path, "-hide_banner", "-encoders")
	processutil.HideConsoleWindow(cmd)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg -encoders timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders failed: %w", err)
	}
	return parseEncoderList(out), nil
}

// parseEncoderList reads "ffmpeg -encoders" output. Lines look like
// " V....D libvpx-vp9  libvpx VP9"; both video and audio encoders are kept.
func parseEncoderList(out []byte) map[string]struct{} {
	encoders := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		if kind := fields[0][0]; kind == 'V' || kind == 'A' {
			encoders[fields[1]] = struct{}{}
		}
	}
	return encoders
}

func (p FFmpegProber) Probe(ctx context.Context, plan Plan) error {
	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-nostdin",
		"-f", "lavfi",
		"-i", "color=c=black:s=320x240:r=30:d=0.5",
		"-an",
		"-frames:v", "8",
	}
	args = append(args, plan.VideoArgs()...)
	args = append(args, "-f", plan.Format, "-")

	cmd := exec.CommandContext(ctx, p.Path, args...)
	processutil.HideConsoleWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("probe timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return fmt.Errorf("probe failed: %w: %s", err, tailString(strings.TrimSpace(stderr.String()), 240))
	}
	return nil
}

func tailString(input string, max int) string {
	if input == "" {
		return "no ffmpeg stderr output"
	}
	if max <= 0 || len(input) <= max {
		return input
	}
	return input[len(input)-max:]
}
