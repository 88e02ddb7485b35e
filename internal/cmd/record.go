package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/status"
	"go2tv.app/screenrec/output"
	"go2tv.app/screenrec/recorder"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Start a recording",
	Long: `Start a recording. The desktop asks which screen or window to share,
then recording begins and a status line shows the elapsed time.

Keys while recording:
  p, space  pause or resume
  s, q      stop and save

Examples:
  # Record with the default camera overlay and microphone
  screenrec record

  # Screen only, in 4k, saved into ~/Videos
  screenrec record --webcam=false --audio=false --quality 4k -o ~/Videos/

  # Record for 30 seconds without the status line
  screenrec record --duration 30s`,
	RunE: runRecord,
}

var (
	recordDuration    time.Duration
	recordStopTimeout time.Duration
)

// flagBindings maps record flags to configuration keys.
var flagBindings = map[string]string{
	"webcam":          "recording.webcam.enabled",
	"webcam-position": "recording.webcam.position",
	"webcam-size":     "recording.webcam.size",
	"webcam-shape":    "recording.webcam.shape",
	"webcam-device":   "recording.webcam.device",
	"audio":           "recording.audio.enabled",
	"audio-device":    "recording.audio.device",
	"quality":         "recording.quality",
	"output":          "recording.save_path",
	"copy-path":       "recording.copy_path",
	"ffmpeg":          "encoder.ffmpeg_path",
}

func init() {
	rootCmd.AddCommand(recordCmd)

	f := recordCmd.Flags()
	f.Bool("webcam", true, "overlay the camera")
	f.String("webcam-position", "bottom-right", "overlay corner: top-left, top-right, bottom-left, bottom-right")
	f.Int("webcam-size", 20, "overlay width as a percentage of the output width (10-40)")
	f.String("webcam-shape", "circle", "overlay shape: square, rounded, circle")
	f.String("webcam-device", "", "camera device (default: first camera)")
	f.Bool("audio", true, "record the microphone")
	f.String("audio-device", "default", "microphone id or name")
	f.String("quality", "1080p", "output quality: 1080p or 4k")
	f.StringP("output", "o", "", "output file or directory (default: recording-<timestamp>.webm)")
	f.Bool("copy-path", false, "copy the saved file path to the clipboard")
	f.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	f.DurationVar(&recordDuration, "duration", 0, "stop automatically after this long; disables the status line")
	f.DurationVar(&recordStopTimeout, "stop-timeout", 30*time.Second, "how long to wait for the encoder to finish")

	for flag, key := range flagBindings {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func newController(cfg *config.Config, log *logging.Logger) (*recorder.Controller, error) {
	devices := capture.HostDevices{}
	var writer output.Writer = output.NewFileWriter("", log)
	if cfg.Recording.CopyPath {
		writer = output.NewClipboardWriter(writer, log)
	}
	return recorder.New(recorder.Options{
		Provider: capture.NewHost(cfg.Encoder.FrameRate, devices, log),
		Devices:  devices,
		Encoders: recorder.FFmpegEncoders{
			Path:          cfg.Encoder.FFmpegPath,
			FrameRate:     cfg.Encoder.FrameRate,
			FlushInterval: cfg.Encoder.FlushInterval(),
		},
		Writer:           writer,
		ReadyTimeout:     cfg.Capture.ReadyTimeout,
		CameraResolution: cfg.Capture.CameraResolution(),
		Logger:           log,
	})
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	ctrl, err := newController(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Waiting for screen selection...")
	if err := ctrl.Start(ctx, cfg.Settings()); err != nil {
		return err
	}

	if recordDuration > 0 {
		err = waitHeadless(ctx, ctrl, recordDuration)
		cancel()
	} else {
		cancel()
		_, err = status.Run(ctrl, ctrl.Failures())
	}
	if err != nil {
		if ctrl.State().Active() {
			_, _ = ctrl.Stop(context.Background())
		}
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), recordStopTimeout)
	defer stopCancel()
	res, err := ctrl.Stop(stopCtx)
	if err != nil {
		return err
	}
	if res == nil {
		return ctrl.LastError()
	}

	fmt.Fprintf(out, "Saved %s (%s, %d bytes, %s)\n",
		res.Path, recorder.FormatElapsed(res.Duration), res.Bytes, res.Plan)
	return nil
}

// waitHeadless records until d elapses, ctx ends or the session fails.
func waitHeadless(ctx context.Context, ctrl *recorder.Controller, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	case err := <-ctrl.Failures():
		return err
	}
}
