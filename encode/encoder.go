// Package encode turns composed BGRA frames and PCM audio into a
// streamable container with an ffmpeg subprocess, emitting the output as
// numbered chunks on a fixed flush cadence.
package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/processutil"
	"go2tv.app/screenrec/internal/tick"
	"go2tv.app/screenrec/media"
)

const (
	DefaultFrameRate     = 30
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultFFmpegPath    = "ffmpeg"

	videoQueueSize = 2048
	audioQueueSize = 8192
	stderrTail     = 300
)

// FrameSource hands out composed frames. Take returns nil when nothing new
// is available; frames are returned with Release.
type FrameSource interface {
	Take() *media.Frame
	Release(f *media.Frame)
}

type Config struct {
	FFmpegPath    string
	Output        media.Resolution
	Quality       media.Quality
	FrameRate     int
	FlushInterval time.Duration

	// Plan skips negotiation when set.
	Plan   *Plan
	Prober Prober

	Frames FrameSource
	// Audio is nil when the recording has no microphone.
	Audio   io.Reader
	OnChunk func(media.Chunk)
	Logger  *logging.Logger
}

// Stats counts encoder activity.
type Stats struct {
	FramesWritten  uint64
	FramesRepeated uint64
	Chunks         uint64
	Bytes          uint64
}

// Encoder is a running ffmpeg process. Call Flush to finish the output and
// Close to release the process on every path.
type Encoder struct {
	cfg  Config
	plan Plan
	log  *logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *lockedBuffer
	relay  *audioRelay
	chunks *chunker

	paused    atomic.Bool
	finishing atomic.Bool

	feed    tick.Ticker
	flusher tick.Ticker
	held    *media.Frame
	writeOK atomic.Bool

	copied  chan struct{}
	exited  chan struct{}
	exitErr error
	faults  chan error

	flushOnce sync.Once
	flushErr  error
	closeOnce sync.Once

	framesWritten  atomic.Uint64
	framesRepeated atomic.Uint64
}

func normalize(cfg Config) (Config, error) {
	if cfg.Output.Width <= 0 || cfg.Output.Height <= 0 {
		return cfg, errors.New("encode: output resolution must be positive")
	}
	if cfg.Frames == nil {
		return cfg, errors.New("encode: frame source is required")
	}
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Quality == "" {
		cfg.Quality = media.Quality1080p
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	return cfg, nil
}

// Start negotiates a codec, launches ffmpeg and begins feeding frames.
func Start(ctx context.Context, cfg Config) (*Encoder, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.WithComponent("encode")

	var plan Plan
	if cfg.Plan != nil {
		plan = *cfg.Plan
	} else {
		prober := cfg.Prober
		if prober == nil {
			prober = FFmpegProber{Path: cfg.FFmpegPath}
		}
		plan = Negotiate(ctx, prober, Preferences(cfg.Quality.VideoBitrate()), log)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := &Encoder{
		cfg:    cfg,
		plan:   plan,
		log:    log.With("plan", plan.Label),
		stderr: &lockedBuffer{},
		copied: make(chan struct{}),
		exited: make(chan struct{}),
		faults: make(chan error, 1),
	}
	e.chunks = newChunker(cfg.OnChunk)

	audioURL := ""
	if cfg.Audio != nil {
		e.relay, err = startAudioRelay(cfg.Audio, &e.paused)
		if err != nil {
			return nil, err
		}
		audioURL = e.relay.URL()
	}

	args := buildArgs(cfg, plan, audioURL)
	e.log.Debug("ffmpeg command", "path", cfg.FFmpegPath, "args", strings.Join(args, " "))

	cmd := exec.Command(cfg.FFmpegPath, args...)
	cmd.Stderr = e.stderr
	processutil.HideConsoleWindow(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.closeRelay()
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.closeRelay()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		e.closeRelay()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	e.writeOK.Store(true)

	go func() {
		defer close(e.copied)
		_, _ = io.Copy(e.chunks, stdout)
	}()
	go e.wait()

	if err := e.flusher.Start(context.Background(), cfg.FlushInterval, func(context.Context) {
		e.chunks.flush(false)
	}); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.feed.Start(context.Background(), time.Second/time.Duration(cfg.FrameRate), func(context.Context) {
		e.feedOnce()
	}); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.log.Info("encoder started",
		"output", cfg.Output.String(),
		"frame_rate", cfg.FrameRate,
		"bitrate", cfg.Quality.VideoBitrate(),
		"audio", cfg.Audio != nil,
	)
	return e, nil
}

func buildArgs(cfg Config, plan Plan, audioURL string) []string {
	fps := strconv.Itoa(cfg.FrameRate)
	args := []string{
		"-hide_banner",
		"-nostats",
		"-thread_queue_size", strconv.Itoa(videoQueueSize),
		"-f", "rawvideo",
		"-pix_fmt", strings.ToLower(media.PixelFormatBGRA),
		"-s", cfg.Output.String(),
		"-r", fps,
		"-i", "pipe:0",
	}
	if audioURL != "" {
		args = append(args,
			"-thread_queue_size", strconv.Itoa(audioQueueSize),
			"-f", media.AudioFormatFFmpeg,
			"-ar", strconv.Itoa(media.AudioSampleRate),
			"-ac", strconv.Itoa(media.AudioChannels),
			"-i", audioURL,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-an")
	}

	args = append(args, "-r", fps)
	args = append(args, plan.VideoArgs()...)
	if audioURL != "" {
		args = append(args, plan.AudioArgs()...)
	}
	args = append(args,
		"-flush_packets", "1",
		"-f", plan.Format,
		"pipe:1",
	)
	return args
}

func (e *Encoder) wait() {
	<-e.copied
	err := e.cmd.Wait()
	e.exitErr = err
	close(e.exited)

	if e.finishing.Load() {
		return
	}
	fault := fmt.Errorf("ffmpeg exited unexpectedly: %s", e.stderr.Tail(stderrTail))
	if err != nil {
		fault = fmt.Errorf("ffmpeg exited unexpectedly: %w: %s", err, e.stderr.Tail(stderrTail))
	}
	e.log.Error("encoder fault", "error", fault)
	select {
	case e.faults <- fault:
	default:
	}
}

// feedOnce writes the newest frame, or repeats the last one when the
// compositor has nothing new, so the stream keeps its frame rate.
func (e *Encoder) feedOnce() {
	if e.paused.Load() || !e.writeOK.Load() {
		return
	}
	if f := e.cfg.Frames.Take(); f != nil {
		if e.held != nil {
			e.cfg.Frames.Release(e.held)
		}
		e.held = f
		e.framesWritten.Add(1)
	} else if e.held != nil {
		e.framesRepeated.Add(1)
	} else {
		return
	}

	if _, err := e.stdin.Write(e.held.Pix); err != nil {
		e.writeOK.Store(false)
		if !e.finishing.Load() {
			e.log.Debug("ffmpeg stdin write failed", "error", err)
		}
	}
}

// Plan returns the negotiated codec plan.
func (e *Encoder) Plan() Plan { return e.plan }

// Pause suspends the frame feed, the audio relay and chunk flushes.
func (e *Encoder) Pause() {
	e.paused.Store(true)
	e.chunks.paused.Store(true)
}

func (e *Encoder) Resume() {
	e.chunks.paused.Store(false)
	e.paused.Store(false)
}

func (e *Encoder) Paused() bool { return e.paused.Load() }

// Faults delivers at most one error if ffmpeg exits before Flush.
func (e *Encoder) Faults() <-chan error { return e.faults }

// Flush closes ffmpeg's inputs, waits for it to exit and emits every
// remaining byte as a final chunk. It returns after the last chunk has been
// delivered. Later calls return the first result.
func (e *Encoder) Flush(ctx context.Context) error {
	e.flushOnce.Do(func() {
		e.flushErr = e.flush(ctx)
	})
	return e.flushErr
}

func (e *Encoder) flush(ctx context.Context) error {
	e.finishing.Store(true)

	// A stalled ffmpeg can leave a frame write blocked inside the feed tick.
	var waitErr error
	fed := make(chan struct{})
	go func() {
		e.feed.Stop()
		close(fed)
	}()
	select {
	case <-fed:
	case <-ctx.Done():
		e.kill()
		_ = e.stdin.Close()
		<-fed
		waitErr = ctx.Err()
	}
	e.releaseHeld()

	stdinErr := e.stdin.Close()
	e.closeRelay()

	select {
	case <-e.exited:
	case <-ctx.Done():
		e.kill()
		<-e.exited
		waitErr = ctx.Err()
	}

	e.flusher.Stop()
	e.chunks.flush(true)

	st := e.Stats()
	e.log.Info("encoder flushed",
		"chunks", st.Chunks,
		"bytes", st.Bytes,
		"frames_written", st.FramesWritten,
		"frames_repeated", st.FramesRepeated,
	)

	if waitErr != nil {
		return waitErr
	}
	if e.exitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", e.exitErr, e.stderr.Tail(stderrTail))
	}
	if stdinErr != nil && !errors.Is(stdinErr, os.ErrClosed) {
		e.log.Debug("ffmpeg stdin close failed", "error", stdinErr)
	}
	return nil
}

func (e *Encoder) releaseHeld() {
	if e.held != nil {
		e.cfg.Frames.Release(e.held)
		e.held = nil
	}
}

func (e *Encoder) closeRelay() {
	if e.relay != nil {
		e.relay.Close()
	}
}

func (e *Encoder) kill() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.log.Debug("ffmpeg kill failed", "error", err)
	}
}

// Close stops feeding, kills ffmpeg if it is still running and waits for it
// to exit. Safe after Flush and safe to call repeatedly.
func (e *Encoder) Close() error {
	e.closeOnce.Do(func() {
		e.finishing.Store(true)
		// Kill before stopping the feed so a blocked stdin write returns.
		if e.cmd != nil {
			select {
			case <-e.exited:
			default:
				e.kill()
			}
		}
		if e.stdin != nil {
			_ = e.stdin.Close()
		}
		e.feed.Stop()
		e.flusher.Stop()
		e.releaseHeld()
		e.closeRelay()
		if e.cmd != nil {
			<-e.exited
		}
	})
	return nil
}

func (e *Encoder) Stats() Stats {
	return Stats{
		FramesWritten:  e.framesWritten.Load(),
		FramesRepeated: e.framesRepeated.Load(),
		Chunks:         e.chunks.chunks.Load(),
		Bytes:          e.chunks.written.Load(),
	}
}
