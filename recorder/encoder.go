package recorder

import (
	"context"
	"io"
	"time"

	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

// Encoder is the running encoder a session drives.
type Encoder interface {
	Pause()
	Resume()
	// Flush finishes the output; every chunk has been delivered when it
	// returns.
	Flush(ctx context.Context) error
	Close() error
	Faults() <-chan error
	Plan() encode.Plan
}

// EncoderRequest carries the per-session inputs of an encoder.
type EncoderRequest struct {
	Output  media.Resolution
	Quality media.Quality
	Frames  encode.FrameSource
	// Audio is nil when the session records no microphone.
	Audio   io.Reader
	OnChunk func(media.Chunk)
	Logger  *logging.Logger
}

// EncoderFactory starts encoders.
type EncoderFactory interface {
	Start(ctx context.Context, req EncoderRequest) (Encoder, error)
}

// FFmpegEncoders starts encode.Encoder processes.
type FFmpegEncoders struct {
	Path          string
	FrameRate     int
	FlushInterval time.Duration
	// Prober overrides codec detection; nil probes Path.
	Prober encode.Prober
}

func (f FFmpegEncoders) Start(ctx context.Context, req EncoderRequest) (Encoder, error) {
	enc, err := encode.Start(ctx, encode.Config{
		FFmpegPath:    f.Path,
		Output:        req.Output,
		Quality:       req.Quality,
		FrameRate:     f.FrameRate,
		FlushInterval: f.FlushInterval,
		Prober:        f.Prober,
		Frames:        req.Frames,
		Audio:         req.Audio,
		OnChunk:       req.OnChunk,
		Logger:        req.Logger,
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}
