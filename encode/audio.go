package encode

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	audioChunkSize  = 4096
	audioRelayQueue = 384
	// 20 ms of s16le 48 kHz stereo.
	silenceBytes     = 3840
	silenceTick      = 20 * time.Millisecond
	silenceThreshold = 40 * time.Millisecond
)

// audioRelay serves PCM from src to the single ffmpeg connection on a
// loopback TCP port.
type audioRelay struct {
	listener net.Listener
	src      io.Reader
	paused   *atomic.Bool

	mu   sync.Mutex
	conn net.Conn

	done      chan struct{}
	served    chan struct{}
	closeOnce sync.Once
}

func startAudioRelay(src io.Reader, paused *atomic.Bool) (*audioRelay, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("audio listener: %w", err)
	}
	r := &audioRelay{
		listener: l,
		src:      src,
		paused:   paused,
		done:     make(chan struct{}),
		served:   make(chan struct{}),
	}
	go r.serve()
	return r, nil
}

func (r *audioRelay) URL() string {
	return "tcp://" + r.listener.Addr().String()
}

func (r *audioRelay) serve() {
	defer close(r.served)
	conn, err := r.listener.Accept()
	_ = r.listener.Close()
	if err != nil {
		return
	}

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	r.conn = conn
	r.mu.Unlock()

	relayAudio(conn, r.src, r.paused, r.done)
	_ = conn.Close()
}

// Close ends the relay; ffmpeg sees end of input on the audio stream.
func (r *audioRelay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.listener.Close()
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.mu.Unlock()
		<-r.served
	})
}

// relayAudio copies src to dst until done is closed or dst fails. Packets
// are dropped oldest-first when dst falls behind. While paused, incoming PCM
// is discarded and no silence is written, so the audio timeline stops with
// the video. Otherwise gaps longer than silenceThreshold are filled with
// silence.
func relayAudio(dst io.Writer, src io.Reader, paused *atomic.Bool, done <-chan struct{}) {
	ch := make(chan []byte, audioRelayQueue)

	go func() {
		buf := make([]byte, audioChunkSize)
		for {
			n, err := src.Read(buf)
			if n > 0 && !paused.Load() {
				b := make([]byte, n)
				copy(b, buf[:n])
				select {
				case ch <- b:
				default:
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- b:
					default:
					}
				}
			}
			if err != nil {
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	silence := make([]byte, silenceBytes)
	lastWrite := time.Now().Add(-time.Second)
	t := time.NewTicker(silenceTick)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case b := <-ch:
			if _, err := dst.Write(b); err != nil {
				return
			}
			lastWrite = time.Now()
		case <-t.C:
			if paused.Load() {
				lastWrite = time.Now()
				continue
			}
			if time.Since(lastWrite) < silenceThreshold {
				continue
			}
			if _, err := dst.Write(silence); err != nil {
				return
			}
			lastWrite = time.Now()
		}
	}
}
