package encode

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"go2tv.app/screenrec/media"
)

// chunker buffers container bytes and hands them out as numbered chunks.
// Empty flushes produce nothing, so every emitted chunk has data.
type chunker struct {
	mu      sync.Mutex
	pending bytes.Buffer
	seq     int
	emit    func(media.Chunk)

	paused  atomic.Bool
	chunks  atomic.Uint64
	written atomic.Uint64
}

func newChunker(emit func(media.Chunk)) *chunker {
	if emit == nil {
		emit = func(media.Chunk) {}
	}
	return &chunker{emit: emit}
}

func (c *chunker) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written.Add(uint64(len(p)))
	return c.pending.Write(p)
}

// flush emits the pending bytes as one chunk. Periodic flushes are skipped
// while paused; the bytes stay pending until the next one.
func (c *chunker) flush(final bool) bool {
	if !final && c.paused.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() == 0 {
		return false
	}
	chunk := media.Chunk{Seq: c.seq, Data: bytes.Clone(c.pending.Bytes())}
	c.pending.Reset()
	c.seq++
	c.chunks.Add(1)
	c.emit(chunk)
	return true
}

// lockedBuffer collects ffmpeg stderr for error reports.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const maxStderrBytes = 64 << 10

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len()+len(p) > maxStderrBytes {
		keep := bytes.Clone(b.buf.Bytes()[max(0, b.buf.Len()-maxStderrBytes/2):])
		b.buf.Reset()
		b.buf.Write(keep)
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return tailString(strings.TrimSpace(b.buf.String()), n)
}
