package capture

import (
	"io"
	"sync"
	"sync/atomic"
)

const defaultPCMQueue = 256

// pcmQueue carries audio packets from a device callback to a reader. When
// full it drops the oldest packet so the callback path never blocks.
type pcmQueue struct {
	queue chan []byte
	done  chan struct{}

	pending []byte

	closeOnce sync.Once
	received  atomic.Bool
	dropped   atomic.Uint64
}

func newPCMQueue(size int) *pcmQueue {
	if size <= 0 {
		size = defaultPCMQueue
	}
	return &pcmQueue{
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

// Enqueue copies packet into the queue.
func (q *pcmQueue) Enqueue(packet []byte) {
	if len(packet) == 0 {
		return
	}
	select {
	case <-q.done:
		return
	default:
	}

	b := make([]byte, len(packet))
	copy(b, packet)
	q.received.Store(true)

	select {
	case q.queue <- b:
		return
	default:
	}

	select {
	case <-q.queue:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.queue <- b:
	default:
		q.dropped.Add(1)
	}
}

// Read blocks until a packet is available or the queue is closed.
func (q *pcmQueue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(q.pending) == 0 {
		select {
		case b := <-q.queue:
			q.pending = b
		case <-q.done:
			return 0, io.EOF
		}
	}
	n := copy(p, q.pending)
	q.pending = q.pending[n:]
	return n, nil
}

func (q *pcmQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *pcmQueue) Received() bool { return q.received.Load() }

func (q *pcmQueue) Dropped() uint64 { return q.dropped.Load() }
