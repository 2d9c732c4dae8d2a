package logtail

import (
	"sync"

	"k8s.io/utils/buffer"
)

const initialBufferSize = 64

// Line is one decoded log line. Seq is its 1-based
// arrival order; Text keeps the trailing newline when
// the source emitted one.
type Line struct {
	Seq  uint64
	Text string
}

// Buffer is an unbounded FIFO of lines, safe for one
// writer and one reader running concurrently.
type Buffer struct {
	mu   sync.Mutex
	ring *buffer.RingGrowing
	n    int
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		ring: buffer.NewRingGrowing(initialBufferSize),
	}
}

// Push appends a line.
func (b *Buffer) Push(l Line) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring.WriteOne(l)
	b.n++
}

// Pop removes and returns the oldest line. It never
// blocks; ok is false when the buffer is empty.
func (b *Buffer) Pop() (Line, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.ring.ReadOne()
	if !ok {
		return Line{}, false
	}

	b.n--

	l, _ := v.(Line)

	return l, true
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.n
}

// Empty reports whether no line is buffered.
func (b *Buffer) Empty() bool {
	return b.Len() == 0
}
