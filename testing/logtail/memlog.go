package logtail

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrLogEnded is returned when writing to an ended Log.
var ErrLogEnded = errors.New("log ended")

// Log is an append-only in-memory log serving any
// number of followed streams. It backs sources whose
// process writes into memory rather than to a logging
// service.
type Log struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	starts []lineStart
	ended  bool
	now    func() time.Time
}

type lineStart struct {
	off int
	at  time.Time
}

// NewLog returns an empty Log.
func NewLog() *Log {
	l := &Log{now: time.Now}
	l.cond = sync.NewCond(&l.mu)

	return l
}

// Write appends p, recording the arrival time of every
// line it starts.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ended {
		return 0, ErrLogEnded
	}

	at := l.now()

	for _, b := range p {
		if len(l.data) == 0 || l.data[len(l.data)-1] == '\n' {
			l.starts = append(
				l.starts,
				lineStart{off: len(l.data), at: at},
			)
		}

		l.data = append(l.data, b)
	}

	l.cond.Broadcast()

	return len(p), nil
}

// End marks the log complete. Streams return io.EOF once
// they have read everything.
func (l *Log) End() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ended = true
	l.cond.Broadcast()
}

// Len returns the number of bytes written.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.data)
}

// Follow returns a stream of the log starting at since.
// Reads block until more data is written or the log
// ends.
func (l *Log) Follow(since Since) io.ReadCloser {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &follower{log: l, off: l.offset(since)}
}

func (l *Log) offset(since Since) int {
	if !since.Time.IsZero() {
		for _, s := range l.starts {
			if !s.at.Before(since.Time) {
				return s.off
			}
		}

		return len(l.data)
	}

	if since.Lines <= 0 || int(since.Lines) >= len(l.starts) {
		return 0
	}

	return l.starts[len(l.starts)-int(since.Lines)].off
}

type follower struct {
	log    *Log
	off    int
	closed bool
}

func (f *follower) Read(p []byte) (int, error) {
	l := f.log

	l.mu.Lock()
	defer l.mu.Unlock()

	for f.off == len(l.data) && !l.ended && !f.closed {
		l.cond.Wait()
	}

	if f.closed {
		return 0, io.ErrClosedPipe
	}

	if f.off == len(l.data) {
		return 0, io.EOF
	}

	n := copy(p, l.data[f.off:])
	f.off += n

	return n, nil
}

func (f *follower) Close() error {
	l := f.log

	l.mu.Lock()
	defer l.mu.Unlock()

	f.closed = true
	l.cond.Broadcast()

	return nil
}
