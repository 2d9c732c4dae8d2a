package logtail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unicode/utf8"
)

// ErrDecode is recorded when the stream yields a line
// that is not valid UTF-8. The reader stops at that
// line as if the stream had ended.
var ErrDecode = errors.New("log line is not valid UTF-8")

// Reader copies lines from a Source into a Buffer on a
// background goroutine.
type Reader struct {
	buf    *Buffer
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

// Start opens the log stream of src at since and begins
// draining it. The returned Reader must be closed to
// release the stream.
func Start(
	ctx context.Context,
	src Source,
	since Since,
) (*Reader, error) {
	const errCtx = "starting log reader"

	ctx, cancel := context.WithCancel(ctx)

	stream, err := src.Logs(ctx, since)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	r := &Reader{
		buf:    NewBuffer(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		<-ctx.Done()
		//nolint:errcheck,gosec // best-effort close
		stream.Close()
	}()

	go r.run(ctx, stream)

	return r, nil
}

func (r *Reader) run(
	ctx context.Context,
	stream io.ReadCloser,
) {
	defer close(r.done)
	defer r.cancel()
	//nolint:errcheck // best-effort close
	defer stream.Close()

	reader := bufio.NewReader(stream)

	var seq uint64

	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			if !utf8.ValidString(text) {
				r.err = fmt.Errorf(
					"%w: line %d", ErrDecode, seq+1,
				)
				slog.Debug(
					"log stream stopped",
					"error", r.err,
				)

				return
			}

			seq++
			r.buf.Push(Line{Seq: seq, Text: text})
		}

		if err == nil {
			continue
		}

		if !errors.Is(err, io.EOF) && ctx.Err() == nil {
			r.err = err
			slog.Debug(
				"log stream stopped",
				"error", err,
			)
		}

		return
	}
}

// ReadNext returns the oldest unread line. It never
// blocks; ok is false when nothing is buffered.
func (r *Reader) ReadNext() (Line, bool) {
	return r.buf.Pop()
}

// Empty reports whether the buffer is empty. It says
// nothing about the process.
func (r *Reader) Empty() bool {
	return r.buf.Empty()
}

// Done is closed once the stream has been exhausted,
// failed or been closed.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Err returns why the stream stopped early. It is nil
// while the reader is running, after a clean end of
// stream and after Close.
func (r *Reader) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Close stops the background goroutine and waits for it
// to exit. Buffered lines stay readable.
func (r *Reader) Close() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
}
