package logtail

import (
	"context"
	"errors"
	"io"
	"time"
)

// State is a point-in-time view of whether the observed
// process is still executing.
type State string

const (
	// Running indicates a running process.
	Running State = "running"
	// Waiting indicates a process that was created but
	// has not started yet.
	Waiting State = "waiting"
	// Terminated indicates a process that exited.
	Terminated State = "terminated"
	// Unknown is reported before the first refresh or
	// when the process can no longer be found.
	Unknown State = "unknown"
)

// ErrInvalidState is returned when the state is not one
// of running, waiting, or terminated.
var ErrInvalidState = errors.New(
	"state should be one of" +
		" 'running', 'waiting', or 'terminated'",
)

// ParseState validates and returns a State from the
// given string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case Running:
		return Running, nil
	case Waiting:
		return Waiting, nil
	case Terminated:
		return Terminated, nil
	default:
		return "", ErrInvalidState
	}
}

// IsRunning reports whether the state is Running.
func (s State) IsRunning() bool {
	return s == Running
}

// Since selects where a log stream starts. The zero
// value replays the full history.
type Since struct {
	// Time starts the stream at the first line emitted
	// at or after this instant.
	Time time.Time
	// Lines starts the stream this many lines before the
	// current end of the log. Ignored when Time is set.
	Lines int64
}

// SinceTime starts a stream at the given instant.
func SinceTime(t time.Time) Since {
	return Since{Time: t}
}

// SinceLines starts a stream n lines before the end of
// the log.
func SinceLines(n int64) Since {
	return Since{Lines: n}
}

// IsZero reports whether the full history is requested.
func (s Since) IsZero() bool {
	return s.Time.IsZero() && s.Lines <= 0
}

// Source is an observed process: an ordered, followed
// stream of log lines plus a liveness view that is
// refreshed on demand.
type Source interface {
	// Logs opens a followed stream of newline-separated
	// log output starting at since. The stream ends when
	// the process stops producing output for good.
	Logs(ctx context.Context, since Since) (io.ReadCloser, error)

	// Status returns the liveness view as of the last
	// Reload.
	Status() State

	// Reload refreshes the liveness view from the live
	// process.
	Reload(ctx context.Context) error
}
