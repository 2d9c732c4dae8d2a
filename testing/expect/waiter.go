package expect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/byte4ever/logexpect/testing/logtail"
	"github.com/byte4ever/logexpect/testing/redact"
)

const (
	// DefaultStallTimeout bounds the silence tolerated
	// from a running process.
	DefaultStallTimeout = 60 * time.Second
	// DefaultPollInterval is the pause between polls of
	// an empty buffer.
	DefaultPollInterval = time.Second
)

// DefaultSince starts the stream one line before the
// current end of the log.
var DefaultSince = logtail.SinceLines(1)

var (
	// ErrStalled is matched by a WaitError whose process
	// stayed alive but stopped logging.
	ErrStalled = errors.New("log output stalled")
	// ErrUnexpectedExit is matched by a WaitError whose
	// process exited before the expected line.
	ErrUnexpectedExit = errors.New("process unexpectedly exited")
	// ErrNotStarted is returned by WaitStarted when the
	// process never reached its start state.
	ErrNotStarted = errors.New("process did not start")
)

// WaitError is the failure of a wait.
type WaitError struct {
	State        State
	Expected     string
	StallTimeout time.Duration
	Status       logtail.State
	Consumed     int
}

func (e *WaitError) Error() string {
	switch e.State {
	case Stalled:
		return fmt.Sprintf(
			"no new log output for %s, and expected"+
				" entry %q was not seen (%d lines read)",
			e.StallTimeout, e.Expected, e.Consumed,
		)
	case ProcessExited:
		return fmt.Sprintf(
			"process exited with status %q before"+
				" expected entry %q appeared (%d lines read)",
			e.Status, e.Expected, e.Consumed,
		)
	default:
		return fmt.Sprintf(
			"wait for %q ended in state %s",
			e.Expected, e.State,
		)
	}
}

// Is matches ErrStalled and ErrUnexpectedExit.
func (e *WaitError) Is(target error) bool {
	switch target {
	case ErrStalled:
		return e.State == Stalled
	case ErrUnexpectedExit:
		return e.State == ProcessExited
	default:
		return false
	}
}

// Result describes how a wait ended.
type Result struct {
	State    State         `json:"state"`
	Expected string        `json:"expected"`
	Match    string        `json:"match,omitempty"`
	Seq      uint64        `json:"seq,omitempty"`
	Consumed int           `json:"consumed"`
	Elapsed  time.Duration `json:"elapsed"`
	Status   logtail.State `json:"status"`
}

// Waiter waits for log entries. The zero value is ready
// to use with the package defaults.
type Waiter struct {
	// StallTimeout is how long a running process may go
	// without logging before the wait fails.
	StallTimeout time.Duration
	// PollInterval is the pause between polls when no
	// line is buffered.
	PollInterval time.Duration
	// Since selects where the stream starts. The zero
	// value means DefaultSince.
	Since logtail.Since
	// Printer echoes every consumed line. Defaults to an
	// unredacted printer on stdout.
	Printer *redact.Printer
	// Prefix is printed before every echoed line.
	Prefix string
	// StartState is the state WaitStarted waits for. When
	// empty any state past waiting will do.
	StartState logtail.State
	Clock      clock.Clock
	Logger     *slog.Logger
}

func (w *Waiter) withDefaults() Waiter {
	c := Waiter{}
	if w != nil {
		c = Waiter{
			StallTimeout: w.StallTimeout,
			PollInterval: w.PollInterval,
			Since:        w.Since,
			Printer:      w.Printer,
			Prefix:       w.Prefix,
			StartState:   w.StartState,
			Clock:        w.Clock,
			Logger:       w.Logger,
		}
	}

	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.Since.IsZero() {
		c.Since = DefaultSince
	}

	if c.Printer == nil {
		c.Printer = redact.NewPrinter(os.Stdout)
	}

	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// WaitFor follows the logs of src until a line contains
// expected. Every consumed line resets the stall timer.
// The process status is refreshed only while the buffer
// is empty, and an exit is reported only once every line
// the stream delivered has been checked.
//
// The returned Result is never nil. A failed wait
// returns a *WaitError; an abandoned one returns the
// context error.
func (w *Waiter) WaitFor(
	ctx context.Context,
	src logtail.Source,
	expected string,
) (*Result, error) {
	const errCtx = "waiting for log entry"

	c := w.withDefaults()
	start := c.Clock.Now()

	res := &Result{
		State:    Waiting,
		Expected: expected,
		Status:   src.Status(),
	}

	reader, err := logtail.Start(ctx, src, c.Since)
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	defer reader.Close()

	deadline := start.Add(c.StallTimeout)

	finish := func(s State) (*Result, error) {
		now := c.Clock.Now()
		res.State = s
		res.Elapsed = now.Sub(start)

		c.Logger.Info(
			"wait ended",
			"state", s,
			"status", res.Status,
			"consumed", res.Consumed,
			"stall_overrun", now.Sub(deadline),
		)

		if s == Found {
			return res, nil
		}

		return res, &WaitError{
			State:        s,
			Expected:     expected,
			StallTimeout: c.StallTimeout,
			Status:       res.Status,
			Consumed:     res.Consumed,
		}
	}

	for {
		if line, ok := reader.ReadNext(); ok {
			deadline = c.Clock.Now().Add(c.StallTimeout)
			res.Consumed++

			if err := c.Printer.Print(c.Prefix + line.Text); err != nil {
				c.Logger.Warn(
					"echoing log line",
					"error", err,
				)
			}

			if strings.Contains(line.Text, expected) {
				res.Match = line.Text
				res.Seq = line.Seq

				return finish(Found)
			}

			continue
		}

		if err := src.Reload(ctx); err != nil &&
			ctx.Err() == nil {
			c.Logger.Warn(
				"refreshing process status",
				"error", err,
			)
		}

		res.Status = src.Status()

		// A line may have landed while reloading.
		if !reader.Empty() {
			continue
		}

		expired := !c.Clock.Now().Before(deadline)

		if !res.Status.IsRunning() {
			if streamEnded(reader) || expired {
				return finish(ProcessExited)
			}
		} else if expired {
			return finish(Stalled)
		}

		if err := sleep(ctx, c.Clock, c.PollInterval); err != nil {
			res.Elapsed = c.Clock.Since(start)

			return res, fmt.Errorf("%s: %w", errCtx, err)
		}
	}
}

// WaitStarted refreshes the status of src until it
// reaches StartState, or leaves the waiting state when
// StartState is empty. It tries at most attempts times,
// and at least once, and returns the last status.
func (w *Waiter) WaitStarted(
	ctx context.Context,
	src logtail.Source,
	attempts int,
) (logtail.State, error) {
	const errCtx = "waiting for process start"

	c := w.withDefaults()
	attempts = max(attempts, 1)

	for i := range attempts {
		if err := src.Reload(ctx); err != nil {
			return src.Status(), fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		st := src.Status()
		if started(st, c.StartState) {
			return st, nil
		}

		if i == attempts-1 {
			break
		}

		if err := sleep(ctx, c.Clock, c.PollInterval); err != nil {
			return st, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return src.Status(), fmt.Errorf(
		"%s: %w after %d attempts",
		errCtx, ErrNotStarted, attempts,
	)
}

func started(st, want logtail.State) bool {
	if want != "" {
		return st == want
	}

	return st != logtail.Waiting && st != logtail.Unknown
}

func streamEnded(r *logtail.Reader) bool {
	select {
	case <-r.Done():
		// Done may close right after a final push.
		return r.Empty()
	default:
		return false
	}
}

func sleep(
	ctx context.Context,
	clk clock.Clock,
	d time.Duration,
) error {
	t := clk.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// WaitForLogEntry waits with the package defaults and
// the given stall timeout.
func WaitForLogEntry(
	ctx context.Context,
	src logtail.Source,
	expected string,
	stallTimeout time.Duration,
) error {
	w := &Waiter{StallTimeout: stallTimeout}
	_, err := w.WaitFor(ctx, src, expected)

	return err
}
