package expect_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/byte4ever/logexpect/testing/expect"
	"github.com/byte4ever/logexpect/testing/logtail"
	"github.com/byte4ever/logexpect/testing/logtail/logtailtest"
	"github.com/byte4ever/logexpect/testing/redact"
)

const mongoReady = "waiting for connections on port 27017"

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// newWaiter returns a fast-polling waiter echoing into
// the returned buffer.
func newWaiter(
	stall time.Duration,
	rules ...redact.Rule,
) (*expect.Waiter, *syncBuffer) {
	out := &syncBuffer{}

	return &expect.Waiter{
		StallTimeout: stall,
		PollInterval: 5 * time.Millisecond,
		Printer:      redact.NewPrinter(out, rules...),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, out
}

// stepWhileWaiting advances fc by step whenever the
// waiter sleeps on it, until the returned stop is called.
func stepWhileWaiting(
	fc *testingclock.FakeClock,
	step time.Duration,
) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		for {
			select {
			case <-done:
				return
			default:
			}

			if fc.HasWaiters() {
				fc.Step(step)
			}

			time.Sleep(time.Millisecond)
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func TestWaitFor_found_after_startup_lines(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("starting up", "listening on 27017"))

	w, out := newWaiter(5 * time.Second)

	res, err := w.WaitFor(
		context.Background(), src, "listening on 27017",
	)

	require.NoError(t, err)
	assert.Equal(t, expect.Found, res.State)
	assert.Equal(t, 2, res.Consumed)
	assert.Equal(t, uint64(2), res.Seq)
	assert.Equal(t, "listening on 27017\n", res.Match)
	assert.Equal(t, "starting up\nlistening on 27017\n", out.String())
	assert.True(t, src.Closed(), "reader must release the stream")
}

func TestWaitFor_stops_at_first_match(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("a", "ready 1", "ready 2", "b"))

	w, out := newWaiter(5 * time.Second)

	res, err := w.WaitFor(context.Background(), src, "ready")

	require.NoError(t, err)
	assert.Equal(t, "ready 1\n", res.Match)
	assert.Equal(t, 2, res.Consumed)
	assert.Equal(t, "a\nready 1\n", out.String())
}

func TestWaitFor_observes_every_line_once_in_order(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()

	const n = 300

	var want strings.Builder

	for i := range n {
		line := fmt.Sprintf("line %03d", i)
		require.NoError(t, src.Emit(line))
		want.WriteString(line + "\n")
	}

	require.NoError(t, src.Emit("done"))
	want.WriteString("done\n")

	w, out := newWaiter(5 * time.Second)

	res, err := w.WaitFor(context.Background(), src, "done")

	require.NoError(t, err)
	assert.Equal(t, n+1, res.Consumed)
	assert.Equal(t, want.String(), out.String())
}

func TestWaitFor_matching_is_case_sensitive(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("READY"))
	src.Exit()

	w, _ := newWaiter(5 * time.Second)

	_, err := w.WaitFor(context.Background(), src, "ready")

	assert.ErrorIs(t, err, expect.ErrUnexpectedExit)
}

func TestWaitFor_stall_without_output(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))

	w, out := newWaiter(2 * time.Second)
	w.PollInterval = time.Second
	w.Clock = fc

	stop := stepWhileWaiting(fc, time.Second)
	defer stop()

	res, err := w.WaitFor(context.Background(), src, mongoReady)

	require.ErrorIs(t, err, expect.ErrStalled)
	assert.NotErrorIs(t, err, expect.ErrUnexpectedExit)
	assert.Equal(t, expect.Stalled, res.State)
	assert.Equal(t, 0, res.Consumed)
	assert.Equal(t, 2*time.Second, res.Elapsed)
	assert.Empty(t, out.String())
	assert.Contains(t, err.Error(), "2s")
	assert.Contains(t, err.Error(), mongoReady)

	var we *expect.WaitError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, logtail.Running, we.Status)
}

func TestWaitFor_exit_after_unmatched_line(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("fatal error"))
	src.Exit()

	w, out := newWaiter(5 * time.Second)

	res, err := w.WaitFor(context.Background(), src, "ready")

	require.ErrorIs(t, err, expect.ErrUnexpectedExit)
	assert.NotErrorIs(t, err, expect.ErrStalled)
	assert.Equal(t, expect.ProcessExited, res.State)
	assert.Equal(t, 1, res.Consumed)
	assert.Equal(t, logtail.Terminated, res.Status)
	assert.Equal(t, "fatal error\n", out.String())
	assert.Contains(t, err.Error(), "terminated")
}

func TestWaitFor_drains_buffer_before_reporting_exit(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()

	for i := range 100 {
		require.NoError(t, src.Emit(fmt.Sprintf("noise %d", i)))
	}

	require.NoError(t, src.Emit(mongoReady))
	src.Exit()

	w, _ := newWaiter(5 * time.Second)

	res, err := w.WaitFor(context.Background(), src, mongoReady)

	require.NoError(t, err)
	assert.Equal(t, expect.Found, res.State)
	assert.Equal(t, 101, res.Consumed)
}

func TestWaitFor_chatty_output_never_stalls(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	stall := 300 * time.Millisecond

	go func() {
		end := time.Now().Add(4 * stall)
		for time.Now().Before(end) {
			//nolint:errcheck // stream stays open
			src.Emit("heartbeat")
			time.Sleep(20 * time.Millisecond)
		}

		//nolint:errcheck // stream stays open
		src.Emit("ready")
	}()

	w, _ := newWaiter(stall)

	res, err := w.WaitFor(context.Background(), src, "ready")

	require.NoError(t, err)
	assert.Greater(t, res.Elapsed, stall)
	assert.Greater(t, res.Consumed, 1)
}

func TestWaitFor_stall_after_output(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("one", "two"))

	w, out := newWaiter(100 * time.Millisecond)

	res, err := w.WaitFor(context.Background(), src, "three")

	require.ErrorIs(t, err, expect.ErrStalled)
	assert.Equal(t, 2, res.Consumed)
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestWaitFor_stream_end_while_running_stalls(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.EmitRaw([]byte("ok\n\xff\n")))

	w, _ := newWaiter(100 * time.Millisecond)

	res, err := w.WaitFor(context.Background(), src, "ready")

	require.ErrorIs(t, err, expect.ErrStalled)
	assert.Equal(t, 1, res.Consumed)
}

func TestWaitFor_exit_with_open_stream(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Terminated)

	w, _ := newWaiter(100 * time.Millisecond)

	res, err := w.WaitFor(context.Background(), src, "ready")

	require.ErrorIs(t, err, expect.ErrUnexpectedExit)
	assert.Equal(t, expect.ProcessExited, res.State)
}

func TestWaitFor_exit_reported_when_stream_closes(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Terminated)

	go func() {
		time.Sleep(50 * time.Millisecond)
		src.End()
	}()

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()

	w, _ := newWaiter(time.Minute)

	res, err := w.WaitFor(ctx, src, "ready")

	require.ErrorIs(t, err, expect.ErrUnexpectedExit)
	assert.Equal(t, expect.ProcessExited, res.State)
	assert.Less(t, res.Elapsed, 5*time.Second)
}

func TestWaitFor_tolerates_reload_errors(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.FailReload(errors.New("api unavailable"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		//nolint:errcheck // stream stays open
		src.Emit("ready")
	}()

	w, _ := newWaiter(5 * time.Second)

	_, err := w.WaitFor(context.Background(), src, "ready")

	require.NoError(t, err)
	assert.Positive(t, src.Reloads())
}

func TestWaitFor_context_cancel_releases_stream(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)

	defer cancel()

	w, _ := newWaiter(time.Minute)

	res, err := w.WaitFor(ctx, src, "ready")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, expect.Waiting, res.State)
	assert.True(t, src.Closed())
}

func TestWaitFor_logs_error(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.FailLogs(errors.New("no such container"))

	w, _ := newWaiter(time.Second)

	_, err := w.WaitFor(context.Background(), src, "ready")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for log entry")
	assert.Contains(t, err.Error(), "no such container")
}

func TestWaitFor_since(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("ready"))

	w, _ := newWaiter(time.Second)

	_, err := w.WaitFor(context.Background(), src, "ready")
	require.NoError(t, err)

	w.Since = logtail.SinceTime(time.Unix(1, 0))

	_, err = w.WaitFor(context.Background(), src, "ready")
	require.NoError(t, err)

	assert.Equal(
		t,
		[]logtail.Since{
			expect.DefaultSince,
			logtail.SinceTime(time.Unix(1, 0)),
		},
		src.SinceRequests(),
	)
}

func TestWaitFor_echo_is_redacted_match_is_not(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	require.NoError(t, src.Emit("user=root password=secret123 connected"))

	w, out := newWaiter(
		time.Second,
		redact.MustRule("password", `password=(\S+)`),
	)
	w.Prefix = "[mongo] "

	_, err := w.WaitFor(
		context.Background(), src, "password=secret123",
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		"[mongo] user=root password=********* connected\n",
		out.String(),
	)
}

func TestWaitStarted(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Waiting)

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.SetState(logtail.Running)
	}()

	w, _ := newWaiter(time.Second)

	st, err := w.WaitStarted(context.Background(), src, 1000)

	require.NoError(t, err)
	assert.Equal(t, logtail.Running, st)
}

func TestWaitStarted_already_exited(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Terminated)

	w, _ := newWaiter(time.Second)

	st, err := w.WaitStarted(context.Background(), src, 3)

	require.NoError(t, err)
	assert.Equal(t, logtail.Terminated, st)
	assert.Equal(t, 1, src.Reloads())
}

func TestWaitStarted_never_starts(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Waiting)

	w, _ := newWaiter(time.Second)

	st, err := w.WaitStarted(context.Background(), src, 3)

	require.ErrorIs(t, err, expect.ErrNotStarted)
	assert.Equal(t, logtail.Waiting, st)
	assert.Equal(t, 3, src.Reloads())
}

func TestWaitStarted_zero_attempts_reloads_once(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()

	w, _ := newWaiter(time.Second)

	st, err := w.WaitStarted(context.Background(), src, 0)

	require.NoError(t, err)
	assert.Equal(t, logtail.Running, st)
	assert.Equal(t, 1, src.Reloads())

	src.SetState(logtail.Waiting)

	_, err = w.WaitStarted(context.Background(), src, -3)

	require.ErrorIs(t, err, expect.ErrNotStarted)
	assert.Equal(t, 2, src.Reloads())
}

func TestWaitStarted_start_state(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.SetState(logtail.Terminated)

	w, _ := newWaiter(time.Second)
	w.StartState = logtail.Running

	st, err := w.WaitStarted(context.Background(), src, 3)

	require.ErrorIs(t, err, expect.ErrNotStarted)
	assert.Equal(t, logtail.Terminated, st)
	assert.Equal(t, 3, src.Reloads())

	w.StartState = logtail.Terminated

	st, err = w.WaitStarted(context.Background(), src, 3)

	require.NoError(t, err)
	assert.Equal(t, logtail.Terminated, st)
}

func TestWaitStarted_reload_error(t *testing.T) {
	t.Parallel()

	src := logtailtest.NewSource()
	src.FailReload(errors.New("forbidden"))

	w, _ := newWaiter(time.Second)

	_, err := w.WaitStarted(context.Background(), src, 3)

	assert.ErrorContains(t, err, "forbidden")
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "waiting", expect.Waiting.String())
	assert.Equal(t, "found", expect.Found.String())
	assert.Equal(t, "stalled", expect.Stalled.String())
	assert.Equal(t, "process_exited", expect.ProcessExited.String())
	assert.Equal(t, "unknown", expect.State(42).String())
	assert.False(t, expect.Waiting.Terminal())
	assert.True(t, expect.Stalled.Terminal())
}
