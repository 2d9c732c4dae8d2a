package proc_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/logexpect/testing/expect"
	"github.com/byte4ever/logexpect/testing/logtail"
	"github.com/byte4ever/logexpect/testing/logtail/proc"
	"github.com/byte4ever/logexpect/testing/redact"
)

func waiter() *expect.Waiter {
	return &expect.Waiter{
		StallTimeout: 10 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Since:        logtail.SinceLines(100),
		Printer:      redact.NewPrinter(io.Discard),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func waitDone(tb testing.TB, p *proc.Process) {
	tb.Helper()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		tb.Fatal("process did not exit")
	}
}

func TestProcess_ready(t *testing.T) {
	t.Parallel()

	p, err := proc.Start(
		context.Background(), "",
		"sh", "-c", "echo starting; echo ready; exec sleep 30",
	)
	require.NoError(t, err)

	defer p.Stop()

	res, err := waiter().WaitFor(context.Background(), p, "ready")

	require.NoError(t, err)
	assert.Equal(t, "ready\n", res.Match)
	assert.Equal(t, logtail.Running, p.Status())
	assert.Equal(t, -1, p.ExitCode())
}

func TestProcess_unexpected_exit(t *testing.T) {
	t.Parallel()

	p, err := proc.Start(
		context.Background(), "",
		"sh", "-c", "echo fatal error 1>&2; exit 3",
	)
	require.NoError(t, err)

	res, err := waiter().WaitFor(context.Background(), p, "ready")

	require.ErrorIs(t, err, expect.ErrUnexpectedExit)
	assert.Equal(t, 1, res.Consumed)

	waitDone(t, p)
	assert.Equal(t, 3, p.ExitCode())
	assert.Equal(t, logtail.Terminated, p.Status())
	assert.NoError(t, p.Reload(context.Background()))
}

func TestProcess_output_drained_after_exit(t *testing.T) {
	t.Parallel()

	p, err := proc.Start(
		context.Background(), "",
		"sh", "-c", "echo a; echo b; echo version 1.2.3",
	)
	require.NoError(t, err)

	waitDone(t, p)

	res, err := waiter().WaitFor(
		context.Background(), p, "version 1.2.3",
	)

	require.NoError(t, err)
	assert.Equal(t, expect.Found, res.State)
	assert.Equal(t, 0, p.ExitCode())
}

func TestProcess_dir(t *testing.T) {
	t.Parallel()

	p, err := proc.Start(context.Background(), "/tmp", "pwd")
	require.NoError(t, err)

	_, err = waiter().WaitFor(context.Background(), p, "/tmp")

	require.NoError(t, err)
}

func TestProcess_stop(t *testing.T) {
	t.Parallel()

	p, err := proc.Start(context.Background(), "", "sleep", "30")
	require.NoError(t, err)

	p.Stop()
	p.Stop()

	assert.Equal(t, logtail.Terminated, p.Status())
}

func TestStart_missing_binary(t *testing.T) {
	t.Parallel()

	_, err := proc.Start(
		context.Background(), "", "definitely-not-a-binary-xyz",
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting process")
}
