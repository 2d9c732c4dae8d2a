// Package proc runs a local command as a logtail.Source.
// Standard output and standard error are merged into one
// in-memory log.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/byte4ever/logexpect/testing/logtail"
)

// waitDelay bounds how long output pipes held open by
// orphaned children delay the exit of a killed command.
const waitDelay = 2 * time.Second

// Process is a running local command.
type Process struct {
	Name string
	Args []string

	cmd  *exec.Cmd
	log  *logtail.Log
	done chan struct{}

	mu       sync.Mutex
	state    logtail.State
	exitCode int
	waitErr  error
}

// Start runs the named command in dir. Pass empty dir to
// use the current working directory. The command is
// killed when ctx is done.
func Start(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (*Process, error) {
	const errCtx = "starting process"

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
	)

	p := &Process{
		Name:     name,
		Args:     arg,
		log:      logtail.NewLog(),
		done:     make(chan struct{}),
		state:    logtail.Running,
		exitCode: -1,
	}

	//nolint:gosec // command comes from the caller
	p.cmd = exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		p.cmd.Dir = dir
	}

	p.cmd.WaitDelay = waitDelay

	// exec serializes writes when both point to the
	// same writer.
	p.cmd.Stdout = p.log
	p.cmd.Stderr = p.log

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, strings.Join(arg, " "), err,
		)
	}

	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.state = logtail.Terminated
	p.exitCode = p.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if err != nil &&
		!errors.As(err, &exitErr) &&
		!errors.Is(err, exec.ErrWaitDelay) {
		p.waitErr = err
	}
	p.mu.Unlock()

	p.log.End()
	close(p.done)

	slog.Info(
		"process exited",
		"cmd", p.Name,
		"code", p.ExitCode(),
	)
}

// Logs implements logtail.Source.
func (p *Process) Logs(
	_ context.Context,
	since logtail.Since,
) (io.ReadCloser, error) {
	return p.log.Follow(since), nil
}

// Status implements logtail.Source.
func (p *Process) Status() logtail.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Reload implements logtail.Source. The state is kept
// current by the goroutine waiting on the command, so
// this only reports a failure to wait on it.
func (p *Process) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.waitErr
}

// Done is closed once the command has exited and its
// output has been fully captured.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 while running or
// when the command was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode
}

// Stop kills the command and waits for it to exit.
func (p *Process) Stop() {
	select {
	case <-p.done:
		return
	default:
	}

	//nolint:errcheck,gosec // may already have exited
	p.cmd.Process.Kill()
	<-p.done
}
