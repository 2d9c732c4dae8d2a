// Package logtailtest provides an in-memory logtail.Source
// for tests.
package logtailtest

import (
	"context"
	"io"
	"sync"

	"github.com/byte4ever/logexpect/testing/logtail"
)

// Source is a scripted process. Lines emitted before the
// stream is opened are kept, so a test can set up the
// whole output up front. Every stream replays the full
// log whatever since is requested.
type Source struct {
	log *logtail.Log

	mu        sync.Mutex
	opened    int
	closed    int
	state     logtail.State
	reloads   int
	reloadErr error
	logsErr   error
	since     []logtail.Since
}

// NewSource returns a running Source with an empty log.
func NewSource() *Source {
	return &Source{
		log:   logtail.NewLog(),
		state: logtail.Running,
	}
}

// Emit appends each line, newline-terminated, to the log.
func (s *Source) Emit(lines ...string) error {
	for _, l := range lines {
		if _, err := io.WriteString(s.log, l+"\n"); err != nil {
			return err
		}
	}

	return nil
}

// EmitRaw appends raw bytes to the log.
func (s *Source) EmitRaw(p []byte) error {
	_, err := s.log.Write(p)

	return err
}

// End ends the log stream while leaving the state as is.
func (s *Source) End() {
	s.log.End()
}

// Exit marks the process terminated and ends its stream.
func (s *Source) Exit() {
	s.SetState(logtail.Terminated)
	s.log.End()
}

// SetState replaces the liveness view.
func (s *Source) SetState(st logtail.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
}

// FailReload makes every following Reload return err.
func (s *Source) FailReload(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloadErr = err
}

// FailLogs makes every following Logs call return err.
func (s *Source) FailLogs(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logsErr = err
}

// Reloads returns how many times Reload was called.
func (s *Source) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reloads
}

// Opened returns how many streams were opened.
func (s *Source) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opened
}

// Closed reports whether every opened stream has been
// closed by its consumer.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opened > 0 && s.closed == s.opened
}

// SinceRequests returns the since argument of every Logs
// call, in order.
func (s *Source) SinceRequests() []logtail.Since {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]logtail.Since(nil), s.since...)
}

// Logs implements logtail.Source.
func (s *Source) Logs(
	_ context.Context,
	since logtail.Since,
) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logsErr != nil {
		return nil, s.logsErr
	}

	s.opened++
	s.since = append(s.since, since)

	return &stream{
		ReadCloser: s.log.Follow(logtail.Since{}),
		src:        s,
	}, nil
}

// Status implements logtail.Source.
func (s *Source) Status() logtail.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Reload implements logtail.Source.
func (s *Source) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reloads++

	return s.reloadErr
}

type stream struct {
	io.ReadCloser
	src  *Source
	once sync.Once
}

func (st *stream) Close() error {
	err := st.ReadCloser.Close()

	st.once.Do(func() {
		st.src.mu.Lock()
		defer st.src.mu.Unlock()

		st.src.closed++
	})

	return err
}
