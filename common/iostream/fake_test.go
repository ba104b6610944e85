package iostream

import (
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/sagernet/sing-iostream/common/reactor"
)

type fakeEvent struct {
	flags   reactor.Flag
	handler func()
	pending bool
	adds    int
	addErr  error
}

func (e *fakeEvent) Add() error {
	if e.addErr != nil {
		return e.addErr
	}
	e.pending = true
	e.adds++
	return nil
}

func (e *fakeEvent) Del() {
	e.pending = false
}

func (e *fakeEvent) Pending() bool {
	return e.pending
}

type fakeTimer struct {
	timeout time.Duration
	handler func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	read   *fakeEvent
	write  *fakeEvent
	timers []*fakeTimer
}

func (s *fakeScheduler) NewEvent(fd int, flags reactor.Flag, handler func()) reactor.Event {
	e := &fakeEvent{flags: flags, handler: handler}
	if flags&reactor.FlagRead != 0 {
		s.read = e
	} else {
		s.write = e
	}
	return e
}

func (s *fakeScheduler) AfterFunc(timeout time.Duration, handler func()) reactor.Timer {
	t := &fakeTimer{timeout: timeout, handler: handler}
	s.timers = append(s.timers, t)
	return t
}

// fire dispatches e the way the loop does for a one-shot event.
func fire(e *fakeEvent) bool {
	if !e.pending {
		return false
	}
	e.pending = false
	e.handler()
	return true
}

func (s *fakeScheduler) fireRead() bool {
	return fire(s.read)
}

func (s *fakeScheduler) fireWrite() bool {
	return fire(s.write)
}

func (s *fakeScheduler) pendingTimer() *fakeTimer {
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			return t
		}
	}
	return nil
}

func (s *fakeScheduler) fireTimer() bool {
	t := s.pendingTimer()
	if t == nil {
		return false
	}
	t.fired = true
	t.handler()
	return true
}

type fakeSocket struct {
	remote   netip.AddrPort
	inbound  [][]byte
	eof      bool
	readErr  error
	written  []byte
	capacity int
	writeErr error

	reads     int
	writes    int
	readShut  bool
	writeShut bool
	closed    int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{capacity: -1}
}

func (s *fakeSocket) feed(data string) {
	s.inbound = append(s.inbound, []byte(data))
}

// allow sets how many more bytes the socket accepts before it would block.
// -1 accepts everything.
func (s *fakeSocket) allow(n int) {
	s.capacity = n
}

func (s *fakeSocket) FD() int {
	return 42
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	s.reads++
	if s.closed > 0 {
		return 0, os.ErrClosed
	}
	if len(s.inbound) > 0 {
		chunk := s.inbound[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			s.inbound[0] = chunk[n:]
		} else {
			s.inbound = s.inbound[1:]
		}
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.eof {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	s.writes++
	if s.closed > 0 {
		return 0, os.ErrClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if s.capacity >= 0 {
		if s.capacity == 0 {
			return 0, ErrWouldBlock
		}
		if n > s.capacity {
			n = s.capacity
		}
		s.capacity -= n
	}
	s.written = append(s.written, p[:n]...)
	return n, nil
}

func (s *fakeSocket) CloseRead() error {
	s.readShut = true
	return nil
}

func (s *fakeSocket) CloseWrite() error {
	s.writeShut = true
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

func (s *fakeSocket) RemoteAddr() netip.AddrPort {
	return s.remote
}
