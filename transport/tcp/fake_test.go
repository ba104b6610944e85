package tcp

import (
	"context"
	"net/netip"
	"time"

	"github.com/sagernet/sing-iostream/common/iostream"
	"github.com/sagernet/sing-iostream/common/reactor"
)

type fakeEvent struct {
	pending bool
}

func (e *fakeEvent) Add() error {
	e.pending = true
	return nil
}

func (e *fakeEvent) Del() {
	e.pending = false
}

func (e *fakeEvent) Pending() bool {
	return e.pending
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool {
	return false
}

type fakeLoop struct {
	posted []func()
	breaks int
}

func (l *fakeLoop) NewEvent(fd int, flags reactor.Flag, handler func()) reactor.Event {
	return &fakeEvent{}
}

func (l *fakeLoop) AfterFunc(timeout time.Duration, handler func()) reactor.Timer {
	return fakeTimer{}
}

func (l *fakeLoop) Run(ctx context.Context) error {
	l.runPosted()
	return nil
}

func (l *fakeLoop) Break() {
	l.breaks++
}

func (l *fakeLoop) Post(f func()) error {
	l.posted = append(l.posted, f)
	return nil
}

func (l *fakeLoop) runPosted() {
	posted := l.posted
	l.posted = nil
	for _, f := range posted {
		f()
	}
}

type fakeSocket struct {
	remote netip.AddrPort
	closed int
}

func (s *fakeSocket) FD() int {
	return 7
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	return 0, iostream.ErrWouldBlock
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	return len(p), nil
}

func (s *fakeSocket) CloseRead() error {
	return nil
}

func (s *fakeSocket) CloseWrite() error {
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

func (s *fakeSocket) RemoteAddr() netip.AddrPort {
	return s.remote
}

type fakeListener struct {
	pending   []iostream.Socket
	acceptErr error
	closed    int
}

func (l *fakeListener) FD() int {
	return 3
}

func (l *fakeListener) Accept() (iostream.Socket, error) {
	if len(l.pending) > 0 {
		socket := l.pending[0]
		l.pending = l.pending[1:]
		return socket, nil
	}
	if l.acceptErr != nil {
		err := l.acceptErr
		l.acceptErr = nil
		return nil, err
	}
	return nil, iostream.ErrWouldBlock
}

func (l *fakeListener) Addr() netip.AddrPort {
	return netip.MustParseAddrPort("127.0.0.1:8305")
}

func (l *fakeListener) Close() error {
	l.closed++
	return nil
}
