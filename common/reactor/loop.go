package reactor

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sagernet/sing-iostream/common"
	E "github.com/sagernet/sing-iostream/common/exceptions"
	"github.com/sagernet/sing-iostream/common/log"

	"github.com/sirupsen/logrus"
)

var _ Loop = (*EventLoop)(nil)

type Option func(*EventLoop)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(loop *EventLoop) {
		loop.logger = logger
	}
}

type fdEntry struct {
	fd         int
	id         uint64
	registered Flag
	read       *event
	write      *event
}

func (e *fdEntry) interest() Flag {
	var flags Flag
	if e.read != nil {
		flags |= FlagRead
	}
	if e.write != nil {
		flags |= FlagWrite
	}
	return flags
}

// EventLoop is the Loop backed by epoll on Linux and kqueue on the BSDs.
// Everything except Break and Post must be called from the goroutine
// running Run, or before Run starts.
type EventLoop struct {
	logger logrus.FieldLogger
	poller poller

	entries  map[int]*fdEntry
	byID     map[uint64]*fdEntry
	nextID   uint64
	timers   timerHeap
	timerSeq uint64

	access   sync.Mutex
	posted   []func()
	closed   bool
	breaking atomic.Bool
	running  atomic.Bool
}

func New(options ...Option) (*EventLoop, error) {
	loop := &EventLoop{
		entries: make(map[int]*fdEntry),
		byID:    make(map[uint64]*fdEntry),
	}
	for _, option := range options {
		option(loop)
	}
	if loop.logger == nil {
		loop.logger = log.NewLogger("reactor")
	}
	var err error
	loop.poller, err = newPoller()
	if err != nil {
		return nil, E.Cause(err, "create poller")
	}
	return loop, nil
}

func (l *EventLoop) NewEvent(fd int, flags Flag, handler func()) Event {
	return &event{
		loop:    l,
		fd:      fd,
		flags:   flags,
		handler: handler,
	}
}

func (l *EventLoop) AfterFunc(timeout time.Duration, handler func()) Timer {
	l.timerSeq++
	t := &timer{
		loop:    l,
		when:    time.Now().Add(timeout),
		seq:     l.timerSeq,
		handler: handler,
	}
	heap.Push(&l.timers, t)
	return t
}

func (l *EventLoop) Post(f func()) error {
	l.access.Lock()
	defer l.access.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.posted = append(l.posted, f)
	return l.poller.Wakeup()
}

func (l *EventLoop) Break() {
	l.breaking.Store(true)
	l.access.Lock()
	defer l.access.Unlock()
	if !l.closed {
		l.poller.Wakeup()
	}
}

func (l *EventLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)
	l.access.Lock()
	closed := l.closed
	l.access.Unlock()
	if closed {
		return ErrLoopClosed
	}

	l.breaking.Store(false)
	stop := context.AfterFunc(ctx, l.Break)
	defer stop()

	events := make([]readyEvent, 128)
	for {
		l.runPosted()
		if l.breaking.Load() {
			return nil
		}
		n, err := l.poller.Wait(events, l.nextTimeout())
		if err != nil {
			return E.Cause(err, "wait readiness")
		}
		for i := 0; i < n; i++ {
			l.dispatch(events[i])
			if l.breaking.Load() {
				return nil
			}
		}
		l.runTimers()
		if l.breaking.Load() || common.Done(ctx) {
			return nil
		}
	}
}

// Close releases the poller. Registered events stay attached to their
// descriptors but are never dispatched again.
func (l *EventLoop) Close() error {
	l.access.Lock()
	defer l.access.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.posted = nil
	return l.poller.Close()
}

func (l *EventLoop) runPosted() {
	l.access.Lock()
	posted := l.posted
	l.posted = nil
	l.access.Unlock()
	for _, f := range posted {
		l.call("posted function", f)
	}
}

func (l *EventLoop) nextTimeout() time.Duration {
	l.access.Lock()
	hasPosted := len(l.posted) > 0
	l.access.Unlock()
	if hasPosted {
		return 0
	}
	next := l.timers.peek()
	if next == nil {
		return -1
	}
	timeout := time.Until(next.when)
	if timeout < 0 {
		return 0
	}
	return timeout
}

func (l *EventLoop) runTimers() {
	now := time.Now()
	for {
		next := l.timers.peek()
		if next == nil || next.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		l.call("timer", next.handler)
		if l.breaking.Load() {
			return
		}
	}
}

func (l *EventLoop) lookup(ready readyEvent) *fdEntry {
	if ready.id != 0 {
		return l.byID[ready.id]
	}
	return l.entries[ready.fd]
}

func (l *EventLoop) dispatch(ready readyEvent) {
	entry := l.lookup(ready)
	if entry == nil {
		return
	}
	if ready.readable && entry.read != nil {
		l.fire(entry.read)
	}
	if !ready.writable || l.breaking.Load() {
		return
	}
	// the read handler may have released or replaced the registration
	if l.lookup(ready) != entry {
		return
	}
	if entry.write != nil {
		l.fire(entry.write)
	}
}

func (l *EventLoop) fire(e *event) {
	if e.flags&FlagPersist == 0 {
		e.Del()
	}
	l.call("event handler", e.handler)
}

func (l *EventLoop) call(kind string, f func()) {
	if f == nil {
		return
	}
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error("panic in ", kind, ": ", err)
		}
	}()
	f()
}

func (l *EventLoop) attach(e *event) error {
	direction := e.flags.direction()
	entry := l.entries[e.fd]
	if entry == nil {
		entry = &fdEntry{fd: e.fd}
		l.entries[e.fd] = entry
	}
	previous := entry.read
	if direction == FlagWrite {
		previous = entry.write
	}
	if previous != nil && previous != e {
		previous.pending = false
	}
	if direction == FlagRead {
		entry.read = e
	} else {
		entry.write = e
	}
	err := l.sync(entry)
	if err != nil {
		if direction == FlagRead {
			entry.read = previous
		} else {
			entry.write = previous
		}
		if previous != nil {
			previous.pending = true
		}
		l.sync(entry)
	}
	return err
}

func (l *EventLoop) detach(e *event) {
	entry := l.entries[e.fd]
	if entry == nil {
		return
	}
	if entry.read == e {
		entry.read = nil
	} else if entry.write == e {
		entry.write = nil
	} else {
		return
	}
	err := l.sync(entry)
	if err != nil {
		l.logger.Debug("release fd ", e.fd, ": ", err)
	}
}

// sync pushes the wanted interest of entry to the poller.
func (l *EventLoop) sync(entry *fdEntry) error {
	wanted := entry.interest()
	if wanted == entry.registered {
		if wanted == 0 {
			l.forget(entry)
		}
		return nil
	}
	l.access.Lock()
	closed := l.closed
	l.access.Unlock()
	if closed {
		return ErrLoopClosed
	}
	if entry.registered == 0 {
		l.nextID++
		entry.id = l.nextID
		l.byID[entry.id] = entry
	}
	err := l.poller.Update(entry.fd, entry.id, entry.registered, wanted)
	if err != nil && wanted != 0 {
		if entry.registered == 0 {
			l.forget(entry)
		}
		return err
	}
	entry.registered = wanted
	if wanted == 0 {
		l.forget(entry)
	}
	return err
}

func (l *EventLoop) forget(entry *fdEntry) {
	delete(l.byID, entry.id)
	if l.entries[entry.fd] == entry {
		delete(l.entries, entry.fd)
	}
	entry.id = 0
}

type event struct {
	loop    *EventLoop
	fd      int
	flags   Flag
	handler func()
	pending bool
}

func (e *event) Add() error {
	direction := e.flags.direction()
	if direction != FlagRead && direction != FlagWrite {
		return ErrBadFlags
	}
	if e.pending {
		return nil
	}
	e.pending = true
	err := e.loop.attach(e)
	if err != nil {
		e.pending = false
		return E.Cause(err, "add ", e.flags, " interest on fd ", e.fd)
	}
	return nil
}

func (e *event) Del() {
	if !e.pending {
		return
	}
	e.pending = false
	e.loop.detach(e)
}

func (e *event) Pending() bool {
	return e.pending
}
