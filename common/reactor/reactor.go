// Package reactor implements a single-threaded readiness loop in the
// libevent style: level-triggered read and write interest that is one-shot
// unless persistent, one-shot timers, and a Post queue as the only entry
// point from other goroutines.
package reactor

import (
	"context"
	"time"

	E "github.com/sagernet/sing-iostream/common/exceptions"
)

var (
	ErrLoopClosed   = E.New("reactor: loop closed")
	ErrLoopRunning  = E.New("reactor: loop already running")
	ErrNotSupported = E.New("reactor: readiness polling not supported on this platform")
	ErrBadFlags     = E.New("reactor: event must watch exactly one of read or write")
)

type Flag uint8

const (
	FlagRead Flag = 1 << iota
	FlagWrite
	// FlagPersist keeps the interest armed after the handler runs.
	FlagPersist
)

func (f Flag) direction() Flag {
	return f & (FlagRead | FlagWrite)
}

func (f Flag) String() string {
	var name string
	switch f.direction() {
	case FlagRead:
		name = "read"
	case FlagWrite:
		name = "write"
	case FlagRead | FlagWrite:
		name = "read|write"
	default:
		name = "none"
	}
	if f&FlagPersist != 0 {
		name += "|persist"
	}
	return name
}

// Event is an interest registration on one descriptor and one direction.
// A non-persistent event is disarmed right before its handler runs; the
// handler re-arms it with Add when it needs another notification.
type Event interface {
	Add() error
	Del()
	Pending() bool
}

// Timer is a one-shot timer created by AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing and reports whether it was still
	// pending.
	Stop() bool
}

// Scheduler is the part of the loop a connection registers interest with.
type Scheduler interface {
	NewEvent(fd int, flags Flag, handler func()) Event
	AfterFunc(timeout time.Duration, handler func()) Timer
}

// Loop is a Scheduler that can be driven.
type Loop interface {
	Scheduler
	// Run dispatches readiness until Break is called or ctx is done.
	Run(ctx context.Context) error
	// Break makes Run return after the handler currently running. Safe to
	// call from any goroutine.
	Break()
	// Post queues f to run on the loop goroutine. Safe to call from any
	// goroutine.
	Post(f func()) error
}
