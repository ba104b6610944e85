package reactor

import "time"

type readyEvent struct {
	fd       int
	id       uint64
	readable bool
	writable bool
}

// poller is the platform readiness backend. Update moves a descriptor from
// interest from to interest to; from == 0 registers it, to == 0 removes it.
// Wait blocks up to timeout (forever when negative) and swallows its own
// wakeups and EINTR by returning zero events.
type poller interface {
	Update(fd int, id uint64, from, to Flag) error
	Wait(events []readyEvent, timeout time.Duration) (int, error)
	Wakeup() error
	Close() error
}
