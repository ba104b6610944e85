//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kqueueFD int
	pipeFDs  [2]int
	events   []unix.Kevent_t
}

func newPoller() (poller, error) {
	kqueueFD, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqueueFD)

	var pipeFDs [2]int
	err = unix.Pipe(pipeFDs[:])
	if err != nil {
		unix.Close(kqueueFD)
		return nil, err
	}
	for _, fd := range pipeFDs {
		unix.CloseOnExec(fd)
		err = unix.SetNonblock(fd, true)
		if err != nil {
			unix.Close(pipeFDs[0])
			unix.Close(pipeFDs[1])
			unix.Close(kqueueFD)
			return nil, err
		}
	}

	var change unix.Kevent_t
	unix.SetKevent(&change, pipeFDs[0], unix.EVFILT_READ, unix.EV_ADD)
	_, err = unix.Kevent(kqueueFD, []unix.Kevent_t{change}, nil, nil)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(kqueueFD)
		return nil, err
	}

	return &kqueuePoller{
		kqueueFD: kqueueFD,
		pipeFDs:  pipeFDs,
		events:   make([]unix.Kevent_t, 128),
	}, nil
}

// Update ignores id: kqueue reports the descriptor itself, and the loop
// resolves the registration by fd.
func (p *kqueuePoller) Update(fd int, id uint64, from, to Flag) error {
	var changes []unix.Kevent_t
	appendChange := func(flag Flag, filter int) {
		var change unix.Kevent_t
		switch {
		case from&flag == 0 && to&flag != 0:
			unix.SetKevent(&change, fd, filter, unix.EV_ADD)
		case from&flag != 0 && to&flag == 0:
			unix.SetKevent(&change, fd, filter, unix.EV_DELETE)
		default:
			return
		}
		changes = append(changes, change)
	}
	appendChange(FlagRead, unix.EVFILT_READ)
	appendChange(FlagWrite, unix.EVFILT_WRITE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqueueFD, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(events []readyEvent, timeout time.Duration) (int, error) {
	var timespec *unix.Timespec
	if timeout >= 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		timespec = &ts
	}
	limit := len(events)
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.Kevent(p.kqueueFD, nil, p.events[:limit], timespec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		event := p.events[i]
		fd := int(event.Ident)
		if fd == p.pipeFDs[0] {
			p.drainWakeups()
			continue
		}
		ready := readyEvent{fd: fd}
		switch {
		case event.Flags&unix.EV_ERROR != 0:
			ready.readable, ready.writable = true, true
		case event.Filter == unix.EVFILT_READ:
			ready.readable = true
		case event.Filter == unix.EVFILT_WRITE:
			ready.writable = true
		default:
			continue
		}
		events[count] = ready
		count++
	}
	return count, nil
}

func (p *kqueuePoller) drainWakeups() {
	var buffer [64]byte
	for {
		n, err := unix.Read(p.pipeFDs[0], buffer[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Wakeup() error {
	_, err := unix.Write(p.pipeFDs[1], []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	if p.kqueueFD == -1 {
		return nil
	}
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	err := unix.Close(p.kqueueFD)
	p.kqueueFD = -1
	p.pipeFDs = [2]int{-1, -1}
	return err
}
