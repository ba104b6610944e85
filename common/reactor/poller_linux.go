//go:build linux

package reactor

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epollFD int
	pipeFDs [2]int
	events  []unix.EpollEvent
}

func newPoller() (poller, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var pipeFDs [2]int
	err = unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, err
	}

	pipeEvent := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&pipeEvent.Fd)) = 0
	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, pipeFDs[0], pipeEvent)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(epollFD)
		return nil, err
	}

	return &epollPoller{
		epollFD: epollFD,
		pipeFDs: pipeFDs,
		events:  make([]unix.EpollEvent, 128),
	}, nil
}

func epollInterest(flags Flag) uint32 {
	var events uint32
	if flags&FlagRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if flags&FlagWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) Update(fd int, id uint64, from, to Flag) error {
	if to == 0 {
		if from == 0 {
			return nil
		}
		return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	}
	op := unix.EPOLL_CTL_MOD
	if from == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	event := &unix.EpollEvent{Events: epollInterest(to)}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = id
	return unix.EpollCtl(p.epollFD, op, fd, event)
}

func (p *epollPoller) Wait(events []readyEvent, timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	limit := len(events)
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.EpollWait(p.epollFD, p.events[:limit], msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		event := p.events[i]
		id := *(*uint64)(unsafe.Pointer(&event.Fd))
		if id == 0 {
			p.drainWakeups()
			continue
		}
		events[count] = readyEvent{
			id:       id,
			readable: event.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: event.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		count++
	}
	return count, nil
}

func (p *epollPoller) drainWakeups() {
	var buffer [64]byte
	for {
		n, err := unix.Read(p.pipeFDs[0], buffer[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) Wakeup() error {
	_, err := unix.Write(p.pipeFDs[1], []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	if p.epollFD == -1 {
		return nil
	}
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	err := unix.Close(p.epollFD)
	p.epollFD = -1
	p.pipeFDs = [2]int{-1, -1}
	return err
}
