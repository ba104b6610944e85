//go:build unix

package tcp

import (
	"net/netip"
	"os"

	"github.com/sagernet/sing-iostream/common/control"
	"github.com/sagernet/sing-iostream/common/iostream"

	"golang.org/x/sys/unix"
)

type fdListener struct {
	fd   int
	addr netip.AddrPort
}

func sockaddr(addr netip.AddrPort) (int, unix.Sockaddr) {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
}

func listen(bind netip.AddrPort, backlog int, controlFunc control.Func) (listener, error) {
	domain, sa := sockaddr(bind)
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	err = unix.SetNonblock(fd, true)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setnonblock", err)
	}
	err = control.Append(control.ReuseAddr(), controlFunc)(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	err = unix.Bind(fd, sa)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	err = unix.Listen(fd, backlog)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &fdListener{fd: fd, addr: iostream.AddrPortFromSockaddr(local)}, nil
}

func (l *fdListener) FD() int {
	return l.fd
}

func (l *fdListener) Accept() (iostream.Socket, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, iostream.ErrWouldBlock
		default:
			return nil, os.NewSyscallError("accept", err)
		}
		unix.CloseOnExec(fd)
		socket, err := iostream.NewSocket(fd, iostream.AddrPortFromSockaddr(sa))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		return socket, nil
	}
}

func (l *fdListener) Addr() netip.AddrPort {
	return l.addr
}

func (l *fdListener) Close() error {
	if l.fd < 0 {
		return os.ErrClosed
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return os.NewSyscallError("close", err)
}
