//go:build unix

package iostream

import (
	"io"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

type fdSocket struct {
	fd     int
	remote netip.AddrPort
}

// NewSocket wraps a connected socket descriptor and switches it to
// non-blocking mode. The returned Socket owns fd.
func NewSocket(fd int, remote netip.AddrPort) (Socket, error) {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &fdSocket{fd: fd, remote: remote}, nil
}

func (s *fdSocket) FD() int {
	return s.fd
}

func (s *fdSocket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, os.NewSyscallError("write", err)
		}
	}
}

func (s *fdSocket) CloseRead() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_RD))
}

func (s *fdSocket) CloseWrite() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_WR))
}

func (s *fdSocket) Close() error {
	if s.fd < 0 {
		return os.ErrClosed
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return os.NewSyscallError("close", err)
}

func (s *fdSocket) RemoteAddr() netip.AddrPort {
	return s.remote
}

// AddrPortFromSockaddr converts the peer address returned by accept.
func AddrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr), uint16(addr.Port))
	default:
		return netip.AddrPort{}
	}
}
