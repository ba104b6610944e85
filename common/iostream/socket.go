package iostream

import (
	"net/netip"

	E "github.com/sagernet/sing-iostream/common/exceptions"
)

var (
	// ErrNoData is passed to a receive callback that can never be
	// satisfied: the peer closed its half or the stream was torn down.
	ErrNoData = E.New("iostream: no data")
	// ErrSendFailed is passed to a send callback whose bytes were not
	// flushed.
	ErrSendFailed = E.New("iostream: send failed")
	// ErrWouldBlock is returned by a non-blocking Socket that has nothing
	// to read or no room to write.
	ErrWouldBlock = E.New("iostream: operation would block")
	// ErrNegativeLength is passed to a receive callback asking for a
	// negative number of bytes.
	ErrNegativeLength = E.New("iostream: negative receive length")
)

// Socket is a connected non-blocking stream socket. Read returns io.EOF
// once the peer has shut down its write half and ErrWouldBlock when no
// data is available.
type Socket interface {
	FD() int
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	CloseRead() error
	CloseWrite() error
	Close() error
	RemoteAddr() netip.AddrPort
}
