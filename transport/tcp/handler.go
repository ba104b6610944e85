package tcp

import (
	"net/netip"

	"github.com/sagernet/sing-iostream/common/iostream"
)

// Handler is called on the loop goroutine with every registered stream,
// typically to issue the first Recv.
type Handler func(stream *iostream.Stream)

type listener interface {
	FD() int
	// Accept returns iostream.ErrWouldBlock once the backlog is drained.
	Accept() (iostream.Socket, error)
	Addr() netip.AddrPort
	Close() error
}
