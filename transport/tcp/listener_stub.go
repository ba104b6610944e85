//go:build !unix

package tcp

import (
	"net/netip"

	"github.com/sagernet/sing-iostream/common/control"
	"github.com/sagernet/sing-iostream/common/reactor"
)

func listen(bind netip.AddrPort, backlog int, controlFunc control.Func) (listener, error) {
	return nil, reactor.ErrNotSupported
}
