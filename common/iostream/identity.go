package iostream

import (
	"net/netip"
	"strconv"
	"time"
)

// UniqueName builds the "<address>:<port>|<epochSeconds>" identity of a
// connection. The timestamp tells apart two connections that reuse the same
// peer address. An unknown peer renders as ":0".
func UniqueName(remote netip.AddrPort, now time.Time) string {
	var address string
	var port uint16
	if remote.IsValid() {
		address = remote.Addr().Unmap().String()
		port = remote.Port()
	}
	return address + ":" + strconv.FormatUint(uint64(port), 10) + "|" + strconv.FormatInt(now.Unix(), 10)
}
