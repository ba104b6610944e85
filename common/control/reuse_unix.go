//go:build unix

package control

import (
	E "github.com/sagernet/sing-iostream/common/exceptions"

	"golang.org/x/sys/unix"
)

func ReuseAddr() Func {
	return func(fd int) error {
		return E.Cause(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1), "set SO_REUSEADDR")
	}
}
