//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package reactor

func newPoller() (poller, error) {
	return nil, ErrNotSupported
}
