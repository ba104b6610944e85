package iostream

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize     = 4096
	DefaultMaxBufferSize = 20 << 20
	DefaultCloseTimeout  = 2 * time.Second
)

type (
	// RecvFunc receives exactly the requested number of bytes, or a nil
	// payload and a non-nil error. payload is only valid until the callback
	// returns unless it is copied.
	RecvFunc func(name string, payload []byte, err error)
	// SendFunc reports whether the bytes of one Send were flushed.
	SendFunc func(name string, err error)
	// CloseFunc is called once when the stream is torn down.
	CloseFunc func(name string)
)

type Option func(*Stream)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

func WithName(name string) Option {
	return func(s *Stream) {
		s.name = name
	}
}

func WithCloseFunc(onClose CloseFunc) Option {
	return func(s *Stream) {
		s.onClose = onClose
	}
}

// WithChunkSize bounds every single read and write syscall.
func WithChunkSize(size int) Option {
	return func(s *Stream) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithMaxBufferSize caps the receive and the send buffer each. A stream
// exceeding either cap is force-closed.
func WithMaxBufferSize(size int) Option {
	return func(s *Stream) {
		if size > 0 {
			s.maxBufferSize = size
		}
	}
}

// WithCloseTimeout sets how long an actively closed stream waits for the
// peer's EOF after shutting down its write half.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(s *Stream) {
		if timeout > 0 {
			s.closeTimeout = timeout
		}
	}
}

// WithClock replaces time.Now for identity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}
