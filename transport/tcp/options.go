package tcp

import (
	"net/netip"
	"time"

	"github.com/sagernet/sing-iostream/common/control"
	"github.com/sagernet/sing-iostream/common/iostream"
	"github.com/sagernet/sing-iostream/common/reactor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultPort    = 8305
	DefaultBacklog = 512
)

var DefaultAddress = netip.AddrFrom4([4]byte{127, 0, 0, 1})

type Option func(*Server)

// WithListen sets the bind address. Port 0 picks an ephemeral port, see
// Server.Addr.
func WithListen(bind netip.AddrPort) Option {
	return func(server *Server) {
		server.bind = bind
	}
}

func WithBacklog(backlog int) Option {
	return func(server *Server) {
		if backlog > 0 {
			server.backlog = backlog
		}
	}
}

// WithMaxConnections rejects connections accepted while limit streams are
// registered. Zero means no limit.
func WithMaxConnections(limit int) Option {
	return func(server *Server) {
		server.maxConnections = limit
	}
}

// WithAcceptRate rejects connections accepted faster than limit per second,
// allowing bursts of burst connections.
func WithAcceptRate(limit float64, burst int) Option {
	return func(server *Server) {
		if limit > 0 {
			if burst < 1 {
				burst = 1
			}
			server.acceptLimiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

func WithHandler(handler Handler) Option {
	return func(server *Server) {
		server.handler = handler
	}
}

// WithStreamOptions is applied to every accepted stream.
func WithStreamOptions(options ...iostream.Option) Option {
	return func(server *Server) {
		server.streamOptions = append(server.streamOptions, options...)
	}
}

// WithControl runs controlFunc on the listen socket before it is bound,
// after SO_REUSEADDR is set.
func WithControl(controlFunc control.Func) Option {
	return func(server *Server) {
		server.control = control.Append(server.control, controlFunc)
	}
}

func WithLoop(loop reactor.Loop) Option {
	return func(server *Server) {
		server.loop = loop
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(server *Server) {
		server.logger = logger
	}
}

// WithRegisterer registers the server metrics with registerer instead of a
// private registry.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(server *Server) {
		server.registerer = registerer
	}
}

func WithClock(now func() time.Time) Option {
	return func(server *Server) {
		if now != nil {
			server.now = now
		}
	}
}
