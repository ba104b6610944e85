// Package tcp implements the connection server: a listening socket driven
// by a reactor loop that wraps every accepted connection in an
// iostream.Stream and keeps them in a registry keyed by stream name.
package tcp

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sagernet/sing-iostream/common"
	"github.com/sagernet/sing-iostream/common/control"
	E "github.com/sagernet/sing-iostream/common/exceptions"
	"github.com/sagernet/sing-iostream/common/iostream"
	"github.com/sagernet/sing-iostream/common/log"
	"github.com/sagernet/sing-iostream/common/reactor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrServerStarted = E.New("tcp: server already started")

type Server struct {
	bind           netip.AddrPort
	backlog        int
	maxConnections int
	acceptLimiter  *rate.Limiter
	streamOptions  []iostream.Option
	control        control.Func
	handler        Handler
	logger         logrus.FieldLogger
	registerer     prometheus.Registerer
	metrics        *metrics
	now            func() time.Time

	loop        reactor.Loop
	ownLoop     *reactor.EventLoop
	listener    listener
	addr        netip.AddrPort
	listenEvent reactor.Event
	streams     map[string]*iostream.Stream
	signals     chan os.Signal
	signalDone  chan struct{}
	access      sync.Mutex
	started     bool
	stopped     bool
}

func NewServer(options ...Option) (*Server, error) {
	server := &Server{
		bind:    netip.AddrPortFrom(DefaultAddress, DefaultPort),
		backlog: DefaultBacklog,
		now:     time.Now,
		streams: make(map[string]*iostream.Stream),
	}
	for _, option := range options {
		option(server)
	}
	if server.logger == nil {
		server.logger = log.NewLogger("server")
	}
	if server.registerer == nil {
		server.registerer = prometheus.NewRegistry()
	}
	var err error
	server.metrics, err = newMetrics(server.registerer)
	if err != nil {
		return nil, err
	}
	if server.loop == nil {
		server.ownLoop, err = reactor.New(reactor.WithLogger(server.logger))
		if err != nil {
			return nil, err
		}
		server.loop = server.ownLoop
	}
	return server, nil
}

// Listen binds the listening socket without running the loop. Start calls
// it when it was not called before.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := listen(s.bind, s.backlog, s.control)
	if err != nil {
		return E.Cause(err, "listen ", s.bind)
	}
	s.listener = listener
	s.addr = listener.Addr()
	return nil
}

// Addr returns the address of the last successful Listen.
func (s *Server) Addr() netip.AddrPort {
	return s.addr
}

// Start accepts connections and runs the loop until Stop is called, a
// termination signal arrives or ctx is done. The server is stopped when
// Start returns. A failed bind or registration leaves the server unstarted.
func (s *Server) Start(ctx context.Context) error {
	err := s.prepare()
	if err != nil {
		return err
	}
	if s.ownLoop != nil {
		defer s.ownLoop.Close()
	}
	s.watchSignals()
	s.logger.Info("listening on ", s.addr)
	err = s.loop.Run(ctx)
	s.stop()
	return err
}

func (s *Server) prepare() error {
	s.access.Lock()
	defer s.access.Unlock()
	if s.started {
		return ErrServerStarted
	}
	err := s.Listen()
	if err != nil {
		return err
	}
	listenEvent := s.loop.NewEvent(s.listener.FD(), reactor.FlagRead|reactor.FlagPersist, s.handleAccept)
	err = listenEvent.Add()
	if err != nil {
		s.closeListener()
		return E.Cause(err, "register listener")
	}
	s.listenEvent = listenEvent
	s.started = true
	return nil
}

// Stop asks the loop to shut the server down. It is safe to call from any
// goroutine and more than once. Before Start it releases a socket bound by
// Listen.
func (s *Server) Stop() {
	s.access.Lock()
	if !s.started {
		s.closeListener()
		s.access.Unlock()
		return
	}
	s.access.Unlock()
	err := s.loop.Post(s.stop)
	if err != nil && !errors.Is(err, reactor.ErrLoopClosed) {
		s.logger.Warn(E.Cause(err, "post stop"))
	}
}

func (s *Server) closeListener() {
	if s.listener == nil {
		return
	}
	err := s.listener.Close()
	if err != nil {
		s.logger.Debug(E.Cause(err, "close listener"))
	}
	s.listener = nil
}

// Streams returns the names of the registered streams in sorted order.
// Must be called on the loop goroutine.
func (s *Server) Streams() []string {
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stream looks up a registered stream. Must be called on the loop goroutine.
func (s *Server) Stream(name string) (*iostream.Stream, bool) {
	stream, loaded := s.streams[name]
	return stream, loaded
}

func (s *Server) stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.loop.Break()
	if s.listenEvent != nil {
		s.listenEvent.Del()
	}
	s.closeListener()
	for _, name := range s.Streams() {
		if stream, loaded := s.streams[name]; loaded {
			stream.ForceClose()
		}
	}
	s.releaseSignals()
	s.logger.Info("server stopped")
}

func (s *Server) watchSignals() {
	signals := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT)
	s.signals = signals
	s.signalDone = done
	go func() {
		select {
		case sig := <-signals:
			s.logger.Info("received ", sig, ", stopping")
			s.Stop()
		case <-done:
		}
	}()
}

func (s *Server) releaseSignals() {
	if s.signals == nil {
		return
	}
	signal.Stop(s.signals)
	close(s.signalDone)
	s.signals = nil
}

func (s *Server) handleAccept() {
	for !s.stopped {
		socket, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, iostream.ErrWouldBlock) {
				s.logger.Warn(E.Cause(err, "accept"))
				s.metrics.rejected.Inc()
			}
			return
		}
		if s.maxConnections > 0 && len(s.streams) >= s.maxConnections {
			s.logger.Warn("connection limit ", s.maxConnections, " reached, rejecting ", socket.RemoteAddr())
			common.Close(socket)
			s.metrics.rejected.Inc()
			continue
		}
		if s.acceptLimiter != nil && !s.acceptLimiter.Allow() {
			s.logger.Warn("accept rate exceeded, rejecting ", socket.RemoteAddr())
			common.Close(socket)
			s.metrics.rejected.Inc()
			continue
		}
		s.register(socket)
	}
}

func (s *Server) register(socket iostream.Socket) {
	var stream *iostream.Stream
	options := []iostream.Option{
		iostream.WithLogger(s.logger),
		iostream.WithClock(s.now),
	}
	options = append(options, s.streamOptions...)
	options = append(options, iostream.WithCloseFunc(func(name string) {
		s.evict(name, stream)
	}))
	stream = iostream.New(socket, s.loop, options...)
	if stream.State() == iostream.StateClosed {
		return
	}
	name := stream.Name()
	if stale, loaded := s.streams[name]; loaded {
		s.logger.Warn("replacing stale stream ", name)
		stale.ForceClose()
	}
	s.streams[name] = stream
	s.metrics.accepted.Inc()
	s.metrics.active.Set(float64(len(s.streams)))
	s.logger.Debug("accepted ", name)
	s.serve(stream)
}

func (s *Server) serve(stream *iostream.Stream) {
	if s.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in handler for ", stream.Name(), ": ", r)
			stream.ForceClose()
		}
	}()
	s.handler(stream)
}

// evict runs from the stream close callback.
func (s *Server) evict(name string, stream *iostream.Stream) {
	current, loaded := s.streams[name]
	if !loaded || current != stream {
		return
	}
	delete(s.streams, name)
	s.metrics.closed.Inc()
	s.metrics.active.Set(float64(len(s.streams)))
	s.metrics.received.Add(float64(stream.BytesReceived()))
	s.metrics.sent.Add(float64(stream.BytesSent()))
	s.logger.Debug("released ", name)
}
