//go:build linux || darwin

package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/sagernet/sing-iostream/common/iostream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, options ...Option) (*Server, chan error) {
	t.Helper()
	options = append([]Option{
		WithListen(netip.MustParseAddrPort("127.0.0.1:0")),
		WithRegisterer(prometheus.NewRegistry()),
	}, options...)
	server, err := NewServer(options...)
	require.NoError(t, err)
	require.NoError(t, server.Listen())
	require.NotZero(t, server.Addr().Port())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(context.Background())
	}()
	t.Cleanup(server.Stop)
	return server, done
}

func waitStopped(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerEcho(t *testing.T) {
	t.Parallel()
	server, done := startServer(t, WithHandler(func(stream *iostream.Stream) {
		var next iostream.RecvFunc
		next = func(name string, payload []byte, err error) {
			if err != nil {
				return
			}
			if string(payload) == "quit" {
				stream.Close(nil)
				return
			}
			stream.Send(payload, func(name string, err error) {})
			stream.Recv(4, next)
		}
		stream.Recv(4, next)
	}))

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("ghquit"))
	require.NoError(t, err)
	echoed, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh", string(echoed))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		names := make(chan []string, 1)
		if server.loop.Post(func() { names <- server.Streams() }) != nil {
			return false
		}
		return len(<-names) == 0
	}, 5*time.Second, 10*time.Millisecond)

	server.Stop()
	waitStopped(t, done)
	require.Equal(t, 1.0, testutil.ToFloat64(server.metrics.accepted))
	require.Equal(t, 1.0, testutil.ToFloat64(server.metrics.closed))
	require.Equal(t, 12.0, testutil.ToFloat64(server.metrics.received))
	require.Equal(t, 8.0, testutil.ToFloat64(server.metrics.sent))
}

func TestServerStopClosesStreams(t *testing.T) {
	t.Parallel()
	accepted := make(chan string, 1)
	server, done := startServer(t, WithHandler(func(stream *iostream.Stream) {
		stream.Recv(4, nil)
		accepted <- stream.Name()
	}))

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}

	server.Stop()
	waitStopped(t, done)
	_, err = io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(server.metrics.closed))
	require.Zero(t, testutil.ToFloat64(server.metrics.active))

	_, err = net.Dial("tcp", server.Addr().String())
	require.Error(t, err)
}

func TestServerSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT} {
		t.Run(sig.String(), func(t *testing.T) {
			accepted := make(chan struct{}, 1)
			server, done := startServer(t, WithHandler(func(stream *iostream.Stream) {
				stream.Recv(4, nil)
				accepted <- struct{}{}
			}))

			conn, err := net.Dial("tcp", server.Addr().String())
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
			select {
			case <-accepted:
			case <-time.After(5 * time.Second):
				t.Fatal("connection not accepted")
			}

			require.NoError(t, syscall.Kill(syscall.Getpid(), sig))
			waitStopped(t, done)
			require.Empty(t, server.Streams())
			_, err = conn.Read(make([]byte, 1))
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestServerStartAfterBindFailure(t *testing.T) {
	t.Parallel()
	denied := errors.New("denied")
	attempts := 0
	loop := &fakeLoop{}
	server, err := NewServer(
		WithListen(netip.MustParseAddrPort("127.0.0.1:0")),
		WithLoop(loop),
		WithRegisterer(prometheus.NewRegistry()),
		WithControl(func(fd int) error {
			attempts++
			if attempts == 1 {
				return denied
			}
			return nil
		}),
	)
	require.NoError(t, err)

	require.ErrorIs(t, server.Start(context.Background()), denied)
	require.NoError(t, server.Start(context.Background()))
	require.Equal(t, 2, attempts)
	require.Equal(t, 1, loop.breaks)
	require.ErrorIs(t, server.Start(context.Background()), ErrServerStarted)
}

func TestServerStopReleasesUnstartedListener(t *testing.T) {
	t.Parallel()
	server, err := NewServer(
		WithListen(netip.MustParseAddrPort("127.0.0.1:0")),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NoError(t, server.Listen())
	address := server.Addr().String()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	conn.Close()

	server.Stop()
	_, err = net.Dial("tcp", address)
	require.Error(t, err)
}
