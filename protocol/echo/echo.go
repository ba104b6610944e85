// Package echo is the demo protocol of the echo server: the client sends
// fixed size frames, every frame is sent back unless it contains the quit
// byte, which makes the server close the connection.
package echo

import (
	"bytes"

	"github.com/sagernet/sing-iostream/common/iostream"
)

const (
	FrameSize = 4
	QuitByte  = '1'
)

func Serve(stream *iostream.Stream) {
	var next iostream.RecvFunc
	next = func(name string, frame []byte, err error) {
		if err != nil {
			return
		}
		if bytes.IndexByte(frame, QuitByte) >= 0 {
			stream.Close(nil)
			return
		}
		stream.Send(frame, flushed)
		stream.Recv(FrameSize, next)
	}
	stream.Recv(FrameSize, next)
}

// flushed makes Send push the frame right away; a send without a callback
// waits in the buffer for the next one.
func flushed(name string, err error) {}
