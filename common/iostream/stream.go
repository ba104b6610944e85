// Package iostream implements a buffered, callback driven byte stream over
// a non-blocking socket registered with a reactor loop.
//
// A Stream queues length-bound receive operations and threshold-bound send
// operations, resolves them strictly in issue order as bytes arrive or are
// flushed, and runs a graceful close in both directions: an active Close
// drains the send buffer, shuts down the write half and waits a bounded time
// for the peer's EOF; a passive close triggered by the peer's EOF drains the
// send buffer and tears the stream down.
//
// All methods must be called on the loop goroutine.
package iostream

import (
	"errors"
	"io"
	"net/netip"
	"time"

	"github.com/sagernet/sing-iostream/common/buf"
	E "github.com/sagernet/sing-iostream/common/exceptions"
	"github.com/sagernet/sing-iostream/common/log"
	"github.com/sagernet/sing-iostream/common/reactor"

	"github.com/sirupsen/logrus"
)

type recvOp struct {
	length   int
	callback RecvFunc
}

// sendOp resolves once the stream has flushed end bytes in total.
type sendOp struct {
	end      uint64
	callback SendFunc
}

type Stream struct {
	socket        Socket
	loop          reactor.Scheduler
	logger        logrus.FieldLogger
	name          string
	chunkSize     int
	maxBufferSize int
	closeTimeout  time.Duration
	now           func() time.Time
	onClose       CloseFunc

	state      State
	writeShut  bool
	consuming  bool
	recvBuffer []byte
	sendBuffer []byte
	recvQueue  queue[recvOp]
	sendQueue  queue[sendOp]

	// queued send ops with a callback
	sendWaiters int

	bytesReceived uint64
	bytesQueued   uint64
	bytesSent     uint64

	readEvent  reactor.Event
	writeEvent reactor.Event
	closeTimer reactor.Timer
}

// New wraps socket and registers its read and write events with loop.
// Neither interest is armed until there is something to receive or flush.
// With a nil socket or loop the stream is born closed and the close
// callback runs before New returns.
func New(socket Socket, loop reactor.Scheduler, options ...Option) *Stream {
	s := &Stream{
		socket:        socket,
		loop:          loop,
		chunkSize:     DefaultChunkSize,
		maxBufferSize: DefaultMaxBufferSize,
		closeTimeout:  DefaultCloseTimeout,
		now:           time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.name == "" {
		var remote netip.AddrPort
		if socket != nil {
			remote = socket.RemoteAddr()
		}
		s.name = UniqueName(remote, s.now())
	}
	if s.logger == nil {
		s.logger = log.NewLogger("iostream")
	}
	s.logger = s.logger.WithField("stream", s.name)

	if socket == nil || loop == nil {
		s.logger.Warn("stream created without socket or loop")
		s.state = StateClosed
		if socket != nil {
			socket.Close()
		}
		s.notifyClose()
		return s
	}
	s.readEvent = loop.NewEvent(socket.FD(), reactor.FlagRead, s.handleRead)
	s.writeEvent = loop.NewEvent(socket.FD(), reactor.FlagWrite, s.handleWrite)
	return s
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) State() State {
	return s.state
}

func (s *Stream) BytesReceived() uint64 {
	return s.bytesReceived
}

func (s *Stream) BytesSent() uint64 {
	return s.bytesSent
}

// Buffered returns the number of bytes held in the receive and the send
// buffer.
func (s *Stream) Buffered() (recv int, send int) {
	return len(s.recvBuffer), len(s.sendBuffer)
}

func (s *Stream) IsReceiving() bool {
	return s.recvQueue.Len() > 0
}

// IsSending reports whether unflushed bytes must be pushed to the socket:
// someone waits on them, or the stream is closing.
func (s *Stream) IsSending() bool {
	if len(s.sendBuffer) == 0 {
		return false
	}
	if s.state.closing() {
		return true
	}
	return s.sendWaiters > 0
}

// Recv asks for exactly length bytes. Operations are resolved in the order
// they were issued, regardless of how the bytes arrive.
func (s *Stream) Recv(length int, onData RecvFunc) {
	if s.state == StateClosed || s.state.passiveClosing() {
		s.logger.Warn("recv on ", s.state, " stream")
		s.callRecv(onData, nil, ErrNoData)
		return
	}
	if length < 0 {
		s.logger.Warn("recv with negative length ", length)
		s.callRecv(onData, nil, ErrNegativeLength)
		return
	}
	s.recvQueue.Push(recvOp{length: length, callback: onData})
	s.consume()
	s.armRead()
}

// Send appends data to the send buffer. onSent is resolved once every byte
// up to and including data has been written to the socket.
func (s *Stream) Send(data []byte, onSent SendFunc) {
	if s.state == StateClosed || s.state.activeClosing() {
		s.logger.Warn("send on ", s.state, " stream")
		s.callSend(onSent, ErrSendFailed)
		return
	}
	s.sendBuffer = append(s.sendBuffer, data...)
	s.bytesQueued += uint64(len(data))
	s.sendQueue.Push(sendOp{end: s.bytesQueued, callback: onSent})
	if onSent != nil {
		s.sendWaiters++
	}
	if len(s.sendBuffer) > s.maxBufferSize {
		s.logger.Warn("send buffer exceeds ", s.maxBufferSize, " bytes")
		s.ForceClose()
		return
	}
	s.resolveSends()
	s.armWrite()
}

// Close starts an active close. Pending bytes are flushed first; onClosed,
// when not nil, replaces the close callback.
func (s *Stream) Close(onClosed CloseFunc) {
	if onClosed != nil {
		s.onClose = onClosed
	}
	if s.state == StateClosed {
		return
	}
	s.state = s.state.withActive()
	s.logger.Debug("closing")
	s.handleWrite()
}

// ForceClose tears the stream down immediately. Every pending operation
// fails and the close callback runs once. Calling it again does nothing.
func (s *Stream) ForceClose() {
	s.ForceCloseWith(nil)
}

// ForceCloseWith is ForceClose with a replacement close callback.
func (s *Stream) ForceCloseWith(onClosed CloseFunc) {
	if onClosed != nil {
		s.onClose = onClosed
	}
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.readEvent.Del()
	s.writeEvent.Del()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	err := s.socket.Close()
	if err != nil {
		s.logger.Debug("close socket: ", err)
	}
	s.recvBuffer = nil
	s.sendBuffer = nil
	for _, op := range s.recvQueue.Drain() {
		s.callRecv(op.callback, nil, ErrNoData)
	}
	s.sendWaiters = 0
	for _, op := range s.sendQueue.Drain() {
		s.callSend(op.callback, ErrSendFailed)
	}
	s.logger.Debug("closed, received ", s.bytesReceived, " bytes, sent ", s.bytesSent, " bytes")
	s.notifyClose()
}

func (s *Stream) consume() {
	if s.consuming {
		return
	}
	s.consuming = true
	defer func() {
		s.consuming = false
	}()
	for s.state != StateClosed {
		op := s.recvQueue.Front()
		if op == nil || op.length > len(s.recvBuffer) {
			return
		}
		length := op.length
		payload := s.recvBuffer[:length:length]
		s.recvBuffer = s.recvBuffer[length:]
		if len(s.recvBuffer) == 0 {
			s.recvBuffer = nil
		}
		s.callRecv(s.recvQueue.Pop().callback, payload, nil)
	}
}

func (s *Stream) awaitingEOF() bool {
	return s.writeShut && s.state == StateActiveClosing
}

func (s *Stream) armRead() {
	if s.state == StateClosed || s.state.passiveClosing() {
		return
	}
	if !s.IsReceiving() && !s.awaitingEOF() {
		return
	}
	err := s.readEvent.Add()
	if err != nil {
		s.logger.Warn(E.Cause(err, "arm read"))
		s.ForceClose()
	}
}

func (s *Stream) armWrite() {
	if s.state == StateClosed || !s.IsSending() {
		return
	}
	err := s.writeEvent.Add()
	if err != nil {
		s.logger.Warn(E.Cause(err, "arm write"))
		s.ForceClose()
	}
}

func (s *Stream) handleRead() {
	if s.state == StateClosed {
		return
	}
	chunk := buf.Get(s.chunkSize)
	defer buf.Put(chunk)

	var received int
	var eof bool
	for {
		n, err := s.socket.Read(chunk)
		if n > 0 {
			if len(s.recvBuffer)+n > s.maxBufferSize {
				s.logger.Warn("receive buffer exceeds ", s.maxBufferSize, " bytes")
				s.ForceClose()
				return
			}
			s.recvBuffer = append(s.recvBuffer, chunk[:n]...)
			s.bytesReceived += uint64(n)
			received += n
		}
		if err == nil {
			if n == 0 {
				break
			}
			continue
		}
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		s.logError(E.Cause(err, "read"))
		s.ForceClose()
		return
	}
	if received > 0 {
		s.logger.Debug("<--- ", received, " bytes")
	}
	s.consume()
	if s.state == StateClosed {
		return
	}
	if eof {
		s.handleEOF()
		return
	}
	s.armRead()
}

func (s *Stream) handleEOF() {
	s.logger.Debug("peer closed its write half")
	s.state = s.state.withPassive()
	s.readEvent.Del()
	err := s.socket.CloseRead()
	if err != nil {
		s.logger.Debug("shutdown read: ", err)
	}
	s.recvBuffer = nil
	for _, op := range s.recvQueue.Drain() {
		s.callRecv(op.callback, nil, ErrNoData)
	}
	if s.state == StateClosed {
		return
	}
	if s.writeShut {
		s.ForceClose()
		return
	}
	s.handleWrite()
}

func (s *Stream) handleWrite() {
	if s.state == StateClosed {
		return
	}
	err := s.flush()
	s.resolveSends()
	if s.state == StateClosed {
		return
	}
	if err != nil {
		s.logError(E.Cause(err, "write"))
		s.ForceClose()
		return
	}
	if s.IsSending() {
		s.armWrite()
		return
	}
	if !s.state.closing() {
		return
	}
	if s.writeShut {
		if s.state.passiveClosing() {
			s.ForceClose()
		}
		return
	}
	s.shutdownWrite()
}

func (s *Stream) flush() error {
	var sent int
	defer func() {
		if sent > 0 {
			s.logger.Debug("---> ", sent, " bytes")
		}
	}()
	for len(s.sendBuffer) > 0 {
		chunk := s.sendBuffer
		if len(chunk) > s.chunkSize {
			chunk = chunk[:s.chunkSize]
		}
		n, err := s.socket.Write(chunk)
		if n > 0 {
			s.sendBuffer = s.sendBuffer[n:]
			s.bytesSent += uint64(n)
			sent += n
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	if len(s.sendBuffer) == 0 {
		s.sendBuffer = nil
	}
	return nil
}

func (s *Stream) resolveSends() {
	for s.state != StateClosed {
		op := s.sendQueue.Front()
		if op == nil || op.end > s.bytesSent {
			return
		}
		callback := s.sendQueue.Pop().callback
		if callback != nil {
			s.sendWaiters--
		}
		s.callSend(callback, nil)
	}
}

// shutdownWrite runs once the send buffer of a closing stream is empty.
func (s *Stream) shutdownWrite() {
	s.writeShut = true
	s.writeEvent.Del()
	s.sendWaiters = 0
	for _, op := range s.sendQueue.Drain() {
		s.callSend(op.callback, ErrSendFailed)
	}
	if s.state == StateClosed {
		return
	}
	err := s.socket.CloseWrite()
	if err != nil {
		s.logger.Debug("shutdown write: ", err)
	}
	if s.state.passiveClosing() {
		s.ForceClose()
		return
	}
	s.closeTimer = s.loop.AfterFunc(s.closeTimeout, s.handleCloseTimeout)
	s.armRead()
}

func (s *Stream) handleCloseTimeout() {
	s.closeTimer = nil
	s.logger.Debug("peer did not close within ", s.closeTimeout)
	s.ForceClose()
}

func (s *Stream) logError(err error) {
	if E.IsClosed(err) {
		s.logger.Debug(err)
	} else {
		s.logger.Warn(err)
	}
}

func (s *Stream) callRecv(callback RecvFunc, payload []byte, err error) {
	if callback == nil {
		return
	}
	defer s.recoverCallback()
	callback(s.name, payload, err)
}

func (s *Stream) callSend(callback SendFunc, err error) {
	if callback == nil {
		return
	}
	defer s.recoverCallback()
	callback(s.name, err)
}

func (s *Stream) recoverCallback() {
	if r := recover(); r != nil {
		s.logger.Error("panic in callback: ", r)
		s.ForceClose()
	}
}

func (s *Stream) notifyClose() {
	onClose := s.onClose
	s.onClose = nil
	if onClose == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in close callback: ", r)
		}
	}()
	onClose(s.name)
}
