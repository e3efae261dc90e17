package ssh

import (
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// asyncChannelReadBuf is the size of the internal buffer the background
// reader goroutine reads into. It is unrelated to, and may differ from,
// the size of the buffer a caller passes to Read.
const asyncChannelReadBuf = 32 * 1024

// AsyncChannel adapts an ssh.Channel to net.Conn so the forwarding engine
// can splice it against a TCP or Unix-domain connection with the same
// code it uses for any other net.Conn. Unlike a bare ssh.Channel, reads
// honor SetReadDeadline/SetDeadline.
//
// ssh.Channel itself has no way to interrupt an in-flight Read, so a
// timed-out Read can't simply abandon its goroutine the way a context
// cancellation would: the abandoned goroutine's call to ch.Read would
// keep writing into whatever buffer it was given after the caller has
// moved on to reading again, corrupting whichever buffer that call
// reused (the splice loop's pooled buffer, notably). Instead, one
// background goroutine owns the channel's Read calls for the lifetime of
// the AsyncChannel, reading into its own private buffer and handing
// copies to Read's caller over a channel; a Read that times out simply
// stops waiting on that channel; the background goroutine is none the
// wiser and never touches caller-owned memory.
type AsyncChannel struct {
	ch     ssh.Channel
	local  net.Addr
	remote net.Addr

	readDeadline  time.Time
	writeDeadline time.Time

	startReader sync.Once
	readCh      chan readChunk
	pendingData []byte
	pendingErr  error
}

// NewAsyncChannel wraps ch. local/remote are cosmetic (ssh channels have no
// real addresses) but populate LocalAddr/RemoteAddr for code that logs them.
func NewAsyncChannel(ch ssh.Channel, local, remote net.Addr) *AsyncChannel {
	return &AsyncChannel{ch: ch, local: local, remote: remote}
}

type readChunk struct {
	data []byte
	err  error
}

// ensureReader lazily starts the background reader goroutine. It reads
// into its own buffer, copies only what it actually read into a
// freshly-allocated slice, and sends that down readCh — the channel send
// blocks until Read consumes the previous chunk, so at most one chunk is
// ever in flight and the underlying ssh.Channel only ever has one Read
// call outstanding at a time.
func (a *AsyncChannel) ensureReader() {
	a.startReader.Do(func() {
		a.readCh = make(chan readChunk, 1)
		go func() {
			buf := make([]byte, asyncChannelReadBuf)
			for {
				n, err := a.ch.Read(buf)
				var data []byte
				if n > 0 {
					data = make([]byte, n)
					copy(data, buf[:n])
				}
				a.readCh <- readChunk{data: data, err: err}
				if err != nil {
					return
				}
			}
		}()
	})
}

func (a *AsyncChannel) Read(b []byte) (int, error) {
	a.ensureReader()

	if len(a.pendingData) > 0 {
		n := copy(b, a.pendingData)
		a.pendingData = a.pendingData[n:]
		if len(a.pendingData) == 0 && a.pendingErr != nil {
			err := a.pendingErr
			a.pendingErr = nil
			return n, err
		}
		return n, nil
	}

	var timeoutCh <-chan time.Time
	if !a.readDeadline.IsZero() {
		timeout := time.Until(a.readDeadline)
		if timeout <= 0 {
			return 0, errTimeoutReadWrite("read")
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case chunk, ok := <-a.readCh:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, chunk.data)
		if n < len(chunk.data) {
			// Caller's buffer was smaller than what the background
			// reader delivered; stash the remainder (and any error
			// that came with it) for the next Read call.
			a.pendingData = chunk.data[n:]
			a.pendingErr = chunk.err
			return n, nil
		}
		return n, chunk.err
	case <-timeoutCh:
		return 0, errTimeoutReadWrite("read")
	}
}

func (a *AsyncChannel) Write(b []byte) (int, error) {
	if a.writeDeadline.IsZero() {
		return a.ch.Write(b)
	}
	if time.Now().After(a.writeDeadline) {
		return 0, errTimeoutReadWrite("write")
	}
	return a.ch.Write(b)
}

// Close half-closes the channel for writes and then closes it outright,
// mirroring the way the SSH protocol expects an exec/direct-tcpip channel
// to be torn down: a CloseWrite so the peer sees EOF, then a full close.
func (a *AsyncChannel) Close() error {
	_ = a.ch.CloseWrite()
	return a.ch.Close()
}

func (a *AsyncChannel) LocalAddr() net.Addr  { return a.local }
func (a *AsyncChannel) RemoteAddr() net.Addr { return a.remote }

func (a *AsyncChannel) SetDeadline(t time.Time) error {
	a.readDeadline = t
	a.writeDeadline = t
	return nil
}

func (a *AsyncChannel) SetReadDeadline(t time.Time) error {
	a.readDeadline = t
	return nil
}

func (a *AsyncChannel) SetWriteDeadline(t time.Time) error {
	a.writeDeadline = t
	return nil
}

type timeoutError struct{ op string }

func (e *timeoutError) Error() string   { return "ssh: " + e.op + " i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func errTimeoutReadWrite(op string) error { return &timeoutError{op: op} }

var _ net.Conn = (*AsyncChannel)(nil)
var _ io.ReadWriteCloser = (*AsyncChannel)(nil)
