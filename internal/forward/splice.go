package forward

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// spliceBufferSize matches the 1 MiB buffer used on both legs of a
// forwarded connection.
const spliceBufferSize = 1024 * 1024

// spliceIdleTimeout is how long a leg may sit with nothing to read before
// the splice gives up on it and half-closes the destination.
const spliceIdleTimeout = 60 * time.Second

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, spliceBufferSize)
		return &b
	},
}

// splice copies from src to dst, for as long as t.IsWorking(), until src
// errors, times out waiting for a read, or dst refuses a write. Mirrors
// the reference tunnel loop's `while remote_connection.is_working()`:
// the check happens once per iteration, so Stop() breaks the loop on its
// next pass rather than needing to interrupt a read already in flight.
// On any exit it half-closes dst (if it supports CloseWrite) so the peer
// observes EOF, then returns. It never closes src — whichever direction
// notices trouble first is responsible for closing its own inbound side;
// the other goroutine's failing write or read will follow shortly after.
func splice(dst, src net.Conn, label string, t *Tunnel) {
	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	for t.IsWorking() {
		_ = src.SetReadDeadline(time.Now().Add(spliceIdleTimeout))

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				logrus.WithField("direction", label).WithError(werr).Debug("splice write failed, closing")
				closeWrite(dst)
				return
			}
		}
		if err != nil {
			logrus.WithField("direction", label).WithError(err).Debug("splice read ended, closing")
			closeWrite(dst)
			return
		}
	}
	logrus.WithField("direction", label).Debug("tunnel stopped, closing")
	closeWrite(dst)
}

// closeWrite half-closes c for writes if it supports it, falling back to
// a full Close when it doesn't (e.g. our AsyncChannel, whose Close already
// performs the half-close/close sequence itself).
func closeWrite(c net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := c.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = c.Close()
}

// spliceBidirectional runs both directions of a forwarded connection,
// bound to t's working state, and returns once both have finished.
func spliceBidirectional(local, remote net.Conn, t *Tunnel) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		splice(remote, local, "local->remote", t)
	}()
	go func() {
		defer wg.Done()
		splice(local, remote, "remote->local", t)
	}()

	wg.Wait()
	_ = local.Close()
	_ = remote.Close()
}
