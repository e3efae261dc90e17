package forward

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sshtunnel/internal/ssh"
)

// channelOpenTimeout bounds how long Engine waits for the remote side to
// accept a direct-tcpip channel for a freshly accepted local connection.
const channelOpenTimeout = 5 * time.Second

// Engine listens locally and forwards every accepted connection through a
// SessionFacade to one remote host:port. Whether it listens on TCP or a
// Unix-domain socket is decided purely by the listen string: a leading
// "/" means Unix, anything else means TCP.
type Engine struct {
	log *logrus.Entry
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{log: logrus.WithField("component", "forward")}
}

// Start begins forwarding connections accepted on listenString to
// remoteHost:remotePort over facade, and returns a Tunnel handle for it.
// The accept loop runs in its own goroutine; Start returns as soon as the
// listener is bound.
func (e *Engine) Start(facade *ssh.SessionFacade, listenString, remoteHost string, remotePort int) (*Tunnel, error) {
	listener, err := e.listen(listenString)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := newTunnel(listenString, remoteHost, remotePort, cancel)

	go e.serve(ctx, listener, facade, t)

	return t, nil
}

func (e *Engine) listen(listenString string) (net.Listener, error) {
	if strings.HasPrefix(listenString, "/") {
		l, err := net.Listen("unix", listenString)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBindingUnixSocket, err)
		}
		return l, nil
	}

	l, err := net.Listen("tcp", listenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanNotBindListenEndpoint, err)
	}
	return l, nil
}

func (e *Engine) serve(ctx context.Context, listener net.Listener, facade *ssh.SessionFacade, t *Tunnel) {
	defer func() {
		_ = listener.Close()
		t.markStopped()
	}()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	log := e.log.WithField("listen", t.ListenString())

	for t.IsWorking() {
		conn, err := listener.Accept()
		if err != nil {
			if !t.IsWorking() {
				return
			}
			log.WithError(err).Warn("accept failed, continuing")
			continue
		}

		go e.handle(ctx, conn, facade, t)
	}
}

func (e *Engine) handle(ctx context.Context, local net.Conn, facade *ssh.SessionFacade, t *Tunnel) {
	openCtx, cancel := context.WithTimeout(ctx, channelOpenTimeout)
	defer cancel()

	remote, err := facade.OpenTunnelChannel(openCtx, t.RemoteHost(), t.RemotePort(), local.RemoteAddr())
	if err != nil {
		e.log.WithError(err).WithField("remote", t.RemoteHost()).Warn("could not open remote channel, dropping connection")
		_ = local.Close()
		return
	}

	spliceBidirectional(local, remote, t)
}

// ExtractPort returns the substring of listenString after its last ":",
// for diagnostic logging purposes only. It is not used to decide how to
// bind — that decision is the leading-"/" check in listen().
func ExtractPort(listenString string) (string, error) {
	idx := strings.LastIndex(listenString, ":")
	if idx < 0 || idx == len(listenString)-1 {
		return "", ErrCanNotExtractListenPort
	}
	return listenString[idx+1:], nil
}
