package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// SessionWrapper is a thin adapter over one authenticated *ssh.Client. It
// knows nothing about pooling, retries, or timeouts beyond a connect
// deadline; the facade above it owns serialization and failure policy.
type SessionWrapper struct {
	conn *ssh.Client
}

// ExecResult is the captured output of a single exec channel run.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// dial authenticates creds against creds.HostPort() and returns a wrapper
// around the resulting client. Auth-method selection mirrors the
// lazy-connect branches (agent / password / private key): exactly one
// ssh.AuthMethod is installed, matching Credentials.Kind.
func dial(ctx context.Context, creds Credentials, agentAuth ssh.AuthMethod) (*SessionWrapper, error) {
	var auth ssh.AuthMethod
	switch creds.Kind {
	case KindAgent:
		if agentAuth == nil {
			return nil, fmt.Errorf("ssh: agent credentials requested but no agent connection was supplied")
		}
		auth = agentAuth
	case KindPassword:
		auth = ssh.Password(creds.Password)
	case KindPrivateKey:
		auth = ssh.PublicKeys(creds.PrivateKey)
	default:
		return nil, fmt.Errorf("ssh: unknown credential kind %v", creds.Kind)
	}

	config := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := creds.HostPort()
	dialer := net.Dialer{}
	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &IoError{Op: "dial " + addr, Err: err}
	}
	_ = netConn.SetDeadline(time.Now().Add(deadline))

	cConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return nil, &SshError{Op: "handshake " + addr, Err: err}
	}
	_ = netConn.SetDeadline(time.Time{})

	return &SessionWrapper{conn: ssh.NewClient(cConn, chans, reqs)}, nil
}

func isAuthError(err error) bool {
	_, ok := err.(*ssh.PermanentCredentialError)
	if ok {
		return true
	}
	return false
}

// OpenChannel opens a direct-tcpip channel to host:port over the session,
// wrapped so the forwarding engine can splice it against a net.Conn.
func (w *SessionWrapper) OpenChannel(ctx context.Context, host string, port int, originAddr net.Addr) (*AsyncChannel, error) {
	payload := directTCPIPPayload(host, port, originAddr)

	type openResult struct {
		ch  ssh.Channel
		err error
	}
	resCh := make(chan openResult, 1)
	go func() {
		ch, reqs, err := w.conn.OpenChannel("direct-tcpip", payload)
		if err != nil {
			resCh <- openResult{err: err}
			return
		}
		go ssh.DiscardRequests(reqs)
		resCh <- openResult{ch: ch}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, &SshError{Op: "open_channel", Err: res.err}
		}
		remote := &net.TCPAddr{}
		return NewAsyncChannel(res.ch, originAddr, remote), nil
	}
}

// Exec runs cmd on a fresh session channel and captures stdout/stderr.
// ctx cancellation sends SIGKILL and returns ctx.Err(); exit status is
// pulled from *ssh.ExitError when the remote command returns non-zero.
func (w *SessionWrapper) Exec(ctx context.Context, cmd string) (*ExecResult, error) {
	session, err := w.conn.NewSession()
	if err != nil {
		return nil, &IoError{Op: "exec: new session", Err: err}
	}
	defer session.Close()

	stdout, _ := session.StdoutPipe()
	stderr, _ := session.StderrPipe()

	if err := session.Start(cmd); err != nil {
		return nil, &SshError{Op: "exec: start", Err: err}
	}

	type captured struct{ stdout, stderr []byte }
	done := make(chan captured, 1)
	go func() {
		out, _ := io.ReadAll(stdout)
		errOut, _ := io.ReadAll(stderr)
		done <- captured{out, errOut}
	}()

	var out captured
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case out = <-done:
	}

	exitCode := 0
	if err := session.Wait(); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			return nil, &SshError{Op: "exec: wait", Err: err}
		}
	}

	return &ExecResult{Stdout: out.stdout, Stderr: out.stderr, ExitCode: exitCode}, nil
}

// ScpRecv downloads remotePath's contents via the scp -f source protocol.
func (w *SessionWrapper) ScpRecv(remotePath string) ([]byte, error) {
	return scpRecv(w.conn, remotePath)
}

// ScpSend uploads data to remotePath via the scp -t sink protocol.
func (w *SessionWrapper) ScpSend(remotePath string, data []byte, mode uint32) error {
	return scpSend(w.conn, remotePath, data, mode)
}

// Disconnect closes the underlying client connection.
func (w *SessionWrapper) Disconnect() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

func directTCPIPPayload(host string, port int, origin net.Addr) []byte {
	originHost, originPort := "127.0.0.1", 0
	if tcp, ok := origin.(*net.TCPAddr); ok && tcp != nil {
		originHost = tcp.IP.String()
		originPort = tcp.Port
	}
	var payload struct {
		DestHost   string
		DestPort   uint32
		OriginHost string
		OriginPort uint32
	}
	payload.DestHost = host
	payload.DestPort = uint32(port)
	payload.OriginHost = originHost
	payload.OriginPort = uint32(originPort)
	return ssh.Marshal(&payload)
}
