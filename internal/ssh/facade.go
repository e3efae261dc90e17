package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// DefaultOperationTimeout bounds every facade operation. A caller's own
// context deadline can shorten it but not extend it.
const DefaultOperationTimeout = 30 * time.Second

// connectTimeout bounds the lazy-connect dial+handshake.
const connectTimeout = 5 * time.Second

// evictionFunc is called by a facade after a failed operation so the pool
// that owns it can drop it from its index. It is nil for facades created
// outside a pool.
type evictionFunc func(f *SessionFacade)

// SessionFacade is the single point of entry callers use for one remote
// host. Every operation runs under one mutex: this package does not try
// to let independent commands overlap on the same facade, trading
// throughput for a connection and a $HOME cache that can never observe a
// half-finished concurrent operation. Connects lazily on first use and
// tears itself down — then reports itself to its owning pool for eviction
// — the moment any operation fails.
type SessionFacade struct {
	id    int64
	mu    sync.Mutex
	creds Credentials

	wrapper *SessionWrapper
	home    string // cached $HOME for ~ expansion, empty until first resolved

	// failed is set once by teardown and never cleared: once a facade
	// tears down, for any reason, it is permanently dead — a fresh facade
	// must be created to reconnect. get() consults this before ever
	// attempting to dial again.
	failed bool

	evict evictionFunc
	log   *logrus.Entry
}

// NewSessionFacade constructs a facade for creds. It does not connect;
// the first call to Execute/Download/Upload/OpenTunnelChannel does.
func NewSessionFacade(creds Credentials) *SessionFacade {
	return newSessionFacade(creds, nil)
}

func newSessionFacade(creds Credentials, evict evictionFunc) *SessionFacade {
	return &SessionFacade{
		id:    time.Now().UnixMicro(),
		creds: creds,
		evict: evict,
		log:   logrus.WithFields(logrus.Fields{"component": "facade", "target": creds.String()}),
	}
}

// ID is a microsecond-resolution identifier assigned at construction time.
// Collisions within the same microsecond are possible and harmless: pool
// dedup keys on Credentials.AreSame, never on ID.
func (f *SessionFacade) ID() int64 { return f.id }

// Credentials returns the credentials this facade authenticates with.
func (f *SessionFacade) Credentials() Credentials { return f.creds }

// IsConnected reports whether this facade is still eligible for use: it
// has not been torn down by a failure, a timeout, or an explicit
// Disconnect. A freshly constructed facade reports true even though it
// hasn't dialed yet (lazy connect); once false, it stays false forever —
// a fresh facade must be created to reconnect.
func (f *SessionFacade) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.failed
}

// get returns the live wrapper, connecting first if necessary. Must be
// called with f.mu held.
func (f *SessionFacade) get(ctx context.Context) (*SessionWrapper, error) {
	if f.failed {
		return nil, ErrSessionNotActive
	}
	if f.wrapper != nil {
		return f.wrapper, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var agentAuth ssh.AuthMethod
	if f.creds.Kind == KindAgent {
		sock, err := agentSigners()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		agentAuth = sock
	}

	w, err := dial(dialCtx, f.creds, agentAuth)
	if err != nil {
		return nil, err
	}

	f.wrapper = w
	f.home = ""
	f.log.Debug("connected")
	return w, nil
}

// teardown closes the wrapper (if any), forgets cached state, marks the
// facade permanently failed, and — if it belongs to a pool — reports
// itself for eviction. Must be called with f.mu held. Idempotent: a
// second call (e.g. a second explicit Disconnect) is a no-op beyond
// re-running eviction, which Pool.evict already tolerates.
func (f *SessionFacade) teardown() {
	if f.wrapper != nil {
		_ = f.wrapper.Disconnect()
		f.wrapper = nil
	}
	f.home = ""
	f.failed = true
	if f.evict != nil {
		f.evict(f)
	}
}

// executeWithTimeout runs op against a connected wrapper. On timeout or
// any error from op, the session is torn down and, if pooled, evicted —
// every later call on this facade returns ErrSessionNotActive rather than
// retrying on a possibly-wedged connection; a fresh facade must be
// created to reconnect.
func (f *SessionFacade) executeWithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context, w *SessionWrapper) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, err := f.get(ctx)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- op(opCtx, w) }()

	select {
	case <-opCtx.Done():
		f.log.Warn("operation timed out, tearing down session")
		f.teardown()
		return ErrTimeout
	case err := <-errCh:
		if err != nil {
			f.log.WithError(err).Warn("operation failed, tearing down session")
			f.teardown()
			return err
		}
		return nil
	}
}

// Execute runs cmd on the remote host and returns its captured output.
func (f *SessionFacade) Execute(ctx context.Context, cmd string) (*ExecResult, error) {
	var result *ExecResult
	err := f.executeWithTimeout(ctx, DefaultOperationTimeout, func(ctx context.Context, w *SessionWrapper) error {
		r, err := w.Exec(ctx, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Download fetches remotePath via SCP, expanding a leading ~ against the
// remote $HOME (resolved once per connection and cached).
func (f *SessionFacade) Download(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	err := f.executeWithTimeout(ctx, DefaultOperationTimeout, func(ctx context.Context, w *SessionWrapper) error {
		resolved, err := f.expandHome(ctx, w, remotePath)
		if err != nil {
			return err
		}
		d, err := w.ScpRecv(resolved)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Upload writes data to remotePath via SCP, expanding a leading ~ the same
// way Download does.
func (f *SessionFacade) Upload(ctx context.Context, remotePath string, data []byte, mode uint32) error {
	return f.executeWithTimeout(ctx, DefaultOperationTimeout, func(ctx context.Context, w *SessionWrapper) error {
		resolved, err := f.expandHome(ctx, w, remotePath)
		if err != nil {
			return err
		}
		return w.ScpSend(resolved, data, mode)
	})
}

// OpenTunnelChannel opens a direct-tcpip channel for port forwarding. It
// shares the same connect/timeout/teardown policy as every other
// operation, but deliberately does not hold f.mu for the channel's
// lifetime — the engine owns the channel after this call returns, and
// holding the facade lock across an entire forwarded connection would
// serialize every tunnel through one listener behind one mutex.
func (f *SessionFacade) OpenTunnelChannel(ctx context.Context, host string, port int, origin net.Addr) (*AsyncChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, err := f.get(ctx)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ch, err := w.OpenChannel(openCtx, host, port, origin)
	if err != nil {
		f.teardown()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return ch, nil
}

// Disconnect tears down the session if one is held. Safe to call whether
// or not a session is currently connected.
func (f *SessionFacade) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardown()
	return nil
}

// expandHome rewrites a leading "~" to the cached remote $HOME, resolving
// and caching it with one "echo $HOME" round trip the first time a facade
// needs it. Must be called with f.mu held (i.e. from inside
// executeWithTimeout's op callback).
func (f *SessionFacade) expandHome(ctx context.Context, w *SessionWrapper, path string) (string, error) {
	if !needsHomeExpansion(path) {
		return path, nil
	}

	if f.home == "" {
		res, err := w.Exec(ctx, "echo $HOME")
		if err != nil {
			return "", err
		}
		home := strings.TrimSpace(string(res.Stdout))
		if home == "" {
			return "", fmt.Errorf("ssh: could not resolve remote $HOME")
		}
		f.home = home
	}

	return expandTilde(f.home, path), nil
}

// needsHomeExpansion reports whether path starts with a bare "~" or "~/".
func needsHomeExpansion(path string) bool {
	return path == "~" || strings.HasPrefix(path, "~/")
}

// expandTilde substitutes home for a leading "~" in path. Pulled out of
// expandHome as a pure function so the substitution logic is testable
// without a live connection.
func expandTilde(home, path string) string {
	if path == "~" {
		return home
	}
	return home + path[1:]
}

// agentSigners dials the local SSH agent over SSH_AUTH_SOCK and returns an
// AuthMethod backed by it. Kept separate from dial() so tests can stub
// agent-kind credentials without a real agent socket.
func agentSigners() (ssh.AuthMethod, error) {
	sock, err := net.Dial("unix", agentSocketPath())
	if err != nil {
		return nil, fmt.Errorf("connect to ssh-agent: %w", err)
	}
	ag := agent.NewClient(sock)
	return ssh.PublicKeysCallback(ag.Signers), nil
}

func agentSocketPath() string {
	return sshAuthSock()
}

// overridable for tests.
var sshAuthSock = func() string {
	return os.Getenv("SSH_AUTH_SOCK")
}
