package ssh

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Kind tags which variant of Credentials is populated.
type Kind int

const (
	// KindAgent authenticates through a running ssh-agent.
	KindAgent Kind = iota
	// KindPassword authenticates with a plaintext password.
	KindPassword
	// KindPrivateKey authenticates with an in-memory private key.
	KindPrivateKey
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindPassword:
		return "password"
	case KindPrivateKey:
		return "private-key"
	default:
		return "unknown"
	}
}

// DefaultPort is used when a connection string omits one.
const DefaultPort = 22

// Credentials is a closed sum type over the three ways this library
// authenticates to a remote host. Exactly one of the variant-specific
// fields is meaningful, selected by Kind.
type Credentials struct {
	Kind Kind

	Host string
	Port int
	User string

	// Password is set only when Kind == KindPassword.
	Password string

	// PrivateKey is set only when Kind == KindPrivateKey.
	PrivateKey    ssh.Signer
	PrivateKeyPem []byte
}

// NewAgentCredentials builds credentials that authenticate via ssh-agent.
func NewAgentCredentials(user, host string, port int) Credentials {
	return Credentials{Kind: KindAgent, User: user, Host: host, Port: normalizePort(port)}
}

// NewPasswordCredentials builds credentials that authenticate with a password.
func NewPasswordCredentials(user, host string, port int, password string) Credentials {
	return Credentials{Kind: KindPassword, User: user, Host: host, Port: normalizePort(port), Password: password}
}

// NewPrivateKeyCredentials builds credentials that authenticate with a signer.
func NewPrivateKeyCredentials(user, host string, port int, key ssh.Signer, pem []byte) Credentials {
	return Credentials{Kind: KindPrivateKey, User: user, Host: host, Port: normalizePort(port), PrivateKey: key, PrivateKeyPem: pem}
}

func normalizePort(port int) int {
	if port <= 0 {
		return DefaultPort
	}
	return port
}

// AuthMode carries the authentication-specific material that a bare
// "user@host[:port]" string can't encode — it is the second argument
// TryParse needs to decide which Credentials variant to build. The host
// string only ever supplies host/port/user; which of Agent/Password/
// PrivateKey auth to use, and the password or key that goes with it, is
// always supplied out of band by the caller.
type AuthMode struct {
	Kind Kind

	// Password is used only when Kind == KindPassword.
	Password string

	// PrivateKey/PrivateKeyPem are used only when Kind == KindPrivateKey.
	PrivateKey    ssh.Signer
	PrivateKeyPem []byte
}

// AgentAuth selects ssh-agent authentication.
func AgentAuth() AuthMode { return AuthMode{Kind: KindAgent} }

// PasswordAuth selects password authentication with password.
func PasswordAuth(password string) AuthMode {
	return AuthMode{Kind: KindPassword, Password: password}
}

// PrivateKeyAuth selects private-key authentication with key.
func PrivateKeyAuth(key ssh.Signer, pem []byte) AuthMode {
	return AuthMode{Kind: KindPrivateKey, PrivateKey: key, PrivateKeyPem: pem}
}

// TryParse parses "user@host[:port]" and combines it with mode to build
// Credentials of the variant mode selects. Port defaults to 22 when
// omitted.
func TryParse(s string, mode AuthMode) (Credentials, error) {
	user, host, port, err := splitUserHostPort(s)
	if err != nil {
		return Credentials{}, err
	}

	switch mode.Kind {
	case KindAgent:
		return NewAgentCredentials(user, host, port), nil
	case KindPassword:
		return NewPasswordCredentials(user, host, port, mode.Password), nil
	case KindPrivateKey:
		return NewPrivateKeyCredentials(user, host, port, mode.PrivateKey, mode.PrivateKeyPem), nil
	default:
		return Credentials{}, fmt.Errorf("ssh: unknown auth mode %v", mode.Kind)
	}
}

// splitUserHostPort parses "user@host[:port]", defaulting port to 22.
func splitUserHostPort(s string) (user, host string, port int, err error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return "", "", 0, fmt.Errorf("ssh: %q is missing a user@host part", s)
	}
	user = s[:at]
	hostPort := s[at+1:]
	if user == "" {
		return "", "", 0, fmt.Errorf("ssh: %q has an empty user", s)
	}

	host = hostPort
	port = DefaultPort
	if colon := strings.LastIndex(hostPort, ":"); colon >= 0 {
		host = hostPort[:colon]
		p, convErr := strconv.Atoi(hostPort[colon+1:])
		if convErr != nil {
			return "", "", 0, fmt.Errorf("ssh: %q has a non-numeric port: %w", s, convErr)
		}
		port = p
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("ssh: %q has an empty host", s)
	}

	return user, host, port, nil
}

// WithPassword returns a copy of c switched to password authentication.
func (c Credentials) WithPassword(password string) Credentials {
	c.Kind = KindPassword
	c.Password = password
	c.PrivateKey = nil
	c.PrivateKeyPem = nil
	return c
}

// WithPrivateKey returns a copy of c switched to private-key authentication.
func (c Credentials) WithPrivateKey(key ssh.Signer, pem []byte) Credentials {
	c.Kind = KindPrivateKey
	c.Password = ""
	c.PrivateKey = key
	c.PrivateKeyPem = pem
	return c
}

// HostPort renders "host:port".
func (c Credentials) HostPort() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String renders "user@host:port". It never includes password or key
// material — safe to log.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.User, c.HostPort())
}

// AreSame reports whether two Credentials values authenticate the same
// principal the same way. Cross-variant comparisons are always false,
// even when host/user happen to match: an agent-authenticated session
// and a password-authenticated session to the same box are not
// interchangeable for pooling purposes.
func (c Credentials) AreSame(other Credentials) bool {
	if c.Kind != other.Kind || c.Host != other.Host || c.Port != other.Port || c.User != other.User {
		return false
	}
	switch c.Kind {
	case KindAgent:
		return true
	case KindPassword:
		return c.Password == other.Password
	case KindPrivateKey:
		return string(c.PrivateKeyPem) == string(other.PrivateKeyPem)
	default:
		return false
	}
}
