// Package connstring parses the "over SSH" connection-string grammar
// used to describe a resource that may or may not need to be reached
// through an SSH tunnel:
//
//	over_ssh  := resource | ssh_part "->" resource
//	ssh_part  := "ssh" ("://" | ":") user "@" host (":" port)?
//
// A bare resource with no leading ssh_part parses to a Result with no
// credentials and the resource taken verbatim.
package connstring

import (
	"strconv"
	"strings"

	"sshtunnel/internal/ssh"
)

// Result is what Parse returns: the SSH credentials needed to reach
// Resource (nil if the string had no ssh_part), and the resource string
// with the "ssh_part->" prefix stripped.
type Result struct {
	Credentials *ssh.Credentials
	Resource    string
}

// sshScheme is matched case-insensitively at the start of the string.
const sshScheme = "ssh"

// Parse splits s on the first "->" and, if the left-hand side looks like
// an ssh_part, parses it into Credentials; otherwise the whole string is
// treated as a bare resource.
func Parse(s string) (Result, error) {
	left, right, hasArrow := splitOnce(s, "->")
	if !hasArrow {
		return Result{Resource: s}, nil
	}

	if !looksLikeSshPart(left) {
		// Not actually an ssh_part — treat the original string as one
		// opaque resource rather than silently discarding the "->".
		return Result{Resource: s}, nil
	}

	creds, err := parseSshPart(left)
	if err != nil {
		return Result{}, err
	}

	return Result{Credentials: &creds, Resource: right}, nil
}

func looksLikeSshPart(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, sshScheme+"://") || strings.HasPrefix(lower, sshScheme+":")
}

// parseSshPart parses "ssh://user@host:port" or "ssh:user@host:port",
// case-insensitive on the scheme, delegating the user@host[:port] split
// to ssh.TryParse rather than duplicating it here. An ssh_part always
// resolves to Agent-kind credentials; a CredentialsResolver is how a
// caller substitutes the real auth material afterward.
func parseSshPart(s string) (ssh.Credentials, error) {
	lower := strings.ToLower(s)

	var rest string
	switch {
	case strings.HasPrefix(lower, sshScheme+"://"):
		rest = s[len(sshScheme+"://"):]
	case strings.HasPrefix(lower, sshScheme+":"):
		rest = s[len(sshScheme+":"):]
	default:
		return ssh.Credentials{}, &ParseError{Input: s, Reason: "missing ssh:// or ssh: prefix"}
	}
	// A doubled separator such as "ssh:////user@host" leaves a stray "//"
	// after the "ssh://" case above; strip it too.
	rest = strings.TrimPrefix(rest, "//")

	creds, err := ssh.TryParse(rest, ssh.AgentAuth())
	if err != nil {
		return ssh.Credentials{}, &ParseError{Input: s, Reason: err.Error()}
	}
	return creds, nil
}

func splitOnce(s, sep string) (left, right string, ok bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// ParseError reports why a connection string could not be parsed.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return "connstring: could not parse " + strconv.Quote(e.Input) + ": " + e.Reason
}

// CredentialsResolver lets a host program override the auth material a
// connection string parsed out, without touching the resolved host/port/
// user. No implementation ships with this package — concrete resolvers
// (an agent, a file, a secrets vault) are external collaborators that a
// caller plugs in.
type CredentialsResolver interface {
	// Resolve is given the credentials Parse derived from a connection
	// string and returns the credentials that should actually be used.
	// Implementations typically keep Host/Port/User and swap in a
	// password or private key sourced from elsewhere.
	Resolve(parsed ssh.Credentials) (ssh.Credentials, error)
}

// ResolveWith runs r over a Parse result's credentials, if any. It is a
// no-op (returns result unchanged) when the input had no ssh_part or
// resolver is nil.
func ResolveWith(result Result, resolver CredentialsResolver) (Result, error) {
	if result.Credentials == nil || resolver == nil {
		return result, nil
	}

	resolved, err := resolver.Resolve(*result.Credentials)
	if err != nil {
		return Result{}, err
	}

	result.Credentials = &resolved
	return result, nil
}
