package forward

import "errors"

// Sentinel errors callers can match with errors.Is.
var (
	// ErrCanNotBindListenEndpoint is returned when a TCP listener can't bind.
	ErrCanNotBindListenEndpoint = errors.New("forward: can not bind listen endpoint")

	// ErrBindingUnixSocket is returned when a Unix-domain listener can't bind.
	ErrBindingUnixSocket = errors.New("forward: error binding unix socket")

	// ErrCanNotExtractListenPort is returned by diagnostic helpers that
	// derive a port number from a listen string for logging purposes.
	ErrCanNotExtractListenPort = errors.New("forward: can not extract listen port")
)
