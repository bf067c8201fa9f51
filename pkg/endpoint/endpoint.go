// Package endpoint models a single backend address: an IP plus a port,
// parsed once at startup and treated as immutable configuration data for
// the lifetime of the process.
package endpoint

import (
	"fmt"
	"net"
)

// Endpoint is a validated host:port pair identifying a backend worker.
// Endpoints are value types: two Endpoints with the same address text compare equal
// and are safe to use as map keys.
type Endpoint struct {
	addr string
}

// Parse validates text as an "A.B.C.D:port" (or "[ipv6]:port") address and
// returns the corresponding Endpoint. Parsing is the only place malformed
// configuration is detected; callers at startup should treat a non-nil error
// as fatal.
func Parse(text string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(text)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: malformed address %q: %w", text, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("endpoint: missing host in %q", text)
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("endpoint: missing port in %q", text)
	}
	// Resolve to normalize IPv6 bracket/zone handling transparently; the
	// dialed address still uses the original text form.
	if _, err := net.ResolveTCPAddr("tcp", text); err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid tcp address %q: %w", text, err)
	}
	return Endpoint{addr: text}, nil
}

// MustParse is Parse but panics on error; only ever used for literal
// addresses known at compile time (tests, documentation examples).
func MustParse(text string) Endpoint {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the host:port text form, suitable both for dialing and for
// use as the Host header in the health probe.
func (e Endpoint) String() string {
	return e.addr
}

// IsZero reports whether e is the zero value (never produced by Parse).
func (e Endpoint) IsZero() bool {
	return e.addr == ""
}
