// Package dialer provides the DNS resolution, socket dialing, and TLS
// handshake collaborators consumed by the connection finder.
//
// Grounded on bassosimone-nop's Dialer/TLSEngine/TLSConn abstractions:
// the same "abstract the stdlib type behind a narrow interface so tests
// can substitute a fake" shape, adapted from nop's single-purpose Func
// pipeline into the long-lived, reusable collaborators a connection pool
// needs.
package dialer

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
)

// Resolver resolves a hostname to an ordered list of IP addresses.
type Resolver interface {
	LookupAddr(ctx context.Context, host string) ([]netip.Addr, error)
}

// Dialer abstracts *net.Dialer so the connection finder can be tested
// without real sockets and so callers can plug in an alternative dialer
// (e.g. one that routes through a SOCKS proxy).
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSConn abstracts *tls.Conn for the handshake step.
type TLSConn interface {
	net.Conn
	ConnectionState() tls.ConnectionState
	HandshakeContext(ctx context.Context) error
}

// TLSEngine builds a TLSConn from a plain net.Conn. The default
// implementation, Stdlib, uses crypto/tls; alternative engines (e.g. a
// fingerprint-randomizing TLS stack) can be swapped in per Address.
type TLSEngine interface {
	Client(conn net.Conn, config *tls.Config) TLSConn
}

// Stdlib is the default Resolver/Dialer/TLSEngine built on the standard
// library. The zero value is ready to use.
type Stdlib struct {
	Resolver *net.Resolver
	Dialer   *net.Dialer
}

var (
	_ Resolver  = Stdlib{}
	_ Dialer    = Stdlib{}
	_ TLSEngine = Stdlib{}
)

// NewStdlib returns a Stdlib collaborator set with sane defaults.
func NewStdlib() *Stdlib {
	return &Stdlib{
		Resolver: net.DefaultResolver,
		Dialer:   &net.Dialer{},
	}
}

// LookupAddr implements Resolver.
func (s Stdlib) LookupAddr(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	resolver := s.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ipaddrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(ipaddrs))
	for _, a := range ipaddrs {
		out = append(out, a.Unmap())
	}
	return out, nil
}

// DialContext implements Dialer.
func (s Stdlib) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := s.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	return d.DialContext(ctx, network, address)
}

// Client implements TLSEngine using crypto/tls.Client.
func (s Stdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}
