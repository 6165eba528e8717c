// Package addr holds the Address/Route value types shared between the
// root package's public API and the internal connection finder, kept in
// their own package so the finder does not need to import the root
// package (which itself imports the finder).
package addr

import (
	"crypto/tls"
	"fmt"
	"net/netip"

	"github.com/searchktools/fastclient/internal/dialer"
)

// ConnectionSpec advertises a set of acceptable TLS parameters (cipher
// suites, minimum version) for a connection, mirroring OkHttp's
// ConnectionSpec. Plaintext traffic uses a single sentinel spec with TLS
// set to false.
type ConnectionSpec struct {
	TLS               bool
	MinVersion        uint16
	MaxVersion        uint16
	CipherSuites      []uint16
	ALPNProtocols     []string // e.g. "h2", "http/1.1"
	AllowsCompression bool
}

// PlaintextConnectionSpec is used for cleartext (http://) addresses.
var PlaintextConnectionSpec = ConnectionSpec{TLS: false}

// ModernTLSConnectionSpec is the default spec used for https:// addresses.
var ModernTLSConnectionSpec = ConnectionSpec{
	TLS:           true,
	MinVersion:    tls.VersionTLS12,
	ALPNProtocols: []string{"h2", "http/1.1"},
}

// Address is the tuple that identifies a server endpoint and the
// transport configuration used to reach it. Equal compares only part of
// it (see Equal); the connection pool matches connections by its own
// pool.Route key, not by Equal.
type Address struct {
	Host string
	Port int

	Resolver dialer.Resolver
	Dialer   dialer.Dialer

	TLSConfig         *tls.Config
	TLSEngine         dialer.TLSEngine
	HostnameVerifier  func(hostname string, state tls.ConnectionState) bool
	CertificatePinner func(hostname string, state tls.ConnectionState) error

	ProxyAuthenticator func(proxyAddr string) (user, pass string, ok bool)
	Proxy              Proxy

	Protocols       []string // advertised ALPN protocols, most-preferred first
	ConnectionSpecs []ConnectionSpec
}

// Proxy selects a proxy (or none) for a given Address. A nil Proxy field
// means "direct connection, no proxy" -- the zero value of Address
// already behaves this way because a nil func is never called.
type Proxy func(addr Address) (proxyAddr string, ok bool)

// IsTLS reports whether this address requires a TLS handshake.
func (a Address) IsTLS() bool {
	return a.TLSConfig != nil
}

// Equal reports whether a and other have the same host, port, TLS-ness,
// Resolver, Dialer, TLSEngine and advertised Protocols. It does not
// compare the TLSConfig contents, HostnameVerifier, CertificatePinner,
// ProxyAuthenticator, Proxy or ConnectionSpecs.
//
// Dialer/Resolver/TLSEngine are compared by identity (interface values
// holding the same concrete pointer), matching the source model where
// these collaborators are configured once per Client and shared by every
// Address it produces.
func (a Address) Equal(other Address) bool {
	if a.Host != other.Host || a.Port != other.Port {
		return false
	}
	if a.IsTLS() != other.IsTLS() {
		return false
	}
	if a.Resolver != other.Resolver {
		return false
	}
	if a.Dialer != other.Dialer {
		return false
	}
	if a.TLSEngine != other.TLSEngine {
		return false
	}
	if len(a.Protocols) != len(other.Protocols) {
		return false
	}
	for i := range a.Protocols {
		if a.Protocols[i] != other.Protocols[i] {
			return false
		}
	}
	return true
}

// String returns "host:port" for logging.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Route is a concrete, resolved path to an Address: the address itself,
// the chosen proxy (if any), and the specific IP picked from DNS
// resolution.
type Route struct {
	Address   Address
	ProxyAddr string // "" if direct
	IP        netip.Addr
}

// AddrPort returns the resolved (ip, port) pair to dial.
func (r Route) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(r.IP, uint16(r.Address.Port))
}

// String returns a human-readable description of the route for logging.
func (r Route) String() string {
	if r.ProxyAddr != "" {
		return fmt.Sprintf("%s via %s", r.AddrPort(), r.ProxyAddr)
	}
	return r.AddrPort().String()
}
