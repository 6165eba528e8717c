// Package connfinder implements the connection-finder collaborator: for each call attempt it yields a codec bound to a usable
// connection, preferring reuse over a pool hit over a fresh dial.
//
// Grounded on bassosimone-nop's Dialer/ConnectFunc/TLSHandshaker pipeline
// for the dial+handshake shape, and on core/pools/connection_pool.go for
// the "publish what you built, but defer to a concurrent winner" pattern
// already present in that file's Get/Put bookkeeping.
package connfinder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/searchktools/fastclient/internal/addr"
	"github.com/searchktools/fastclient/internal/codec"
	"github.com/searchktools/fastclient/internal/pool"
)

// ErrNoRouteLeft is returned once every candidate route for an address has
// been tried and failed.
var ErrNoRouteLeft = errors.New("connfinder: no route left to try")

// Finder binds the connection pool to the dial/handshake collaborators
// and implements the §4.3 preference order.
type Finder struct {
	Pool *pool.ConnectionPool
}

// Result is what Find hands back to the caller: a live connection, a
// fresh per-exchange codec bound to it, and the route actually used.
type Result struct {
	Connection *pool.Connection
	Codec      codec.Codec
	Route      addr.Route
}

// attempt tracks per-call route state across retries so RetryAfterFailure
// can report whether another candidate remains.
type Attempt struct {
	routes []addr.Route
	tried  int
}

// RetryAfterFailure reports whether another route remains untried.
func (a *Attempt) RetryAfterFailure() bool {
	return a != nil && a.tried < len(a.routes)
}

func toPoolRoute(a addr.Address, proxyAddr string) pool.Route {
	return pool.Route{
		Host:      a.Host,
		Port:      a.Port,
		ProxyAddr: proxyAddr,
		IsTLS:     a.IsTLS(),
	}
}

// Find implements the four-step connection-finding preference order:
//  1. reuse the call's currently held connection if still eligible/healthy
//  2. a pool hit with no resolved routes (require_multiplexed=false)
//  3. resolve routes, then a pool hit with them (enables h2 coalescing)
//  4. dial a new connection over each candidate route in turn
//
// current may be nil. attempt carries cross-call route-retry state and
// is created on first use if nil.
func (f *Finder) Find(ctx context.Context, token *pool.CallToken, address addr.Address, current *pool.Connection, requireMultiplexed bool, attempt *Attempt) (*Result, *Attempt, error) {
	if current != nil {
		want := toPoolRoute(address, current.Route.ProxyAddr)
		if pool.Eligible(current, want, requireMultiplexed) && current.IsHealthy(socketReadable) {
			current.AddCall(token)
			return &Result{Connection: current, Codec: current.CodecFactory(), Route: addr.Route{Address: address, ProxyAddr: current.Route.ProxyAddr}}, attempt, nil
		}
	}

	if conn := f.Pool.Acquire(toPoolRoute(address, ""), token, requireMultiplexed, socketReadable); conn != nil {
		return &Result{Connection: conn, Codec: conn.CodecFactory(), Route: addr.Route{Address: address, ProxyAddr: conn.Route.ProxyAddr}}, attempt, nil
	}

	if attempt == nil {
		routes, err := resolveRoutes(ctx, address)
		if err != nil {
			return nil, attempt, fmt.Errorf("connfinder: resolve routes: %w", err)
		}
		attempt = &Attempt{routes: routes}
	}

	for _, route := range attempt.routes {
		if conn := f.Pool.Acquire(toPoolRoute(address, route.ProxyAddr), token, requireMultiplexed, socketReadable); conn != nil {
			return &Result{Connection: conn, Codec: conn.CodecFactory(), Route: route}, attempt, nil
		}
	}

	for attempt.tried < len(attempt.routes) {
		route := attempt.routes[attempt.tried]
		attempt.tried++

		conn, err := dial(ctx, route)
		if err != nil {
			continue
		}

		poolRoute := toPoolRoute(address, route.ProxyAddr)
		if conn.Multiplexed {
			if winner := f.Pool.Acquire(poolRoute, token, true, socketReadable); winner != nil {
				conn.Close()
				return &Result{Connection: winner, Codec: winner.CodecFactory(), Route: route}, attempt, nil
			}
		}

		conn.AddCall(token)
		f.Pool.Put(conn)
		return &Result{Connection: conn, Codec: conn.CodecFactory(), Route: route}, attempt, nil
	}

	return nil, attempt, ErrNoRouteLeft
}

// resolveRoutes performs proxy selection (if configured) and DNS
// resolution, producing one Route per resolved IP in preference order.
func resolveRoutes(ctx context.Context, address addr.Address) ([]addr.Route, error) {
	host := address.Host
	proxyAddr := ""
	if address.Proxy != nil {
		if p, ok := address.Proxy(address); ok {
			proxyAddr = p
		}
	}
	lookupHost := host
	if proxyAddr != "" {
		lookupHost = proxyAddr
	}

	resolver := address.Resolver
	ips, err := resolver.LookupAddr(ctx, hostOnly(lookupHost))
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("connfinder: no addresses for %s", lookupHost)
	}
	routes := make([]addr.Route, 0, len(ips))
	for _, ip := range ips {
		routes = append(routes, addr.Route{Address: address, ProxyAddr: proxyAddr, IP: ip})
	}
	return routes, nil
}

func hostOnly(hostport string) string {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}

// dial opens a socket over route, performs the TLS handshake if the
// address requires one, negotiates ALPN, and returns a pool Connection
// wrapping the appropriate Codec factory.
func dial(ctx context.Context, route addr.Route) (*pool.Connection, error) {
	address := route.Address
	rawConn, err := address.Dialer.DialContext(ctx, "tcp", route.AddrPort().String())
	if err != nil {
		return nil, fmt.Errorf("connfinder: dial %s: %w", route, err)
	}

	if !address.IsTLS() {
		factory := func() codec.Codec { return codec.NewHTTP1Codec(rawConn) }
		return pool.NewConnection(toPoolRoute(address, route.ProxyAddr), rawConn, factory, "http/1.1", false), nil
	}

	cfg := address.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = address.Host
	}
	if len(cfg.NextProtos) == 0 && len(address.Protocols) > 0 {
		cfg.NextProtos = address.Protocols
	}

	tlsConn := address.TLSEngine.Client(rawConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("connfinder: tls handshake %s: %w", route, err)
	}
	state := tlsConn.ConnectionState()
	if address.HostnameVerifier != nil && !address.HostnameVerifier(address.Host, state) {
		tlsConn.Close()
		return nil, fmt.Errorf("connfinder: hostname verification failed for %s", address.Host)
	}
	if address.CertificatePinner != nil {
		if err := address.CertificatePinner(address.Host, state); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connfinder: certificate pinning failed for %s: %w", address.Host, err)
		}
	}

	if state.NegotiatedProtocol == "h2" {
		h2conn, err := codec.NewHTTP2Connection(tlsConn)
		if err != nil {
			tlsConn.Close()
			return nil, err
		}
		conn := pool.NewConnection(toPoolRoute(address, route.ProxyAddr), tlsConn, h2conn.NewCodec, "h2", true)
		conn.Handshake = &state
		return conn, nil
	}

	factory := func() codec.Codec { return codec.NewHTTP1Codec(tlsConn) }
	conn := pool.NewConnection(toPoolRoute(address, route.ProxyAddr), tlsConn, factory, "http/1.1", false)
	conn.Handshake = &state
	return conn, nil
}
