// Package fastclient implements the core of an HTTP/1.1 and HTTP/2
// client: an interceptor chain, a shared connection pool, call
// lifecycle/cancellation, and a conditional-cache interceptor, following
// the layering OkHttp popularized.
package fastclient

import (
	"crypto/tls"
	"net/http/cookiejar"
	"time"

	"github.com/searchktools/fastclient/internal/addr"
	"github.com/searchktools/fastclient/internal/cache"
	"github.com/searchktools/fastclient/internal/connfinder"
	"github.com/searchktools/fastclient/internal/dialer"
	"github.com/searchktools/fastclient/internal/dispatch"
	"github.com/searchktools/fastclient/internal/eventlog"
	"github.com/searchktools/fastclient/internal/pool"
	"github.com/sirupsen/logrus"
)

// Client is the entry point: a configured interceptor stack, connection
// pool, and dispatcher shared by every Call it creates. Build one with
// New and the With* options; a Client is safe for concurrent use and is
// meant to be constructed once and reused, exactly like OkHttpClient.
type Client struct {
	interceptors []Interceptor

	pool       *pool.ConnectionPool
	dispatcher *dispatch.Dispatcher
	finder     *connfinder.Finder
	resolver   dialer.Resolver
	dial       dialer.Dialer
	tlsEngine  dialer.TLSEngine
	tlsConfig  *tls.Config
	proxy      addr.Proxy

	cacheStore cache.Store

	listener EventListener
	logger   *eventlog.Logger

	cookieJar *cookiejar.Jar

	callTimeout    time.Duration
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	maxRequests        int
	maxRequestsPerHost int
	maxIdleConnections int
	keepAlive          time.Duration

	userInterceptors    []Interceptor
	networkInterceptors []Interceptor
}

// Option configures a Client, following the functional-options shape
// rpc/client.Option establishes for this codebase's constructors.
type Option func(*Client)

// WithConnectTimeout sets the per-attempt TCP/TLS connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithReadTimeout sets the per-attempt socket read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithWriteTimeout sets the per-attempt socket write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

// WithCallTimeout bounds a call's entire lifetime (all attempts,
// redirects, and retries combined); 0 disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithMaxIdleConnections bounds how many idle connections the pool keeps
// warm for reuse.
func WithMaxIdleConnections(n int) Option {
	return func(c *Client) { c.maxIdleConnections = n }
}

// WithKeepAlive sets how long an idle connection is kept before eviction.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) { c.keepAlive = d }
}

// WithMaxRequests bounds total concurrent calls across all hosts.
func WithMaxRequests(n int) Option {
	return func(c *Client) { c.maxRequests = n }
}

// WithMaxRequestsPerHost bounds concurrent calls to a single host.
func WithMaxRequestsPerHost(n int) Option {
	return func(c *Client) { c.maxRequestsPerHost = n }
}

// WithEventListener replaces the default no-op EventListener.
func WithEventListener(l EventListener) Option {
	return func(c *Client) { c.listener = l }
}

// WithLogging installs the logrus-backed default EventListener at the
// given level, wiring internal/eventlog as this client's structured-log
// sink.
func WithLogging(level logrus.Level) Option {
	return func(c *Client) {
		c.logger = eventlog.New(level)
		c.listener = newLoggingEventListener(c.logger)
	}
}

// WithProxy installs a proxy selector consulted per Address.
func WithProxy(p addr.Proxy) Option {
	return func(c *Client) { c.proxy = p }
}

// WithTLSConfig sets the *tls.Config template cloned for every TLS
// Address this client dials.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithCookieJar enables automatic cookie storage/replay, consulted by
// the header-bridge interceptor.
func WithCookieJar(jar *cookiejar.Jar) Option {
	return func(c *Client) { c.cookieJar = jar }
}

// WithCacheStore enables the cache interceptor backed by store; without
// this option caching is disabled and the cache interceptor is a no-op.
func WithCacheStore(store cache.Store) Option {
	return func(c *Client) { c.cacheStore = store }
}

// WithInterceptor appends a user-application interceptor, run first in
// the stack.
func WithInterceptor(i Interceptor) Option {
	return func(c *Client) { c.userInterceptors = append(c.userInterceptors, i) }
}

// WithNetworkInterceptor appends a network interceptor, run just before
// the terminal CallServerStage and skipped entirely for WebSocket calls.
func WithNetworkInterceptor(i Interceptor) Option {
	return func(c *Client) { c.networkInterceptors = append(c.networkInterceptors, i) }
}

// New builds a Client with the given options applied over sane defaults
// (a stdlib dialer/resolver/TLS engine, a 64/5 dispatcher, a 5-entry
// idle pool with a 5-minute keep-alive, no cache, no event listener).
func New(opts ...Option) *Client {
	std := dialer.NewStdlib()
	c := &Client{
		resolver:           std,
		dial:               std,
		tlsEngine:          std,
		maxRequests:        64,
		maxRequestsPerHost: 5,
		listener:           NopEventListener{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectTimeout == 0 {
		c.connectTimeout = 10 * time.Second
	}
	if c.readTimeout == 0 {
		c.readTimeout = 30 * time.Second
	}
	if c.writeTimeout == 0 {
		c.writeTimeout = 30 * time.Second
	}
	c.pool = pool.New(pool.Config{MaxIdleConnections: c.maxIdleConnections, KeepAlive: c.keepAlive})
	c.dispatcher = dispatch.NewDispatcher(c.maxRequests, c.maxRequestsPerHost, 0)
	c.finder = &connfinder.Finder{Pool: c.pool}
	c.interceptors = buildInterceptorStack(c)
	return c
}

// Close shuts down the connection pool's background cleanup goroutine and
// the dispatcher's worker pool. A Client is normally built once and kept
// for the process lifetime; Close exists for tests and short-lived
// Clients that want a clean shutdown.
func (c *Client) Close() {
	c.pool.Close()
	c.dispatcher.Close()
}

// eventListener returns the configured EventListener, defaulting to a
// no-op.
func (c *Client) eventListener() EventListener {
	if c.listener == nil {
		return NopEventListener{}
	}
	return c.listener
}

// NewCall creates a Call for req bound to this client. The call has not
// yet run; the caller must invoke Execute or Enqueue exactly once.
func (c *Client) NewCall(req *Request) Call {
	return newRealCall(c, req)
}

// buildAddress resolves the collaborators (resolver/dialer/TLS engine,
// proxy, connection specs) a Request's URL maps to, honoring any
// per-client overrides installed via options.
func (c *Client) buildAddress(req *Request) addr.Address {
	a := addr.Address{
		Host:     req.URL.Hostname(),
		Port:     portFor(req),
		Resolver: c.resolver,
		Dialer:   c.dial,
		Proxy:    c.proxy,
	}
	if req.URL.Scheme == "https" {
		cfg := c.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		a.TLSConfig = cfg
		a.TLSEngine = c.tlsEngine
		a.Protocols = []string{"h2", "http/1.1"}
	}
	return a
}

func portFor(req *Request) int {
	if p := req.URL.Port(); p != "" {
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return defaultPort(req)
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return defaultPort(req)
}

func defaultPort(req *Request) int {
	if req.URL.Scheme == "https" {
		return 443
	}
	return 80
}
