// Package config defines the server-wide configuration consumed by the
// tunnel core. Argument parsing and the on-disk/env representation of these
// values are external collaborators (see cmd/wsconduit); this package only
// describes the shape the core needs.
package config

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// Resolver resolves DNS names to addresses for forward-mode dialing. The
// standard *net.Resolver satisfies this interface; tests substitute a mock
// to assert that disallowed destinations never trigger a lookup.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// TLS holds the certificate material for the accept loop's TLS acceptor.
// CertFile/KeyFile are re-read whenever the reloader reports a change (see
// internal/tunnel.TLSAcceptor).
type TLS struct {
	CertFile string
	KeyFile  string
}

// ServerConfig is the immutable, shared configuration for one tunnel server
// instance. It is built once at startup and handed to the accept loop by
// reference; nothing in the core mutates it.
type ServerConfig struct {
	// BindAddr is the listen address, e.g. "0.0.0.0:8080".
	BindAddr string

	// TLS is nil for a plaintext listener.
	TLS *TLS

	// AllowedPathPrefixes restricts the upgrade path to "/<prefix>/events".
	// nil means unrestricted (only the "/events" suffix is enforced);
	// a non-nil empty slice rejects every upgrade.
	AllowedPathPrefixes *[]string

	// AllowedDestinations restricts claims to "host:port" strings listed
	// here verbatim. nil means unrestricted.
	AllowedDestinations *[]string

	// SOMark is applied via SO_MARK to forward-mode dial sockets when
	// non-zero. Linux only; ignored elsewhere.
	SOMark int

	// Resolver looks up forward-mode destinations. Defaults to
	// net.DefaultResolver.
	Resolver Resolver

	// UnmaskedFrames disables client-style auto-masking on outbound
	// WebSocket frames when true (see internal/tunnel/websocket.go).
	UnmaskedFrames bool

	// TokenHeaderPrefix is the Sec-WebSocket-Protocol sub-value prefix that
	// precedes the bearer token, e.g. "bearer.".
	TokenHeaderPrefix string

	Logger *zap.Logger
}

// Option mutates a ServerConfig being built by New.
type Option func(*ServerConfig)

// WithTLS configures TLS termination with the given certificate and key
// paths.
func WithTLS(certFile, keyFile string) Option {
	return func(c *ServerConfig) { c.TLS = &TLS{CertFile: certFile, KeyFile: keyFile} }
}

// WithAllowedPathPrefixes restricts accepted upgrade paths to the given
// prefixes. Passing no prefixes rejects every upgrade.
func WithAllowedPathPrefixes(prefixes ...string) Option {
	return func(c *ServerConfig) {
		p := append([]string{}, prefixes...)
		c.AllowedPathPrefixes = &p
	}
}

// WithAllowedDestinations restricts claims to the given "host:port" strings.
func WithAllowedDestinations(dests ...string) Option {
	return func(c *ServerConfig) {
		d := append([]string{}, dests...)
		c.AllowedDestinations = &d
	}
}

// WithSOMark sets the SO_MARK applied to forward-mode dial sockets.
func WithSOMark(mark int) Option {
	return func(c *ServerConfig) { c.SOMark = mark }
}

// WithResolver overrides the default DNS resolver.
func WithResolver(r Resolver) Option {
	return func(c *ServerConfig) { c.Resolver = r }
}

// WithUnmaskedFrames disables auto-masking on outbound WebSocket frames.
func WithUnmaskedFrames() Option {
	return func(c *ServerConfig) { c.UnmaskedFrames = true }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *ServerConfig) { c.Logger = l }
}

// New builds a ServerConfig for bindAddr with the given options applied.
func New(bindAddr, tokenHeaderPrefix string, opts ...Option) *ServerConfig {
	c := &ServerConfig{
		BindAddr:          bindAddr,
		Resolver:          net.DefaultResolver,
		TokenHeaderPrefix: tokenHeaderPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
