// Package tunnel implements the tunnel core: upgrade admission, the
// five-protocol dispatcher, the reverse-listener registries, the splice
// engine, and the TLS acceptor. See internal/transport for the underlying
// byte-stream factories and internal/authtoken for token verification.
package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"wsconduit/internal/authtoken"
	"wsconduit/internal/config"
)

const respInvalidUpgrade = "Invalid upgrade request"

// Server owns one tunnel core instance: its configuration, token verifier,
// reverse-listener registries, and optional TLS acceptor. These were
// process-wide singletons in the design this was distilled from; here they
// are fields on a Server value constructed at startup, giving each instance
// its own isolated state (spec §9).
type Server struct {
	cfg      *config.ServerConfig
	verifier *authtoken.Verifier
	regs     *Registries
	tlsAcc   *TLSAcceptor
	logger   *zap.Logger
	tracer   trace.Tracer

	// lifectx governs every reverse listener's lifetime. It must never be
	// r.Context() from a single upgrade request: that context is canceled
	// the instant handleUpgrade returns, which happens right after the
	// splice goroutine is spawned — tearing down a shared reverse listener
	// moments after its first session and breaking Invariant #1 (all
	// sessions sharing a key share one listener).
	lifectx    context.Context
	lifecancel context.CancelFunc

	activeTunnels int64
}

// NewServer builds a Server ready for ListenAndServe. tlsAcceptor is nil for
// a plaintext listener.
func NewServer(cfg *config.ServerConfig, verifier *authtoken.Verifier, tlsAcceptor *TLSAcceptor) *Server {
	lifectx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		verifier:   verifier,
		regs:       NewRegistries(),
		tlsAcc:     tlsAcceptor,
		logger:     cfg.Logger,
		tracer:     otel.Tracer("wsconduit/internal/tunnel"),
		lifectx:    lifectx,
		lifecancel: cancel,
	}
}

// ActiveTunnels returns the number of tunnels currently being spliced.
func (s *Server) ActiveTunnels() int64 { return atomic.LoadInt64(&s.activeTunnels) }

// Close tears down every reverse listener still registered on s. TCP and
// SOCKS5 connections already accepted and mid-splice stay open; reverse UDP
// sessions share their listener's socket and end with it.
func (s *Server) Close() { s.lifecancel() }

// ListenAndServe binds cfg.BindAddr and serves upgrade requests until the
// listener errors (spec §4.7: the accept loop). Errors accepting a single
// connection never terminate the loop; only a listener-level failure
// returns from this call.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.BindAddr, err)
	}
	return s.serve(tcpNoDelayListener{ln})
}

func (s *Server) serve(ln net.Listener) error {
	httpSrv := &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}

	if s.tlsAcc == nil {
		return httpSrv.Serve(ln)
	}

	tlsLn := tls.NewListener(ln, &tls.Config{
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return s.tlsAcc.Config(), nil
		},
	})
	return httpSrv.Serve(tlsLn)
}

// tcpNoDelayListener sets TCP_NODELAY on every accepted socket before the
// TLS handshake or HTTP parsing begins (spec §4.7, §5).
type tcpNoDelayListener struct{ net.Listener }

func (l tcpNoDelayListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}

// handleUpgrade is the upgrade handler of spec §4.7: validate, verify,
// dispatch, upgrade, and spawn the splice.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "tunnel.upgrade",
		trace.WithAttributes(attribute.String("peer", r.RemoteAddr)))
	defer span.End()

	if !isWebSocketUpgrade(r) {
		s.reject(w, span, "not a websocket upgrade request")
		return
	}

	forwardedFor := ExtractForwardedFor(r)
	span.SetAttributes(attribute.String("forwarded_for", forwardedFor))

	if err := ValidatePath(r.URL.Path, s.cfg.AllowedPathPrefixes); err != nil {
		s.reject(w, span, "path validation failed")
		return
	}

	req, err := ExtractToken(r, s.cfg.TokenHeaderPrefix, s.verifier)
	if err != nil {
		s.reject(w, span, "token validation failed")
		return
	}
	span.SetAttributes(
		attribute.String("id", req.ID),
		attribute.String("remote", fmt.Sprintf("%s:%d", req.RemoteHost, req.RemotePort)),
	)

	if err := ValidateDestination(req, s.cfg.AllowedDestinations); err != nil {
		s.reject(w, span, "destination not allowed")
		return
	}

	tun, err := Dispatch(s.lifectx, req, s.cfg, s.regs)
	if err != nil {
		s.logger.Warn("tunnel dispatch failed", zap.String("id", req.ID), zap.Error(err))
		s.reject(w, span, "dispatch failed")
		return
	}

	respHeader := http.Header{}
	respHeader.Set("Sec-WebSocket-Protocol", "v1")
	if tun.Cookie != "" {
		respHeader.Set("Cookie", tun.Cookie)
	}

	wsc, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("id", req.ID), zap.Error(err))
		tun.Read.Close()
		tun.Write.Close()
		return
	}

	atomic.AddInt64(&s.activeTunnels, 1)
	go func() {
		defer atomic.AddInt64(&s.activeTunnels, -1)
		_, spliceSpan := s.tracer.Start(ctx, "tunnel.splice")
		defer spliceSpan.End()
		Splice(newWSConn(wsc, s.cfg.UnmaskedFrames), tun)
	}()
}

// reject emits the flat, predicate-agnostic 400 response spec §4.1 and §7
// require: the reason is logged and recorded on the span, never returned to
// the client.
func (s *Server) reject(w http.ResponseWriter, span trace.Span, reason string) {
	span.SetAttributes(attribute.String("reject_reason", reason))
	s.logger.Warn("upgrade rejected", zap.String("reason", reason))
	http.Error(w, respInvalidUpgrade, http.StatusBadRequest)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
