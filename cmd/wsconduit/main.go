// Package main is the entry point for wsconduit, the WebSocket tunnel
// server.
//
// Usage:
//
//	wsconduit -listen 0.0.0.0:8080 -token-prefix bearer. -jwt-secret ...
//	wsconduit -h
//
// Run with -h for the full flag list.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"wsconduit/internal/authtoken"
	"wsconduit/internal/config"
	"wsconduit/internal/tunnel"
	"wsconduit/pkg/certgen"
)

func main() {
	var (
		listen          = flag.String("listen", "0.0.0.0:8080", "bind address")
		tokenPrefix     = flag.String("token-prefix", "bearer.", "Sec-WebSocket-Protocol bearer token prefix")
		jwtSecret       = flag.String("jwt-secret", "", "HS256 secret for bearer token verification")
		jwtAudience     = flag.String("jwt-audience", "", "required JWT audience, empty to skip")
		jwtIssuer       = flag.String("jwt-issuer", "", "required JWT issuer, empty to skip")
		allowPrefixes   = flag.String("allow-prefixes", "", "comma-separated upgrade path prefixes, empty for unrestricted")
		allowDests      = flag.String("allow-destinations", "", "comma-separated host:port allow-list, empty for unrestricted")
		soMark          = flag.Int("so-mark", 0, "SO_MARK applied to forward-mode dial sockets (Linux only)")
		unmaskedFrames  = flag.Bool("unmasked-frames", false, "disable auto-masking on outbound websocket frames")
		tlsCertFile     = flag.String("tls-cert", "", "TLS certificate path; empty disables TLS")
		tlsKeyFile      = flag.String("tls-key", "", "TLS key path; empty disables TLS")
		tlsAutoGenerate = flag.Bool("tls-autogenerate", false, "generate a self-signed keypair at -tls-cert/-tls-key if missing")
	)
	flag.Parse()

	if *jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "wsconduit: -jwt-secret is required")
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsconduit: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	opts := []config.Option{config.WithLogger(logger)}
	if *soMark != 0 {
		opts = append(opts, config.WithSOMark(*soMark))
	}
	if *unmaskedFrames {
		opts = append(opts, config.WithUnmaskedFrames())
	}
	if *allowPrefixes != "" {
		opts = append(opts, config.WithAllowedPathPrefixes(splitNonEmpty(*allowPrefixes)...))
	}
	if *allowDests != "" {
		opts = append(opts, config.WithAllowedDestinations(splitNonEmpty(*allowDests)...))
	}

	var tlsAcceptor *tunnel.TLSAcceptor
	if *tlsCertFile != "" && *tlsKeyFile != "" {
		if *tlsAutoGenerate {
			bindHost, _, err := net.SplitHostPort(*listen)
			if err != nil {
				bindHost = *listen
			}
			if err := certgen.GenerateCert(*tlsCertFile, *tlsKeyFile, bindHost); err != nil {
				logger.Fatal("failed to generate self-signed certificate", zap.Error(err))
			}
		}
		opts = append(opts, config.WithTLS(*tlsCertFile, *tlsKeyFile))
		cfg := config.New(*listen, *tokenPrefix, opts...)
		tlsAcceptor, err = tunnel.NewTLSAcceptor(cfg.TLS, logger)
		if err != nil {
			logger.Fatal("failed to initialize tls acceptor", zap.Error(err))
		}
	}

	cfg := config.New(*listen, *tokenPrefix, opts...)

	verifier := authtoken.NewVerifier(authtoken.VerifierConfig{
		Method:   jwt.SigningMethodHS256,
		Key:      []byte(*jwtSecret),
		Audience: *jwtAudience,
		Issuer:   *jwtIssuer,
	})

	srv := tunnel.NewServer(cfg, verifier, tlsAcceptor)

	// Run the accept loop in its own goroutine so main can wait for a
	// shutdown signal, then tear down every registered reverse listener via
	// srv.Close() before exiting.
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("wsconduit starting", zap.String("listen", *listen), zap.Bool("tls", tlsAcceptor != nil))
		serveErr <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Fatal("server stopped", zap.Error(err))
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
		srv.Close()
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
