package tunnel

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"wsconduit/internal/config"
)

// TLSAcceptor holds the current TLS server config and reloads the keypair
// from disk when its mtime changes, serving ALPN "http/1.1" (spec §4.6).
// The acceptor handle is swapped atomically via atomic.Pointer so concurrent
// accepts observe either the old or the new config, never a torn one
// (spec §5).
type TLSAcceptor struct {
	certFile, keyFile string
	logger            *zap.Logger

	current atomic.Pointer[tls.Config]

	mu          sync.Mutex
	certModTime int64
	keyModTime  int64
}

// NewTLSAcceptor builds a TLSAcceptor from cfg.TLS by loading the keypair at
// the configured paths. It returns an error if they cannot be loaded; it
// does not create missing files (see certgen.GenerateCert for that).
func NewTLSAcceptor(tlsCfg *config.TLS, logger *zap.Logger) (*TLSAcceptor, error) {
	a := &TLSAcceptor{certFile: tlsCfg.CertFile, keyFile: tlsCfg.KeyFile, logger: logger}
	if err := a.reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// shouldReload reports whether the cert or key file's mtime has advanced
// since the last successful load (spec §4.6: "an abstract predicate
// should_reload() that may check file mtimes").
func (a *TLSAcceptor) shouldReload() bool {
	certInfo, err := os.Stat(a.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(a.keyFile)
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return certInfo.ModTime().UnixNano() != a.certModTime || keyInfo.ModTime().UnixNano() != a.keyModTime
}

func (a *TLSAcceptor) reload() error {
	cert, err := tls.LoadX509KeyPair(a.certFile, a.keyFile)
	if err != nil {
		return fmt.Errorf("load tls keypair: %w", err)
	}

	certInfo, err1 := os.Stat(a.certFile)
	keyInfo, err2 := os.Stat(a.keyFile)

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	a.current.Store(cfg)

	a.mu.Lock()
	if err1 == nil {
		a.certModTime = certInfo.ModTime().UnixNano()
	}
	if err2 == nil {
		a.keyModTime = keyInfo.ModTime().UnixNano()
	}
	a.mu.Unlock()

	return nil
}

// Config returns a *tls.Config snapshot for one connection, reloading from
// disk first if shouldReload reports a change. Reload failures are logged
// and the prior acceptor is retained (spec §4.6, §7).
func (a *TLSAcceptor) Config() *tls.Config {
	if a.shouldReload() {
		if err := a.reload(); err != nil {
			a.logger.Error("tls certificate reload failed, retaining prior acceptor", zap.Error(err))
		}
	}
	return a.current.Load()
}
