package tunnel_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wsconduit/internal/config"
	"wsconduit/internal/tunnel"
	"wsconduit/pkg/certgen"
)

func TestTLSAcceptorReloadsOnCertChange(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, certgen.GenerateCert(certFile, keyFile, "127.0.0.1"))

	acc, err := tunnel.NewTLSAcceptor(&config.TLS{CertFile: certFile, KeyFile: keyFile}, zap.NewNop())
	require.NoError(t, err)

	first := acc.Config()
	require.NotNil(t, first)
	assert.Len(t, first.Certificates, 1)

	// Config() is stable across repeated calls with no on-disk change.
	assert.Same(t, first, acc.Config())

	// GenerateCert is a no-op once both files exist, so remove them first
	// to force a fresh keypair with advanced mtimes, then confirm the next
	// Config() call picks up the new material.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.Remove(certFile))
	require.NoError(t, os.Remove(keyFile))
	require.NoError(t, certgen.GenerateCert(certFile, keyFile, "127.0.0.1"))

	second := acc.Config()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
}
