package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsconduit/internal/config"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg := config.New("0.0.0.0:8080", "bearer.")

	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	assert.Equal(t, "bearer.", cfg.TokenHeaderPrefix)
	assert.Nil(t, cfg.TLS)
	assert.Nil(t, cfg.AllowedPathPrefixes)
	assert.Nil(t, cfg.AllowedDestinations)
	assert.NotNil(t, cfg.Resolver)
	require.NotNil(t, cfg.Logger)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := config.New("127.0.0.1:0", "bearer.",
		config.WithTLS("cert.pem", "key.pem"),
		config.WithAllowedPathPrefixes("v1", "v2"),
		config.WithAllowedDestinations("a.example:443"),
		config.WithSOMark(42),
		config.WithUnmaskedFrames(),
	)

	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "cert.pem", cfg.TLS.CertFile)
	assert.Equal(t, "key.pem", cfg.TLS.KeyFile)

	require.NotNil(t, cfg.AllowedPathPrefixes)
	assert.Equal(t, []string{"v1", "v2"}, *cfg.AllowedPathPrefixes)

	require.NotNil(t, cfg.AllowedDestinations)
	assert.Equal(t, []string{"a.example:443"}, *cfg.AllowedDestinations)

	assert.Equal(t, 42, cfg.SOMark)
	assert.True(t, cfg.UnmaskedFrames)
}

func TestWithAllowedPathPrefixesEmptyRejectsEverything(t *testing.T) {
	cfg := config.New("127.0.0.1:0", "bearer.", config.WithAllowedPathPrefixes())
	require.NotNil(t, cfg.AllowedPathPrefixes)
	assert.Empty(t, *cfg.AllowedPathPrefixes)
}
