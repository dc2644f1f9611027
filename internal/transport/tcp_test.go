package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsconduit/internal/transport"
)

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	conn, err := transport.DialTCP(context.Background(), host, uint16(port), 0, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestDialTCPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := net.LookupPort("tcp", portStr)
	ln.Close()

	_, err = transport.DialTCP(context.Background(), "127.0.0.1", uint16(port), 0, nil)
	assert.Error(t, err)
}

func TestListenTCPAcceptsConnections(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(probe.Addr().String())
	port, _ := net.LookupPort("tcp", portStr)
	probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := transport.ListenTCP(ctx, "127.0.0.1", uint16(port))
	require.NoError(t, err)

	addr := net.JoinHostPort("127.0.0.1", portStr)
	var dialed net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dialed, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer dialed.Close()

	rconn := <-ch
	defer rconn.Conn.Close()
	assert.Equal(t, uint16(port), rconn.Port)
	assert.Equal(t, "127.0.0.1", rconn.Host)
}

// mockResolver implements transport.Resolver for assertions that a
// resolver was (or wasn't) consulted, without touching real DNS.
type mockResolver struct {
	addrs map[string][]string
	calls *[]string
}

func (m mockResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, host)
	}
	addrs, ok := m.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func TestDialTCPResolvesViaResolver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	var calls []string
	resolver := mockResolver{addrs: map[string][]string{"alias.example": {"127.0.0.1"}}, calls: &calls}

	conn, err := transport.DialTCP(context.Background(), "alias.example", uint16(port), 0, resolver)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{"alias.example"}, calls)
}

func TestDialTCPSkipsResolverForIPLiteral(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	var calls []string
	resolver := mockResolver{calls: &calls}

	conn, err := transport.DialTCP(context.Background(), "127.0.0.1", uint16(port), 0, resolver)
	require.NoError(t, err)
	defer conn.Close()

	assert.Empty(t, calls, "an IP literal must never be handed to the resolver")
}

func TestListenTCPClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := transport.ListenTCP(ctx, "127.0.0.1", 0)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel should close once context is canceled")
	}
}
