// Package transport provides the forward-dial and reverse-listen byte-stream
// factories the tunnel dispatcher composes: plain TCP, "connected" UDP, and
// a minimal reverse SOCKS5 acceptor. These are the low-level primitives
// spec.md names as external collaborators ("assumed available"); they are
// implemented here directly on net/net.Dialer since no library in the
// retrieval pack offers a ready-made async TCP/UDP/SOCKS5 primitive (see
// DESIGN.md).
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ForwardConnectTimeout is the connect deadline for forward-mode TCP dials
// (spec §4.3, §5).
const ForwardConnectTimeout = 10 * time.Second

// Resolver resolves DNS names for forward-mode dialing. *net.Resolver and
// config.Resolver both satisfy this; it is redeclared here rather than
// imported from internal/config to keep transport free of a dependency on
// the core's configuration package.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DialTCP connects to host:port, optionally applying SO_MARK to the
// outbound socket. host may be a DNS name or IP literal; when resolver is
// non-nil and host isn't already an IP literal, it is resolved via
// resolver.LookupHost before dialing the first returned address.
func DialTCP(ctx context.Context, host string, port uint16, soMark int, resolver Resolver) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, ForwardConnectTimeout)
	defer cancel()

	addr, err := resolveHost(ctx, resolver, host)
	if err != nil {
		return nil, fmt.Errorf("resolve tcp %s: %w", host, err)
	}

	d := &net.Dialer{}
	if soMark != 0 {
		d.Control = soMarkControl(soMark)
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s:%d: %w", host, port, err)
	}
	return conn, nil
}

// resolveHost looks host up via resolver, returning the first address.
// host is returned unchanged when it is already an IP literal or resolver
// is nil, so forward dials work with no resolver configured.
func resolveHost(ctx context.Context, resolver Resolver, host string) (string, error) {
	if resolver == nil || net.ParseIP(host) != nil {
		return host, nil
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses found for %s", host)
	}
	return addrs[0], nil
}

// soMarkControl returns a net.Dialer.Control function that sets SO_MARK on
// the raw socket before connect. Linux-only; the syscall is a no-op error on
// other platforms, which DialTCP callers surface as a dial error.
func soMarkControl(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

// ReverseConn pairs an accepted connection with the (host, port) it was
// accepted on, satisfying the Reverse-Listener Registry's generic item type.
type ReverseConn struct {
	Conn net.Conn
	Host string
	Port uint16
}

// ListenTCP binds host:port and returns a channel fed with each accepted
// connection, implementing the "lazy sequence of incoming sub-connections"
// the registry's background pump drains (spec §4.4). The channel is closed
// when the listener errors or ctx is canceled.
func ListenTCP(ctx context.Context, host string, port uint16) (<-chan ReverseConn, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s:%d: %w", host, port, err)
	}

	_, boundPortStr, _ := net.SplitHostPort(ln.Addr().String())
	var boundPort uint16
	fmt.Sscanf(boundPortStr, "%d", &boundPort)

	out := make(chan ReverseConn)
	go func() {
		defer close(out)
		defer ln.Close()
		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			select {
			case out <- ReverseConn{Conn: conn, Host: host, Port: boundPort}:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	return out, nil
}
