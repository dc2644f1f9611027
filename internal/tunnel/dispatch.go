package tunnel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"wsconduit/internal/authtoken"
	"wsconduit/internal/config"
	"wsconduit/internal/transport"
)

// ReadHalf is the read side of a dispatched tunnel's local stream.
type ReadHalf interface {
	io.Reader
	io.Closer
}

// WriteHalf is the write side of a dispatched tunnel's local stream. For
// protocols whose halves alias the same underlying object (UDP, SOCKS5,
// TCP), ReadHalf and WriteHalf may be the same value (spec §3, §9).
type WriteHalf interface {
	io.Writer
	io.Closer
}

// Tunnel is the ephemeral result of dispatch: the effective protocol, the
// resolved local endpoint, and the two stream halves to splice against the
// WebSocket (spec §3).
type Tunnel struct {
	Protocol authtoken.Protocol
	Host     string
	Port     uint16
	Read     ReadHalf
	Write    WriteHalf

	// Cookie is non-empty only for ReverseSOCKS5: base64 of
	// "https://{final_host}:{final_port}", the SOCKS5 client's negotiated
	// destination (spec §4.3, §4.7).
	Cookie string
}

// Registries bundles the three independent reverse-listener registries the
// dispatcher shares across all connections on one Server (spec §9: fields
// on a Server context, not process-wide singletons).
type Registries struct {
	TCP    *Registry[transport.ReverseConn]
	UDP    *Registry[transport.ReverseConn]
	SOCKS5 *Registry[transport.Socks5Conn]
}

// NewRegistries builds an empty set of the three registries.
func NewRegistries() *Registries {
	return &Registries{
		TCP:    NewRegistry[transport.ReverseConn](),
		UDP:    NewRegistry[transport.ReverseConn](),
		SOCKS5: NewRegistry[transport.Socks5Conn](),
	}
}

// Dispatch maps a verified TunnelRequest to one of the five local protocols
// and returns its byte-stream pair (spec §4.3). For the three reverse
// protocols, ctx governs the bound listener's lifetime for as long as it
// stays registered — callers must pass a context that outlives the
// individual request being dispatched (e.g. the Server's own lifetime
// context), never a context tied to one HTTP handler invocation, or the
// listener is torn down the moment that one request's handler returns
// (spec Invariant #1: all sessions sharing a key share one listener).
func Dispatch(ctx context.Context, req *authtoken.TunnelRequest, cfg *config.ServerConfig, regs *Registries) (*Tunnel, error) {
	switch req.Protocol {
	case authtoken.ForwardTCP:
		conn, err := transport.DialTCP(ctx, req.RemoteHost, req.RemotePort, cfg.SOMark, cfg.Resolver)
		if err != nil {
			return nil, fmt.Errorf("dispatch forward tcp: %w", err)
		}
		return &Tunnel{Protocol: req.Protocol, Host: req.RemoteHost, Port: req.RemotePort, Read: conn, Write: conn}, nil

	case authtoken.ForwardUDP:
		conn, err := transport.DialUDP(ctx, req.RemoteHost, req.RemotePort, req.Timeout, cfg.Resolver)
		if err != nil {
			return nil, fmt.Errorf("dispatch forward udp: %w", err)
		}
		return &Tunnel{Protocol: req.Protocol, Host: req.RemoteHost, Port: req.RemotePort, Read: conn, Write: conn}, nil

	case authtoken.ReverseTCP:
		item, err := regs.TCP.Acquire(req.RemoteHost, req.RemotePort, func() (<-chan transport.ReverseConn, error) {
			return transport.ListenTCP(ctx, req.RemoteHost, req.RemotePort)
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch reverse tcp: %w", err)
		}
		return &Tunnel{Protocol: req.Protocol, Host: item.Host, Port: item.Port, Read: item.Conn, Write: item.Conn}, nil

	case authtoken.ReverseUDP:
		item, err := regs.UDP.Acquire(req.RemoteHost, req.RemotePort, func() (<-chan transport.ReverseConn, error) {
			return transport.ListenUDP(ctx, req.RemoteHost, req.RemotePort, req.Timeout)
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch reverse udp: %w", err)
		}
		return &Tunnel{Protocol: req.Protocol, Host: item.Host, Port: item.Port, Read: item.Conn, Write: item.Conn}, nil

	case authtoken.ReverseSOCKS5:
		item, err := regs.SOCKS5.Acquire(req.RemoteHost, req.RemotePort, func() (<-chan transport.Socks5Conn, error) {
			ch, _, err := transport.ListenSOCKS5(ctx.Done(), req.RemoteHost, req.RemotePort)
			return ch, err
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch reverse socks5: %w", err)
		}
		cookie := base64.StdEncoding.EncodeToString(
			[]byte(fmt.Sprintf("https://%s:%d", item.FinalHost, item.FinalPort)))
		return &Tunnel{
			Protocol: req.Protocol,
			Host:     item.FinalHost,
			Port:     item.FinalPort,
			Read:     item.Conn,
			Write:    item.Conn,
			Cookie:   cookie,
		}, nil

	default:
		return nil, fmt.Errorf("dispatch: %w: unknown protocol %q", ErrInvalidUpgrade, req.Protocol)
	}
}
