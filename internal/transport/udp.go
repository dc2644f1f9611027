package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultUDPSessionTimeout is applied when a claim's timeout is zero
// (spec §4.3: "claims.timeout or 10 s").
const DefaultUDPSessionTimeout = 10 * time.Second

// MaxDatagramSize is the largest UDP payload ListenUDP/DialUDP will ever
// hand a caller in one Read: the practical ceiling for a UDP datagram over
// IPv4/IPv6. Any buffer the splice layer uses to relay a UDP session must be
// at least this large, or a full-size datagram truncates silently.
const MaxDatagramSize = 65535

// DialUDP opens a "connected" UDP stream toward host:port. The returned
// net.Conn is used as both halves of the tunnel (spec §3: "UDP uses one
// duplex object split into two references") since *net.UDPConn already
// implements bidirectional net.Conn. When resolver is non-nil and host
// isn't already an IP literal, it is resolved via resolver.LookupHost
// before dialing the first returned address.
func DialUDP(ctx context.Context, host string, port uint16, timeout time.Duration, resolver Resolver) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultUDPSessionTimeout
	}
	addr, err := resolveHost(ctx, resolver, host)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", host, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s:%d: %w", host, port, err)
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return &udpIdleConn{UDPConn: conn, timeout: timeout}, nil
}

// udpIdleConn resets its read/write deadline on every successful I/O so the
// session timeout means "idle for this long", matching the forward-UDP
// session timeout semantics rather than a hard connection lifetime.
type udpIdleConn struct {
	*net.UDPConn
	timeout time.Duration
}

func (c *udpIdleConn) Read(b []byte) (int, error) {
	n, err := c.UDPConn.Read(b)
	if err == nil {
		c.UDPConn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}

func (c *udpIdleConn) Write(b []byte) (int, error) {
	n, err := c.UDPConn.Write(b)
	if err == nil {
		c.UDPConn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}

// udpSession is one demultiplexed peer of a reverse UDP listener: it reads
// from a per-peer channel fed by the shared socket's receive loop and writes
// directly to that peer via WriteToUDP.
type udpSession struct {
	shared   *net.UDPConn
	remote   *net.UDPAddr
	in       chan []byte
	activity chan struct{}
	closeCh  chan struct{}
	closed   bool
	mu       sync.Mutex

	pending []byte
}

func (s *udpSession) Read(b []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(b, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	select {
	case data, ok := <-s.in:
		if !ok {
			return 0, fmt.Errorf("udp session closed")
		}
		n := copy(b, data)
		if n < len(data) {
			s.pending = data[n:]
		}
		return n, nil
	case <-s.closeCh:
		return 0, fmt.Errorf("udp session closed")
	}
}

func (s *udpSession) Write(b []byte) (int, error) {
	return s.shared.WriteToUDP(b, s.remote)
}

func (s *udpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

// ListenUDP binds a UDP socket at host:port and demultiplexes inbound
// datagrams by source address, handing out one udpSession per distinct peer
// as the reverse-listener registry's "lazy sequence of incoming
// sub-connections" (spec §4.3, ReverseUDP). Idle peers are evicted after
// timeout (or DefaultUDPSessionTimeout).
func ListenUDP(ctx context.Context, host string, port uint16, timeout time.Duration) (<-chan ReverseConn, error) {
	if timeout <= 0 {
		timeout = DefaultUDPSessionTimeout
	}
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s:%d: %w", host, port, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", host, port, err)
	}

	_, boundPortStr, _ := net.SplitHostPort(conn.LocalAddr().String())
	var boundPort uint16
	fmt.Sscanf(boundPortStr, "%d", &boundPort)

	out := make(chan ReverseConn)
	sessions := make(map[string]*udpSession)
	var mu sync.Mutex

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		buf := make([]byte, MaxDatagramSize)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				mu.Lock()
				for _, s := range sessions {
					s.Close()
				}
				mu.Unlock()
				return
			}
			data := append([]byte(nil), buf[:n]...)

			mu.Lock()
			sess, ok := sessions[raddr.String()]
			if !ok {
				sess = &udpSession{
					shared:   conn,
					remote:   raddr,
					in:       make(chan []byte, 16),
					activity: make(chan struct{}, 1),
					closeCh:  make(chan struct{}),
				}
				sessions[raddr.String()] = sess
				mu.Unlock()

				go evictOnIdle(sess, timeout, func() {
					mu.Lock()
					delete(sessions, raddr.String())
					mu.Unlock()
				})

				select {
				case out <- ReverseConn{Conn: sessionConn{sess}, Host: host, Port: boundPort}:
				case <-ctx.Done():
					sess.Close()
					return
				}
			} else {
				mu.Unlock()
			}

			select {
			case sess.in <- data:
			default:
			}
			select {
			case sess.activity <- struct{}{}:
			default:
			}
		}
	}()

	return out, nil
}

// evictOnIdle watches a session's activity signal (distinct from its data
// channel, so it never competes with Read for a queued datagram) and closes
// the session once timeout elapses without traffic.
func evictOnIdle(s *udpSession, timeout time.Duration, onEvict func()) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-timer.C:
			onEvict()
			s.Close()
			return
		case <-s.closeCh:
			return
		}
	}
}

// sessionConn adapts *udpSession to net.Conn for callers that need the full
// interface (SetDeadline etc. are no-ops since the registry/splice layer
// drives lifetime via Close).
type sessionConn struct{ *udpSession }

func (sessionConn) LocalAddr() net.Addr                { return nil }
func (c sessionConn) RemoteAddr() net.Addr              { return c.remote }
func (sessionConn) SetDeadline(t time.Time) error       { return nil }
func (sessionConn) SetReadDeadline(t time.Time) error   { return nil }
func (sessionConn) SetWriteDeadline(t time.Time) error  { return nil }
