// Package authtoken implements the Token Verifier: it decodes and
// cryptographically validates the bearer token carried in the WebSocket
// upgrade request into a TunnelRequest. The signing scheme itself is
// external configuration (algorithm, key, audience, issuer); this package
// only consumes it.
package authtoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Protocol identifies which of the five local transports a TunnelRequest
// selects. It is a plain string tag with no per-variant payload: the UDP
// session timeout travels in the separate optional Claims.TimeoutMS field
// (TunnelRequest.Timeout), which only the two UDP variants read.
type Protocol string

const (
	ForwardTCP    Protocol = "Tcp"
	ForwardUDP    Protocol = "Udp"
	ReverseTCP    Protocol = "ReverseTcp"
	ReverseUDP    Protocol = "ReverseUdp"
	ReverseSOCKS5 Protocol = "ReverseSocks5"
)

// Claims is the JWT payload shape produced by the client-side token signer.
// Field names are short to match the wire contract the client and server
// agree on out of band; standard registered claims (exp/aud/iss/...) are
// validated by the jwt library itself.
type Claims struct {
	jwt.RegisteredClaims
	ID        string   `json:"jti"`
	P         Protocol `json:"p"`
	R         string   `json:"r"`
	RP        uint16   `json:"rp"`
	TimeoutMS *int64   `json:"timeout,omitempty"`
}

// TunnelRequest is the claims extracted from a verified token, ready for
// dispatch. It is actionable only after Verifier.Verify has succeeded and
// the destination allow-list check has passed.
type TunnelRequest struct {
	ID         string
	Protocol   Protocol
	RemoteHost string
	RemotePort uint16
	// Timeout is the session timeout for UDP variants; zero means "use the
	// dispatcher's default".
	Timeout time.Duration
}

func (c Claims) toTunnelRequest() *TunnelRequest {
	req := &TunnelRequest{
		ID:         c.ID,
		Protocol:   c.P,
		RemoteHost: c.R,
		RemotePort: c.RP,
	}
	if c.TimeoutMS != nil {
		req.Timeout = time.Duration(*c.TimeoutMS) * time.Millisecond
	}
	return req
}
