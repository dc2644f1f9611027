package authtoken

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure. Callers must
// not inspect it further than this sentinel: the upgrade handler maps any
// non-nil error to a generic 400 so failure modes aren't distinguishable on
// the wire (spec §4.1).
var ErrInvalidToken = errors.New("invalid bearer token")

// VerifierConfig describes the signing scheme the client used. It is built
// once at startup from external configuration; the core never derives key
// material itself.
type VerifierConfig struct {
	// Method is the expected signing algorithm, e.g. jwt.SigningMethodHS256.
	Method jwt.SigningMethod
	// Key is the verification key: an HMAC secret for HS* methods, or a
	// public key for RS*/ES* methods.
	Key interface{}
	// Audience and Issuer, when non-empty, are required to match the
	// token's registered claims. Clock skew tolerance follows the jwt
	// library's defaults.
	Audience string
	Issuer   string
}

// Verifier validates bearer tokens into TunnelRequests. It holds no mutable
// state beyond its configuration and is safe for concurrent use.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify decodes and validates tokenString, returning the claims as a
// TunnelRequest. Any failure — malformed token, signature mismatch, wrong
// algorithm, expired token, audience/issuer mismatch — collapses to
// ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*TunnelRequest, error) {
	var opts []jwt.ParserOption
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Method != nil {
		opts = append(opts, jwt.WithValidMethods([]string{v.cfg.Method.Alg()}))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.cfg.Key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch claims.P {
	case ForwardTCP, ForwardUDP, ReverseTCP, ReverseUDP, ReverseSOCKS5:
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidToken, claims.P)
	}
	if claims.R == "" {
		return nil, fmt.Errorf("%w: missing remote host", ErrInvalidToken)
	}

	return claims.toTunnelRequest(), nil
}
