package tunnel

import (
	"fmt"
	"net/http"
	"strings"

	"wsconduit/internal/authtoken"
)

// ErrInvalidUpgrade is returned by every Validators failure path. Callers
// must map it to a flat 400 without echoing which predicate tripped
// (spec §4.1: "do not leak which predicate failed").
var ErrInvalidUpgrade = fmt.Errorf("invalid upgrade request")

// ExtractForwardedFor returns the X-Forwarded-For header value, or "" if
// absent. It never fails the request.
func ExtractForwardedFor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
}

// ValidatePath enforces that r.URL.Path ends with the literal segment
// "/events" and, when prefixes is non-nil, that the path additionally
// matches "/<prefix>/..." for one of the listed prefixes, anchored so the
// byte immediately after the matched prefix is "/". A non-nil empty
// prefixes slice rejects every request (spec §4.1).
func ValidatePath(path string, prefixes *[]string) error {
	if !strings.HasSuffix(path, "/events") {
		return ErrInvalidUpgrade
	}
	if prefixes == nil {
		return nil
	}
	for _, p := range *prefixes {
		want := "/" + p
		if strings.HasPrefix(path, want) && len(path) > len(want) && path[len(want)] == '/' {
			return nil
		}
	}
	return ErrInvalidUpgrade
}

// ExtractToken reads the Sec-WebSocket-Protocol header, finds the
// comma-separated sub-value that begins with tokenPrefix, and verifies the
// remainder with verifier. Absence, malformation, or verification failure
// all collapse to ErrInvalidUpgrade (spec §4.1).
func ExtractToken(r *http.Request, tokenPrefix string, verifier *authtoken.Verifier) (*authtoken.TunnelRequest, error) {
	header := r.Header.Get("Sec-WebSocket-Protocol")
	if header == "" {
		return nil, ErrInvalidUpgrade
	}
	for _, raw := range strings.Split(header, ",") {
		value := strings.TrimSpace(raw)
		if !strings.HasPrefix(value, tokenPrefix) {
			continue
		}
		token := strings.TrimPrefix(value, tokenPrefix)
		req, err := verifier.Verify(token)
		if err != nil {
			return nil, ErrInvalidUpgrade
		}
		return req, nil
	}
	return nil, ErrInvalidUpgrade
}

// ValidateDestination enforces the destination allow-list: when dests is
// non-nil, "{host}:{port}" built from req must equal one listed entry
// exactly (spec §4.1).
func ValidateDestination(req *authtoken.TunnelRequest, dests *[]string) error {
	if dests == nil {
		return nil
	}
	want := fmt.Sprintf("%s:%d", req.RemoteHost, req.RemotePort)
	for _, d := range *dests {
		if d == want {
			return nil
		}
	}
	return ErrInvalidUpgrade
}
