package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller address for rate-limit keying on the voucher
// endpoints. The API normally sits behind the clinic's reverse proxy, so the
// forwarding headers are preferred over the socket peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
