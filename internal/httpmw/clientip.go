package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client address resolution.
type ClientIPOptions struct {
	// TrustedHops is how many proxies sit in front of the server. With 0
	// X-Forwarded-For is ignored. With n > 0 the nth entry from the right is
	// the client, and only when the peer itself is a private address.
	TrustedHops int
}

// ClientIPWithOptions stores the resolved client address in the request
// context. Forwarding headers that are not trusted are removed so nothing
// downstream reads them.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, trusted := resolveClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), opts.TrustedHops)
			if !trusted {
				r.Header.Del("X-Forwarded-For")
				r.Header.Del("X-Forwarded-Proto")
			}
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP returns the client address and whether the forwarding
// headers were trusted.
func resolveClientIP(remoteAddr, xff string, hops int) (string, bool) {
	if remoteAddr == "" {
		return "0.0.0.0", false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, false
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return "0.0.0.0", false
	}
	peer = peer.Unmap()
	if hops <= 0 || !peer.IsPrivate() {
		return peer.String(), false
	}
	if xff == "" {
		return peer.String(), true
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - hops
	if idx < 0 {
		// fewer entries than proxies: spoofed or misconfigured
		return peer.String(), false
	}
	client, err := netip.ParseAddr(strings.TrimSpace(parts[idx]))
	if err != nil {
		return peer.String(), true
	}
	return client.Unmap().String(), true
}

// ClientIPFromContext returns the resolved client address, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// WithClientIP returns ctx carrying ip. An empty ip leaves ctx unchanged.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
