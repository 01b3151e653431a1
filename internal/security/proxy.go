package security

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/noah-isme/stk-gateway/internal/common"
)

// TrustedProxies resolves the client address of each request. X-Forwarded-For
// and X-Real-IP are honoured only when the TCP peer is inside one of the
// configured ranges; otherwise the peer address is the client.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses single addresses or CIDR ranges. No entries means
// no proxy is trusted.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	prefixes, err := parsePrefixes(entries, "trusted proxy")
	if err != nil {
		return nil, err
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

func (p *TrustedProxies) trusted(addr netip.Addr) bool {
	return p != nil && containsAddr(p.prefixes, addr)
}

// ClientAddr walks X-Forwarded-For from the nearest hop outwards and returns
// the first address that is not a trusted proxy.
func (p *TrustedProxies) ClientAddr(r *http.Request) string {
	peer := common.PeerIP(r)
	addr, ok := parseAddr(peer)
	if !ok || !p.trusted(addr) {
		return peer
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	if len(hops) == 0 {
		if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return ip.String()
		}
		return peer
	}
	client := addr
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		client = hop
		if !p.trusted(hop) {
			break
		}
	}
	return client.String()
}

// Middleware stores the resolved client address for downstream handlers.
func (p *TrustedProxies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithClientIP(r.Context(), p.ClientAddr(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}
