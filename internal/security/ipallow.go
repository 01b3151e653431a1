package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/common"
)

// IPAllowlist admits only requests whose client address falls inside one of
// the configured prefixes. An empty allowlist admits everyone.
type IPAllowlist struct {
	prefixes []netip.Prefix
	logger   zerolog.Logger
}

// NewIPAllowlist parses entries that are either single addresses or CIDR ranges.
func NewIPAllowlist(entries []string, logger zerolog.Logger) (*IPAllowlist, error) {
	prefixes, err := parsePrefixes(entries, "allowlist")
	if err != nil {
		return nil, err
	}
	return &IPAllowlist{prefixes: prefixes, logger: logger}, nil
}

func parsePrefixes(entries []string, kind string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("security: invalid %s range %q: %w", kind, entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("security: invalid %s address %q: %w", kind, entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func parseAddr(ip string) (netip.Addr, bool) {
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Enabled reports whether any entries are configured.
func (l *IPAllowlist) Enabled() bool {
	return l != nil && len(l.prefixes) > 0
}

// Contains reports whether ip is admitted.
func (l *IPAllowlist) Contains(ip string) bool {
	if !l.Enabled() {
		return true
	}
	addr, ok := parseAddr(ip)
	return ok && containsAddr(l.prefixes, addr)
}

// Middleware rejects requests from addresses outside the allowlist with 403.
func (l *IPAllowlist) Middleware(next http.Handler) http.Handler {
	if !l.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := common.ClientIP(r)
		if !l.Contains(ip) {
			l.logger.Warn().Str("client_ip", ip).Str("path", r.URL.Path).Msg("ip_not_allowed")
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "source address not allowed", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
