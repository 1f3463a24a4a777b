// Package admission gates requests before execution: a source-network
// allow-list, credential verification, and a bounded permit pool that caps
// concurrent backend work.
package admission

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Clickin/querygate/errors"
)

// NetworkACL checks request source addresses against a configured
// allow-list of single addresses and CIDR ranges. An empty list allows
// every source; restriction is an explicit opt-in.
type NetworkACL struct {
	prefixes []netip.Prefix
}

// NewNetworkACL parses allow-list entries. Each entry is either a single
// address ("10.0.0.5", "::1") or a CIDR range ("10.0.0.0/8").
func NewNetworkACL(entries []string) (*NetworkACL, error) {
	acl := &NetworkACL{}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid network range %q: %v", errors.ErrInvalidConfig, entry, err)
			}
			acl.prefixes = append(acl.prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid network address %q: %v", errors.ErrInvalidConfig, entry, err)
		}
		acl.prefixes = append(acl.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return acl, nil
}

// Allows reports whether the address passes the allow-list. Address family
// must match the range's family; a v4 range never admits a v6 source. The
// v4-in-v6 mapped form is unwrapped first so "::ffff:127.0.0.1" matches a
// v4 entry.
func (a *NetworkACL) Allows(addr netip.Addr) bool {
	if len(a.prefixes) == 0 {
		return true
	}

	addr = addr.Unmap()
	for _, prefix := range a.prefixes {
		if prefix.Addr().Is4() != addr.Is4() {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckRequest resolves the request's source address and checks it against
// the allow-list. Unparseable sources are denied.
func (a *NetworkACL) CheckRequest(r *http.Request) error {
	raw := ClientIP(r)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return errors.Newf(errors.NetworkDenied, "unparseable source address %q", raw)
	}
	if !a.Allows(addr) {
		return errors.Newf(errors.NetworkDenied, "source address %s not in allowed networks", addr)
	}
	return nil
}

// ClientIP returns the request's source address, preferring the first hop
// of X-Forwarded-For when present, otherwise the transport peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
