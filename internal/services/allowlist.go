package services

import (
	"fmt"
	"net/netip"
	"strings"
)

// Allowlist holds CIDR ranges that must never be blocked, such as load
// balancers or office egress addresses.
type Allowlist struct {
	prefixes []netip.Prefix
}

// ParseAllowlist parses a comma-separated list of CIDRs or bare addresses.
func ParseAllowlist(raw string) (*Allowlist, error) {
	list := &Allowlist{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
			}
			list.prefixes = append(list.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
		}
		list.prefixes = append(list.prefixes, prefix.Masked())
	}
	return list, nil
}

// Contains reports whether ip falls inside any range. Unparseable IPs are
// never allowlisted.
func (a *Allowlist) Contains(ip string) bool {
	if a == nil || len(a.prefixes) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range a.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of ranges.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.prefixes)
}
