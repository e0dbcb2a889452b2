package flow

import (
	"fmt"
	"net/netip"
	"strings"
)

// Predicate reports whether an address belongs to the local endpoint.
type Predicate func(netip.Addr) bool

// SubnetSet is a set of CIDR ranges treated as local.
type SubnetSet struct {
	prefixes []netip.Prefix
}

// ParseSubnets creates a subnet set from CIDR strings (e.g., "192.168.0.0/16").
// A bare address is taken as a single-host prefix.
func ParseSubnets(cidrs []string) (*SubnetSet, error) {
	set := &SubnetSet{}
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		var prefix netip.Prefix
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", s, err)
			}
			prefix = p.Masked()
		} else {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", s, err)
			}
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		set.prefixes = append(set.prefixes, prefix)
	}
	return set, nil
}

// Contains reports whether addr falls in any of the ranges.
func (s *SubnetSet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Predicate returns Contains as a Predicate.
func (s *SubnetSet) Predicate() Predicate {
	return s.Contains
}

// Prefixes returns the ranges in the set.
func (s *SubnetSet) Prefixes() []netip.Prefix {
	return s.prefixes
}

func (s *SubnetSet) String() string {
	parts := make([]string, len(s.prefixes))
	for i, p := range s.prefixes {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
