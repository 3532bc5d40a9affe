// Package target implements the CIDR/target expander of spec §2.5: it
// parses a user target expression (bare IPs, dotted-quad CIDR blocks,
// comma-separated lists of either) into a lazy, optionally shuffled
// sequence of host addresses. Built on stdlib net/netip — justified in
// DESIGN.md: no example in the corpus parses scan target expressions or
// shuffles IP ranges, and net/netip is the idiomatic Go primitive for
// this with no ecosystem library in the pack doing it better.
package target

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/robertelee78/unicornscan/pkg/prng"
)

// Expansion is a parsed set of target prefixes, ready to be walked into
// individual host addresses on demand (spec §2.5's "lazy" sequence).
type Expansion struct {
	Prefixes []netip.Prefix
}

// Parse parses a list of target expressions, each a single dotted-quad
// address (treated as a /32) or a CIDR block (`a.b.c.d/n`), optionally
// with several expressions joined by commas within one string.
func Parse(exprs []string) (Expansion, error) {
	var out Expansion
	for _, expr := range exprs {
		for _, field := range strings.Split(expr, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			p, err := parseOne(field)
			if err != nil {
				return Expansion{}, err
			}
			out.Prefixes = append(out.Prefixes, p)
		}
	}
	if len(out.Prefixes) == 0 {
		return Expansion{}, fmt.Errorf("target: empty target expression")
	}
	return out, nil
}

func parseOne(field string) (netip.Prefix, error) {
	if strings.Contains(field, "/") {
		p, err := netip.ParsePrefix(field)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("target: bad CIDR %q: %w", field, err)
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("target: %q is not IPv4 (spec.md §1 scopes out IPv6)", field)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(field)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("target: bad address %q: %w", field, err)
	}
	if !a.Is4() {
		return netip.Prefix{}, fmt.Errorf("target: %q is not IPv4 (spec.md §1 scopes out IPv6)", field)
	}
	return netip.PrefixFrom(a, 32), nil
}

// Hosts materializes every host address across all prefixes, in prefix
// order, every address of every prefix (including network/broadcast —
// this is a probe target list, not a subnet-usable-host calculation).
// When rnd is non-nil the result is Fisher-Yates shuffled in place,
// matching spec §2.5's "shuffled sequence."
func (e Expansion) Hosts(rnd *prng.Stream) []netip.Addr {
	var out []netip.Addr
	for _, p := range e.Prefixes {
		out = append(out, expandPrefix(p)...)
	}
	if rnd != nil {
		rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// Count returns the total number of host addresses without
// materializing them, for planning/progress estimates.
func (e Expansion) Count() uint64 {
	var n uint64
	for _, p := range e.Prefixes {
		n += 1 << uint(32-p.Bits())
	}
	return n
}

func expandPrefix(p netip.Prefix) []netip.Addr {
	base := p.Masked().Addr()
	size := uint64(1) << uint(32-p.Bits())
	out := make([]netip.Addr, 0, size)
	b := base.As4()
	start := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	for i := uint64(0); i < size; i++ {
		v := start + uint32(i)
		out = append(out, netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}))
	}
	return out
}
