// Package portlist parses the `p1,p2-p3:N` port-expression grammar of
// spec §2.6 into an ordered (optionally shuffled) stream of ports, each
// carrying its payload-count in the high 16 bits of a returned int32 so
// a single stream element doubles as "port to probe" and "how many
// payload variants to use for it."
package portlist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robertelee78/unicornscan/pkg/prng"
)

// Entry is one parsed port with its payload count (0 meaning
// "use the registry's natural count", matching spec §2.7's
// count_payloads/get_payload contract).
type Entry struct {
	Port         uint16
	PayloadCount int
}

// Pack folds an Entry into the int32 layout spec §2.6 describes:
// payload-count in the high 16 bits, port in the low 16 bits.
func (e Entry) Pack() int32 {
	return int32(uint32(e.PayloadCount)<<16 | uint32(e.Port))
}

// Unpack reverses Pack.
func Unpack(v int32) Entry {
	u := uint32(v)
	return Entry{Port: uint16(u & 0xffff), PayloadCount: int(u >> 16)}
}

// Parse parses a comma-separated port expression: single ports, ranges
// `lo-hi`, each optionally suffixed with `:N` to select N payloads.
func Parse(expr string) ([]Entry, error) {
	var out []Entry
	for _, field := range strings.Split(expr, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		portPart := field
		payloadCount := 0
		if idx := strings.LastIndex(field, ":"); idx >= 0 {
			portPart = field[:idx]
			n, err := strconv.Atoi(field[idx+1:])
			if err != nil || n < 0 || n > 15 {
				return nil, fmt.Errorf("portlist: bad payload count in %q", field)
			}
			payloadCount = n
		}

		lo, hi, err := parseRange(portPart)
		if err != nil {
			return nil, err
		}
		for p := lo; p <= hi; p++ {
			out = append(out, Entry{Port: uint16(p), PayloadCount: payloadCount})
			if p == 65535 {
				break // avoid uint16 wraparound on the hi==65535 boundary
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("portlist: empty port expression")
	}
	return out, nil
}

func parseRange(s string) (lo, hi int, err error) {
	if strings.Contains(s, "-") {
		parts := strings.SplitN(s, "-", 2)
		lo, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("portlist: bad range start %q", parts[0])
		}
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("portlist: bad range end %q", parts[1])
		}
	} else {
		lo, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("portlist: bad port %q", s)
		}
		hi = lo
	}
	if lo < 0 || hi > 65535 || lo > hi {
		return 0, 0, fmt.Errorf("portlist: port range %d-%d out of bounds", lo, hi)
	}
	return lo, hi, nil
}

// Shuffle reorders entries in place using stream; nil stream is a no-op,
// matching the "ordered/shuffled" duality spec §2.6 calls for.
func Shuffle(entries []Entry, stream *prng.Stream) {
	if stream == nil {
		return
	}
	stream.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
}
