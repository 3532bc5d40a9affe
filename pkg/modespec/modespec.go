// Package modespec parses the `-m` scan-mode expression of spec §6: a
// single mode letter (TCP/UDP/ARP/ICMP/IP-raw), optional TCP flag
// letters, and an optional per-phase `PPS:Rrepeats:Lrecv-timeout`
// override, with multiple phases joined by `+` for compound mode
// (`A+T`). Grounded on portlist's small hand-rolled grammar parser —
// the same "split on a separator, parse each field's optional suffix"
// shape, no ecosystem parser-combinator library fits a grammar this
// small.
package modespec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// flagLetters maps a case-insensitive TCP flag letter to its bit, per
// spec §6 ("TCP flag letters follow T, e.g. TsF = SYN+FIN").
var flagLetters = map[byte]uint8{
	's': wire.FlagSYN,
	'f': wire.FlagFIN,
	'r': wire.FlagRST,
	'p': wire.FlagPSH,
	'a': wire.FlagACK,
	'u': wire.FlagURG,
}

// Parse parses a full `-m` expression (one or more `+`-joined phases)
// into an ordered list of workunit.Phase. Phase order is scan order:
// the first phase is compound mode's ARP phase when present.
func Parse(expr string) ([]workunit.Phase, error) {
	if expr == "" {
		return nil, fmt.Errorf("modespec: empty mode expression")
	}
	var phases []workunit.Phase
	for _, tok := range strings.Split(expr, "+") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("modespec: empty phase in %q", expr)
		}
		p, err := parsePhase(tok)
		if err != nil {
			return nil, fmt.Errorf("modespec: %q: %w", expr, err)
		}
		phases = append(phases, p)
	}
	return phases, nil
}

// parsePhase parses one phase token, e.g. "T", "Tsf", "T100:R3:L15",
// "A", "U500".
func parsePhase(tok string) (workunit.Phase, error) {
	var phase workunit.Phase

	if len(tok) == 0 {
		return phase, fmt.Errorf("empty phase token")
	}
	switch tok[0] {
	case 'T':
		phase.MagicMode = workunit.MagicTCP
	case 'U':
		phase.MagicMode = workunit.MagicUDP
	case 'A':
		phase.MagicMode = workunit.MagicARP
	case 'I':
		phase.MagicMode = workunit.MagicICMP
	case 'P':
		phase.MagicMode = workunit.MagicIPRaw
	default:
		return phase, fmt.Errorf("unknown mode letter %q", tok[:1])
	}
	rest := tok[1:]

	// TCP flag letters, if any, come immediately after the mode letter
	// and before any digit/colon section.
	if phase.MagicMode == workunit.MagicTCP {
		i := 0
		for i < len(rest) {
			c := rest[i]
			if c >= '0' && c <= '9' || c == ':' {
				break
			}
			bit, ok := flagLetters[lower(c)]
			if !ok {
				return phase, fmt.Errorf("unknown TCP flag letter %q", string(c))
			}
			phase.TCPFlags |= bit
			i++
		}
		rest = rest[i:]
		if phase.TCPFlags == 0 {
			phase.TCPFlags = wire.FlagSYN // bare "T" is a SYN scan, spec §6
		}
	}

	if rest == "" {
		return phase, nil
	}

	// rest is now [digits][:Rn][:Ln] in any combination of the optional
	// suffix fields, digits (PPS) first if present.
	fields := strings.Split(rest, ":")
	for idx, f := range fields {
		if f == "" {
			continue
		}
		if idx == 0 && f[0] >= '0' && f[0] <= '9' {
			n, err := strconv.Atoi(f)
			if err != nil {
				return phase, fmt.Errorf("bad PPS %q: %w", f, err)
			}
			phase.PPS = n
			continue
		}
		switch f[0] {
		case 'R', 'r':
			n, err := strconv.Atoi(f[1:])
			if err != nil {
				return phase, fmt.Errorf("bad repeats %q: %w", f, err)
			}
			phase.Repeats = n
		case 'L', 'l':
			n, err := strconv.Atoi(f[1:])
			if err != nil {
				return phase, fmt.Errorf("bad recv-timeout %q: %w", f, err)
			}
			phase.RecvTimeoutS = n
		default:
			return phase, fmt.Errorf("unknown phase override %q", f)
		}
	}
	return phase, nil
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
