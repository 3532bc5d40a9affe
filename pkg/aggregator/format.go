package aggregator

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders an IPReport using the printf-like grammar of spec
// §4.7: %h host, %hn host-with-rDNS, %p sport, %pn sport-with-service,
// %L dport, %Ln dport-with-service, %r protocol-response-string, %t
// TTL, %s source, %S the report's TSeq (the acknowledgment number of a
// TCP response; the responder's own sequence number is not carried in a
// report), %w window, %M MAC, %o MAC OUI
// vendor, %C 2-letter country. %T (trace hop) applies only to trace-path
// reports and is handled by FormatTracePath. Services/rDNS/OUI lookups
// are provided by the caller through deps (any nil dep degrades that
// substitution to the bare value, never an error).
type Deps struct {
	ResolveHost func(host string) string       // rDNS
	ServiceName func(port uint16) string       // /etc/services-style lookup
	OUIVendor   func(mac string) string
}

func Format(tmpl string, r IPReport, deps Deps) string {
	var b strings.Builder
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) {
			if esc, ok := unescape(runes[i+1]); ok {
				b.WriteRune(esc)
				i++
				continue
			}
		}
		if c != '%' || i+1 >= len(runes) {
			b.WriteRune(c)
			continue
		}
		i++
		verb, consumed := readVerb(runes, i)
		i += consumed - 1
		b.WriteString(substitute(verb, r, deps))
	}
	return b.String()
}

func unescape(c rune) (rune, bool) {
	switch c {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case 'a':
		return '\a', true
	case 'b':
		return '\b', true
	case 'f':
		return '\f', true
	case 'v':
		return '\v', true
	case '\\':
		return '\\', true
	}
	return 0, false
}

// readVerb returns the verb text ("h", "hn", "p", ...) starting at
// runes[i] (just past '%') and how many runes it consumed.
func readVerb(runes []rune, i int) (string, int) {
	if i >= len(runes) {
		return "", 0
	}
	base := runes[i]
	if i+1 < len(runes) && (runes[i+1] == 'n') && strings.ContainsRune("hpL", base) {
		return string(base) + "n", 2
	}
	return string(base), 1
}

func substitute(verb string, r IPReport, deps Deps) string {
	switch verb {
	case "h":
		return r.HostAddr.String()
	case "hn":
		host := r.HostAddr.String()
		if deps.ResolveHost != nil {
			if name := deps.ResolveHost(host); name != "" {
				return fmt.Sprintf("%s (%s)", host, name)
			}
		}
		return host
	case "p":
		return strconv.Itoa(int(r.SPort))
	case "pn":
		return withService(r.SPort, deps)
	case "L":
		return strconv.Itoa(int(r.DPort))
	case "Ln":
		return withService(r.DPort, deps)
	case "r":
		return protoResponseString(r)
	case "t":
		return strconv.Itoa(int(r.TTL))
	case "s":
		if r.SendAddr == nil {
			return ""
		}
		return r.SendAddr.String()
	case "S":
		return strconv.FormatUint(uint64(r.TSeq), 10)
	case "w":
		return strconv.Itoa(int(r.Window))
	case "M":
		if r.EthSrcMAC == nil {
			return ""
		}
		return r.EthSrcMAC.String()
	case "o":
		if r.EthSrcMAC == nil || deps.OUIVendor == nil {
			return ""
		}
		return deps.OUIVendor(r.EthSrcMAC.String())
	case "C":
		for _, d := range r.OutputData {
			if d.Kind == "geoip" {
				return d.Text
			}
		}
		return ""
	default:
		return "%" + verb
	}
}

func withService(port uint16, deps Deps) string {
	s := strconv.Itoa(int(port))
	if deps.ServiceName != nil {
		if name := deps.ServiceName(port); name != "" {
			return fmt.Sprintf("%s(%s)", s, name)
		}
	}
	return s
}

func protoResponseString(r IPReport) string {
	switch r.IPProto {
	case 6:
		return tcpFlagString(r.Type)
	case 1:
		return fmt.Sprintf("icmp type=%d code=%d", r.Type, r.Subtype)
	case 17:
		return "udp"
	default:
		return fmt.Sprintf("proto=%d", r.IPProto)
	}
}

func tcpFlagString(flags uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{1 << 0, "FIN"}, {1 << 1, "SYN"}, {1 << 2, "RST"}, {1 << 3, "PSH"},
		{1 << 4, "ACK"}, {1 << 5, "URG"}, {1 << 6, "ECE"}, {1 << 7, "CWR"},
	}
	var parts []string
	for _, n := range names {
		if flags&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// FormatTracePath renders %T substitutions for a trace-path report; kept
// separate from Format since it operates on a different report shape
// (spec §3 "Trace hop / trace-path report").
func FormatTracePath(tmpl string, hopIdx int, routerAddr string, rttUS int64) string {
	r := strings.NewReplacer(
		"%T", routerAddr,
		"%t", strconv.Itoa(hopIdx),
	)
	return r.Replace(tmpl) + fmt.Sprintf(" rtt=%dus", rttUS)
}
