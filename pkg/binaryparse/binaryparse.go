// Package binaryparse implements the protocol-sniffing response parser of
// spec §4.8: given the first bytes of a response payload, classify it as
// DNS, TLS, RPC, or fall back to a hex dump, and produce a one-line
// human-readable summary. All parsers bounds-check before trusting a
// field, matching the defensive byte-walking style of decode.go in the
// reference pack (truncated input degrades, never panics).
package binaryparse

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies which detector matched.
type Kind int

const (
	Unknown Kind = iota
	DNS
	TLS
	RPC
)

func (k Kind) String() string {
	switch k {
	case DNS:
		return "DNS"
	case TLS:
		return "TLS"
	case RPC:
		return "RPC"
	default:
		return "UNKNOWN"
	}
}

// Detect classifies buf per spec §4.8/P9:
//   - DNS iff the TCP-length-prefixed payload has QR=1 in the DNS header
//     that follows the 2-byte length prefix.
//   - TLS iff content_type=0x16 and version major byte = 0x03.
//   - RPC iff the 32-bit record-mark has its MSB (last-fragment bit) set
//     and the msg-type field at offset 8 equals REPLY (1).
//   - otherwise Unknown.
func Detect(buf []byte) Kind {
	if isDNS(buf) {
		return DNS
	}
	if isTLS(buf) {
		return TLS
	}
	if isRPCReply(buf) {
		return RPC
	}
	return Unknown
}

func isDNS(buf []byte) bool {
	if len(buf) < 2+12 {
		return false
	}
	length := int(buf[0])<<8 | int(buf[1])
	if length < 12 {
		return false
	}
	hdr := buf[2:]
	flags := hdr[2]
	return flags&0x80 != 0 // QR bit
}

func isTLS(buf []byte) bool {
	if len(buf) < 3 {
		return false
	}
	return buf[0] == 0x16 && buf[1] == 0x03
}

func isRPCReply(buf []byte) bool {
	if len(buf) < 12 {
		return false
	}
	mark := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	lastFragment := mark&0x80000000 != 0
	if !lastFragment {
		return false
	}
	msgType := uint32(buf[8])<<24 | uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])
	return msgType == 1 // REPLY
}

// Summarize renders a one-line banner summary per spec §4.8, falling
// back to a 32-byte hex dump for anything Detect does not recognize, or
// for a recognized-but-unparseable (truncated) payload.
func Summarize(buf []byte) string {
	switch Detect(buf) {
	case DNS:
		if s, ok := summarizeDNS(buf); ok {
			return s
		}
	case TLS:
		if s, ok := summarizeTLS(buf); ok {
			return s
		}
	case RPC:
		if s, ok := summarizeRPC(buf); ok {
			return s
		}
	}
	return hexSummary(buf)
}

func hexSummary(buf []byte) string {
	n := len(buf)
	if n > 32 {
		n = 32
	}
	var sb strings.Builder
	sb.WriteString("HEX: ")
	for i, b := range buf[:n] {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(hex.EncodeToString([]byte{b}))
	}
	return sb.String()
}

var dnsRcodes = map[uint8]string{
	0: "NOERROR", 1: "FORMERR", 2: "SERVFAIL", 3: "NXDOMAIN",
	4: "NOTIMP", 5: "REFUSED",
}

var dnsQtypes = map[uint16]string{
	1: "A", 2: "NS", 5: "CNAME", 6: "SOA", 12: "PTR", 15: "MX",
	16: "TXT", 28: "AAAA", 33: "SRV", 255: "ANY",
}

func summarizeDNS(buf []byte) (string, bool) {
	if len(buf) < 2+12 {
		return "", false
	}
	hdr := buf[2:]
	rcode := hdr[3] & 0x0f
	qdcount := int(hdr[4])<<8 | int(hdr[5])
	rcodeStr := dnsRcodes[rcode]
	if rcodeStr == "" {
		rcodeStr = fmt.Sprintf("RCODE%d", rcode)
	}
	if qdcount == 0 {
		return fmt.Sprintf("DNS: %s", rcodeStr), true
	}
	name, qtype, rest, ok := parseDNSQuestion(hdr, hdr[12:])
	if !ok {
		return fmt.Sprintf("DNS: %s", rcodeStr), true
	}
	_ = rest
	qtypeStr := dnsQtypes[qtype]
	if qtypeStr == "" {
		qtypeStr = fmt.Sprintf("TYPE%d", qtype)
	}
	return fmt.Sprintf("DNS: %s q=%s %s", rcodeStr, name, qtypeStr), true
}

// parseDNSQuestion parses the first question's QNAME/QTYPE starting at
// pos (a slice into msg, the full DNS message used as the compression
// pointer base). Supports compression pointers with up to 16 jumps.
func parseDNSQuestion(msg []byte, pos []byte) (name string, qtype uint16, rest []byte, ok bool) {
	var labels []string
	cur := pos
	offsetInMsg := len(msg) - len(pos)
	jumps := 0
	jumped := false
	var afterPointer []byte

	for {
		if len(cur) == 0 {
			return "", 0, nil, false
		}
		b := cur[0]
		if b&0xc0 == 0xc0 {
			if len(cur) < 2 {
				return "", 0, nil, false
			}
			if jumps >= 16 {
				return "", 0, nil, false
			}
			jumps++
			if !jumped {
				afterPointer = cur[2:]
				jumped = true
			}
			ptr := int(b&0x3f)<<8 | int(cur[1])
			if ptr >= len(msg) || ptr >= offsetInMsg {
				return "", 0, nil, false
			}
			cur = msg[ptr:]
			continue
		}
		if b == 0 {
			cur = cur[1:]
			break
		}
		labelLen := int(b)
		if len(cur) < 1+labelLen {
			return "", 0, nil, false
		}
		labels = append(labels, string(cur[1:1+labelLen]))
		cur = cur[1+labelLen:]
	}

	tail := cur
	if jumped {
		tail = afterPointer
	}
	if len(tail) < 2 {
		return "", 0, nil, false
	}
	qtype = uint16(tail[0])<<8 | uint16(tail[1])
	if len(labels) == 0 {
		return ".", qtype, tail[2:], true
	}
	return strings.Join(labels, "."), qtype, tail[2:], true
}

var tlsVersions = map[uint16]string{
	0x0300: "SSLv3", 0x0301: "TLSv1.0", 0x0302: "TLSv1.1",
	0x0303: "TLSv1.2", 0x0304: "TLSv1.3",
}

var tlsCipherSuites = map[uint16]string{
	0x1301: "TLS_AES_128_GCM_SHA256",
	0x1302: "TLS_AES_256_GCM_SHA384",
	0xc02f: "ECDHE-RSA-AES128-GCM-SHA256",
	0xc030: "ECDHE-RSA-AES256-GCM-SHA384",
	0xc02b: "ECDHE-ECDSA-AES128-GCM-SHA256",
	0x002f: "AES128-SHA",
	0x0035: "AES256-SHA",
}

// summarizeTLS walks TLS records looking for a ServerHello handshake
// message and extracts the negotiated version and cipher suite. The
// optional Certificate/CN walk from spec §4.8 is left unimplemented (no
// ASN.1/X.509 parser in the reference pack's dependency set beyond the
// stdlib's own crypto/x509, which only parses whole well-formed
// certificates, not a truncated TLS record stream) — CN is simply
// omitted from the summary when absent.
func summarizeTLS(buf []byte) (string, bool) {
	pos := 0
	for pos+5 <= len(buf) {
		contentType := buf[pos]
		recLen := int(buf[pos+3])<<8 | int(buf[pos+4])
		body := buf[pos+5:]
		if recLen > len(body) {
			recLen = len(body)
		}
		if contentType == 0x16 && recLen >= 6 {
			hs := body[:recLen]
			if hs[0] == 0x02 { // ServerHello
				if v, cs, ok := parseServerHello(hs); ok {
					return fmt.Sprintf("TLS: %s %s", v, cs), true
				}
			}
		}
		pos += 5 + recLen
		if recLen == 0 {
			break
		}
	}
	if len(buf) >= 3 {
		return fmt.Sprintf("TLS: %s", legacyRecordVersion(buf)), true
	}
	return "", false
}

func legacyRecordVersion(buf []byte) string {
	v := uint16(buf[1])<<8 | uint16(buf[2])
	if s, ok := tlsVersions[v]; ok {
		return s
	}
	return fmt.Sprintf("0x%04x", v)
}

func parseServerHello(hs []byte) (version, cipherSuite string, ok bool) {
	// handshake header: 1 type + 3 length
	if len(hs) < 4+2+32 {
		return "", "", false
	}
	body := hs[4:]
	ver := uint16(body[0])<<8 | uint16(body[1])
	body = body[2+32:] // version + random
	if len(body) < 1 {
		return "", "", false
	}
	sessionIDLen := int(body[0])
	body = body[1:]
	if len(body) < sessionIDLen+2 {
		return "", "", false
	}
	body = body[sessionIDLen:]
	cs := uint16(body[0])<<8 | uint16(body[1])

	vStr, ok := tlsVersions[ver]
	if !ok {
		vStr = fmt.Sprintf("0x%04x", ver)
	}
	csStr, ok := tlsCipherSuites[cs]
	if !ok {
		csStr = fmt.Sprintf("0x%04x", cs)
	}
	return vStr, csStr, true
}

var rpcAcceptStats = map[uint32]string{
	0: "SUCCESS", 1: "PROG_UNAVAIL", 2: "PROG_MISMATCH",
	3: "PROC_UNAVAIL", 4: "GARBAGE_ARGS", 5: "SYSTEM_ERR",
}

var rpcAuthFlavors = map[uint32]string{
	0: "NONE", 1: "UNIX", 2: "SHORT", 3: "DES", 6: "RPCSEC_GSS",
}

// summarizeRPC parses a Sun ONC RPC reply following the 4-byte record
// mark: xid(4) msg_type(4)=REPLY reply_stat(4) then either
// ACCEPTED: verf_flavor(4) verf_len(4) verf_body(verf_len) accept_stat(4)
// or       DENIED: reject_stat(4) ...
func summarizeRPC(buf []byte) (string, bool) {
	if len(buf) < 4+12 {
		return "", false
	}
	body := buf[4:]
	replyStat := be32(body[8:])
	if replyStat == 0 { // MSG_ACCEPTED
		rest := body[12:]
		if len(rest) < 8 {
			return "RPC: ACCEPTED", true
		}
		verfFlavor := be32(rest)
		verfLen := int(be32(rest[4:]))
		rest = rest[8:]
		if len(rest) < verfLen+4 {
			flavor := authFlavorName(verfFlavor)
			return fmt.Sprintf("RPC: ACCEPTED [auth=%s]", flavor), true
		}
		rest = rest[verfLen:]
		acceptStat := be32(rest)
		stat, ok := rpcAcceptStats[acceptStat]
		if !ok {
			stat = fmt.Sprintf("STAT%d", acceptStat)
		}
		return fmt.Sprintf("RPC: %s [auth=%s]", stat, authFlavorName(verfFlavor)), true
	}
	// MSG_DENIED
	return "RPC: DENIED", true
}

func authFlavorName(flavor uint32) string {
	if s, ok := rpcAuthFlavors[flavor]; ok {
		return s
	}
	return fmt.Sprintf("FLAVOR%d", flavor)
}

func be32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
