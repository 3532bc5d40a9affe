// Package wire builds and parses the Ethernet/ARP/IPv4/TCP/UDP/ICMPv4
// frames the scanner sends and receives. Building uses plain byte-wise
// writers (no packed structs, no unsafe casts) per the project's
// byte-order-explicit convention; parsing leans on gopacket/layers for
// robustness against truncated or malformed captures.
package wire

import "encoding/binary"

// Checksum computes the RFC 1071 Internet checksum (ones' complement of
// the ones'-complement sum of 16-bit words) over b. Works for IPv4
// headers, ICMP messages, and TCP/UDP segments when fed the
// pseudo-header first.
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// checksumAccumulate folds b into a running sum without finishing the
// ones'-complement fold, so pseudo-header + payload can be combined
// before a single final fold.
func checksumAccumulate(sum uint32, b []byte) uint32 {
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// pseudoHeaderIPv4 builds the 12-byte IPv4 pseudo-header used by TCP and
// UDP checksums: src(4) dst(4) zero(1) proto(1) length(2).
func pseudoHeaderIPv4(src, dst [4]byte, proto uint8, length uint16) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = proto
	binary.BigEndian.PutUint16(b[10:12], length)
	return b
}

// TransportChecksum computes the TCP/UDP checksum over the pseudo-header
// plus the transport segment (header+payload), with the checksum field
// itself assumed to be zero in segment.
func TransportChecksum(src, dst [4]byte, proto uint8, segment []byte) uint16 {
	ph := pseudoHeaderIPv4(src, dst, proto, uint16(len(segment)))
	sum := checksumAccumulate(0, ph)
	sum = checksumAccumulate(sum, segment)
	return foldChecksum(sum)
}
