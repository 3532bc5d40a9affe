package wire

import (
	"encoding/binary"
	"fmt"
)

const UDPHeaderLen = 8

// BuildUDP writes a UDP datagram (header+payload) and fixes the checksum.
func BuildUDP(srcPort, dstPort uint16, src, dst [4]byte, payload []byte) ([]byte, error) {
	total := UDPHeaderLen + len(payload)
	if total > 0xffff {
		return nil, fmt.Errorf("wire: UDP datagram too long: %d", total)
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(total))
	copy(buf[8:], payload)

	cksum := TransportChecksum(src, dst, ProtoUDP, buf)
	if cksum == 0 {
		cksum = 0xffff // UDP convention: a computed zero is sent as all-ones
	}
	binary.BigEndian.PutUint16(buf[6:8], cksum)
	return buf, nil
}

// ParseUDP reads the fixed header out of a UDP datagram.
func ParseUDP(dgram []byte) (srcPort, dstPort uint16, payload []byte, err error) {
	if len(dgram) < UDPHeaderLen {
		return 0, 0, nil, fmt.Errorf("wire: UDP datagram too short: %d", len(dgram))
	}
	srcPort = binary.BigEndian.Uint16(dgram[0:2])
	dstPort = binary.BigEndian.Uint16(dgram[2:4])
	length := int(binary.BigEndian.Uint16(dgram[4:6]))
	if length < UDPHeaderLen || length > len(dgram) {
		length = len(dgram)
	}
	return srcPort, dstPort, dgram[8:length], nil
}

// VerifyUDPChecksum reports whether dgram's checksum is valid. A
// transmitted checksum of 0 means "not computed" and is treated as
// valid per RFC 768.
func VerifyUDPChecksum(dgram []byte, src, dst [4]byte) bool {
	if len(dgram) < UDPHeaderLen {
		return false
	}
	want := binary.BigEndian.Uint16(dgram[6:8])
	if want == 0 {
		return true
	}
	tmp := make([]byte, len(dgram))
	copy(tmp, dgram)
	binary.BigEndian.PutUint16(tmp[6:8], 0)
	got := TransportChecksum(src, dst, ProtoUDP, tmp)
	if got == 0 {
		got = 0xffff
	}
	return got == want
}
