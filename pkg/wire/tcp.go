package wire

import (
	"encoding/binary"
	"fmt"
)

// TCP flag bits, matching the wire layout (buf[13] of the TCP header).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
	FlagECE uint8 = 1 << 6
	FlagCWR uint8 = 1 << 7
)

const TCPHeaderLen = 20

// DefaultTCPOptions is the documented default options blob for outbound
// SYNs (Open Question resolution in SPEC_FULL.md): MSS=1460,
// SACK-permitted, NOP, NOP, WScale=7, then one EOL byte. 12 bytes,
// padded to a 4-byte boundary already.
var DefaultTCPOptions = []byte{
	0x02, 0x04, 0x05, 0xb4, // MSS 1460
	0x04, 0x02, // SACK permitted
	0x01, 0x01, // NOP, NOP
	0x03, 0x03, 0x07, // WScale 7
	0x00, // EOL, pads the blob to 12 bytes
}

// TCPHeader is the subset of the TCP header the sender builds and the
// listener reads.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Window  uint16
	Urgent  uint16
	Options []byte // raw bytes, caller pads to a multiple of 4
}

// BuildTCP writes the TCP header+options+payload and fixes up the
// checksum using the IPv4 pseudo-header.
func BuildTCP(h TCPHeader, src, dst [4]byte, payload []byte) ([]byte, error) {
	if len(h.Options)%4 != 0 {
		return nil, fmt.Errorf("wire: TCP options length %d not a multiple of 4", len(h.Options))
	}
	dataOff := TCPHeaderLen + len(h.Options)
	if dataOff > 60 {
		return nil, fmt.Errorf("wire: TCP header too long: %d", dataOff)
	}
	buf := make([]byte, dataOff+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = uint8(dataOff/4) << 4
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	// buf[16:18] checksum, filled below
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)
	copy(buf[20:dataOff], h.Options)
	copy(buf[dataOff:], payload)

	cksum := TransportChecksum(src, dst, ProtoTCP, buf)
	binary.BigEndian.PutUint16(buf[16:18], cksum)
	return buf, nil
}

// ParseTCP reads the fixed fields from a TCP segment (as delivered by
// ParseIPv4's payload slice).
func ParseTCP(seg []byte) (h TCPHeader, dataOff int, payload []byte, err error) {
	if len(seg) < TCPHeaderLen {
		return h, 0, nil, fmt.Errorf("wire: TCP segment too short: %d", len(seg))
	}
	dataOff = int(seg[12]>>4) * 4
	if dataOff < TCPHeaderLen || dataOff > len(seg) {
		return h, 0, nil, fmt.Errorf("wire: bad TCP data offset %d for segment of %d", dataOff, len(seg))
	}
	h.SrcPort = binary.BigEndian.Uint16(seg[0:2])
	h.DstPort = binary.BigEndian.Uint16(seg[2:4])
	h.Seq = binary.BigEndian.Uint32(seg[4:8])
	h.Ack = binary.BigEndian.Uint32(seg[8:12])
	h.Flags = seg[13]
	h.Window = binary.BigEndian.Uint16(seg[14:16])
	h.Urgent = binary.BigEndian.Uint16(seg[18:20])
	if dataOff > TCPHeaderLen {
		h.Options = append([]byte(nil), seg[TCPHeaderLen:dataOff]...)
	}
	return h, dataOff, seg[dataOff:], nil
}

// VerifyTCPChecksum reports whether seg's checksum field matches the
// pseudo-header + segment sum.
func VerifyTCPChecksum(seg []byte, src, dst [4]byte) bool {
	if len(seg) < TCPHeaderLen {
		return false
	}
	want := binary.BigEndian.Uint16(seg[16:18])
	tmp := make([]byte, len(seg))
	copy(tmp, seg)
	binary.BigEndian.PutUint16(tmp[16:18], 0)
	got := TransportChecksum(src, dst, ProtoTCP, tmp)
	return got == want
}
