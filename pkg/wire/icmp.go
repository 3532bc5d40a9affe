package wire

import (
	"encoding/binary"
	"fmt"
)

// ICMPv4 type/code values the listener cares about.
const (
	ICMPEchoReply           = 0
	ICMPDestUnreachable     = 3
	ICMPEchoRequest         = 8
	ICMPTimeExceeded        = 11
)

const ICMPHeaderLen = 8

// BuildICMPEcho writes an ICMP Echo Request/Reply (type chosen by
// caller) with id/seq and payload, computing the checksum.
func BuildICMPEcho(typ uint8, id, seq uint16, payload []byte) []byte {
	buf := make([]byte, ICMPHeaderLen+len(payload))
	buf[0] = typ
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], seq)
	copy(buf[8:], payload)
	binary.BigEndian.PutUint16(buf[2:4], Checksum(buf))
	return buf
}

// ParseICMP reads the common type/code/checksum-valid fields. For
// Destination-Unreachable and Time-Exceeded, Embedded holds the
// originating IPv4 datagram (header + first 8 bytes of its payload) that
// the router/host echoed back, per RFC 792.
type ICMPMessage struct {
	Type        uint8
	Code        uint8
	ChecksumOK  bool
	ID, Seq     uint16 // meaningful only for Echo Request/Reply
	Embedded    []byte // meaningful only for DestUnreachable/TimeExceeded
}

func ParseICMP(buf []byte) (ICMPMessage, error) {
	if len(buf) < ICMPHeaderLen {
		return ICMPMessage{}, fmt.Errorf("wire: ICMP message too short: %d", len(buf))
	}
	m := ICMPMessage{
		Type:       buf[0],
		Code:       buf[1],
		ChecksumOK: Checksum(buf) == 0,
	}
	switch m.Type {
	case ICMPEchoRequest, ICMPEchoReply:
		m.ID = binary.BigEndian.Uint16(buf[4:6])
		m.Seq = binary.BigEndian.Uint16(buf[6:8])
	case ICMPDestUnreachable, ICMPTimeExceeded:
		// buf[4:8] is unused/reserved for these types; embedded datagram follows.
		if len(buf) > 8 {
			m.Embedded = buf[8:]
		}
	}
	return m, nil
}
