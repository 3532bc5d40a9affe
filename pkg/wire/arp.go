package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	ARPRequest = 1
	ARPReply   = 2

	ARPPacketLen = 28 // fixed Ethernet/IPv4 ARP packet, no padding
)

// ARPPacket is the fixed-layout ARPv4-over-Ethernet packet.
type ARPPacket struct {
	Op       uint16
	SenderHW net.HardwareAddr // 6 bytes
	SenderIP [4]byte
	TargetHW net.HardwareAddr // 6 bytes; zero for requests
	TargetIP [4]byte
}

func BuildARP(p ARPPacket) ([]byte, error) {
	if len(p.SenderHW) != 6 {
		return nil, fmt.Errorf("wire: ARP sender hw must be 6 bytes, got %d", len(p.SenderHW))
	}
	buf := make([]byte, ARPPacketLen)
	binary.BigEndian.PutUint16(buf[0:2], 1)      // HTYPE: Ethernet
	binary.BigEndian.PutUint16(buf[2:4], 0x0800) // PTYPE: IPv4
	buf[4] = 6                                   // HLEN
	buf[5] = 4                                   // PLEN
	binary.BigEndian.PutUint16(buf[6:8], p.Op)
	copy(buf[8:14], p.SenderHW)
	copy(buf[14:18], p.SenderIP[:])
	if len(p.TargetHW) == 6 {
		copy(buf[18:24], p.TargetHW)
	}
	copy(buf[24:28], p.TargetIP[:])
	return buf, nil
}

func ParseARP(buf []byte) (ARPPacket, error) {
	if len(buf) < ARPPacketLen {
		return ARPPacket{}, fmt.Errorf("wire: ARP packet too short: %d", len(buf))
	}
	if binary.BigEndian.Uint16(buf[0:2]) != 1 || binary.BigEndian.Uint16(buf[2:4]) != 0x0800 {
		return ARPPacket{}, fmt.Errorf("wire: not an Ethernet/IPv4 ARP packet")
	}
	p := ARPPacket{
		Op:       binary.BigEndian.Uint16(buf[6:8]),
		SenderHW: net.HardwareAddr(append([]byte(nil), buf[8:14]...)),
		TargetHW: net.HardwareAddr(append([]byte(nil), buf[18:24]...)),
	}
	copy(p.SenderIP[:], buf[14:18])
	copy(p.TargetIP[:], buf[24:28])
	return p, nil
}

const EthernetHeaderLen = 14

// BuildEthernet prepends a 14-byte Ethernet header to payload.
func BuildEthernet(dst, src net.HardwareAddr, ethertype uint16, payload []byte) ([]byte, error) {
	if len(dst) != 6 || len(src) != 6 {
		return nil, fmt.Errorf("wire: Ethernet addresses must be 6 bytes")
	}
	buf := make([]byte, EthernetHeaderLen+len(payload))
	copy(buf[0:6], dst)
	copy(buf[6:12], src)
	binary.BigEndian.PutUint16(buf[12:14], ethertype)
	copy(buf[14:], payload)
	return buf, nil
}

// ParseEthernet splits an Ethernet frame into header fields and payload.
func ParseEthernet(frame []byte) (dst, src net.HardwareAddr, ethertype uint16, payload []byte, err error) {
	if len(frame) < EthernetHeaderLen {
		return nil, nil, 0, nil, fmt.Errorf("wire: Ethernet frame too short: %d", len(frame))
	}
	dst = net.HardwareAddr(append([]byte(nil), frame[0:6]...))
	src = net.HardwareAddr(append([]byte(nil), frame[6:12]...))
	ethertype = binary.BigEndian.Uint16(frame[12:14])
	return dst, src, ethertype, frame[14:], nil
}

const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
)
