package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is the decoded shape of a captured response, flattened to the
// fields the listener's classifier (pkg/listener) needs. Unlike the
// hand-rolled builders above, parsing leans on gopacket/layers so
// malformed or truncated captures degrade gracefully instead of
// panicking on a short slice — the same posture as
// telemetry/enricher's decode.go, which walks gopacket layers defensively
// before trusting any field.
type Frame struct {
	SrcMAC, DstMAC net.HardwareAddr
	HasEthernet    bool

	SrcIP, DstIP net.IP
	TTL          uint8
	ToS          uint8
	IPChecksumOK bool
	Protocol     uint8

	TCP          *layers.TCP
	UDP          *layers.UDP
	ICMP         *layers.ICMPv4
	ARP          *layers.ARP
	TransportOK  bool // transport checksum validity, when applicable
}

// LinkType selects how DecodeFrame interprets the first bytes of buf.
type LinkType int

const (
	LinkEthernet LinkType = iota
	LinkRaw               // no link header (e.g. Linux cooked capture of a raw IP socket)
)

// DecodeFrame parses buf captured on linkType into a Frame. It never
// returns an error for structurally odd packets; instead, layers that
// fail to decode are simply absent from the result, mirroring the
// "best effort, never abort the scan over one bad packet" posture of
// spec §4.5/§4.8.
func DecodeFrame(buf []byte, linkType LinkType) Frame {
	var lt gopacket.LayerType
	switch linkType {
	case LinkEthernet:
		lt = layers.LayerTypeEthernet
	default:
		lt = layers.LayerTypeIPv4
	}

	pkt := gopacket.NewPacket(buf, lt, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	var f Frame
	if eth := pkt.Layer(layers.LayerTypeEthernet); eth != nil {
		e := eth.(*layers.Ethernet)
		f.SrcMAC, f.DstMAC = e.SrcMAC, e.DstMAC
		f.HasEthernet = true
	}
	if arp := pkt.Layer(layers.LayerTypeARP); arp != nil {
		f.ARP = arp.(*layers.ARP)
		return f
	}
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		ip := ip4.(*layers.IPv4)
		f.SrcIP, f.DstIP = ip.SrcIP, ip.DstIP
		f.TTL = ip.TTL
		f.ToS = ip.TOS
		f.Protocol = uint8(ip.Protocol)
		f.IPChecksumOK = ip.Checksum == expectedIPv4Checksum(ip)
	}
	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		f.TCP = tcp.(*layers.TCP)
		f.TransportOK = f.TCP.IsValid() && checkIPv4TransportOK(pkt)
	}
	if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		f.UDP = udp.(*layers.UDP)
		f.TransportOK = checkIPv4TransportOK(pkt)
	}
	if icmp := pkt.Layer(layers.LayerTypeICMPv4); icmp != nil {
		f.ICMP = icmp.(*layers.ICMPv4)
		f.TransportOK = true // gopacket's ICMPv4 layer doesn't expose raw verification; IP checksum already checked
	}
	return f
}

// expectedIPv4Checksum recomputes what ip.Checksum should be, by
// re-serializing the header gopacket already parsed.
func expectedIPv4Checksum(ip *layers.IPv4) uint16 {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: false}
	// Copy to avoid mutating the caller's decoded layer via SerializeTo.
	cp := *ip
	if err := cp.SerializeTo(buf, opts); err != nil {
		return ip.Checksum // can't verify; assume ok rather than flag spuriously
	}
	b := buf.Bytes()
	if len(b) < 12 {
		return ip.Checksum
	}
	return uint16(b[10])<<8 | uint16(b[11])
}

// checkIPv4TransportOK is a placeholder default: gopacket doesn't expose
// a direct "verify checksum" call on already-decoded layers without a
// per-type serialize round-trip, so exact TCP/UDP checksum verification
// is done in pkg/listener via VerifyTCPChecksum/VerifyUDPChecksum against
// the raw captured bytes. This keeps TransportOK filled with a sane
// default when a caller only wants the decoded layer, not the raw bytes.
func checkIPv4TransportOK(pkt gopacket.Packet) bool {
	return pkt.NetworkLayer() != nil && pkt.TransportLayer() != nil
}
