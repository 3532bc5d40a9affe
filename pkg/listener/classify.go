//go:build linux

package listener

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/cookie"
	"github.com/robertelee78/unicornscan/pkg/ports"
	"github.com/robertelee78/unicornscan/pkg/trace"
	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// classifyIP turns one captured IPv4 datagram into a report, per spec
// §4.5's classification table. tp is non-nil only when the datagram
// completes a tcptrace session (the SYN-ACK from the target itself).
func classifyIP(buf []byte, recvTime time.Time, wu workunit.RecvWorkunit, traces map[traceKey]*trace.Session) (aggregator.IPReport, *trace.Path, bool) {
	hdr, ihl, payload, err := wire.ParseIPv4(buf)
	if err != nil {
		return aggregator.IPReport{}, nil, false
	}

	r := aggregator.IPReport{
		IPProto:  hdr.Protocol,
		TTL:      hdr.TTL,
		RecvTime: recvTime,
		HostAddr: net.IP(append([]byte(nil), hdr.Src[:]...)),
		SendAddr: net.IP(append([]byte(nil), hdr.Dst[:]...)),
	}
	if !wire.VerifyIPv4Checksum(buf, ihl) {
		r.Flags |= aggregator.FlagBadNetworkCksum
		if wu.ReportBadNetCksum {
			// still classify below; the bad-checksum flag alone doesn't
			// disqualify a report when the workunit asked to see them.
		} else {
			return aggregator.IPReport{}, nil, false
		}
	}

	switch hdr.Protocol {
	case wire.ProtoTCP:
		return classifyTCP(r, payload, hdr, wu, traces)
	case wire.ProtoUDP:
		return classifyUDP(r, payload, hdr, wu)
	case wire.ProtoICMP:
		return classifyICMP(r, payload, hdr, wu, traces)
	default:
		return aggregator.IPReport{}, nil, false
	}
}

func classifyTCP(r aggregator.IPReport, seg []byte, hdr wire.IPv4Header, wu workunit.RecvWorkunit, traces map[traceKey]*trace.Session) (aggregator.IPReport, *trace.Path, bool) {
	tcp, _, _, err := wire.ParseTCP(seg)
	if err != nil {
		return aggregator.IPReport{}, nil, false
	}
	if !wire.VerifyTCPChecksum(seg, hdr.Src, hdr.Dst) {
		r.Flags |= aggregator.FlagBadTransportCksum
		if !wu.ReportBadTransCksum {
			return aggregator.IPReport{}, nil, false
		}
	}

	r.SPort = tcp.DstPort // our original source port
	r.DPort = tcp.SrcPort // the responder's port
	r.Type = tcp.Flags
	r.Window = tcp.Window
	r.TSeq = tcp.Ack

	if tcp.Flags&wire.FlagACK != 0 {
		ourSrcIP, ourDstIP := hdr.Dst, hdr.Src
		if !cookie.Verify(ourSrcIP, ourDstIP, tcp.DstPort, tcp.SrcPort, wu.CookieKey, tcp.Ack) {
			return aggregator.IPReport{}, nil, false
		}
	}

	if ttl, ok := ports.DecodeTraceTTL(tcp.DstPort); ok && tcp.Flags&(wire.FlagSYN|wire.FlagACK) == wire.FlagSYN|wire.FlagACK {
		key := traceKey{addr: hdr.Src, port: tcp.SrcPort}
		sess, ok := traces[key]
		if !ok {
			return r, nil, true // no session tracked for this target; still report the raw response
		}
		sess.RecordDest(ttl, r.RecvTime)
		path := sess.ToPath()
		delete(traces, key)
		return r, &path, true
	}

	return r, nil, true
}

func classifyUDP(r aggregator.IPReport, dgram []byte, hdr wire.IPv4Header, wu workunit.RecvWorkunit) (aggregator.IPReport, *trace.Path, bool) {
	srcPort, dstPort, _, err := wire.ParseUDP(dgram)
	if err != nil {
		return aggregator.IPReport{}, nil, false
	}
	if !wire.VerifyUDPChecksum(dgram, hdr.Src, hdr.Dst) {
		r.Flags |= aggregator.FlagBadTransportCksum
		if !wu.ReportBadTransCksum {
			return aggregator.IPReport{}, nil, false
		}
	}
	r.SPort = dstPort
	r.DPort = srcPort
	return r, nil, true
}

func classifyICMP(r aggregator.IPReport, buf []byte, hdr wire.IPv4Header, wu workunit.RecvWorkunit, traces map[traceKey]*trace.Session) (aggregator.IPReport, *trace.Path, bool) {
	msg, err := wire.ParseICMP(buf)
	if err != nil {
		return aggregator.IPReport{}, nil, false
	}
	if !msg.ChecksumOK {
		r.Flags |= aggregator.FlagBadTransportCksum
		if !wu.ReportBadTransCksum {
			return aggregator.IPReport{}, nil, false
		}
	}
	r.Type = msg.Type
	r.Subtype = msg.Code

	switch msg.Type {
	case wire.ICMPEchoReply:
		r.SPort = msg.ID
		r.DPort = msg.ID
		return r, nil, true

	case wire.ICMPTimeExceeded, wire.ICMPDestUnreachable:
		if len(msg.Embedded) < 4 {
			return r, nil, true // report the ICMP itself even without a recoverable inner port
		}
		innerHdr, _, innerPayload, err := wire.ParseIPv4(msg.Embedded)
		if err != nil || len(innerPayload) < 4 {
			return r, nil, true
		}
		origSrcPort := binary.BigEndian.Uint16(innerPayload[0:2])
		origDstPort := binary.BigEndian.Uint16(innerPayload[2:4])
		r.SPort = origSrcPort
		r.DPort = origDstPort
		r.TraceAddr = net.IP(append([]byte(nil), hdr.Src[:]...))

		if msg.Type == wire.ICMPTimeExceeded {
			if ttl, ok := ports.DecodeTraceTTL(origSrcPort); ok {
				key := traceKey{addr: innerHdr.Dst, port: origDstPort}
				sess, ok := traces[key]
				if ok {
					sess.RecordTimeExceeded(ttl, r.TraceAddr, r.RecvTime)
				}
			}
		}
		return r, nil, true

	default:
		return r, nil, true
	}
}

// classifyARP turns one captured Ethernet/ARP frame into an ARP report,
// accepting only replies (spec §4.5: we only sent requests).
func classifyARP(frame []byte, recvTime time.Time) (aggregator.ARPReport, bool) {
	_, _, ethertype, payload, err := wire.ParseEthernet(frame)
	if err != nil || ethertype != wire.EtherTypeARP {
		return aggregator.ARPReport{}, false
	}
	pkt, err := wire.ParseARP(payload)
	if err != nil || pkt.Op != wire.ARPReply {
		return aggregator.ARPReport{}, false
	}
	return aggregator.ARPReport{
		MAC:      pkt.SenderHW,
		IP:       net.IP(append([]byte(nil), pkt.SenderIP[:]...)),
		RecvTime: recvTime,
		Raw:      append([]byte(nil), frame...),
	}, true
}

// TrackTrace registers a tcptrace session so later SYN-ACK/Time-Exceeded
// responses for (target,port) can be correlated by classifyIP/
// classifyICMP. pkg/scan's RunPhase calls this once per probed
// (target,port) pair before the sender emits the TTL sweep, spec §4.9
// step 1.
func (l *Listener) TrackTrace(sess *trace.Session) {
	var addr [4]byte
	copy(addr[:], sess.TargetAddr.To4())
	l.tracesMu.Lock()
	l.traces[traceKey{addr: addr, port: sess.TargetPort}] = sess
	l.tracesMu.Unlock()
}
