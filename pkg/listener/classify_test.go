//go:build linux

package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/cookie"
	"github.com/robertelee78/unicornscan/pkg/ports"
	"github.com/robertelee78/unicornscan/pkg/trace"
	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

var (
	ourIP   = [4]byte{10, 0, 0, 5}
	remote  = [4]byte{93, 184, 216, 34}
	router  = [4]byte{10, 0, 0, 1}
	testKey = cookie.Key(1234)
)

func ipNet(addr [4]byte) net.IP {
	return net.IP(addr[:])
}

func buildSynAck(t *testing.T, ourPort, theirPort uint16, ack uint32) []byte {
	t.Helper()
	seg, err := wire.BuildTCP(wire.TCPHeader{
		SrcPort: theirPort,
		DstPort: ourPort,
		Seq:     555,
		Ack:     ack,
		Flags:   wire.FlagSYN | wire.FlagACK,
		Window:  65535,
	}, remote, ourIP, nil)
	require.NoError(t, err)
	pkt, err := wire.BuildIPv4(wire.IPv4Header{TTL: 60, Protocol: wire.ProtoTCP, Src: remote, Dst: ourIP}, seg)
	require.NoError(t, err)
	return pkt
}

func TestClassifyTCPSynAckValidCookie(t *testing.T) {
	srcPort, dstPort := uint16(49200), uint16(80)
	isn := cookie.Generate(ourIP, remote, srcPort, dstPort, testKey)
	pkt := buildSynAck(t, srcPort, dstPort, isn+1)

	wu := workunit.RecvWorkunit{CookieKey: testKey}
	r, tp, ok := classifyIP(pkt, time.Now(), wu, map[traceKey]*trace.Session{})
	require.True(t, ok)
	require.Nil(t, tp)
	require.Equal(t, srcPort, r.SPort)
	require.Equal(t, dstPort, r.DPort)
	require.Equal(t, wire.FlagSYN|wire.FlagACK, r.Type)
}

func TestClassifyTCPInvalidCookieRejected(t *testing.T) {
	srcPort, dstPort := uint16(49200), uint16(80)
	pkt := buildSynAck(t, srcPort, dstPort, 0xdeadbeef)

	wu := workunit.RecvWorkunit{CookieKey: testKey}
	_, _, ok := classifyIP(pkt, time.Now(), wu, map[traceKey]*trace.Session{})
	require.False(t, ok)
}

func TestClassifyTCPTraceCompletesSession(t *testing.T) {
	ttl := uint8(5)
	tracePort, err := ports.EncodeTrace(ttl)
	require.NoError(t, err)
	dstPort := uint16(80)
	isn := cookie.Generate(ourIP, remote, tracePort, dstPort, testKey)
	pkt := buildSynAck(t, tracePort, dstPort, isn+1)

	sess := trace.NewSession(ipNet(remote), dstPort, 1, 10)
	sess.RecordSend(ttl, time.Now().Add(-time.Millisecond))
	traces := map[traceKey]*trace.Session{{addr: remote, port: dstPort}: sess}

	wu := workunit.RecvWorkunit{CookieKey: testKey}
	r, tp, ok := classifyIP(pkt, time.Now(), wu, traces)
	require.True(t, ok)
	require.NotNil(t, tp)
	require.True(t, tp.Complete)
	require.Equal(t, tracePort, r.SPort)
	require.Empty(t, traces, "completed session must be removed from the tracking map")
}

func TestClassifyICMPTimeExceededUpdatesSession(t *testing.T) {
	ttl := uint8(3)
	tracePort, err := ports.EncodeTrace(ttl)
	require.NoError(t, err)
	dstPort := uint16(80)

	origSeg, err := wire.BuildTCP(wire.TCPHeader{SrcPort: tracePort, DstPort: dstPort, Seq: 1, Flags: wire.FlagSYN, Window: 1024}, ourIP, remote, nil)
	require.NoError(t, err)
	origPkt, err := wire.BuildIPv4(wire.IPv4Header{TTL: ttl, Protocol: wire.ProtoTCP, Src: ourIP, Dst: remote}, origSeg)
	require.NoError(t, err)
	embedded := origPkt[:28] // IHL(20) + first 8 bytes of the TCP header

	icmpBuf := make([]byte, 8+len(embedded))
	icmpBuf[0] = wire.ICMPTimeExceeded
	copy(icmpBuf[8:], embedded)
	cksum := wire.Checksum(icmpBuf)
	icmpBuf[2] = byte(cksum >> 8)
	icmpBuf[3] = byte(cksum)

	outer, err := wire.BuildIPv4(wire.IPv4Header{TTL: 250, Protocol: wire.ProtoICMP, Src: router, Dst: ourIP}, icmpBuf)
	require.NoError(t, err)

	sess := trace.NewSession(ipNet(remote), dstPort, 1, 10)
	sess.RecordSend(ttl, time.Now().Add(-time.Millisecond))
	traces := map[traceKey]*trace.Session{{addr: remote, port: dstPort}: sess}

	wu := workunit.RecvWorkunit{}
	r, tp, ok := classifyIP(outer, time.Now(), wu, traces)
	require.True(t, ok)
	require.Nil(t, tp, "an intermediate hop never completes the session by itself")
	require.Equal(t, uint8(wire.ICMPTimeExceeded), r.Type)

	path := sess.ToPath()
	require.Len(t, path.Hops, 1)
	require.Equal(t, trace.HopRecv, path.Hops[0].Flags)
	require.True(t, path.Hops[0].RouterAddr.Equal(ipNet(router)))
}

func TestClassifyARPReply(t *testing.T) {
	senderHW := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	arp, err := wire.BuildARP(wire.ARPPacket{Op: wire.ARPReply, SenderHW: senderHW, SenderIP: [4]byte{192, 168, 1, 9}, TargetIP: ourIP})
	require.NoError(t, err)
	frame, err := wire.BuildEthernet([]byte{1, 2, 3, 4, 5, 6}, senderHW, wire.EtherTypeARP, arp)
	require.NoError(t, err)

	r, ok := classifyARP(frame, time.Now())
	require.True(t, ok)
	require.Equal(t, "192.168.1.9", r.IP.String())
}

func TestClassifyARPRequestIgnored(t *testing.T) {
	senderHW := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	arp, err := wire.BuildARP(wire.ARPPacket{Op: wire.ARPRequest, SenderHW: senderHW, SenderIP: [4]byte{192, 168, 1, 9}, TargetIP: ourIP})
	require.NoError(t, err)
	frame, err := wire.BuildEthernet([]byte{1, 2, 3, 4, 5, 6}, senderHW, wire.EtherTypeARP, arp)
	require.NoError(t, err)

	_, ok := classifyARP(frame, time.Now())
	require.False(t, ok)
}

func TestClassifyUDPBadChecksumGatedByWorkunit(t *testing.T) {
	dgram, err := wire.BuildUDP(53, 40000, remote, ourIP, []byte("resp"))
	require.NoError(t, err)
	dgram[6] ^= 0xff // corrupt checksum
	pkt, err := wire.BuildIPv4(wire.IPv4Header{TTL: 64, Protocol: wire.ProtoUDP, Src: remote, Dst: ourIP}, dgram)
	require.NoError(t, err)

	_, _, ok := classifyIP(pkt, time.Now(), workunit.RecvWorkunit{ReportBadTransCksum: false}, nil)
	require.False(t, ok)

	r, _, ok := classifyIP(pkt, time.Now(), workunit.RecvWorkunit{ReportBadTransCksum: true}, nil)
	require.True(t, ok)
	require.NotZero(t, r.Flags&aggregator.FlagBadTransportCksum)
}
