package ipc

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/trace"
)

func TestConnSendRecvOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	done := make(chan Frame, 1)
	go func() {
		f, err := sc.Recv()
		require.NoError(t, err)
		done <- f
	}()

	require.NoError(t, cc.Send(Frame{Magic: MagicTerminate, Payload: []byte("bye")}))
	got := <-done
	require.Equal(t, MagicTerminate, got.Magic)
	require.Equal(t, []byte("bye"), got.Payload)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Magic: MagicWorkunitStats, Payload: []byte("hello")}
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Magic, got.Magic)
	require.Equal(t, f.Payload, got.Payload)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Magic: MagicTerminate}))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MagicTerminate, got.Magic)
	require.Empty(t, got.Payload)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff}) // length = max uint32
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameErrorsOnTruncatedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestMultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Magic: MagicIPReport, Payload: []byte("a")}))
	require.NoError(t, WriteFrame(&buf, Frame{Magic: MagicARPReport, Payload: []byte("bb")}))

	f1, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MagicIPReport, f1.Magic)

	f2, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MagicARPReport, f2.Magic)
	require.Equal(t, []byte("bb"), f2.Payload)
}

func TestWorkunitStatsRoundTrip(t *testing.T) {
	s := WorkunitStats{WorkunitID: 42, Sent: 1000, Recv: 950, Done: true}
	got, err := UnmarshalWorkunitStats(s.Marshal())
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestWorkunitStatsTruncated(t *testing.T) {
	_, err := UnmarshalWorkunitStats([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestWorkunitWrapperRoundTrip(t *testing.T) {
	w := WorkunitWrapper{ID: 7, Kind: WrapRecv, Body: []byte("recv-workunit-bytes")}
	got, err := UnmarshalWorkunitWrapper(w.Marshal())
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestWorkunitWrapperRejectsOverrunBodyLength(t *testing.T) {
	w := WorkunitWrapper{ID: 1, Kind: WrapSend, Body: []byte("x")}
	buf := w.Marshal()
	buf[9] = 0xff // corrupt the declared body length to exceed the frame
	_, err := UnmarshalWorkunitWrapper(buf)
	require.Error(t, err)
}

func TestIPReportRoundTrip(t *testing.T) {
	r := aggregator.IPReport{
		SPort:     49200,
		DPort:     22,
		IPProto:   6,
		Type:      1<<1 | 1<<4,
		TTL:       64,
		RecvTime:  time.Unix(1700000000, 123456000),
		MSeq:      111,
		TSeq:      222,
		Window:    65535,
		SendAddr:  net.ParseIP("10.0.0.1"),
		HostAddr:  net.ParseIP("10.0.0.2"),
		EthSrcMAC: net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		Flags:     aggregator.FlagBadTransportCksum,
		OutputData: []aggregator.OutputDatum{
			{Kind: "os", Text: "Linux"},
			{Kind: "geoip", Text: "US"},
		},
	}

	got, err := UnmarshalIPReport(MarshalIPReport(r))
	require.NoError(t, err)
	require.Equal(t, r.SPort, got.SPort)
	require.Equal(t, r.DPort, got.DPort)
	require.Equal(t, r.IPProto, got.IPProto)
	require.Equal(t, r.Type, got.Type)
	require.Equal(t, r.TTL, got.TTL)
	require.Equal(t, r.MSeq, got.MSeq)
	require.Equal(t, r.TSeq, got.TSeq)
	require.Equal(t, r.Window, got.Window)
	require.Equal(t, r.Flags, got.Flags)
	require.True(t, r.SendAddr.Equal(got.SendAddr))
	require.True(t, r.HostAddr.Equal(got.HostAddr))
	require.Equal(t, r.EthSrcMAC.String(), got.EthSrcMAC.String())
	require.Equal(t, r.RecvTime.UnixNano(), got.RecvTime.UnixNano())
	require.Equal(t, r.OutputData, got.OutputData)
}

func TestARPReportRoundTrip(t *testing.T) {
	r := aggregator.ARPReport{
		MAC:      net.HardwareAddr{1, 2, 3, 4, 5, 6},
		IP:       net.ParseIP("192.168.1.5"),
		RecvTime: time.Unix(1700000000, 0),
		Raw:      []byte{0xde, 0xad, 0xbe, 0xef},
	}
	got, err := UnmarshalARPReport(MarshalARPReport(r))
	require.NoError(t, err)
	require.Equal(t, r.MAC.String(), got.MAC.String())
	require.True(t, r.IP.Equal(got.IP))
	require.Equal(t, r.Raw, got.Raw)
}

func TestTracePathReportRoundTrip(t *testing.T) {
	p := trace.Path{
		TargetAddr: net.ParseIP("8.8.8.8"),
		TargetPort: 443,
		Complete:   true,
		HopCount:   2,
		Hops: []trace.Hop{
			{RouterAddr: net.ParseIP("10.0.0.1"), RTT: 5 * time.Millisecond, Flags: trace.HopRecv, HasRouter: true},
			{RouterAddr: net.ParseIP("8.8.8.8"), RTT: 20 * time.Millisecond, Flags: trace.HopDest, HasRouter: true},
		},
	}
	got, err := UnmarshalTracePathReport(MarshalTracePathReport(p))
	require.NoError(t, err)
	require.True(t, p.TargetAddr.Equal(got.TargetAddr))
	require.Equal(t, p.TargetPort, got.TargetPort)
	require.Equal(t, p.Complete, got.Complete)
	require.Equal(t, p.HopCount, got.HopCount)
	require.Len(t, got.Hops, 2)
	require.True(t, p.Hops[0].RouterAddr.Equal(got.Hops[0].RouterAddr))
	require.Equal(t, p.Hops[1].Flags, got.Hops[1].Flags)
}

func TestParseDroneURI(t *testing.T) {
	network, addr, err := parseDroneURI("unix:/var/run/unicornscan.sock")
	require.NoError(t, err)
	require.Equal(t, "unix", network)
	require.Equal(t, "/var/run/unicornscan.sock", addr)

	network, addr, err = parseDroneURI("10.0.0.5:9999")
	require.NoError(t, err)
	require.Equal(t, "tcp", network)
	require.Equal(t, "10.0.0.5:9999", addr)
}

func TestParseDroneURIRejectsRelativeUnixPath(t *testing.T) {
	_, _, err := parseDroneURI("unix:relative/path")
	require.Error(t, err)
}

func TestMagicString(t *testing.T) {
	require.Equal(t, "IP-report", MagicIPReport.String())
	require.Contains(t, Magic(0x12345678).String(), "magic(0x")
}
