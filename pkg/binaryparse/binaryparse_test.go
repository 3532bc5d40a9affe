package binaryparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func dnsReplyBuf(qr bool, rcode byte, name string, qtype uint16) []byte {
	hdr := make([]byte, 12)
	if qr {
		hdr[2] = 0x80
	}
	hdr[3] = rcode
	hdr[4], hdr[5] = 0, 1 // qdcount=1
	var q []byte
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			continue
		}
		q = append(q, byte(len(label)))
		q = append(q, []byte(label)...)
	}
	q = append(q, 0)
	q = append(q, byte(qtype>>8), byte(qtype))
	msg := append(hdr, q...)
	length := byte(len(msg) >> 8)
	length2 := byte(len(msg))
	return append([]byte{length, length2}, msg...)
}

func TestDetectDNS(t *testing.T) {
	buf := dnsReplyBuf(true, 0, "example.com", 1)
	require.Equal(t, DNS, Detect(buf))
}

func TestDetectDNSRequiresQR(t *testing.T) {
	buf := dnsReplyBuf(false, 0, "example.com", 1)
	require.NotEqual(t, DNS, Detect(buf))
}

func TestDetectTLS(t *testing.T) {
	buf := []byte{0x16, 0x03, 0x03, 0x00, 0x10}
	buf = append(buf, make([]byte, 16)...)
	require.Equal(t, TLS, Detect(buf))
}

func TestDetectTLSWrongContentType(t *testing.T) {
	buf := []byte{0x17, 0x03, 0x03, 0x00, 0x10}
	require.NotEqual(t, TLS, Detect(buf))
}

func rpcReplyBuf(msgType, replyStat uint32) []byte {
	buf := make([]byte, 16)
	putBE32(buf[0:], 0x80000000) // record mark, last fragment, len=0
	putBE32(buf[4:], 42)         // xid
	putBE32(buf[8:], msgType)
	putBE32(buf[12:], replyStat)
	return buf
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestDetectRPCReply(t *testing.T) {
	buf := rpcReplyBuf(1, 0)
	require.Equal(t, RPC, Detect(buf))
}

func TestDetectRPCRequiresLastFragmentAndReplyType(t *testing.T) {
	buf := rpcReplyBuf(0, 0) // msg_type=CALL, not REPLY
	require.NotEqual(t, RPC, Detect(buf))

	noFrag := rpcReplyBuf(1, 0)
	putBE32(noFrag[0:], 0x00000000) // clear last-fragment bit
	require.NotEqual(t, RPC, Detect(noFrag))
}

func TestDetectUnknownFallsBackToHex(t *testing.T) {
	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	require.Equal(t, Unknown, Detect(buf))
	require.True(t, strings.HasPrefix(Summarize(buf), "HEX:"))
}

func TestSummarizeDNS(t *testing.T) {
	buf := dnsReplyBuf(true, 3, "example.com", 1)
	s := Summarize(buf)
	require.Equal(t, "DNS: NXDOMAIN q=example.com A", s)
}

func TestSummarizeDNSUnknownRcode(t *testing.T) {
	buf := dnsReplyBuf(true, 15, "x.test", 28)
	s := Summarize(buf)
	require.Contains(t, s, "RCODE15")
	require.Contains(t, s, "AAAA")
}

func TestSummarizeRPCAccepted(t *testing.T) {
	buf := make([]byte, 24)
	putBE32(buf[0:], 0x80000000)
	putBE32(buf[4:], 42)
	putBE32(buf[8:], 1) // REPLY
	putBE32(buf[12:], 0) // MSG_ACCEPTED
	putBE32(buf[16:], 0) // verf flavor AUTH_NONE
	putBE32(buf[20:], 0) // verf len 0
	buf = append(buf, 0, 0, 0, 0) // accept_stat SUCCESS
	s := Summarize(buf)
	require.Equal(t, "RPC: SUCCESS [auth=NONE]", s)
}

func TestSummarizeRPCDenied(t *testing.T) {
	buf := make([]byte, 16)
	putBE32(buf[0:], 0x80000000)
	putBE32(buf[4:], 42)
	putBE32(buf[8:], 1) // REPLY
	putBE32(buf[12:], 1) // MSG_DENIED
	s := Summarize(buf)
	require.Equal(t, "RPC: DENIED", s)
}

func TestSummarizeFallsBackOnTruncatedRecognizedInput(t *testing.T) {
	buf := dnsReplyBuf(true, 0, "x.com", 1)
	truncated := buf[:4] // looks like DNS but body cut off
	require.NotPanics(t, func() { Summarize(truncated) })
}

func TestSummarizeHexCapsAt32Bytes(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	s := Summarize(buf)
	require.Equal(t, "HEX: 00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f "+
		"10 11 12 13 14 15 16 17 18 19 1a 1b 1c 1d 1e 1f", s)
}

func TestDetectNeverPanicsOnShortInput(t *testing.T) {
	for n := 0; n < 16; n++ {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i * 7)
		}
		require.NotPanics(t, func() { Detect(buf) })
		require.NotPanics(t, func() { Summarize(buf) })
	}
}

func FuzzSummarizeNeverPanics(f *testing.F) {
	f.Add(dnsReplyBuf(true, 0, "example.com", 1))
	f.Add([]byte{0x16, 0x03, 0x03, 0x00, 0x02, 0x02, 0x00})
	f.Add(rpcReplyBuf(1, 0))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, buf []byte) {
		require.NotPanics(t, func() { Summarize(buf) })
	})
}
