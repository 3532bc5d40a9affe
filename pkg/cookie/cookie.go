// Package cookie implements the SYN-cookie generator and verifier of
// spec §4.1: a keyed, non-cryptographic mixing function over
// (src_ip, dst_ip, src_port, dst_port, key) that lets the listener
// authenticate a SYN-ACK against a SYN we actually sent without keeping
// any per-probe state. The listener recomputes the same value from the
// response's (swapped) tuple and compares it against ack-1.
package cookie

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Key is the per-scan 32-bit cookie key, identical across every
// send-workunit and recv-workunit of a scan (spec §3 invariant).
type Key uint32

// Generate computes the 32-bit cookie for (srcIP, dstIP, srcPort,
// dstPort) under key. It is used verbatim as the TCP initial sequence
// number on outbound SYNs.
func Generate(srcIP, dstIP [4]byte, srcPort, dstPort uint16, key Key) uint32 {
	var buf [16]byte
	copy(buf[0:4], srcIP[:])
	copy(buf[4:8], dstIP[:])
	binary.BigEndian.PutUint16(buf[8:10], srcPort)
	binary.BigEndian.PutUint16(buf[10:12], dstPort)
	binary.BigEndian.PutUint32(buf[12:16], uint32(key))
	sum := xxhash.Sum64(buf[:])
	return uint32(sum) ^ uint32(sum>>32)
}

// Verify recomputes the cookie for the tuple as seen from our original
// vantage point (ourSrcIP/ourSrcPort were the probe's source, so on
// receipt the response's dst is our original src) and reports whether it
// equals receivedAck-1, per spec §4.1.
func Verify(ourSrcIP, ourDstIP [4]byte, ourSrcPort, ourDstPort uint16, key Key, receivedAck uint32) bool {
	want := Generate(ourSrcIP, ourDstIP, ourSrcPort, ourDstPort, key)
	return want == receivedAck-1
}
