package ipc

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/trace"
)

// MarshalIPReport encodes an aggregator.IPReport for an IP-report frame,
// spec §4.6. Addresses and the MAC are each preceded by a 1-byte length;
// output data is a 1-byte count, then per datum a 1-byte-length kind and
// a 2-byte-length text.
func MarshalIPReport(r aggregator.IPReport) []byte {
	buf := make([]byte, 0, 64)
	buf = appendU16(buf, r.SPort)
	buf = appendU16(buf, r.DPort)
	buf = append(buf, r.IPProto, r.Type, r.Subtype, r.TTL, byte(r.Flags))
	buf = appendU32(buf, r.MSeq)
	buf = appendU32(buf, r.TSeq)
	buf = appendU16(buf, r.Window)
	buf = appendU64(buf, uint64(r.RecvTime.UnixNano()))
	buf = appendBytes(buf, v4Bytes(r.SendAddr))
	buf = appendBytes(buf, v4Bytes(r.HostAddr))
	buf = appendBytes(buf, v4Bytes(r.TraceAddr))
	buf = appendBytes(buf, macBytes(r.EthSrcMAC))
	buf = append(buf, byte(len(r.OutputData)))
	for _, d := range r.OutputData {
		buf = append(buf, byte(len(d.Kind)))
		buf = append(buf, d.Kind...)
		buf = appendU16(buf, uint16(len(d.Text)))
		buf = append(buf, d.Text...)
	}
	return buf
}

func UnmarshalIPReport(buf []byte) (aggregator.IPReport, error) {
	var r aggregator.IPReport
	p := reader{buf: buf}
	r.SPort = p.u16()
	r.DPort = p.u16()
	r.IPProto = p.u8()
	r.Type = p.u8()
	r.Subtype = p.u8()
	r.TTL = p.u8()
	r.Flags = aggregator.ReportFlag(p.u8())
	r.MSeq = p.u32()
	r.TSeq = p.u32()
	r.Window = p.u16()
	r.RecvTime = time.Unix(0, int64(p.u64()))
	r.SendAddr = net.IP(p.bytes())
	r.HostAddr = net.IP(p.bytes())
	r.TraceAddr = net.IP(p.bytes())
	r.EthSrcMAC = net.HardwareAddr(p.bytes())
	n := int(p.u8())
	for i := 0; i < n && p.err == nil; i++ {
		kindLen := int(p.u8())
		kind := string(p.take(kindLen))
		textLen := int(p.u16())
		text := string(p.take(textLen))
		r.OutputData = append(r.OutputData, aggregator.OutputDatum{Kind: kind, Text: text})
	}
	if p.err != nil {
		return aggregator.IPReport{}, fmt.Errorf("ipc: decode IP-report: %w", p.err)
	}
	return r, nil
}

// MarshalARPReport encodes an aggregator.ARPReport for an ARP-report
// frame, spec §4.6.
func MarshalARPReport(r aggregator.ARPReport) []byte {
	buf := make([]byte, 0, 32)
	buf = appendBytes(buf, macBytes(r.MAC))
	buf = appendBytes(buf, v4Bytes(r.IP))
	buf = appendU64(buf, uint64(r.RecvTime.UnixNano()))
	buf = appendU16(buf, uint16(len(r.Raw)))
	buf = append(buf, r.Raw...)
	return buf
}

func UnmarshalARPReport(buf []byte) (aggregator.ARPReport, error) {
	var r aggregator.ARPReport
	p := reader{buf: buf}
	r.MAC = net.HardwareAddr(p.bytes())
	r.IP = net.IP(p.bytes())
	r.RecvTime = time.Unix(0, int64(p.u64()))
	rawLen := int(p.u16())
	r.Raw = p.take(rawLen)
	if p.err != nil {
		return aggregator.ARPReport{}, fmt.Errorf("ipc: decode ARP-report: %w", p.err)
	}
	return r, nil
}

// MarshalTracePathReport encodes a trace.Path for a trace-path-report
// frame, spec §4.6/§4.9.
func MarshalTracePathReport(p trace.Path) []byte {
	buf := make([]byte, 0, 64)
	buf = appendBytes(buf, v4Bytes(p.TargetAddr))
	buf = appendU16(buf, p.TargetPort)
	buf = append(buf, boolByte(p.Complete))
	buf = append(buf, byte(p.HopCount))
	buf = append(buf, byte(len(p.Hops)))
	for _, h := range p.Hops {
		buf = appendBytes(buf, v4Bytes(h.RouterAddr))
		buf = appendU64(buf, uint64(h.RTT))
		buf = append(buf, byte(h.Flags))
		buf = appendU64(buf, uint64(h.SendTime.UnixNano()))
		buf = append(buf, boolByte(h.HasRouter))
	}
	return buf
}

func UnmarshalTracePathReport(buf []byte) (trace.Path, error) {
	var p trace.Path
	r := reader{buf: buf}
	p.TargetAddr = net.IP(r.bytes())
	p.TargetPort = r.u16()
	p.Complete = r.u8() != 0
	p.HopCount = int(r.u8())
	n := int(r.u8())
	for i := 0; i < n && r.err == nil; i++ {
		var h trace.Hop
		h.RouterAddr = net.IP(r.bytes())
		h.RTT = time.Duration(r.u64())
		h.Flags = trace.HopFlag(r.u8())
		h.SendTime = time.Unix(0, int64(r.u64()))
		h.HasRouter = r.u8() != 0
		p.Hops = append(p.Hops, h)
	}
	if r.err != nil {
		return trace.Path{}, fmt.Errorf("ipc: decode trace-path-report: %w", r.err)
	}
	return p, nil
}

func v4Bytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return nil
}

func macBytes(mac net.HardwareAddr) []byte {
	if mac == nil {
		return nil
	}
	return mac
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = append(buf, byte(len(v)))
	return append(buf, v...)
}

// reader is a small bounds-checked cursor over an encoded payload; the
// first error sticks and every subsequent read becomes a no-op, so
// callers can chain reads and check err once at the end (same pattern
// as the teacher's UnmarshalPacket early-return-on-truncation).
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("ipc: truncated frame at offset %d, need %d bytes", r.off, n)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) take(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) bytes() []byte {
	n := int(r.u8())
	return r.take(n)
}
