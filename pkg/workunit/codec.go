package workunit

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/robertelee78/unicornscan/pkg/cookie"
)

// Marshal/Unmarshal give SendWorkunit and RecvWorkunit a wire form for
// the IPC bus's workunit-wrapper frame (spec §4.6): the codec lives
// here, next to the structs it encodes, rather than in pkg/ipc, since
// pkg/ipc's report codec already imports pkg/workunit's sibling
// packages and a codec here avoids pkg/ipc importing pkg/workunit just
// to round-trip its own envelope payload. Byte-wise fixed-offset
// writes, no packed structs, per §9's explicit instruction.

// Marshal encodes a SendWorkunit for the wire.
func (w SendWorkunit) Marshal() []byte {
	buf := make([]byte, 0, 96+len(w.IPOptions)+len(w.TCPOptions)+len(w.PortExpr))
	buf = appendU64(buf, w.ID)
	buf = append(buf, byte(w.Magic))
	buf = append(buf, byte(w.Repeats>>24), byte(w.Repeats>>16), byte(w.Repeats>>8), byte(w.Repeats))
	buf = append(buf, byte(w.PPS>>24), byte(w.PPS>>16), byte(w.PPS>>8), byte(w.PPS))
	buf = appendStr(buf, w.Iface.Name)
	buf = appendBlob(buf, v4(w.Iface.IP))
	buf = appendBlob(buf, []byte(w.Iface.Netmask))
	buf = appendBlob(buf, []byte(w.Iface.MAC))
	buf = appendU32(buf, uint32(int32(w.Iface.MTU)))
	tb, _ := w.Target.MarshalBinary()
	buf = appendBlob(buf, tb)
	buf = append(buf, w.ToS, w.MinTTL, w.MaxTTL)
	buf = appendBlob(buf, w.IPOptions)
	buf = appendU16(buf, w.FragOff)
	buf = appendU32(buf, uint32(int32(w.SrcPortTemplate)))
	buf = append(buf, w.TCPFlags)
	buf = appendBlob(buf, w.TCPOptions)
	buf = appendU16(buf, w.TCPWindow)
	buf = appendU32(buf, uint32(w.CookieKey))
	buf = appendStr(buf, w.PortExpr)
	buf = append(buf, boolByte(w.TraceMode), byte(w.Status))
	return buf
}

// UnmarshalSendWorkunit decodes a SendWorkunit from the wire.
func UnmarshalSendWorkunit(buf []byte) (SendWorkunit, error) {
	var w SendWorkunit
	c := cursor{buf: buf}
	w.ID = c.u64()
	w.Magic = Magic(c.u8())
	w.Repeats = int(int32(c.u32()))
	w.PPS = int(int32(c.u32()))
	w.Iface.Name = c.str()
	w.Iface.IP = net.IP(c.blob())
	w.Iface.Netmask = net.IPMask(c.blob())
	w.Iface.MAC = net.HardwareAddr(c.blob())
	w.Iface.MTU = int(int32(c.u32()))
	target := c.blob()
	if c.err == nil {
		if err := w.Target.UnmarshalBinary(target); err != nil {
			c.err = fmt.Errorf("workunit: decode target prefix: %w", err)
		}
	}
	w.ToS = c.u8()
	w.MinTTL = c.u8()
	w.MaxTTL = c.u8()
	w.IPOptions = c.blob()
	w.FragOff = c.u16()
	w.SrcPortTemplate = int(int32(c.u32()))
	w.TCPFlags = c.u8()
	w.TCPOptions = c.blob()
	w.TCPWindow = c.u16()
	w.CookieKey = cookie.Key(c.u32())
	w.PortExpr = c.str()
	w.TraceMode = c.u8() != 0
	w.Status = Status(c.u8())
	if c.err != nil {
		return SendWorkunit{}, fmt.Errorf("workunit: decode send-workunit: %w", c.err)
	}
	return w, nil
}

// Marshal encodes a RecvWorkunit for the wire.
func (w RecvWorkunit) Marshal() []byte {
	buf := make([]byte, 0, 32+len(w.BPFFilterOverride))
	buf = appendU64(buf, w.ID)
	buf = append(buf, byte(w.Magic))
	buf = appendU64(buf, uint64(w.Timeout))
	buf = append(buf, byte(w.LayerReturnMask))
	buf = append(buf, boolByte(w.Promisc), boolByte(w.ReportBadNetCksum), boolByte(w.ReportBadTransCksum), boolByte(w.FollowUpConnect))
	buf = appendU32(buf, uint32(w.CookieKey))
	buf = appendStr(buf, w.BPFFilterOverride)
	buf = append(buf, byte(w.Status))
	return buf
}

// UnmarshalRecvWorkunit decodes a RecvWorkunit from the wire.
func UnmarshalRecvWorkunit(buf []byte) (RecvWorkunit, error) {
	var w RecvWorkunit
	c := cursor{buf: buf}
	w.ID = c.u64()
	w.Magic = Magic(c.u8())
	w.Timeout = time.Duration(c.u64())
	w.LayerReturnMask = LayerMask(c.u8())
	w.Promisc = c.u8() != 0
	w.ReportBadNetCksum = c.u8() != 0
	w.ReportBadTransCksum = c.u8() != 0
	w.FollowUpConnect = c.u8() != 0
	w.CookieKey = cookie.Key(c.u32())
	w.BPFFilterOverride = c.str()
	w.Status = Status(c.u8())
	if c.err != nil {
		return RecvWorkunit{}, fmt.Errorf("workunit: decode recv-workunit: %w", c.err)
	}
	return w, nil
}

func v4(ip net.IP) []byte {
	if v := ip.To4(); v != nil {
		return v
	}
	return nil
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

// appendBlob writes a 2-byte-length-prefixed byte slice (options blobs
// can exceed 255 bytes, unlike pkg/ipc's report codec fields).
func appendBlob(buf []byte, v []byte) []byte {
	buf = appendU16(buf, uint16(len(v)))
	return append(buf, v...)
}

func appendStr(buf []byte, s string) []byte {
	return appendBlob(buf, []byte(s))
}

// cursor is a bounds-checked read cursor, mirroring pkg/ipc's unexported
// reader type (kept separate to avoid a cross-package dependency for a
// handful of primitive reads).
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.off+n > len(c.buf) {
		c.err = fmt.Errorf("workunit: truncated frame at offset %d, need %d bytes", c.off, n)
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) take(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v
}

func (c *cursor) blob() []byte {
	n := int(c.u16())
	return c.take(n)
}

func (c *cursor) str() string {
	return string(c.blob())
}
