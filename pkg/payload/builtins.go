package payload

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// RegisterBuiltins wires the discovery-probe payload generators ported
// from the original tool's payload_modules/ directory into reg, each
// under its well-known port. A fresh registry starts empty; callers
// that want these without an explicit -p :N payload get them by virtue
// of being the registry's first (and typically only) registered variant
// for that port.
func RegisterBuiltins(reg *Registry) {
	reg.Register(UDP, 67, dhcpDiscover)
	reg.Register(UDP, 137, nbnsNodeStatus)
	reg.Register(UDP, 3478, stunBindingRequest)
	reg.Register(TCP, 27017, mongoIsMaster)
	reg.Register(TCP, 443, tlsClientHello)
	reg.Register(TCP, 80, websocketUpgrade)
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// dhcpDiscover builds a DHCP DISCOVER (RFC 2131), ported from
// payload_modules/dhcp.c's create_payload: fixed 236-byte header plus
// the minimum options a server needs to answer (message type, a short
// parameter request list, end).
func dhcpDiscover() ([]byte, error) {
	buf := make([]byte, 236+3+6+1)
	buf[0] = 1  // op: BOOTREQUEST
	buf[1] = 1  // htype: Ethernet
	buf[2] = 6  // hlen
	buf[3] = 0  // hops
	binary.BigEndian.PutUint32(buf[4:8], randUint32())
	binary.BigEndian.PutUint16(buf[10:12], 0x8000) // broadcast flag
	buf[28], buf[29], buf[30] = 0x00, 0x0c, 0x29    // chaddr OUI prefix
	buf[31] = byte(randUint32())
	buf[32] = byte(randUint32())
	buf[33] = byte(randUint32())
	copy(buf[236-4:236], []byte{0x63, 0x82, 0x53, 0x63}) // magic cookie

	opts := buf[236:]
	opts[0], opts[1], opts[2] = 53, 1, 1          // msg type = DISCOVER
	opts[3], opts[4] = 55, 3                      // param request list, len 3
	opts[5], opts[6], opts[7] = 1, 3, 6           // subnet mask, router, DNS
	opts[8] = 255                                 // end
	return buf, nil
}

// nbnsNodeStatus builds an NBNS NBSTAT wildcard query (RFC 1002),
// ported from payload_modules/nbns.c's hand-encoded "*" name.
func nbnsNodeStatus() ([]byte, error) {
	buf := make([]byte, 12+1+32+1+2+2)
	binary.BigEndian.PutUint16(buf[0:2], uint16(randUint32()))
	binary.BigEndian.PutUint16(buf[6:8], 1) // qdcount

	q := buf[12:]
	q[0] = 0x20 // 32-byte encoded name follows
	name := []byte{
		'C', 'K',
		'C', 'A', 'C', 'A', 'C', 'A', 'C', 'A', 'C', 'A',
		'C', 'A', 'C', 'A', 'C', 'A', 'C', 'A', 'C', 'A',
		'C', 'A', 'C', 'A', 'C', 'A', 'C', 'A', 'A', 'A',
	}
	copy(q[1:33], name)
	binary.BigEndian.PutUint16(q[34:36], 0x0021) // NBSTAT
	binary.BigEndian.PutUint16(q[36:38], 0x0001) // IN
	return buf, nil
}

// stunBindingRequest builds a STUN Binding Request (RFC 5389), ported
// from payload_modules/stun.c.
func stunBindingRequest() ([]byte, error) {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint16(buf[0:2], 0x0001)       // Binding Request
	binary.BigEndian.PutUint16(buf[2:4], 0)            // no attributes
	binary.BigEndian.PutUint32(buf[4:8], 0x2112A442)   // magic cookie
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint32(buf[8+i*4:12+i*4], randUint32())
	}
	return buf, nil
}

// bsonCString appends a BSON C-string element key (name plus NUL).
func bsonCString(buf []byte, name string) []byte {
	buf = append(buf, name...)
	return append(buf, 0)
}

// mongoIsMaster builds a MongoDB OP_MSG isMaster command (wire protocol
// 3.6+), ported from payload_modules/mongo.c's hand-assembled BSON
// document. The original correlates responses by XOR-ing the target
// address into requestID; this port uses a random requestID instead
// since response correlation here happens at the IP/port/cookie layer
// (pkg/cookie), not inside the payload itself.
func mongoIsMaster() ([]byte, error) {
	var doc []byte
	doc = append(doc, 0, 0, 0, 0) // size placeholder

	doc = append(doc, 0x10) // int32
	doc = bsonCString(doc, "isMaster")
	doc = binary.LittleEndian.AppendUint32(doc, 1)

	doc = append(doc, 0x03) // document
	doc = bsonCString(doc, "client")
	clientStart := len(doc)
	doc = append(doc, 0, 0, 0, 0)

	doc = append(doc, 0x03) // document
	doc = bsonCString(doc, "driver")
	driverStart := len(doc)
	doc = append(doc, 0, 0, 0, 0)

	doc = append(doc, 0x02) // string
	doc = bsonCString(doc, "name")
	doc = binary.LittleEndian.AppendUint32(doc, uint32(len("unicornscan")+1))
	doc = append(doc, "unicornscan"...)
	doc = append(doc, 0)
	doc = append(doc, 0) // driver doc terminator
	binary.LittleEndian.PutUint32(doc[driverStart:], uint32(len(doc)-driverStart))

	doc = append(doc, 0) // client doc terminator
	binary.LittleEndian.PutUint32(doc[clientStart:], uint32(len(doc)-clientStart))

	doc = append(doc, 0x02) // string
	doc = bsonCString(doc, "$db")
	doc = binary.LittleEndian.AppendUint32(doc, uint32(len("admin")+1))
	doc = append(doc, "admin"...)
	doc = append(doc, 0)

	doc = append(doc, 0) // document terminator
	binary.LittleEndian.PutUint32(doc, uint32(len(doc)))

	msgLen := 16 + 4 + 1 + len(doc)
	msg := make([]byte, 0, msgLen)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(msgLen))
	msg = binary.LittleEndian.AppendUint32(msg, randUint32()) // requestID
	msg = binary.LittleEndian.AppendUint32(msg, 0)            // responseTo
	msg = binary.LittleEndian.AppendUint32(msg, 2013)          // OP_MSG
	msg = binary.LittleEndian.AppendUint32(msg, 0)             // flags
	msg = append(msg, 0)                                       // section kind: body
	msg = append(msg, doc...)
	return msg, nil
}

// tlsClientHello builds a minimal TLS 1.2-framed ClientHello advertising
// TLS 1.3 support, ported from payload_modules/tls_common.h/tls_default.c
// — enough of a handshake for a TLS-terminating service to answer with a
// ServerHello, without replicating every cipher suite/extension the
// original's fuller cipher list carries.
func tlsClientHello() ([]byte, error) {
	var hello []byte
	hello = append(hello, 0x03, 0x03) // client_version: TLS 1.2
	var random [32]byte
	_, _ = rand.Read(random[:])
	hello = append(hello, random[:]...)
	hello = append(hello, 0) // session_id length 0

	cipherSuites := []uint16{0x1301, 0x1302, 0x1303, 0xc02f, 0xc030, 0x009e}
	hello = binary.BigEndian.AppendUint16(hello, uint16(len(cipherSuites)*2))
	for _, cs := range cipherSuites {
		hello = binary.BigEndian.AppendUint16(hello, cs)
	}
	hello = append(hello, 1, 0) // compression methods: [null]

	var ext []byte
	ext = binary.BigEndian.AppendUint16(ext, 0x002b) // supported_versions
	ext = binary.BigEndian.AppendUint16(ext, 3)
	ext = append(ext, 2, 0x03, 0x04) // TLS 1.3
	hello = binary.BigEndian.AppendUint16(hello, uint16(len(ext)))
	hello = append(hello, ext...)

	var handshake []byte
	handshake = append(handshake, 0x01) // ClientHello
	handshake = append(handshake, byte(len(hello)>>16), byte(len(hello)>>8), byte(len(hello)))
	handshake = append(handshake, hello...)

	record := make([]byte, 0, 5+len(handshake))
	record = append(record, 0x16, 0x03, 0x01) // handshake, record version 1.0
	record = binary.BigEndian.AppendUint16(record, uint16(len(handshake)))
	record = append(record, handshake...)
	return record, nil
}

// websocketUpgrade builds an HTTP/1.1 WebSocket upgrade request, ported
// from payload_modules/websocket.c.
func websocketUpgrade() ([]byte, error) {
	var key [16]byte
	_, _ = rand.Read(key[:])
	return []byte(fmt.Sprintf(
		"GET / HTTP/1.1\r\n"+
			"Host: scan\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: %x\r\n"+
			"Sec-WebSocket-Version: 13\r\n\r\n", key[:])), nil
}
