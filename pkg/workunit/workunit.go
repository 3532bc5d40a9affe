// Package workunit defines the send-workunit and recv-workunit data
// model of spec §3 and the planner of §4.3, including the deterministic
// CIDR aggregation algorithm of §4.4.
package workunit

import (
	"net"
	"net/netip"
	"time"

	"github.com/robertelee78/unicornscan/pkg/cookie"
)

// Status is a workunit's lifecycle state, §3.
type Status int

const (
	StatusQueued Status = iota
	StatusInFlight
	StatusDone
	StatusFailed
)

// Magic tags the protocol family a workunit targets.
type Magic int

const (
	MagicTCP Magic = iota
	MagicUDP
	MagicARP
	MagicICMP
	MagicIPRaw
)

// Iface is the source-interface snapshot embedded in every send-workunit
// (spec §3).
type Iface struct {
	Name    string
	IP      net.IP
	Netmask net.IPMask
	MAC     net.HardwareAddr
	MTU     int
}

// SendWorkunit is a self-contained plan for emitting one probe family
// against one target range, per spec §3.
type SendWorkunit struct {
	ID      uint64
	Magic   Magic
	Repeats int
	PPS     int
	Iface   Iface
	Target  netip.Prefix

	ToS       uint8
	MinTTL    uint8
	MaxTTL    uint8
	IPOptions []byte
	FragOff   uint16

	// Transport fields; most are TCP-only but shared here per spec §3's
	// flat field list.
	SrcPortTemplate int // -1 => randomize
	TCPFlags        uint8
	TCPOptions      []byte
	TCPWindow       uint16
	CookieKey       cookie.Key

	PortExpr string

	// TraceMode selects tcptrace probe generation (spec §4.9): src_port
	// becomes ports.EncodeTrace(ttl) and ttl iterates MinTTL..MaxTTL per
	// probe instead of being held fixed.
	TraceMode bool

	Status Status
}

// RecvWorkunit is a plan for the listener, per spec §3.
type RecvWorkunit struct {
	ID      uint64
	Magic   Magic
	Timeout time.Duration // post-send quiescence before declaring done

	LayerReturnMask LayerMask

	Promisc           bool
	ReportBadNetCksum bool
	ReportBadTransCksum bool
	FollowUpConnect   bool

	CookieKey cookie.Key

	BPFFilterOverride string

	Status Status
}

// LayerMask selects which wire layers a recv-workunit's reports include.
type LayerMask uint8

const (
	LayerLink LayerMask = 1 << iota
	LayerNetwork
	LayerTransport
)
