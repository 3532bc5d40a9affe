//go:build linux

// Package sender implements the stateless per-workunit probe-emission
// loop of spec §4.4: build one wire-ready packet per (target, port,
// repeat) — or per (target, port, ttl, repeat) in tcptrace mode — pace it
// against the workunit's PPS ceiling, and write it to a raw socket.
// No per-probe state is kept; everything the listener needs to
// correlate a response is encoded into the wire bytes themselves
// (SYN-cookie ISN, payload-index/trace-TTL source port).
//
// Grounded directly on tools/uping's sender: a single raw, HDRINCL
// socket pinned to one interface with SO_BINDTODEVICE, reopened on
// transient errors, with Close serialized against Send via a mutex.
// ARP frames go out a second AF_PACKET socket since they have no IPv4
// header to HDRINCL.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/robertelee78/unicornscan/pkg/cookie"
	"github.com/robertelee78/unicornscan/pkg/pacer"
	"github.com/robertelee78/unicornscan/pkg/payload"
	"github.com/robertelee78/unicornscan/pkg/portlist"
	"github.com/robertelee78/unicornscan/pkg/ports"
	"github.com/robertelee78/unicornscan/pkg/prng"
	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// Config configures a Sender.
type Config struct {
	Logger *slog.Logger
	Iface  workunit.Iface
}

// Sender owns the raw sockets used to emit every probe family.
type Sender struct {
	log     *slog.Logger
	iface   workunit.Iface
	ifIndex int

	mu    sync.Mutex
	ipFD  int // AF_INET SOCK_RAW IPPROTO_RAW, HDRINCL, bound to iface
	arpFD int // AF_PACKET SOCK_RAW, bound to iface, for ARP/Ethernet frames
}

// New opens the raw sockets for iface. Requires CAP_NET_RAW.
func New(cfg Config) (*Sender, error) {
	if cfg.Iface.Name == "" {
		return nil, fmt.Errorf("sender: interface name is required")
	}

	ipFD, err := openIPSocket(cfg.Iface.Name)
	if err != nil {
		return nil, err
	}
	arpFD, err := openLinkSocket(cfg.Iface.Name)
	if err != nil {
		unix.Close(ipFD)
		return nil, err
	}

	ifi, err := ifIndexByName(cfg.Iface.Name)
	if err != nil {
		unix.Close(ipFD)
		unix.Close(arpFD)
		return nil, err
	}

	return &Sender{
		log:     cfg.Logger,
		iface:   cfg.Iface,
		ifIndex: ifi,
		ipFD:    ipFD,
		arpFD:   arpFD,
	}, nil
}

func openIPSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return -1, fmt.Errorf("sender: open raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sender: set IP_HDRINCL: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sender: bind-to-device %q: %w", ifname, err)
	}
	return fd, nil
}

func openLinkSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return -1, fmt.Errorf("sender: open AF_PACKET socket: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sender: bind-to-device %q: %w", ifname, err)
	}
	return fd, nil
}

// htons converts a host-byte-order uint16 value to network byte order,
// needed because AF_PACKET's socket(2) protocol argument must be passed
// in network byte order on a little-endian host.
func htons(v int) int {
	return int((v&0xff)<<8 | (v>>8)&0xff)
}

// Close closes both raw sockets. Serialized against in-flight sends.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := unix.Close(s.ipFD)
	err2 := unix.Close(s.arpFD)
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Sender) sendIPv4(dst [4]byte, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa := &unix.SockaddrInet4{Addr: dst}
	err := unix.Sendto(s.ipFD, buf, 0, sa)
	if err != nil && isTransientSocketErr(err) {
		if s.log != nil {
			s.log.Info("sender: reopen after send err", "socket", "ip", "err", err)
		}
		if rerr := s.reopen(); rerr == nil {
			err = unix.Sendto(s.ipFD, buf, 0, sa)
		}
	}
	return err
}

func (s *Sender) sendLinkFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa := &unix.SockaddrLinklayer{Ifindex: s.ifIndex, Halen: 6}
	err := unix.Sendto(s.arpFD, frame, 0, sa)
	if err != nil && isTransientSocketErr(err) {
		if s.log != nil {
			s.log.Info("sender: reopen after send err", "socket", "link", "err", err)
		}
		if rerr := s.reopen(); rerr == nil {
			sa = &unix.SockaddrLinklayer{Ifindex: s.ifIndex, Halen: 6}
			err = unix.Sendto(s.arpFD, frame, 0, sa)
		}
	}
	return err
}

// reopen replaces both raw sockets with fresh ones bound to the same
// interface, reapplying the base options openIPSocket/openLinkSocket
// set, and re-resolves the interface index. Used after a transient send
// error (device down, no buffer space, ...); callers must hold s.mu.
func (s *Sender) reopen() error {
	ipFD, err := openIPSocket(s.iface.Name)
	if err != nil {
		return err
	}
	arpFD, err := openLinkSocket(s.iface.Name)
	if err != nil {
		unix.Close(ipFD)
		return err
	}
	unix.Close(s.ipFD)
	unix.Close(s.arpFD)
	s.ipFD = ipFD
	s.arpFD = arpFD
	if ifi, ierr := ifIndexByName(s.iface.Name); ierr == nil {
		s.ifIndex = ifi
	}
	return nil
}

// Stats summarizes one workunit's emission, feeding the IPC
// workunit-stats message of spec §4.6.
type Stats struct {
	Sent   uint64
	Failed uint64
}

// RunScan emits every probe a send-workunit describes: targets × ports ×
// repeats in the order the caller supplies them (target/port shuffling,
// if requested, has already been applied by the caller via
// target.Hosts/portlist.Shuffle before this is called), or targets ×
// ports × ttl × repeats in tcptrace mode. Blocks on pc.Take() between probes to
// honor the PPS ceiling (P6); returns early on ctx cancellation.
func (s *Sender) RunScan(
	ctx context.Context,
	wu workunit.SendWorkunit,
	targets []netip.Addr,
	ports_ []portlist.Entry,
	reg *payload.Registry,
	pc *pacer.Pacer,
	rnd *prng.Stream,
) (Stats, error) {
	var stats Stats
	src := s.iface.IP.To4()
	if src == nil {
		return stats, fmt.Errorf("sender: interface source IP is not IPv4")
	}
	var srcArr [4]byte
	copy(srcArr[:], src)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		dst4 := target.As4()

		if wu.TraceMode {
			for _, port := range ports_ {
				for ttl := wu.MinTTL; ; ttl++ {
					for rep := 0; rep < max1(wu.Repeats); rep++ {
						if ctx.Err() != nil {
							return stats, ctx.Err()
						}
						pc.Take()
						if err := s.sendTraceProbe(wu, srcArr, dst4, port.Port, ttl); err != nil {
							stats.Failed++
							s.logSendErr(err, "trace", ttl)
						} else {
							stats.Sent++
						}
					}
					if ttl == wu.MaxTTL {
						break
					}
				}
			}
			continue
		}

		for _, port := range ports_ {
			variants := resolveVariants(reg, wu.Magic, port.Port, port.PayloadCount)
			multiPayload := variants > 1
			for idx := 0; idx < variants; idx++ {
				for rep := 0; rep < max1(wu.Repeats); rep++ {
					if ctx.Err() != nil {
						return stats, ctx.Err()
					}
					pc.Take()
					if err := s.sendProbe(wu, srcArr, dst4, port.Port, idx, multiPayload, reg, rnd); err != nil {
						stats.Failed++
						s.logSendErr(err, "probe", port.Port)
					} else {
						stats.Sent++
					}
				}
			}
		}
	}
	return stats, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// resolveVariants implements portlist.Entry's documented PayloadCount
// contract (portlist.go): an explicit :N wins outright; 0 means "use
// the registry's natural count" for this port under this magic's
// protocol, falling back to a single variant when the registry has
// nothing registered (or the magic has no payload concept at all, e.g.
// ICMP/ARP).
func resolveVariants(reg *payload.Registry, magic workunit.Magic, port uint16, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if reg != nil {
		var proto payload.Proto
		switch magic {
		case workunit.MagicTCP:
			proto = payload.TCP
		case workunit.MagicUDP:
			proto = payload.UDP
		default:
			return 1
		}
		if n := reg.CountPayloads(proto, port); n > 0 {
			return n
		}
	}
	return 1
}

func (s *Sender) logSendErr(err error, what string, aux any) {
	if s.log != nil {
		s.log.Debug("sender: send failed", "what", what, "aux", aux, "err", err)
	}
}

func (s *Sender) sendProbe(wu workunit.SendWorkunit, src, dst [4]byte, dstPort uint16, payloadIdx int, multiPayload bool, reg *payload.Registry, rnd *prng.Stream) error {
	srcPort, err := s.pickSrcPort(wu, payloadIdx, multiPayload, rnd)
	if err != nil {
		return err
	}

	switch wu.Magic {
	case workunit.MagicTCP:
		return s.sendTCP(wu, src, dst, srcPort, dstPort, wu.MinTTL, wu.TCPFlags, reg, payloadIdx)
	case workunit.MagicUDP:
		return s.sendUDP(wu, src, dst, srcPort, dstPort, reg, payloadIdx)
	case workunit.MagicICMP:
		return s.sendICMP(wu, src, dst, srcPort)
	case workunit.MagicARP:
		return s.sendARP(src, dst)
	default:
		return fmt.Errorf("sender: unsupported magic %v", wu.Magic)
	}
}

// pickSrcPort draws the outbound source port. Per spec §3, a probe only
// gives up its free choice of source port when multi-payload encoding
// is actually active for this port (more than one registered variant);
// otherwise the port comes from the user's template or the PRNG, same
// as any other probe, and never gets pushed into the payload-index
// range [49152,65535].
func (s *Sender) pickSrcPort(wu workunit.SendWorkunit, payloadIdx int, multiPayload bool, rnd *prng.Stream) (uint16, error) {
	if wu.SrcPortTemplate >= 0 {
		return uint16(wu.SrcPortTemplate), nil
	}
	var offset uint16
	if rnd != nil {
		offset = uint16(rnd.Uint32())
	}
	if !multiPayload {
		return offset, nil
	}
	idx := payloadIdx
	if idx < 0 || idx > 15 {
		idx = 0
	}
	return ports.EncodePayload(offset, idx)
}

func (s *Sender) sendTCP(wu workunit.SendWorkunit, src, dst [4]byte, srcPort, dstPort uint16, ttl uint8, flags uint8, reg *payload.Registry, payloadIdx int) error {
	isn := cookie.Generate(src, dst, srcPort, dstPort, wu.CookieKey)

	// TCP probes never carry a payload: anything beyond the handshake goes
	// out over pkg/scan's follow-up connect, after the three-way handshake
	// actually completes. reg and payloadIdx are accepted but unused here;
	// sendProbe has already encoded the payload index into srcPort via
	// pickSrcPort.
	var body []byte

	opts := wu.TCPOptions
	if opts == nil {
		opts = wire.DefaultTCPOptions
	}
	tcp, err := wire.BuildTCP(wire.TCPHeader{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     isn,
		Flags:   flags,
		Window:  wu.TCPWindow,
		Options: opts,
	}, src, dst, body)
	if err != nil {
		return fmt.Errorf("sender: build TCP: %w", err)
	}

	pkt, err := wire.BuildIPv4(wire.IPv4Header{
		ToS:      wu.ToS,
		TTL:      ttl,
		Protocol: wire.ProtoTCP,
		ID:       nextIPID(),
		Options:  wu.IPOptions,
		Src:      src,
		Dst:      dst,
	}, tcp)
	if err != nil {
		return fmt.Errorf("sender: build IPv4: %w", err)
	}
	return s.sendIPv4(dst, pkt)
}

func (s *Sender) sendUDP(wu workunit.SendWorkunit, src, dst [4]byte, srcPort, dstPort uint16, reg *payload.Registry, payloadIdx int) error {
	var body []byte
	if reg != nil && reg.CountPayloads(payload.UDP, dstPort) > payloadIdx {
		if b, err := reg.GetPayload(payload.UDP, dstPort, payloadIdx); err == nil {
			body = b
		}
	}
	udp, err := wire.BuildUDP(srcPort, dstPort, src, dst, body)
	if err != nil {
		return fmt.Errorf("sender: build UDP: %w", err)
	}
	pkt, err := wire.BuildIPv4(wire.IPv4Header{
		ToS:      wu.ToS,
		TTL:      wu.MinTTL,
		Protocol: wire.ProtoUDP,
		ID:       nextIPID(),
		Options:  wu.IPOptions,
		Src:      src,
		Dst:      dst,
	}, udp)
	if err != nil {
		return fmt.Errorf("sender: build IPv4: %w", err)
	}
	return s.sendIPv4(dst, pkt)
}

func (s *Sender) sendICMP(wu workunit.SendWorkunit, src, dst [4]byte, srcPort uint16) error {
	id := uint16(srcPort)
	seq := uint16(nextIPID())
	icmp := wire.BuildICMPEcho(wire.ICMPEchoRequest, id, seq, nil)
	pkt, err := wire.BuildIPv4(wire.IPv4Header{
		ToS:      wu.ToS,
		TTL:      wu.MinTTL,
		Protocol: wire.ProtoICMP,
		ID:       nextIPID(),
		Options:  wu.IPOptions,
		Src:      src,
		Dst:      dst,
	}, icmp)
	if err != nil {
		return fmt.Errorf("sender: build IPv4: %w", err)
	}
	return s.sendIPv4(dst, pkt)
}

func (s *Sender) sendARP(src, dst [4]byte) error {
	arp, err := wire.BuildARP(wire.ARPPacket{
		Op:       wire.ARPRequest,
		SenderHW: s.iface.MAC,
		SenderIP: src,
		TargetIP: dst,
	})
	if err != nil {
		return fmt.Errorf("sender: build ARP: %w", err)
	}
	broadcast := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	frame, err := wire.BuildEthernet(broadcast, s.iface.MAC, wire.EtherTypeARP, arp)
	if err != nil {
		return fmt.Errorf("sender: build Ethernet: %w", err)
	}
	return s.sendLinkFrame(frame)
}

func (s *Sender) sendTraceProbe(wu workunit.SendWorkunit, src, dst [4]byte, dstPort uint16, ttl uint8) error {
	srcPort, err := ports.EncodeTrace(ttl)
	if err != nil {
		return fmt.Errorf("sender: encode trace ttl: %w", err)
	}
	return s.sendTCP(wu, src, dst, srcPort, dstPort, ttl, wire.FlagSYN, nil, 0)
}

var ipidCounter uint32

func nextIPID() uint16 {
	ipidCounter++
	return uint16(ipidCounter)
}

func ifIndexByName(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("sender: lookup interface %q: %w", name, err)
	}
	return ifi.Index, nil
}

// isTransientSocketErr classifies the same class of recoverable socket
// errors the teacher's uping sender reopens on; sendIPv4/sendLinkFrame
// retry once through reopen() when a send fails with one of these
// (spec §7 "per-workunit: send syscall returns persistent error" vs. a
// transient one worth retrying).
func isTransientSocketErr(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENETDOWN) ||
		errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENETRESET) || errors.Is(err, unix.ENOMEM)
}
