//go:build linux

// Package listener implements the stateless listener loop of spec §4.5:
// one raw socket per interface, classifying every inbound frame against
// the recv-workunit's expectations without keeping any per-probe state.
// Correlation comes entirely from the wire: SYN-cookie verification
// (pkg/cookie) recovers which SYN a SYN-ACK answers, and the encoded
// source port (pkg/ports) recovers the payload index or tcptrace TTL a
// probe carried.
//
// Grounded directly on tools/uping's listener: a raw, HDRINCL,
// SO_BINDTODEVICE'd socket, IP_PKTINFO-verified ingress interface, and a
// poll+eventfd loop that exits cleanly on context cancellation.
package listener

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/trace"
	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

const defaultPollTimeout = 1 * time.Second

// Config configures a Listener.
type Config struct {
	Logger  *slog.Logger
	Iface   workunit.Iface
	Timeout time.Duration // per-poll-iteration fallback; 0 -> default
}

// Sink receives classified reports as they are produced. The listener
// never aggregates or dedupes; that is pkg/aggregator's job, reached
// over pkg/ipc in the multi-process deployment spec §4.6 describes.
type Sink interface {
	OnIPReport(aggregator.IPReport)
	OnARPReport(aggregator.ARPReport)
	OnTracePath(trace.Path)
}

// Listener owns the raw sockets used to receive every response family.
type Listener struct {
	log     *slog.Logger
	iface   workunit.Iface
	ifIndex int

	ipFD  int // AF_INET SOCK_RAW IPPROTO_RAW, HDRINCL, bound to iface
	arpFD int // AF_PACKET SOCK_RAW, bound to iface, for ARP frames
	efd   int // eventfd used to interrupt poll() on cancellation

	timeout time.Duration

	groWasOn, lroWasOn bool

	tracesMu sync.Mutex
	traces   map[traceKey]*trace.Session
}

type traceKey struct {
	addr [4]byte
	port uint16
}

// New opens the raw sockets for iface. Requires CAP_NET_RAW.
func New(cfg Config) (*Listener, error) {
	if cfg.Iface.Name == "" {
		return nil, fmt.Errorf("listener: interface name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	ifi, err := net.InterfaceByName(cfg.Iface.Name)
	if err != nil {
		return nil, fmt.Errorf("listener: lookup interface %q: %w", cfg.Iface.Name, err)
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
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(ipFD)
		unix.Close(arpFD)
		return nil, fmt.Errorf("listener: eventfd: %w", err)
	}

	groWasOn, lroWasOn, err := disableOffload(cfg.Iface.Name)
	if err != nil && cfg.Logger != nil {
		cfg.Logger.Warn("listener: could not disable GRO/LRO, coalesced frames may be misclassified", "iface", cfg.Iface.Name, "err", err)
	}

	return &Listener{
		log:      cfg.Logger,
		iface:    cfg.Iface,
		ifIndex:  ifi.Index,
		ipFD:     ipFD,
		arpFD:    arpFD,
		efd:      efd,
		timeout:  timeout,
		groWasOn: groWasOn,
		lroWasOn: lroWasOn,
		traces:   make(map[traceKey]*trace.Session),
	}, nil
}

func openIPSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return -1, fmt.Errorf("listener: open raw socket: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener: bind-to-device %q: %w", ifname, err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener: setsockopt IP_PKTINFO: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener: set nonblock: %w", err)
	}
	return fd, nil
}

func openLinkSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ARP))
	if err != nil {
		return -1, fmt.Errorf("listener: open AF_PACKET socket: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener: bind-to-device %q: %w", ifname, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener: set nonblock: %w", err)
	}
	return fd, nil
}

func htons(v int) int {
	return (v&0xff)<<8 | (v>>8)&0xff
}

// Close releases both raw sockets and the eventfd, and restores
// whatever GRO/LRO state New found on the interface.
func (l *Listener) Close() error {
	restoreOffload(l.iface.Name, l.groWasOn, l.lroWasOn)
	unix.Close(l.efd)
	err1 := unix.Close(l.ipFD)
	err2 := unix.Close(l.arpFD)
	if err1 != nil {
		return err1
	}
	return err2
}

// AttachBPF installs a per-workunit classification filter on the IP
// socket (spec §4.5 "per-workunit BPF filter"), narrowing the kernel's
// delivery to the protocol/port shape the recv-workunit expects before
// any bytes reach userspace. wu.BPFFilterOverride, if set, is ignored
// here — compiling a user-supplied raw filter string is cmd/*'s job;
// this always builds the filter from the workunit's structured fields.
func (l *Listener) AttachBPF(wu workunit.RecvWorkunit) error {
	prog, err := buildBPFProgram(wu)
	if err != nil {
		return fmt.Errorf("listener: build BPF program: %w", err)
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return fmt.Errorf("listener: assemble BPF program: %w", err)
	}
	return setBPF(l.ipFD, raw)
}

// buildBPFProgram assembles a minimal classifier over the raw-IP
// capture: accept only the IP protocol the recv-workunit cares about,
// drop everything else in-kernel. Finer-grained port matching happens
// in Go after Recvmsg, since the encoded source-port ranges (pkg/ports)
// aren't a fixed offset the BPF VM can test cheaply against a raw-IP
// capture with a variable IHL.
func buildBPFProgram(wu workunit.RecvWorkunit) ([]bpf.Instruction, error) {
	var proto uint32
	switch wu.Magic {
	case workunit.MagicTCP:
		proto = wire.ProtoTCP
	case workunit.MagicUDP:
		proto = wire.ProtoUDP
	case workunit.MagicICMP, workunit.MagicIPRaw:
		proto = wire.ProtoICMP
	default:
		return nil, fmt.Errorf("no protocol filter for magic %v", wu.Magic)
	}
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 9, Size: 1}, // IPv4 protocol field
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: proto, SkipFalse: 1},
		bpf.RetConstant{Val: 0xffff},
		bpf.RetConstant{Val: 0},
	}, nil
}

func setBPF(fd int, raw []bpf.RawInstruction) error {
	prog := unix.SockFprog{
		Len:    uint16(len(raw)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&raw[0])),
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

// Listen blocks, classifying every inbound frame on both sockets and
// delivering reports to sink, until ctx is done.
func (l *Listener) Listen(ctx context.Context, wu workunit.RecvWorkunit, sink Sink) error {
	if l.log != nil {
		l.log.Info("listener: starting", "iface", l.iface.Name)
	}

	go func() {
		<-ctx.Done()
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(l.efd, one[:])
	}()

	ipBuf := make([]byte, 65535)
	arpBuf := make([]byte, 65535)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofInet4Pktinfo))
	pfds := []unix.PollFd{
		{Fd: int32(l.ipFD), Events: unix.POLLIN},
		{Fd: int32(l.arpFD), Events: unix.POLLIN},
		{Fd: int32(l.efd), Events: unix.POLLIN},
	}

	for {
		timeout := pollTimeoutMs(ctx, l.timeout)
		nready, err := unix.Poll(pfds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("listener: poll: %w", err)
		}
		if pfds[2].Revents&unix.POLLIN != 0 {
			return nil
		}
		if nready == 0 {
			continue
		}

		if pfds[0].Revents&(unix.POLLIN|unix.POLLERR) != 0 {
			l.drainIP(ipBuf, oob, wu, sink)
		}
		if pfds[1].Revents&(unix.POLLIN|unix.POLLERR) != 0 {
			l.drainARP(arpBuf, sink)
		}
	}
}

func (l *Listener) drainIP(buf, oob []byte, wu workunit.RecvWorkunit, sink Sink) {
	for {
		n, oobn, _, _, err := unix.Recvmsg(l.ipFD, buf, oob, 0)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && l.log != nil {
				l.log.Debug("listener: recvmsg error", "err", err)
			}
			return
		}
		if !l.ingressMatches(oob, oobn) {
			continue
		}
		recvTime := time.Now()
		l.tracesMu.Lock()
		r, tp, ok := classifyIP(buf[:n], recvTime, wu, l.traces)
		l.tracesMu.Unlock()
		if !ok {
			continue
		}
		sink.OnIPReport(r)
		if tp != nil {
			sink.OnTracePath(*tp)
		}
	}
}

func (l *Listener) drainARP(buf []byte, sink Sink) {
	for {
		n, _, err := unix.Recvfrom(l.arpFD, buf, 0)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && l.log != nil {
				l.log.Debug("listener: arp recvfrom error", "err", err)
			}
			return
		}
		recvTime := time.Now()
		r, ok := classifyARP(buf[:n], recvTime)
		if !ok {
			continue
		}
		sink.OnARPReport(r)
	}
}

// ingressMatches verifies the IP_PKTINFO ingress ifindex matches the
// interface this listener is bound to, the same defense the teacher's
// listener applies before trusting a captured datagram.
func (l *Listener) ingressMatches(oob []byte, oobn int) bool {
	if oobn <= 0 {
		return false
	}
	cms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return false
	}
	for _, cm := range cms {
		if cm.Header.Level == unix.IPPROTO_IP && cm.Header.Type == unix.IP_PKTINFO &&
			len(cm.Data) >= unix.SizeofInet4Pktinfo {
			var pi unix.Inet4Pktinfo
			copy((*[unix.SizeofInet4Pktinfo]byte)(unsafe.Pointer(&pi))[:], cm.Data[:unix.SizeofInet4Pktinfo])
			return int(pi.Ifindex) == l.ifIndex
		}
	}
	return false
}

// pollTimeoutMs mirrors uping_listener.go's ctx-deadline-aware poll
// timeout derivation.
func pollTimeoutMs(ctx context.Context, fallback time.Duration) int {
	const max = int(^uint32(0) >> 1)
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem <= 0 {
			return 0
		}
		if rem > time.Duration(max)*time.Millisecond {
			return max
		}
		return int(rem / time.Millisecond)
	}
	if fallback > 0 {
		if fallback > time.Duration(max)*time.Millisecond {
			return max
		}
		return int(fallback / time.Millisecond)
	}
	return -1
}
