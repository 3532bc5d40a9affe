//go:build linux

// Package scan implements ScanContext/ScanSettings, the explicit
// replacement for the source's global settings_t *s (spec §9): it owns
// one scan's lifecycle end to end — interface snapshot, phase
// sequencing (including the ARP-then-TCP compound mode of §4.3/P7),
// and cancellation.
//
// Grounded on the teacher's config-struct-plus-constructor convention
// (plain struct, a Validate/New that checks required fields, a single
// owning type instead of package-level globals) used throughout
// tools/uping and tools/twamp.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/cookie"
	"github.com/robertelee78/unicornscan/pkg/listener"
	"github.com/robertelee78/unicornscan/pkg/pacer"
	"github.com/robertelee78/unicornscan/pkg/payload"
	"github.com/robertelee78/unicornscan/pkg/phasefilter"
	"github.com/robertelee78/unicornscan/pkg/portlist"
	"github.com/robertelee78/unicornscan/pkg/prng"
	"github.com/robertelee78/unicornscan/pkg/sender"
	"github.com/robertelee78/unicornscan/pkg/target"
	"github.com/robertelee78/unicornscan/pkg/trace"
	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// Settings is one scan's complete configuration, spec §3's "Scan"
// record flattened into Go fields.
type Settings struct {
	ScanID uuid.UUID

	Interface string
	Targets   []netip.Prefix
	PortExpr  string

	// SourceOverride and MACOverride replace the interface's own
	// address/MAC in the workunit's source-interface snapshot, spec §6
	// "-s <ip>" / "-H <mac>" (spoofed source address, overridden MAC).
	SourceOverride net.IP
	MACOverride    net.HardwareAddr

	Magic    workunit.Magic
	Compound bool // ARP-then-TCP per phase, P7

	TraceMode      bool
	MinTTL, MaxTTL uint8
	TCPFlags       uint8
	ToS            uint8

	PPS          int
	Repeats      int
	RecvTimeoutS int
	Promisc      bool

	CookieKey cookie.Key
	PRNGSeed  uint64

	AggConfig aggregator.Config
	Sinks     []aggregator.Sink
}

// senderRunner and listenerRunner are the seams pkg/scan tests fake out
// in place of real raw sockets (which need CAP_NET_RAW); *sender.Sender
// and *listener.Listener satisfy both without modification.
type senderRunner interface {
	RunScan(ctx context.Context, wu workunit.SendWorkunit, targets []netip.Addr, ports_ []portlist.Entry, reg *payload.Registry, pc *pacer.Pacer, rnd *prng.Stream) (sender.Stats, error)
	Close() error
}

type listenerRunner interface {
	Listen(ctx context.Context, wu workunit.RecvWorkunit, sink listener.Sink) error
	AttachBPF(wu workunit.RecvWorkunit) error
	TrackTrace(sess *trace.Session)
	Close() error
}

// Context owns one scan's whole lifecycle. Not safe for concurrent
// Run calls; a scan runs its phases strictly in sequence.
type Context struct {
	Settings Settings
	log      *slog.Logger

	iface   workunit.Iface
	planner *workunit.Planner
	filter  *phasefilter.Filter
	agg     *aggregator.Aggregator
	reg     *payload.Registry
	rnd     *prng.Stream

	newSender   func(workunit.Iface) (senderRunner, error)
	newListener func(workunit.Iface) (listenerRunner, error)
}

// NewContext snapshots Settings.Interface via netlink and builds the
// scan's supporting state. reg may be nil (no payloads registered, bare
// probes only).
func NewContext(s Settings, log *slog.Logger, reg *payload.Registry) (*Context, error) {
	if s.Interface == "" {
		return nil, fmt.Errorf("scan: interface is required")
	}
	if s.ScanID == uuid.Nil {
		s.ScanID = uuid.New()
	}
	if reg == nil {
		reg = payload.NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}

	ifc, err := snapshotIface(s.Interface)
	if err != nil {
		return nil, err
	}
	if s.SourceOverride != nil {
		ifc.IP = s.SourceOverride
	}
	if s.MACOverride != nil {
		ifc.MAC = s.MACOverride
	}

	seed := s.PRNGSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) ^ uint64(os.Getpid())
	}

	c := &Context{
		Settings: s,
		log:      log,
		iface:    ifc,
		planner:  workunit.NewPlanner(),
		filter:   phasefilter.New(),
		agg:      aggregator.New(s.AggConfig, s.Sinks...),
		reg:      reg,
		rnd:      prng.NewStream(seed),
	}
	c.newSender = func(ifc workunit.Iface) (senderRunner, error) {
		return sender.New(sender.Config{Logger: log, Iface: ifc})
	}
	c.newListener = func(ifc workunit.Iface) (listenerRunner, error) {
		return listener.New(listener.Config{Logger: log, Iface: ifc, Timeout: time.Duration(s.RecvTimeoutS) * time.Second})
	}
	return c, nil
}

// snapshotIface reads the named interface's IPv4 address, MAC, and MTU,
// matching the interface snapshot the planner's Iface field needs.
func snapshotIface(name string) (workunit.Iface, error) {
	return workunit.SnapshotIface(name)
}

// Aggregator exposes the scan's report aggregator, for sinks installed
// after construction or for tests inspecting buffered counts.
func (c *Context) Aggregator() *aggregator.Aggregator { return c.agg }

// RunPhase plans and executes a single scan phase against targets,
// blocking until the send loop and the post-send quiescence window both
// complete, then flushing the aggregator. Spec §4.3 step-by-step.
// Returns every tcptrace path the listener completed during the phase.
func (c *Context) RunPhase(ctx context.Context, phase workunit.Phase, targets []netip.Prefix, liveHosts []netip.Addr) ([]trace.Path, error) {
	sends, recvs, err := c.planner.Plan(workunit.PlanInput{
		Phase:        phase,
		GlobalPPS:    c.Settings.PPS,
		GlobalRepeat: c.Settings.Repeats,
		GlobalRecvS:  c.Settings.RecvTimeoutS,
		Targets:      targets,
		LiveHosts:    liveHosts,
		PortExpr:     c.Settings.PortExpr,
		Iface:        c.iface,
		CookieKey:    c.Settings.CookieKey,
		Promisc:      c.Settings.Promisc,
	})
	if err != nil {
		return nil, fmt.Errorf("scan: plan phase: %w", err)
	}

	ports_, err := portExprToEntries(c.Settings.PortExpr, phase.MagicMode)
	if err != nil {
		return nil, err
	}

	l, err := c.newListener(c.iface)
	if err != nil {
		return nil, fmt.Errorf("scan: open listener: %w", err)
	}
	defer l.Close()

	recv := recvs[0]
	if err := l.AttachBPF(recv); err != nil {
		c.log.Warn("scan: BPF attach failed, continuing unfiltered", "err", err)
	}

	sink := &scanSink{
		agg:      c.agg,
		filter:   c.filter,
		reg:      c.reg,
		bp:       bannerParser{},
		followUp: recv.FollowUpConnect,
		ctx:      ctx,
	}

	listenCtx, cancelListen := context.WithCancel(ctx)
	listenDone := make(chan error, 1)
	go func() { listenDone <- l.Listen(listenCtx, recv, sink) }()

	s, err := c.newSender(c.iface)
	if err != nil {
		cancelListen()
		<-listenDone
		return nil, fmt.Errorf("scan: open sender: %w", err)
	}
	defer s.Close()

	pc := pacer.New(c.Settings.PPS)

	var sendErrs error
	for _, wu := range sends {
		wu.MinTTL, wu.MaxTTL = c.Settings.MinTTL, c.Settings.MaxTTL
		wu.TraceMode = c.Settings.TraceMode
		wu.TCPWindow = 65535
		wu.ToS = c.Settings.ToS
		addrs := expandPrefix(wu.Target)

		if wu.TraceMode {
			// Register one session per (target, port) before sending so
			// the listener can correlate SYN-ACKs/Time-Exceeded replies
			// as they arrive, spec §4.9 step 1.
			for _, addr := range addrs {
				ip := net.IP(addr.AsSlice())
				for _, port := range ports_ {
					l.TrackTrace(trace.NewSession(ip, port.Port, c.Settings.MinTTL, c.Settings.MaxTTL))
				}
			}
		}

		_, err := s.RunScan(ctx, wu, addrs, ports_, c.reg, pc, c.rnd)
		sendErrs = multierr.Append(sendErrs, err)
	}

	// Post-send quiescence: give the listener recv.Timeout to catch
	// straggling responses before declaring the phase done, spec §4.5.
	select {
	case <-time.After(recv.Timeout):
	case <-ctx.Done():
	}
	cancelListen()
	listenErr := <-listenDone
	if listenErr != nil {
		sendErrs = multierr.Append(sendErrs, listenErr)
	}
	sink.wg.Wait() // let any in-flight banner-grab connects finish or time out

	c.agg.Flush()
	return sink.TracePaths(), sendErrs
}

// RunCompound runs the ARP-then-TCP compound scan of spec §4.3/P7: an
// ARP phase populates the phase filter, then a second phase (whatever
// MagicMode the caller configures, typically TCP) is planned against
// exactly the hosts that answered, instead of the full target range.
func (c *Context) RunCompound(ctx context.Context, arpPhase, mainPhase workunit.Phase) ([]trace.Path, error) {
	if _, err := c.RunPhase(ctx, arpPhase, c.Settings.Targets, nil); err != nil {
		return nil, fmt.Errorf("scan: ARP phase: %w", err)
	}
	live := c.filter.Drain()
	if len(live) == 0 {
		c.log.Info("scan: ARP phase found no live hosts, compound scan done")
		return nil, nil
	}
	hosts := make([]netip.Addr, len(live))
	for i, e := range live {
		hosts[i] = e.IP
	}
	return c.RunPhase(ctx, mainPhase, nil, hosts)
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is canceled,
// returning a context the caller should use for the remainder of the
// scan (canceled on either event).
func WaitForSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-out.Done():
		}
	}()
	return out, cancel
}

func portExprToEntries(expr string, magic workunit.Magic) ([]portlist.Entry, error) {
	if magic == workunit.MagicARP || magic == workunit.MagicICMP {
		return []portlist.Entry{{Port: 0}}, nil
	}
	if expr == "" {
		return nil, fmt.Errorf("scan: port expression required for magic %v", magic)
	}
	return portlist.Parse(expr)
}

// expandPrefix materializes every host address in p; CIDR aggregation
// (workunit.AggregateCIDR) already minimized the prefix count, so this
// expansion stays small even for wide scans.
func expandPrefix(p netip.Prefix) []netip.Addr {
	e, err := target.Parse([]string{p.String()})
	if err != nil {
		return nil
	}
	return e.Hosts(nil)
}

// scanSink adapts the aggregator and the phase filter to
// listener.Sink: IP/ARP reports feed the aggregator, and ARP reports
// also feed the phase filter so a subsequent compound-mode phase can
// retarget onto exactly the hosts that answered. When followUp is set,
// a SYN-ACK report triggers a real connect+payload exchange before the
// report reaches the aggregator, so its OutputData carries a banner.
type scanSink struct {
	agg    *aggregator.Aggregator
	filter *phasefilter.Filter
	reg    *payload.Registry
	bp     aggregator.BannerParser
	wg     sync.WaitGroup

	followUp bool
	ctx      context.Context

	mu     sync.Mutex
	traces []trace.Path
}

func (s *scanSink) OnIPReport(r aggregator.IPReport) {
	const synAck = wire.FlagSYN | wire.FlagACK
	if s.followUp && r.IPProto == wire.ProtoTCP && r.Type&synAck == synAck {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if d, ok := followUpConnect(s.ctx, r.HostAddr, r.DPort, s.reg, s.bp); ok {
				r.OutputData = append(r.OutputData, d)
			}
			s.agg.OnIPReport(r)
		}()
		return
	}
	s.agg.OnIPReport(r)
}

func (s *scanSink) OnARPReport(r aggregator.ARPReport) {
	s.agg.OnARPReport(r)
	if ip, ok := netip.AddrFromSlice(r.IP.To4()); ok {
		s.filter.Insert(ip, r.MAC)
	}
}

// OnTracePath buffers completed tcptrace paths for the caller to drain
// with TracePaths once the phase finishes; a remote drone instead
// serializes each path with pkg/ipc.MarshalTracePathReport and forwards
// it to the master over the control connection (spec §4.6/§4.9).
func (s *scanSink) OnTracePath(p trace.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, p)
}

func (s *scanSink) TracePaths() []trace.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces
}
