package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/cliutil"
	"github.com/robertelee78/unicornscan/pkg/cookie"
	"github.com/robertelee78/unicornscan/pkg/drone"
	"github.com/robertelee78/unicornscan/pkg/modespec"
	"github.com/robertelee78/unicornscan/pkg/payload"
	"github.com/robertelee78/unicornscan/pkg/scan"
	"github.com/robertelee78/unicornscan/pkg/sink"
	"github.com/robertelee78/unicornscan/pkg/target"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// scanFlags collects the §6 CLI surface for the `scan` subcommand.
type scanFlags struct {
	mode       string
	ports      string
	pps        int
	repeats    int
	recvTimo   int
	srcAddr    string
	srcMAC     string
	iface      string
	ttlRange   string
	tos        uint8
	outModules string
	sinkConfig string
	badCksum   string
	drones     string
	immediate  bool
	dup        bool
	promisc    bool
	followUp   bool
	osDetect   bool
	discovery  bool
}

func newScanCmd(verbose *bool) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [flags] target...",
		Short: "Run a scan (spec §6 CLI surface)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cliutil.NewLogger("M", *verbose)
			return runScan(cmd, log, f, args)
		},
	}
	pf := cmd.Flags()
	pf.StringVarP(&f.mode, "mode", "m", "T", "scan mode: T/U/A/I/P, flags, compound A+T, per-phase PPS:Rn:Ln")
	pf.StringVarP(&f.ports, "ports", "p", "", "port expression, e.g. 80,443,1000-2000:3")
	pf.IntVarP(&f.pps, "rate", "r", 100, "global packets-per-second ceiling")
	pf.IntVarP(&f.repeats, "repeats", "R", 1, "repeats per probe")
	pf.IntVarP(&f.recvTimo, "recv-timeout", "L", 3, "post-send quiescence, seconds")
	pf.StringVarP(&f.srcAddr, "source", "s", "", "spoof source IPv4 address")
	pf.StringVarP(&f.srcMAC, "source-mac", "H", "", "override source MAC")
	pf.StringVarP(&f.iface, "interface", "i", "", "send/capture interface (required)")
	pf.StringVarP(&f.ttlRange, "ttl", "t", "", "IP TTL range min-max")
	pf.Uint8VarP(&f.tos, "tos", "T", 0, "IP ToS byte")
	pf.StringVarP(&f.outModules, "modules", "e", "text", "comma-separated output module(s)")
	pf.StringVar(&f.sinkConfig, "sink-config", "", "YAML {module_name,module_path,options} config file, overrides -e")
	pf.StringVarP(&f.badCksum, "bad-checksum", "B", "", "report packets with bad network(N)/transport(T) checksums")
	pf.StringVarP(&f.drones, "drones", "d", "", "comma-separated drone URIs (host:port or unix:/path)")
	pf.BoolVar(&f.immediate, "immediate", false, "emit reports as they arrive instead of buffering to scan end")
	pf.BoolVarP(&f.dup, "dup", "c", false, "retain duplicate responses instead of discarding them; one report per key is still emitted (spec §4.7 dup-processing)")
	pf.BoolVar(&f.promisc, "promisc", false, "capture interface in promiscuous mode")
	pf.BoolVarP(&f.followUp, "connect", "b", false, "complete a real TCP handshake + banner grab after SYN-ACK")
	pf.BoolVar(&f.osDetect, "os-detect", false, "guess the responder's OS family from SYN-ACK TTL/window (reduced p0f heuristic)")
	pf.BoolVar(&f.discovery, "discovery-payloads", false, "register built-in DHCP/NBNS/STUN/Mongo/TLS/WebSocket discovery payloads on their well-known ports")
	cmd.MarkFlagRequired("interface")
	return cmd
}

func runScan(cmd *cobra.Command, log *slog.Logger, f *scanFlags, targets []string) error {
	phases, err := modespec.Parse(f.mode)
	if err != nil {
		return fmt.Errorf("bad mode expression: %w", err)
	}
	if len(phases) > 2 || (len(phases) == 2 && phases[0].MagicMode != workunit.MagicARP) {
		return fmt.Errorf("only a single phase or an ARP-then-X compound phase (A+T) is supported")
	}

	ttlLo, ttlHi := uint8(1), uint8(64)
	traceMode := false
	if f.ttlRange != "" {
		lo, hi, err := parseTTLRange(f.ttlRange)
		if err != nil {
			return err
		}
		ttlLo, ttlHi = lo, hi
		for _, p := range phases {
			if p.MagicMode == workunit.MagicTCP {
				traceMode = true
			}
		}
	}

	badNet, badTrans := parseBadCksum(f.badCksum)
	for i := range phases {
		phases[i].ReportBadNetCksum = badNet
		phases[i].ReportBadTransCksum = badTrans
		phases[i].FollowUpConnect = f.followUp
	}

	expansion, err := target.Parse(targets)
	if err != nil {
		return fmt.Errorf("bad target: %w", err)
	}

	var srcIP net.IP
	if f.srcAddr != "" {
		srcIP = net.ParseIP(f.srcAddr).To4()
		if srcIP == nil {
			return fmt.Errorf("bad -s source address %q", f.srcAddr)
		}
	}
	var srcMAC net.HardwareAddr
	if f.srcMAC != "" {
		srcMAC, err = net.ParseMAC(f.srcMAC)
		if err != nil {
			return fmt.Errorf("bad -H MAC %q: %w", f.srcMAC, err)
		}
	}

	sinks, err := buildSinks(f, log)
	if err != nil {
		return err
	}

	if f.drones != "" {
		warnDrones(f.drones, log)
	}

	settings := scan.Settings{
		Interface:      f.iface,
		Targets:        expansion.Prefixes,
		PortExpr:       f.ports,
		SourceOverride: srcIP,
		MACOverride:    srcMAC,
		TraceMode:      traceMode,
		MinTTL:         ttlLo,
		MaxTTL:         ttlHi,
		ToS:            f.tos,
		PPS:            f.pps,
		Repeats:        f.repeats,
		RecvTimeoutS:   f.recvTimo,
		Promisc:        f.promisc,
		CookieKey:      randomCookieKey(),
		AggConfig: aggregator.Config{
			Immediate:     f.immediate,
			DupProcessing: f.dup,
			OSMatcher:     osMatcherFor(f.osDetect),
		},
		Sinks: sinks,
	}

	var reg *payload.Registry
	if f.discovery {
		reg = payload.NewRegistry()
		payload.RegisterBuiltins(reg)
	}
	sc, err := scan.NewContext(settings, log, reg)
	if err != nil {
		return fmt.Errorf("init scan: %w", err)
	}

	ctx, cancel := scan.WaitForSignal(cmd.Context())
	defer cancel()

	if len(phases) == 2 {
		_, err = sc.RunCompound(ctx, phases[0], phases[1])
	} else {
		_, err = sc.RunPhase(ctx, phases[0], settings.Targets, nil)
	}
	for _, s := range sinks {
		_ = s.Fini()
	}
	return err
}

func parseTTLRange(s string) (lo, hi uint8, err error) {
	parts := strings.SplitN(s, "-", 2)
	lov, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad -t range %q", s)
	}
	if len(parts) == 1 {
		return uint8(lov), uint8(lov), nil
	}
	hiv, err := strconv.Atoi(parts[1])
	if err != nil || hiv < lov {
		return 0, 0, fmt.Errorf("bad -t range %q", s)
	}
	return uint8(lov), uint8(hiv), nil
}

// parseBadCksum parses the -B "NT" letter combination of spec §6: N
// requests bad-network-checksum reports, T requests bad-transport-
// checksum reports; both may be set (SPEC_FULL.md Open Question
// resolution: the two bits are independent and may combine).
func parseBadCksum(s string) (net_, trans bool) {
	s = strings.ToUpper(s)
	return strings.Contains(s, "N"), strings.Contains(s, "T")
}

func osMatcherFor(enabled bool) aggregator.OSMatcher {
	if enabled {
		return aggregator.SignatureOSMatcher{}
	}
	return aggregator.NopOSMatcher{}
}

func randomCookieKey() cookie.Key {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return cookie.Key(0x5bd1e995)
	}
	return cookie.Key(binary.BigEndian.Uint32(b[:]))
}

func buildSinks(f *scanFlags, log *slog.Logger) ([]aggregator.Sink, error) {
	if f.sinkConfig != "" {
		return sink.BuildAll(f.sinkConfig, log)
	}
	var out []aggregator.Sink
	for _, name := range strings.Split(f.outModules, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, err := sink.Build(sink.ModuleConfig{Name: name}, log)
		if err != nil {
			return nil, err
		}
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("init output module %q: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// warnDrones validates each drone URI reaches a live peer but does not
// dispatch scan work to it: cmd/uniscan's scan subcommand always runs
// workunits in-process via pkg/scan.Context. The wire protocol, the
// server-side execution loop, and the client dial/handshake are fully
// implemented and tested (pkg/ipc, pkg/drone) and are what
// cmd/uniscan-sender/cmd/uniscan-listener speak; wiring this CLI's scan
// loop to dispatch across them is left as documented future work
// (DESIGN.md) rather than guessed at here.
func warnDrones(list string, log *slog.Logger) {
	for _, uri := range strings.Split(list, ",") {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		d, err := drone.Connect(uri, drone.RoleSender, log)
		if err != nil {
			log.Warn("drone unreachable", "uri", uri, "err", err)
			continue
		}
		log.Warn("drone connected but cmd/uniscan does not yet dispatch scan work remotely; running locally instead", "uri", uri)
		d.Close()
	}
}
