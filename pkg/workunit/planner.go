package workunit

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/robertelee78/unicornscan/pkg/cookie"
)

// Phase mirrors spec §3's Scan phase: a mode plus overrides, zero
// meaning "inherit the scan's global setting" (SPEC_FULL.md's Open
// Question resolution: this holds for ARP phases too).
type Phase struct {
	MagicMode    Magic
	TCPFlags     uint8
	PPS          int // 0 => use global
	Repeats      int // 0 => use global
	RecvTimeoutS int // 0 => use global

	ReportBadNetCksum   bool
	ReportBadTransCksum bool
	FollowUpConnect     bool
}

// Planner converts scan settings into send/recv workunit queues for the
// upcoming phase, per spec §4.3.
type Planner struct {
	idCounter uint64
}

func NewPlanner() *Planner { return &Planner{} }

func (p *Planner) nextID() uint64 { return atomic.AddUint64(&p.idCounter, 1) }

// PlanInput bundles everything the planner needs for one phase.
type PlanInput struct {
	Phase        Phase
	GlobalPPS    int
	GlobalRepeat int
	GlobalRecvS  int
	Targets      []netip.Prefix // ignored if LiveHosts is non-nil (compound mode feed)
	LiveHosts    []netip.Addr   // set only when the previous phase was ARP (§4.3)
	PortExpr     string
	Iface        Iface
	CookieKey    cookie.Key
	Promisc      bool
}

// Plan produces one send-workunit per (target-CIDR × interface) and one
// recv-workunit per interface, per spec §4.3. In compound mode, when
// LiveHosts is populated (meaning the previous phase was ARP), targets
// are regenerated as the minimum CIDR-aggregated cover of those hosts;
// otherwise the original target list is reused verbatim.
func (p *Planner) Plan(in PlanInput) ([]SendWorkunit, []RecvWorkunit, error) {
	targets := in.Targets
	if in.LiveHosts != nil {
		targets = AggregateCIDR(in.LiveHosts)
		if len(targets) == 0 {
			return nil, nil, fmt.Errorf("workunit: phase filter empty, nothing to plan")
		}
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("workunit: no targets for phase")
	}

	pps := in.Phase.PPS
	if pps == 0 {
		pps = in.GlobalPPS
	}
	repeats := in.Phase.Repeats
	if repeats == 0 {
		repeats = in.GlobalRepeat
	}
	recvS := in.Phase.RecvTimeoutS
	if recvS == 0 {
		recvS = in.GlobalRecvS
	}

	sends := make([]SendWorkunit, 0, len(targets))
	for _, t := range targets {
		sends = append(sends, SendWorkunit{
			ID:              p.nextID(),
			Magic:           in.Phase.MagicMode,
			Repeats:         repeats,
			PPS:             pps,
			Iface:           in.Iface,
			Target:          t,
			SrcPortTemplate: -1,
			TCPFlags:        in.Phase.TCPFlags,
			CookieKey:       in.CookieKey,
			PortExpr:        in.PortExpr,
			Status:          StatusQueued,
		})
	}

	recvs := []RecvWorkunit{{
		ID:                  p.nextID(),
		Magic:               in.Phase.MagicMode,
		Timeout:             time.Duration(recvS) * time.Second,
		LayerReturnMask:     LayerNetwork | LayerTransport,
		Promisc:             in.Promisc,
		ReportBadNetCksum:   in.Phase.ReportBadNetCksum,
		ReportBadTransCksum: in.Phase.ReportBadTransCksum,
		FollowUpConnect:     in.Phase.FollowUpConnect,
		CookieKey:           in.CookieKey,
		Status:              StatusQueued,
	}}

	return sends, recvs, nil
}
