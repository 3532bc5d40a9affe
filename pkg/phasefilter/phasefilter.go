// Package phasefilter implements the ARP-phase live-host cache of spec
// §4.3/§4.5: populated only during an ARP phase, drained only by the
// following non-ARP phase of the same scan iteration (spec invariant).
package phasefilter

import (
	"net"
	"net/netip"
	"sort"
	"sync"
)

// Entry pairs a discovered IPv4 address with the MAC that answered for
// it, matching the ARP report shape of spec §3.
type Entry struct {
	IP  netip.Addr
	MAC net.HardwareAddr
}

// Filter is the master-owned ARP cache. Safe for concurrent writes from
// the listener (over IPC) and a single drain from the planner.
type Filter struct {
	mu      sync.Mutex
	entries map[netip.Addr]net.HardwareAddr
}

func New() *Filter {
	return &Filter{entries: make(map[netip.Addr]net.HardwareAddr)}
}

// Insert records a live host discovered during an ARP phase.
func (f *Filter) Insert(ip netip.Addr, mac net.HardwareAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[ip] = mac
}

// Len reports how many hosts are currently cached.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Drain removes and returns every cached entry, sorted by IP (so
// downstream CIDR aggregation and compound-mode ARP-report ordering,
// spec §4.7, are both deterministic).
func (f *Filter) Drain() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, 0, len(f.entries))
	for ip, mac := range f.entries {
		out = append(out, Entry{IP: ip, MAC: mac})
	}
	f.entries = make(map[netip.Addr]net.HardwareAddr)
	sort.Slice(out, func(i, j int) bool { return out[i].IP.Less(out[j].IP) })
	return out
}

// Hosts returns the live IPs currently cached (no drain), for feeding
// AggregateCIDR without consuming the filter.
func (f *Filter) Hosts() []netip.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]netip.Addr, 0, len(f.entries))
	for ip := range f.entries {
		out = append(out, ip)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
