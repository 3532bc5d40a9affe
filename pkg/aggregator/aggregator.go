package aggregator

import (
	"sort"
	"sync"
)

// OSMatcher is the post-classification OS-fingerprint enrichment hook of
// spec §4.7/§1 ("only their interfaces are specified"). SignatureOSMatcher
// (osmatch.go) is a reduced port of the original's embedded p0f v3 engine;
// NopOSMatcher stays the default since guessing wrong is worse than
// saying nothing.
type OSMatcher interface {
	Match(r IPReport) (osString string, ok bool)
}

type NopOSMatcher struct{}

func (NopOSMatcher) Match(IPReport) (string, bool) { return "", false }

// GeoEnricher is the GeoIP post-classification hook of spec §4.7.
type GeoEnricher interface {
	Country(ip []byte) (iso2 string, ok bool)
}

// BannerParser is the binary-response post-processing hook, spec §4.8.
type BannerParser interface {
	Summarize(payload []byte) string
}

// Sink is the 4-callback output-sink interface of spec §6.
type Sink interface {
	Init() error
	OnReport(r IPReport)
	OnARPReport(r ARPReport)
	Fini() error
}

// Config tunes aggregator behavior.
type Config struct {
	// Immediate bypasses the completion buffer and formats/dispatches as
	// soon as a new (non-duplicate) report arrives, spec §3 lifecycle.
	Immediate bool
	// DupProcessing retains duplicates: every repeat response is appended
	// to a per-key chain instead of being discarded, spec §4.7/P8. Flush
	// and Immediate mode still dispatch only the first report per key.
	DupProcessing bool

	OSMatcher    OSMatcher
	GeoEnricher  GeoEnricher
	BannerParser BannerParser
}

type ipEntry struct {
	first IPReport
	dups  []IPReport
}

// Aggregator dedupes, enriches, and dispatches reports to output sinks.
type Aggregator struct {
	cfg   Config
	sinks []Sink

	mu       sync.Mutex
	ipOrder  []uint64
	ipByKey  map[uint64]*ipEntry
	arpOrder []uint64
	arpByKey map[uint64]ARPReport
}

func New(cfg Config, sinks ...Sink) *Aggregator {
	if cfg.OSMatcher == nil {
		cfg.OSMatcher = NopOSMatcher{}
	}
	return &Aggregator{
		cfg:      cfg,
		sinks:    sinks,
		ipByKey:  make(map[uint64]*ipEntry),
		arpByKey: make(map[uint64]ARPReport),
	}
}

// OnIPReport inserts an IP report, deduping on (host_addr, sport,
// hash16(send_addr)) unless DupProcessing is set (spec §4.7, P8).
func (a *Aggregator) OnIPReport(r IPReport) {
	a.mu.Lock()
	k := r.Key()
	entry, exists := a.ipByKey[k]
	if !exists {
		entry = &ipEntry{first: r}
		a.ipByKey[k] = entry
		a.ipOrder = append(a.ipOrder, k)
	} else if a.cfg.DupProcessing {
		entry.dups = append(entry.dups, r)
	}
	immediate := a.cfg.Immediate && !exists
	a.mu.Unlock()

	if immediate {
		a.emitIP(r)
	}
}

// OnARPReport inserts an ARP report, deduped by (host_addr, folded MAC).
func (a *Aggregator) OnARPReport(r ARPReport) {
	a.mu.Lock()
	k := r.Key()
	_, exists := a.arpByKey[k]
	if !exists {
		a.arpByKey[k] = r
		a.arpOrder = append(a.arpOrder, k)
	}
	immediate := a.cfg.Immediate && !exists
	a.mu.Unlock()

	if immediate {
		for _, s := range a.sinks {
			s.OnARPReport(r)
		}
	}
}

// Flush runs post-processors and dispatches every buffered report in key
// order (sort-by-key = sort-by-IP by construction), ARP reports first,
// per spec §4.7's "compound mode emits ARP results first, sorted by IP."
// No-op in Immediate mode, where dispatch already happened inline.
func (a *Aggregator) Flush() {
	if a.cfg.Immediate {
		return
	}
	a.mu.Lock()
	arpKeys := append([]uint64(nil), a.arpOrder...)
	ipKeys := append([]uint64(nil), a.ipOrder...)
	sort.Slice(arpKeys, func(i, j int) bool { return arpKeys[i] < arpKeys[j] })
	sort.Slice(ipKeys, func(i, j int) bool { return ipKeys[i] < ipKeys[j] })
	arps := make([]ARPReport, len(arpKeys))
	for i, k := range arpKeys {
		arps[i] = a.arpByKey[k]
	}
	ips := make([]IPReport, len(ipKeys))
	for i, k := range ipKeys {
		ips[i] = a.ipByKey[k].first
	}
	a.mu.Unlock()

	for _, r := range arps {
		for _, s := range a.sinks {
			s.OnARPReport(r)
		}
	}
	for _, r := range ips {
		a.emitIP(r)
	}
}

func (a *Aggregator) emitIP(r IPReport) {
	if a.cfg.OSMatcher != nil {
		if os, ok := a.cfg.OSMatcher.Match(r); ok {
			r.OutputData = append(r.OutputData, OutputDatum{Kind: "os", Text: os})
		}
	}
	if a.cfg.GeoEnricher != nil && r.HostAddr != nil {
		if cc, ok := a.cfg.GeoEnricher.Country(r.HostAddr); ok {
			r.OutputData = append(r.OutputData, OutputDatum{Kind: "geoip", Text: cc})
		}
	}
	for _, s := range a.sinks {
		s.OnReport(r)
	}
}

// Count returns (ip report count, arp report count) currently buffered,
// for tests and stats.
func (a *Aggregator) Count() (ip, arp int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ipOrder), len(a.arpOrder)
}
