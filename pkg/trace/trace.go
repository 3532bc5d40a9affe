// Package trace implements the tcptrace session state and path assembly
// of spec §4.9: one session per (target, target-port) invocation, a
// per-TTL hop array filled in as ICMP Time-Exceeded and SYN-ACK
// responses arrive, and a single trace-path report emitted on
// completion. Grounded on the Seq-indexed fixed-size state array
// convention of the teacher's twamp light-mode session (one slot per
// sequence number, written once, read back in order).
package trace

import (
	"net"
	"time"
)

// HopFlag marks how a hop entry was filled in, spec §4.9 step 2/3.
type HopFlag uint8

const (
	HopNone HopFlag = iota
	HopRecv         // intermediate router, via ICMP Time-Exceeded
	HopDest         // the target itself, via SYN-ACK
)

// Hop is one entry of the per-TTL array, spec §4.9.
type Hop struct {
	RouterAddr   net.IP
	RTT          time.Duration
	Flags        HopFlag
	SendTime     time.Time
	HasRouter    bool
}

// Session is one tcptrace invocation's state, spec §4.9. Not safe for
// concurrent use; the scan orchestrator serializes access per session.
type Session struct {
	TargetAddr net.IP
	TargetPort uint16
	MinTTL     uint8
	MaxTTL     uint8
	CurrentTTL uint8
	Complete   bool

	hops map[uint8]*Hop // keyed by TTL, sparse over [MinTTL,MaxTTL]
}

// NewSession starts a trace session over [minTTL,maxTTL].
func NewSession(target net.IP, port uint16, minTTL, maxTTL uint8) *Session {
	return &Session{
		TargetAddr: target,
		TargetPort: port,
		MinTTL:     minTTL,
		MaxTTL:     maxTTL,
		CurrentTTL: minTTL,
		hops:       make(map[uint8]*Hop),
	}
}

// RecordSend notes the send_timestamp for the probe at the given TTL,
// spec §4.9 step 1.
func (s *Session) RecordSend(ttl uint8, at time.Time) {
	h := s.hopAt(ttl)
	h.SendTime = at
	if ttl > s.CurrentTTL {
		s.CurrentTTL = ttl
	}
}

// RecordTimeExceeded records an ICMP Time-Exceeded response for the
// given TTL (recovered from the embedded original header's encoded
// source port by the caller), computing RTT against the recorded send
// timestamp, spec §4.9 step 2.
func (s *Session) RecordTimeExceeded(ttl uint8, router net.IP, recvTime time.Time) {
	h := s.hopAt(ttl)
	h.RouterAddr = router
	h.HasRouter = true
	h.Flags = HopRecv
	if !h.SendTime.IsZero() {
		h.RTT = recvTime.Sub(h.SendTime)
	}
}

// RecordDest records the destination hop from a SYN-ACK and marks the
// session complete, spec §4.9 step 3.
func (s *Session) RecordDest(ttl uint8, recvTime time.Time) {
	h := s.hopAt(ttl)
	h.RouterAddr = s.TargetAddr
	h.HasRouter = true
	h.Flags = HopDest
	if !h.SendTime.IsZero() {
		h.RTT = recvTime.Sub(h.SendTime)
	}
	s.Complete = true
}

func (s *Session) hopAt(ttl uint8) *Hop {
	h, ok := s.hops[ttl]
	if !ok {
		h = &Hop{}
		s.hops[ttl] = h
	}
	return h
}

// Path is the trace-path report of spec §4.9 step 4: hop_count valid
// hops, in send order (ascending TTL), stopping at (and including) the
// first HopDest.
type Path struct {
	TargetAddr net.IP
	TargetPort uint16
	Hops       []Hop
	HopCount   int
	Complete   bool
}

// ToPath converts a completed session into a Path, per spec §4.9 step
// 4. Safe to call on an incomplete session; Complete will be false and
// HopCount reflects only the hops filled in so far.
func (s *Session) ToPath() Path {
	p := Path{TargetAddr: s.TargetAddr, TargetPort: s.TargetPort, Complete: s.Complete}
	for ttl := s.MinTTL; ; ttl++ {
		h, ok := s.hops[ttl]
		if ok && h.HasRouter {
			p.Hops = append(p.Hops, *h)
			p.HopCount++
			if h.Flags == HopDest {
				break
			}
		}
		if ttl == s.MaxTTL {
			break
		}
	}
	return p
}
