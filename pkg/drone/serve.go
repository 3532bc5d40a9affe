//go:build linux

package drone

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
	"github.com/robertelee78/unicornscan/pkg/ipc"
	"github.com/robertelee78/unicornscan/pkg/listener"
	"github.com/robertelee78/unicornscan/pkg/pacer"
	"github.com/robertelee78/unicornscan/pkg/payload"
	"github.com/robertelee78/unicornscan/pkg/portlist"
	"github.com/robertelee78/unicornscan/pkg/prng"
	"github.com/robertelee78/unicornscan/pkg/sender"
	"github.com/robertelee78/unicornscan/pkg/target"
	"github.com/robertelee78/unicornscan/pkg/trace"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// ServeSender runs a standalone sender drone (spec §5 "remote drones
// run the same sender/listener code in their own processes, connected
// via TCP"): accept one master connection at uri, handshake, then
// execute every send-workunit-wrapper frame the master pushes until the
// master disconnects or sends a terminate frame.
func ServeSender(ctx context.Context, uri string, iface workunit.Iface, log *slog.Logger) error {
	ln, err := ipc.Listen(uri)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info("sender drone: listening", "uri", uri)

	s, err := sender.New(sender.Config{Logger: log, Iface: iface})
	if err != nil {
		return fmt.Errorf("drone: open sender: %w", err)
	}
	defer s.Close()

	reg := payload.NewRegistry()
	rnd := prng.NewStream(uint64(time.Now().UnixNano()))

	for {
		nc, err := acceptOne(ctx, ln)
		if err != nil {
			return err
		}
		conn := ipc.NewConn(nc)
		if err := serverHandshake(conn); err != nil {
			log.Warn("sender drone: handshake failed", "err", err)
			conn.Close()
			continue
		}
		log.Info("sender drone: master connected")
		serveSenderConn(ctx, conn, s, reg, rnd, log)
	}
}

func serveSenderConn(ctx context.Context, conn *ipc.Conn, s *sender.Sender, reg *payload.Registry, rnd *prng.Stream, log *slog.Logger) {
	defer conn.Close()
	for {
		f, err := conn.Recv()
		if err != nil {
			log.Info("sender drone: master disconnected", "err", err)
			return
		}
		switch f.Magic {
		case ipc.MagicTerminate:
			return
		case ipc.MagicWorkunitWrapper:
			wrap, err := ipc.UnmarshalWorkunitWrapper(f.Payload)
			if err != nil || wrap.Kind != ipc.WrapSend {
				log.Warn("sender drone: bad workunit-wrapper", "err", err)
				continue
			}
			wu, err := workunit.UnmarshalSendWorkunit(wrap.Body)
			if err != nil {
				log.Warn("sender drone: bad send-workunit", "err", err)
				continue
			}
			stats := runSendWorkunit(ctx, s, wu, reg, rnd, log)
			_ = conn.Send(ipc.Frame{
				Magic: ipc.MagicWorkunitStats,
				Payload: ipc.WorkunitStats{
					WorkunitID: wu.ID,
					Sent:       stats.Sent,
					Done:       true,
				}.Marshal(),
			})
		default:
			log.Warn("sender drone: unexpected frame", "magic", f.Magic)
		}
	}
}

func runSendWorkunit(ctx context.Context, s *sender.Sender, wu workunit.SendWorkunit, reg *payload.Registry, rnd *prng.Stream, log *slog.Logger) sender.Stats {
	expansion, err := target.Parse([]string{wu.Target.String()})
	if err != nil {
		log.Warn("sender drone: bad target", "err", err)
		return sender.Stats{}
	}
	var ports []portlist.Entry
	if wu.PortExpr != "" {
		ports, err = portlist.Parse(wu.PortExpr)
		if err != nil {
			log.Warn("sender drone: bad port expression", "err", err)
			return sender.Stats{}
		}
	} else {
		ports = []portlist.Entry{{Port: 0}}
	}
	pc := pacer.New(wu.PPS)
	stats, err := s.RunScan(ctx, wu, expansion.Hosts(nil), ports, reg, pc, rnd)
	if err != nil {
		log.Warn("sender drone: send-workunit failed", "wu", wu.ID, "err", err)
	}
	return stats
}

// ServeListener runs a standalone listener drone: accepts one master
// connection, executes every recv-workunit-wrapper frame pushed to it,
// and streams IP/ARP/trace-path reports back over the same connection
// as they're classified (spec §4.5/§4.6).
func ServeListener(ctx context.Context, uri string, iface workunit.Iface, log *slog.Logger) error {
	ln, err := ipc.Listen(uri)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info("listener drone: listening", "uri", uri)

	for {
		nc, err := acceptOne(ctx, ln)
		if err != nil {
			return err
		}
		conn := ipc.NewConn(nc)
		if err := serverHandshake(conn); err != nil {
			log.Warn("listener drone: handshake failed", "err", err)
			conn.Close()
			continue
		}
		log.Info("listener drone: master connected")
		serveListenerConn(ctx, conn, iface, log)
	}
}

func serveListenerConn(ctx context.Context, conn *ipc.Conn, iface workunit.Iface, log *slog.Logger) {
	defer conn.Close()
	var sendMu sync.Mutex
	send := func(f ipc.Frame) { sendMu.Lock(); defer sendMu.Unlock(); _ = conn.Send(f) }

	for {
		f, err := conn.Recv()
		if err != nil {
			log.Info("listener drone: master disconnected", "err", err)
			return
		}
		switch f.Magic {
		case ipc.MagicTerminate:
			return
		case ipc.MagicWorkunitWrapper:
			wrap, err := ipc.UnmarshalWorkunitWrapper(f.Payload)
			if err != nil || wrap.Kind != ipc.WrapRecv {
				log.Warn("listener drone: bad workunit-wrapper", "err", err)
				continue
			}
			wu, err := workunit.UnmarshalRecvWorkunit(wrap.Body)
			if err != nil {
				log.Warn("listener drone: bad recv-workunit", "err", err)
				continue
			}
			runRecvWorkunit(ctx, iface, wu, send, log)
		default:
			log.Warn("listener drone: unexpected frame", "magic", f.Magic)
		}
	}
}

func runRecvWorkunit(ctx context.Context, iface workunit.Iface, wu workunit.RecvWorkunit, send func(ipc.Frame), log *slog.Logger) {
	l, err := listener.New(listener.Config{Logger: log, Iface: iface, Timeout: wu.Timeout})
	if err != nil {
		log.Warn("listener drone: open listener", "err", err)
		return
	}
	defer l.Close()
	if err := l.AttachBPF(wu); err != nil {
		log.Warn("listener drone: BPF attach failed, continuing unfiltered", "err", err)
	}

	sink := &wireSink{send: send}
	if err := l.Listen(ctx, wu, sink); err != nil {
		log.Warn("listener drone: recv-workunit failed", "wu", wu.ID, "err", err)
	}
}

// wireSink adapts listener.Sink to serialize each report straight onto
// the drone's IPC connection back to the master, spec §4.6.
type wireSink struct {
	send func(ipc.Frame)
}

func (w *wireSink) OnIPReport(r aggregator.IPReport) {
	w.send(ipc.Frame{Magic: ipc.MagicIPReport, Payload: ipc.MarshalIPReport(r)})
}

func (w *wireSink) OnARPReport(r aggregator.ARPReport) {
	w.send(ipc.Frame{Magic: ipc.MagicARPReport, Payload: ipc.MarshalARPReport(r)})
}

func (w *wireSink) OnTracePath(p trace.Path) {
	w.send(ipc.Frame{Magic: ipc.MagicTracePathReport, Payload: ipc.MarshalTracePathReport(p)})
}

// acceptOne accepts the next connection on ln, unblocking early if ctx
// is canceled first (a single master is expected at a time, spec §5).
func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		nc  net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := ln.Accept()
		ch <- result{nc, err}
	}()
	select {
	case <-ctx.Done():
		ln.Close()
		<-ch
		return nil, ctx.Err()
	case r := <-ch:
		return r.nc, r.err
	}
}

// serverHandshake is the drone side of Drone.handshake: read the
// master's version frame, reply in kind, and reject a mismatched peer.
func serverHandshake(conn *ipc.Conn) error {
	req, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("drone: handshake recv: %w", err)
	}
	if req.Magic != ipc.MagicHeader || len(req.Payload) < 4 {
		return fmt.Errorf("drone: malformed handshake request")
	}
	peerVersion := uint32(req.Payload[0])<<24 | uint32(req.Payload[1])<<16 | uint32(req.Payload[2])<<8 | uint32(req.Payload[3])

	resp := make([]byte, 4)
	resp[0] = byte(ProtocolVersion >> 24)
	resp[1] = byte(ProtocolVersion >> 16)
	resp[2] = byte(ProtocolVersion >> 8)
	resp[3] = byte(ProtocolVersion)
	if err := conn.Send(ipc.Frame{Magic: ipc.MagicHeader, Payload: resp}); err != nil {
		return fmt.Errorf("drone: handshake send: %w", err)
	}
	if peerVersion != ProtocolVersion {
		return fmt.Errorf("drone: protocol version mismatch: want %d, got %d", ProtocolVersion, peerVersion)
	}
	return nil
}
