// Package drone manages the master's connections to remote sender/
// listener drones, spec §5/§6: URI parsing, a version handshake on
// connect, and DEAD-marking on disconnect without work redistribution
// ("an acknowledged limitation," spec §5).
package drone

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robertelee78/unicornscan/pkg/ipc"
)

// ProtocolVersion is exchanged on connect; a drone speaking a different
// version is rejected rather than silently misinterpreted.
const ProtocolVersion uint32 = 1

// Role distinguishes which half of the scan a drone runs.
type Role uint8

const (
	RoleSender Role = iota
	RoleListener
)

func (r Role) String() string {
	if r == RoleListener {
		return "listener"
	}
	return "sender"
}

// State is a Drone's liveness, spec §5/§7: a dropped connection is
// marked DEAD and never retried mid-scan.
type State uint8

const (
	StateAlive State = iota
	StateDead
)

// Drone is one remote (or locally-forked) sender/listener connection on
// the IPC bus.
type Drone struct {
	URI  string
	Role Role

	log *slog.Logger

	mu    sync.Mutex
	conn  *ipc.Conn
	state State
}

// Connect dials uri (spec §6 "host:port or unix:/absolute/path"),
// performs the version handshake, and returns a live Drone.
func Connect(uri string, role Role, log *slog.Logger) (*Drone, error) {
	conn, err := ipc.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("drone: connect %s: %w", uri, err)
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Drone{URI: uri, Role: role, log: log, conn: conn, state: StateAlive}
	if err := d.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *Drone) handshake() error {
	req := make([]byte, 4)
	req[0] = byte(ProtocolVersion >> 24)
	req[1] = byte(ProtocolVersion >> 16)
	req[2] = byte(ProtocolVersion >> 8)
	req[3] = byte(ProtocolVersion)
	if err := d.conn.Send(ipc.Frame{Magic: ipc.MagicHeader, Payload: req}); err != nil {
		return fmt.Errorf("drone: %s: handshake send: %w", d.URI, err)
	}
	resp, err := d.conn.Recv()
	if err != nil {
		return fmt.Errorf("drone: %s: handshake recv: %w", d.URI, err)
	}
	if resp.Magic != ipc.MagicHeader || len(resp.Payload) < 4 {
		return fmt.Errorf("drone: %s: malformed handshake response", d.URI)
	}
	peerVersion := uint32(resp.Payload[0])<<24 | uint32(resp.Payload[1])<<16 | uint32(resp.Payload[2])<<8 | uint32(resp.Payload[3])
	if peerVersion != ProtocolVersion {
		return fmt.Errorf("drone: %s: protocol version mismatch: want %d, got %d", d.URI, ProtocolVersion, peerVersion)
	}
	return nil
}

// Send writes f to the drone, marking it DEAD on any write failure.
func (d *Drone) Send(f ipc.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateDead {
		return fmt.Errorf("drone: %s: dead", d.URI)
	}
	if err := d.conn.Send(f); err != nil {
		d.markDeadLocked(err)
		return err
	}
	return nil
}

// Recv reads the next frame, marking the drone DEAD on any read failure
// (spec §7: "mid-scan drop ⇒ same" as a connect failure).
func (d *Drone) Recv() (ipc.Frame, error) {
	d.mu.Lock()
	conn := d.conn
	dead := d.state == StateDead
	d.mu.Unlock()
	if dead {
		return ipc.Frame{}, fmt.Errorf("drone: %s: dead", d.URI)
	}
	f, err := conn.Recv()
	if err != nil {
		d.mu.Lock()
		d.markDeadLocked(err)
		d.mu.Unlock()
		return ipc.Frame{}, err
	}
	return f, nil
}

func (d *Drone) markDeadLocked(cause error) {
	if d.state == StateDead {
		return
	}
	d.state = StateDead
	d.log.Warn("drone marked dead", "uri", d.URI, "role", d.Role, "error", cause)
}

// Alive reports whether the drone's connection is still considered up.
func (d *Drone) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateAlive
}

// Close tears down the underlying connection without changing state;
// callers shutting down normally don't need the DEAD warning log.
func (d *Drone) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}
