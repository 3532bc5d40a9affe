package drone

import (
	"sync"

	"github.com/robertelee78/unicornscan/pkg/ipc"
)

// Pool tracks every drone the master has connected to and implements the
// "broadcast terminate, continue if at least one sender and one listener
// remain reachable" policy of spec §5/§7.
type Pool struct {
	mu     sync.Mutex
	drones []*Drone
}

func NewPool() *Pool {
	return &Pool{}
}

func (p *Pool) Add(d *Drone) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drones = append(p.drones, d)
}

// Alive returns every drone of the given role whose connection is still
// up.
func (p *Pool) Alive(role Role) []*Drone {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Drone
	for _, d := range p.drones {
		if d.Role == role && d.Alive() {
			out = append(out, d)
		}
	}
	return out
}

// Ready reports whether at least one sender and one listener drone are
// still alive, spec §5's minimum-viability condition for continuing a
// scan after a drone drop.
func (p *Pool) Ready() bool {
	return len(p.Alive(RoleSender)) > 0 && len(p.Alive(RoleListener)) > 0
}

// Broadcast sends f to every alive drone, spec §5 "SIGINT/SIGTERM at the
// master ⇒ broadcast 'terminate' on the IPC bus." Send failures mark
// their own drone DEAD (Drone.Send) and are otherwise ignored here: a
// drone that can't hear terminate is already gone.
func (p *Pool) Broadcast(f ipc.Frame) {
	p.mu.Lock()
	drones := append([]*Drone(nil), p.drones...)
	p.mu.Unlock()
	for _, d := range drones {
		_ = d.Send(f)
	}
}

// CloseAll closes every drone's connection, for orderly master shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	drones := append([]*Drone(nil), p.drones...)
	p.mu.Unlock()
	for _, d := range drones {
		_ = d.Close()
	}
}
