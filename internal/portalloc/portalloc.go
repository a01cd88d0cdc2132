// Package portalloc hands out exclusive TCP port pairs to worker agents from
// two configured ranges, probing actual bind availability so external
// processes holding a port are skipped rather than handed out twice.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrRangeExhausted is returned when no free port remains in a range.
var ErrRangeExhausted = errors.New("portalloc: port range exhausted")

// Range is a half-open port interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Ports is the pair of ports reserved to one agent.
type Ports struct {
	APIPort int
	WebPort int
}

// HeartbeatSource lets Allocator bootstrap its reservation set from whatever
// agents the Store already considers ACTIVE, so a restarted Orchestrator
// does not hand out a port a live worker is already bound to.
type HeartbeatSource interface {
	GetActiveAgents() ([]ActiveAgentPorts, error)
}

// ActiveAgentPorts is the minimal view of a live agent's port binding that
// Allocator needs to seed its reservation set.
type ActiveAgentPorts struct {
	AgentID string
	APIPort int
	WebPort int
}

// Allocator reserves non-overlapping port pairs per agent_id. Safe for
// concurrent use.
type Allocator struct {
	mu         sync.Mutex
	apiRange   Range
	webRange   Range
	probe      bool
	byAgent    map[string]Ports
	apiInUse   map[int]string
	webInUse   map[int]string
	bindProbe  func(port int) bool
}

// New constructs an Allocator over the given ranges. When probe is true,
// AllocatePorts attempts an actual TCP bind on 127.0.0.1:port before handing
// a port out, skipping ports an external process already holds.
func New(apiRange, webRange Range, probe bool) *Allocator {
	return &Allocator{
		apiRange:  apiRange,
		webRange:  webRange,
		probe:     probe,
		byAgent:   map[string]Ports{},
		apiInUse:  map[int]string{},
		webInUse:  map[int]string{},
		bindProbe: defaultBindProbe,
	}
}

// Bootstrap reads ACTIVE heartbeats from src and marks their ports reserved,
// so ports already bound by surviving workers are never handed to a new
// agent after an Orchestrator restart. Call once at startup.
func (a *Allocator) Bootstrap(src HeartbeatSource) error {
	agents, err := src.GetActiveAgents()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ag := range agents {
		if ag.APIPort > 0 {
			a.apiInUse[ag.APIPort] = ag.AgentID
		}
		if ag.WebPort > 0 {
			a.webInUse[ag.WebPort] = ag.AgentID
		}
		a.byAgent[ag.AgentID] = Ports{APIPort: ag.APIPort, WebPort: ag.WebPort}
	}
	return nil
}

// AllocatePorts reserves the next free port in each configured range for
// agentID. Idempotent: calling it again for an agent that already holds a
// reservation returns the same pair.
func (a *Allocator) AllocatePorts(agentID string) (Ports, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.byAgent[agentID]; ok {
		return p, nil
	}

	apiPort, err := a.nextFree(a.apiRange, a.apiInUse)
	if err != nil {
		return Ports{}, fmt.Errorf("portalloc: api range: %w", err)
	}
	webPort, err := a.nextFree(a.webRange, a.webInUse)
	if err != nil {
		return Ports{}, fmt.Errorf("portalloc: web range: %w", err)
	}

	a.apiInUse[apiPort] = agentID
	a.webInUse[webPort] = agentID
	p := Ports{APIPort: apiPort, WebPort: webPort}
	a.byAgent[agentID] = p
	return p, nil
}

// ReservePorts explicitly reserves a specific pair for agentID, used when
// the Orchestrator restarts and resumes a worker whose ports were already
// persisted in the Store.
func (a *Allocator) ReservePorts(agentID string, api, web int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if holder, ok := a.apiInUse[api]; ok && holder != agentID {
		return fmt.Errorf("portalloc: api port %d already reserved to %s", api, holder)
	}
	if holder, ok := a.webInUse[web]; ok && holder != agentID {
		return fmt.Errorf("portalloc: web port %d already reserved to %s", web, holder)
	}
	a.apiInUse[api] = agentID
	a.webInUse[web] = agentID
	a.byAgent[agentID] = Ports{APIPort: api, WebPort: web}
	return nil
}

// ReleasePorts frees agentID's reservation. Idempotent.
func (a *Allocator) ReleasePorts(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.byAgent[agentID]
	if !ok {
		return
	}
	delete(a.apiInUse, p.APIPort)
	delete(a.webInUse, p.WebPort)
	delete(a.byAgent, agentID)
}

// nextFree scans rng for a port not in inUse and, if probing is enabled,
// confirms it is actually free by attempting a bind.
func (a *Allocator) nextFree(rng Range, inUse map[int]string) (int, error) {
	for port := rng.Start; port < rng.End; port++ {
		if _, taken := inUse[port]; taken {
			continue
		}
		if a.probe && !a.bindProbe(port) {
			continue
		}
		return port, nil
	}
	return 0, ErrRangeExhausted
}

func defaultBindProbe(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()

	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return false
	}
	return true
}
