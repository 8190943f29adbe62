// Package alloc holds the process-wide allocators for resources shared
// across workspaces: listen ports and backing-store namespaces. Grants are
// recorded on the owning workspace row, so a restarted process rebuilds the
// allocators from persisted state via Seed before scheduling resumes.
package alloc

import (
	"fmt"
	"net"
	"sync"
)

// Ports hands out TCP ports from a fixed range with acquire-before-release
// discipline. Reserve is idempotent per workspace: a workspace that already
// holds a port gets the same port back, which keeps the allocate_port action
// safe to re-run.
type Ports struct {
	mu   sync.Mutex
	min  int
	max  int
	byWS map[string]int
	used map[int]string

	// probe is swapped in tests; the default checks the port is actually
	// bindable so a grant never collides with a foreign process.
	probe func(port int) bool
}

func NewPorts(min, max int) *Ports {
	return &Ports{
		min:   min,
		max:   max,
		byWS:  make(map[string]int),
		used:  make(map[int]string),
		probe: probeBind,
	}
}

func probeBind(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Reserve grants a free port to wsid, or returns the port wsid already
// holds.
func (p *Ports) Reserve(wsid string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port, ok := p.byWS[wsid]; ok {
		return port, nil
	}
	for port := p.min; port <= p.max; port++ {
		if _, taken := p.used[port]; taken {
			continue
		}
		if !p.probe(port) {
			continue
		}
		p.used[port] = wsid
		p.byWS[wsid] = port
		return port, nil
	}
	return 0, fmt.Errorf("port range %d-%d exhausted", p.min, p.max)
}

// Release frees the port held by wsid. Releasing a workspace that holds
// nothing is a no-op.
func (p *Ports) Release(wsid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.byWS[wsid]; ok {
		delete(p.used, port)
		delete(p.byWS, wsid)
	}
}

// Seed records an existing grant restored from the store at startup.
func (p *Ports) Seed(wsid string, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byWS[wsid] = port
	p.used[port] = wsid
}

// Held returns the port currently granted to wsid, if any.
func (p *Ports) Held(wsid string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	port, ok := p.byWS[wsid]
	return port, ok
}

// InUse reports whether port is currently granted to any workspace.
func (p *Ports) InUse(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.used[port]
	return ok
}
