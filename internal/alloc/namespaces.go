package alloc

import (
	"fmt"
	"strings"
	"sync"
)

// Namespaces hands out unique backing-store identifier namespaces (used as
// per-workspace database schema names). Names are derived from the wsid so
// a retried init_database action lands on the same namespace.
type Namespaces struct {
	mu     sync.Mutex
	prefix string
	byWS   map[string]string
	used   map[string]string
}

func NewNamespaces(prefix string) *Namespaces {
	return &Namespaces{
		prefix: prefix,
		byWS:   make(map[string]string),
		used:   make(map[string]string),
	}
}

// Reserve grants a namespace to wsid, or returns the one it already holds.
func (n *Namespaces) Reserve(wsid string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ns, ok := n.byWS[wsid]; ok {
		return ns, nil
	}
	base := n.prefix + sanitize(wsid)
	ns := base
	for i := 1; ; i++ {
		owner, taken := n.used[ns]
		if !taken {
			break
		}
		if owner == wsid {
			break
		}
		ns = fmt.Sprintf("%s_%d", base, i)
		if i > 1000 {
			return "", fmt.Errorf("namespace collision on %s not resolvable", base)
		}
	}
	n.used[ns] = wsid
	n.byWS[wsid] = ns
	return ns, nil
}

// Release frees the namespace held by wsid.
func (n *Namespaces) Release(wsid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ns, ok := n.byWS[wsid]; ok {
		delete(n.used, ns)
		delete(n.byWS, wsid)
	}
}

// Seed records an existing grant restored from the store at startup.
func (n *Namespaces) Seed(wsid, ns string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byWS[wsid] = ns
	n.used[ns] = wsid
}

// Held returns the namespace currently granted to wsid, if any.
func (n *Namespaces) Held(wsid string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ns, ok := n.byWS[wsid]
	return ns, ok
}

// sanitize maps a wsid onto a safe SQL identifier fragment.
func sanitize(wsid string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(wsid) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
