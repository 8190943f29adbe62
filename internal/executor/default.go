package executor

import (
	"strings"

	"github.com/orbitenv/orbit/internal/alloc"
)

// DefaultRegistry wires the full action set against the shared allocators
// and the database pool.
func DefaultRegistry(cfg Config, db DB, ports *alloc.Ports, namespaces *alloc.Namespaces) *Registry {
	r := NewRegistry()

	r.Register(&allocatePort{ports: ports})
	r.RegisterCompensation(&releasePort{ports: ports})

	r.Register(&provisionFS{root: cfg.WorkspaceRoot})
	r.RegisterCompensation(&removeFS{root: cfg.WorkspaceRoot})

	r.Register(&installPackages{installer: strings.Fields(cfg.InstallerCmd)})

	r.Register(&initDatabase{db: db, namespaces: namespaces})
	r.RegisterCompensation(&dropDatabase{db: db, namespaces: namespaces})

	r.Register(&renderConfig{root: cfg.WorkspaceRoot})

	return r
}
