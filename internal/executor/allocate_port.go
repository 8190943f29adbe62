package executor

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/alloc"
)

// allocatePort reserves a listen port from the global allocator. The
// allocator is check-then-reserve and idempotent per workspace, so a
// retried step gets the port it already holds instead of leaking a second
// one.
type allocatePort struct {
	ports *alloc.Ports
}

func (a *allocatePort) Name() string { return "allocate_port" }

func (a *allocatePort) Execute(ctx context.Context, in Input) (map[string]string, error) {
	port, err := a.ports.Reserve(in.WSID)
	if err != nil {
		// Exhaustion can clear up when another workspace releases.
		return nil, Transient(fmt.Errorf("allocate port: %w", err))
	}
	in.Log.Info("port allocated", zap.Int("port", port))
	return map[string]string{"port": strconv.Itoa(port)}, nil
}

// releasePort is the compensating action for allocate_port.
type releasePort struct {
	ports *alloc.Ports
}

func (r *releasePort) Name() string { return "release_port" }

func (r *releasePort) Compensate(ctx context.Context, in Input) error {
	r.ports.Release(in.WSID)
	return nil
}
