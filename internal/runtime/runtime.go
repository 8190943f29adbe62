// Package runtime starts, stops, and samples workspace processes. The rest
// of the service only sees the Runtime interface; Local is the single-host
// process supervisor a standalone deployment runs with.
package runtime

import (
	"context"
	"errors"

	"github.com/orbitenv/orbit/internal/core"
)

// ErrNotRunning is returned by Sample when the workspace has no live
// process. The sampler treats it as a gap, not a hard failure.
var ErrNotRunning = errors.New("workspace is not running")

type Runtime interface {
	// Start launches the workspace process. It reserves the workspace's
	// declared CPU/memory limits against host capacity and returns
	// ORB_RESOURCE_EXHAUSTED when they do not fit.
	Start(ctx context.Context, ws *core.Workspace) error
	// Stop terminates the workspace process and releases its reservation.
	// Stopping a workspace that is not running is a no-op.
	Stop(ctx context.Context, wsid string) error
	// Sample reads the current resource usage of the workspace process.
	Sample(ctx context.Context, wsid string) (*core.MetricSample, error)
}
