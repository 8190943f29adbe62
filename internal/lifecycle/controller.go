// Package lifecycle controls the run state of completed workspaces:
// start/stop, idle auto-stop, and resource limit enforcement.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/observability"
	"github.com/orbitenv/orbit/internal/runtime"
)

// Store is the slice of the persistence layer the controller needs.
type Store interface {
	GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error)
	UpdateRuntime(ctx context.Context, ws *core.Workspace) error
	TouchWorkspace(ctx context.Context, wsid string, at time.Time) error
	ListRunning(ctx context.Context) ([]*core.Workspace, error)
	InsertAudit(ctx context.Context, wsid *string, actor json.RawMessage, action string, requestID *string, payload json.RawMessage) error
}

type Config struct {
	// Consecutive over-limit CPU samples before the workspace is stopped.
	// Memory breaches stop immediately.
	CPUBreachWindow int           `envconfig:"ORBIT_CPU_BREACH_WINDOW" default:"3"`
	SweepInterval   time.Duration `envconfig:"ORBIT_AUTOSTOP_SWEEP_INTERVAL" default:"1m"`
}

var systemActor = json.RawMessage(`{"type":"system"}`)

type Controller struct {
	store   Store
	runtime runtime.Runtime
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	locks   *wsLocks

	mu        sync.Mutex
	cpuBreach map[string]int
}

func New(store Store, rt runtime.Runtime, cfg Config, log *zap.Logger) *Controller {
	return &Controller{
		store:     store,
		runtime:   rt,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		locks:     newWSLocks(),
		cpuBreach: make(map[string]int),
	}
}

// Start launches a completed workspace. Starting a workspace that is
// already running is a no-op; any other state is a precondition failure.
func (c *Controller) Start(ctx context.Context, wsid string) error {
	c.locks.lock(wsid)
	defer c.locks.unlock(wsid)

	ws, err := c.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return err
	}
	if ws.IsRunning {
		return nil
	}
	if ws.State != core.WorkspaceCompleted {
		return core.NewAppError(core.ErrPreconditionFailed,
			fmt.Sprintf("workspace is %s, only completed workspaces can start", ws.State))
	}
	if err := c.runtime.Start(ctx, ws); err != nil {
		return err
	}
	now := c.now()
	ws.IsRunning = true
	ws.LastStartedAt = &now
	ws.LastAccessedAt = &now
	if err := c.store.UpdateRuntime(ctx, ws); err != nil {
		// Runtime is up but the row says otherwise; stop again rather than
		// leak an untracked process.
		c.runtime.Stop(ctx, wsid)
		return err
	}
	c.audit(ctx, wsid, "workspace.start", nil)
	return nil
}

// Stop terminates a running workspace. Idempotent.
func (c *Controller) Stop(ctx context.Context, wsid string) error {
	return c.stop(ctx, wsid, "workspace.stop", nil)
}

func (c *Controller) stop(ctx context.Context, wsid, action string, payload json.RawMessage) error {
	c.locks.lock(wsid)
	defer c.locks.unlock(wsid)

	ws, err := c.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return err
	}
	if !ws.IsRunning {
		return nil
	}
	if err := c.runtime.Stop(ctx, wsid); err != nil {
		return err
	}
	now := c.now()
	ws.IsRunning = false
	ws.LastStoppedAt = &now
	if err := c.store.UpdateRuntime(ctx, ws); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cpuBreach, wsid)
	c.mu.Unlock()
	c.audit(ctx, wsid, action, payload)
	return nil
}

// Touch records workspace activity, pushing the idle auto-stop window out.
// It writes last_accessed_at alone, never the full runtime row, so a touch
// racing a stop cannot resurrect is_running.
func (c *Controller) Touch(ctx context.Context, wsid string) error {
	return c.store.TouchWorkspace(ctx, wsid, c.now())
}

// SweepAutoStop stops every running workspace whose idle time exceeds its
// auto_stop_hours. A zero auto_stop_hours disables auto-stop.
func (c *Controller) SweepAutoStop(ctx context.Context) error {
	running, err := c.store.ListRunning(ctx)
	if err != nil {
		return err
	}
	now := c.now()
	for _, ws := range running {
		if ws.AutoStopHours <= 0 {
			continue
		}
		ref := ws.LastAccessedAt
		if ref == nil {
			ref = ws.LastStartedAt
		}
		if ref == nil {
			continue
		}
		idle := now.Sub(*ref)
		if idle <= time.Duration(ws.AutoStopHours)*time.Hour {
			continue
		}
		c.log.Info("auto-stopping idle workspace",
			zap.String("wsid", ws.WSID),
			zap.Duration("idle", idle),
			zap.Int("auto_stop_hours", ws.AutoStopHours))
		payload, _ := json.Marshal(map[string]any{"idle_seconds": int64(idle.Seconds())})
		if err := c.stop(ctx, ws.WSID, "workspace.autostop", payload); err != nil {
			c.log.Warn("auto-stop failed", zap.String("wsid", ws.WSID), zap.Error(err))
			continue
		}
		observability.AutoStopTotal.Inc()
	}
	return nil
}

// EnforceLimits applies the workspace's resource limits to one sample.
// Memory over limit stops immediately; CPU must stay over limit for
// CPUBreachWindow consecutive samples first.
func (c *Controller) EnforceLimits(ctx context.Context, ws *core.Workspace, s *core.MetricSample) error {
	if ws.MemoryLimitMB > 0 && s.MemoryUsedMB > float64(ws.MemoryLimitMB) {
		observability.LimitStopTotal.WithLabelValues("memory").Inc()
		payload, _ := json.Marshal(map[string]any{
			"memory_used_mb": s.MemoryUsedMB,
			"memory_limit":   ws.MemoryLimitMB,
		})
		return c.stop(ctx, ws.WSID, "workspace.limit_stop", payload)
	}

	if ws.CPULimitPercent <= 0 {
		return nil
	}
	c.mu.Lock()
	if s.CPUPercent > float64(ws.CPULimitPercent) {
		c.cpuBreach[ws.WSID]++
	} else {
		delete(c.cpuBreach, ws.WSID)
	}
	breaches := c.cpuBreach[ws.WSID]
	c.mu.Unlock()

	if breaches < c.cfg.CPUBreachWindow {
		return nil
	}
	observability.LimitStopTotal.WithLabelValues("cpu").Inc()
	payload, _ := json.Marshal(map[string]any{
		"cpu_percent": s.CPUPercent,
		"cpu_limit":   ws.CPULimitPercent,
		"samples":     breaches,
	})
	return c.stop(ctx, ws.WSID, "workspace.limit_stop", payload)
}

// HandleUnreachable stops a workspace whose process can no longer be
// sampled, so the row does not claim a runtime that is gone.
func (c *Controller) HandleUnreachable(ctx context.Context, wsid string) error {
	observability.UnreachableTotal.Inc()
	return c.stop(ctx, wsid, "workspace.unreachable", nil)
}

// wsLocks serializes run-state transitions per workspace id: every start and
// stop (including the sweep, limit, and unreachable paths) holds the
// workspace's lock for the whole read-modify-write, so no caller can write a
// stale runtime snapshot back.
type wsLocks struct {
	mu      sync.Mutex
	entries map[string]*wsLockEntry
}

type wsLockEntry struct {
	sync.Mutex
	refs int
}

func newWSLocks() *wsLocks {
	return &wsLocks{entries: make(map[string]*wsLockEntry)}
}

func (l *wsLocks) lock(wsid string) {
	l.mu.Lock()
	e, ok := l.entries[wsid]
	if !ok {
		e = &wsLockEntry{}
		l.entries[wsid] = e
	}
	e.refs++
	l.mu.Unlock()
	e.Lock()
}

func (l *wsLocks) unlock(wsid string) {
	l.mu.Lock()
	e := l.entries[wsid]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, wsid)
	}
	l.mu.Unlock()
	e.Unlock()
}

func (c *Controller) audit(ctx context.Context, wsid, action string, payload json.RawMessage) {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	if err := c.store.InsertAudit(ctx, &wsid, systemActor, action, nil, payload); err != nil {
		c.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
