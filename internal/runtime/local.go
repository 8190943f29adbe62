package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/observability"
)

type Config struct {
	WorkspaceRoot      string        `envconfig:"ORBIT_WORKSPACE_ROOT" default:"/srv/orbit/workspaces"`
	EntryCommand       string        `envconfig:"ORBIT_RUNTIME_ENTRY_CMD" default:"sleep 86400"`
	CapacityCPUPercent int           `envconfig:"ORBIT_RUNTIME_CPU_CAPACITY" default:"800"`
	CapacityMemoryMB   int           `envconfig:"ORBIT_RUNTIME_MEMORY_CAPACITY_MB" default:"16384"`
	StopGracePeriod    time.Duration `envconfig:"ORBIT_RUNTIME_STOP_GRACE" default:"10s"`
}

type proc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	cpu       int
	memMB     int
	done      chan struct{}
}

// Local supervises one OS process per running workspace on this host.
// Reservations are by declared limit, not observed usage: a workspace that
// fits at start keeps its slice until it stops.
type Local struct {
	cfg Config
	log *zap.Logger

	mu          sync.Mutex
	procs       map[string]*proc
	reservedCPU int
	reservedMem int
}

func NewLocal(cfg Config, log *zap.Logger) *Local {
	return &Local{
		cfg:   cfg,
		log:   log,
		procs: make(map[string]*proc),
	}
}

func (l *Local) Start(ctx context.Context, ws *core.Workspace) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.procs[ws.WSID]; ok {
		return nil
	}
	if l.reservedCPU+ws.CPULimitPercent > l.cfg.CapacityCPUPercent ||
		l.reservedMem+ws.MemoryLimitMB > l.cfg.CapacityMemoryMB {
		return core.NewAppError(core.ErrResourceExhausted,
			fmt.Sprintf("host capacity exceeded: cpu %d/%d%%, memory %d/%d MB",
				l.reservedCPU, l.cfg.CapacityCPUPercent, l.reservedMem, l.cfg.CapacityMemoryMB))
	}

	// The process outlives the request that started it, so it is not tied
	// to ctx; Stop owns its termination.
	cmd := exec.Command("/bin/sh", "-c", l.cfg.EntryCommand)
	cmd.Dir = filepath.Join(l.cfg.WorkspaceRoot, ws.WSID)
	cmd.Env = append(os.Environ(), "ORBIT_WSID="+ws.WSID)
	if ws.Port != nil {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", *ws.Port))
	}
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start workspace %s: %w", ws.WSID, err)
	}

	p := &proc{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		cpu:       ws.CPULimitPercent,
		memMB:     ws.MemoryLimitMB,
		done:      make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(p.done)
	}()

	l.procs[ws.WSID] = p
	l.reservedCPU += p.cpu
	l.reservedMem += p.memMB
	observability.WorkspacesRunning.Set(float64(len(l.procs)))
	l.log.Info("workspace process started",
		zap.String("wsid", ws.WSID), zap.Int("pid", p.pid))
	return nil
}

func (l *Local) Stop(ctx context.Context, wsid string) error {
	l.mu.Lock()
	p, ok := l.procs[wsid]
	if ok {
		delete(l.procs, wsid)
		l.reservedCPU -= p.cpu
		l.reservedMem -= p.memMB
		observability.WorkspacesRunning.Set(float64(len(l.procs)))
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}

	// TERM the process group, escalate to KILL after the grace period.
	syscall.Kill(-p.pid, syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(l.cfg.StopGracePeriod):
		syscall.Kill(-p.pid, syscall.SIGKILL)
		<-p.done
	case <-ctx.Done():
		syscall.Kill(-p.pid, syscall.SIGKILL)
		return ctx.Err()
	}
	l.log.Info("workspace process stopped", zap.String("wsid", wsid), zap.Int("pid", p.pid))
	return nil
}

func (l *Local) Sample(ctx context.Context, wsid string) (*core.MetricSample, error) {
	l.mu.Lock()
	p, ok := l.procs[wsid]
	l.mu.Unlock()
	if !ok {
		return nil, ErrNotRunning
	}
	select {
	case <-p.done:
		return nil, ErrNotRunning
	default:
	}

	pr, err := process.NewProcessWithContext(ctx, int32(p.pid))
	if err != nil {
		return nil, fmt.Errorf("inspect pid %d: %w", p.pid, err)
	}
	cpu, err := pr.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu sample pid %d: %w", p.pid, err)
	}
	mem, err := pr.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory sample pid %d: %w", p.pid, err)
	}
	memPct, _ := pr.MemoryPercentWithContext(ctx)
	children, _ := pr.ChildrenWithContext(ctx)

	return &core.MetricSample{
		WSID:          wsid,
		CollectedAt:   time.Now(),
		CPUPercent:    cpu,
		MemoryUsedMB:  float64(mem.RSS) / (1 << 20),
		MemoryPercent: float64(memPct),
		ProcessCount:  len(children) + 1,
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
	}, nil
}

// Running reports whether this host currently supervises the workspace.
func (l *Local) Running(wsid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.procs[wsid]
	return ok
}
