package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/runtime"
)

type memStore struct {
	mu            sync.Mutex
	ws            map[string]*core.Workspace
	audits        []string
	runtimeWrites int
}

func newMemStore() *memStore {
	return &memStore{ws: make(map[string]*core.Workspace)}
}

func (s *memStore) put(ws *core.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ws
	s.ws[ws.WSID] = &c
}

func (s *memStore) GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.ws[wsid]
	if !ok {
		return nil, errors.New("not found")
	}
	c := *ws
	return &c, nil
}

func (s *memStore) UpdateRuntime(ctx context.Context, ws *core.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ws
	s.ws[ws.WSID] = &c
	s.runtimeWrites++
	return nil
}

func (s *memStore) TouchWorkspace(ctx context.Context, wsid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.ws[wsid]
	if !ok {
		return errors.New("not found")
	}
	t := at
	ws.LastAccessedAt = &t
	return nil
}

func (s *memStore) ListRunning(ctx context.Context) ([]*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Workspace
	for _, ws := range s.ws {
		if ws.IsRunning {
			c := *ws
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) InsertAudit(ctx context.Context, wsid *string, actor json.RawMessage, action string, requestID *string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, action)
	return nil
}

func (s *memStore) auditCount(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.audits {
		if a == action {
			n++
		}
	}
	return n
}

func newController(t *testing.T, store *memStore, rt runtime.Runtime) *Controller {
	t.Helper()
	return New(store, rt, Config{CPUBreachWindow: 3, SweepInterval: time.Minute}, zap.NewNop())
}

func completedWorkspace(wsid string) *core.Workspace {
	return &core.Workspace{
		WSID:            wsid,
		State:           core.WorkspaceCompleted,
		AutoStopHours:   2,
		CPULimitPercent: 80,
		MemoryLimitMB:   1024,
	}
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	c := newController(t, store, rt)
	store.put(completedWorkspace("ws-1"))

	if err := c.Start(ctx, "ws-1"); err != nil {
		t.Fatalf("start: %s", err)
	}
	ws, _ := store.GetWorkspace(ctx, "ws-1")
	if !ws.IsRunning || ws.LastStartedAt == nil || ws.LastAccessedAt == nil {
		t.Errorf("runtime fields not stamped: %+v", ws)
	}
	if !rt.Running("ws-1") {
		t.Error("runtime has no process")
	}

	// Starting again is a no-op, not a second process.
	if err := c.Start(ctx, "ws-1"); err != nil {
		t.Fatalf("second start: %s", err)
	}
	if len(rt.Started) != 1 {
		t.Errorf("runtime started %d times, want 1", len(rt.Started))
	}
}

func TestStart_RefusedUnlessCompleted(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newController(t, store, runtime.NewFake())

	for _, state := range []core.WorkspaceState{
		core.WorkspaceCreated,
		core.WorkspaceProvisioning,
		core.WorkspaceFailed,
		core.WorkspaceRolledBack,
	} {
		ws := completedWorkspace("ws-1")
		ws.State = state
		store.put(ws)
		err := c.Start(ctx, "ws-1")
		var appErr *core.AppError
		if !errors.As(err, &appErr) || appErr.Code != core.ErrPreconditionFailed {
			t.Errorf("start in state %s: err = %v, want precondition failure", state, err)
		}
	}
}

func TestStart_ResourceExhaustedReported(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	rt.StartErr = core.NewAppError(core.ErrResourceExhausted, "no capacity")
	c := newController(t, store, rt)
	store.put(completedWorkspace("ws-1"))

	err := c.Start(ctx, "ws-1")
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrResourceExhausted {
		t.Fatalf("err = %v, want resource exhausted", err)
	}
	ws, _ := store.GetWorkspace(ctx, "ws-1")
	if ws.IsRunning {
		t.Error("workspace marked running after a refused start")
	}
}

func TestStop_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	c := newController(t, store, rt)
	store.put(completedWorkspace("ws-1"))

	if err := c.Start(ctx, "ws-1"); err != nil {
		t.Fatalf("start: %s", err)
	}
	if err := c.Stop(ctx, "ws-1"); err != nil {
		t.Fatalf("stop: %s", err)
	}
	if err := c.Stop(ctx, "ws-1"); err != nil {
		t.Fatalf("second stop: %s", err)
	}
	if len(rt.Stopped) != 1 {
		t.Errorf("runtime stopped %d times, want 1", len(rt.Stopped))
	}
	ws, _ := store.GetWorkspace(ctx, "ws-1")
	if ws.IsRunning || ws.LastStoppedAt == nil {
		t.Errorf("stop not recorded: %+v", ws)
	}
}

func TestStop_ConcurrentCallsStopRuntimeOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	c := newController(t, store, rt)
	store.put(completedWorkspace("ws-1"))

	if err := c.Start(ctx, "ws-1"); err != nil {
		t.Fatalf("start: %s", err)
	}

	// All callers serialize on the workspace lock; the losers re-read the
	// row, see it already stopped, and leave.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Stop(ctx, "ws-1"); err != nil {
				t.Errorf("stop: %s", err)
			}
		}()
	}
	wg.Wait()

	if len(rt.Stopped) != 1 {
		t.Errorf("runtime stopped %d times, want 1", len(rt.Stopped))
	}
	if n := store.auditCount("workspace.stop"); n != 1 {
		t.Errorf("stop audits = %d, want 1", n)
	}
	ws, _ := store.GetWorkspace(ctx, "ws-1")
	if ws.IsRunning {
		t.Error("workspace still marked running")
	}
}

func TestTouch_DoesNotRewriteRunState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	c := newController(t, store, rt)
	store.put(completedWorkspace("ws-1"))

	if err := c.Start(ctx, "ws-1"); err != nil {
		t.Fatalf("start: %s", err)
	}
	if err := c.Stop(ctx, "ws-1"); err != nil {
		t.Fatalf("stop: %s", err)
	}

	// A touch landing after the stop must stamp activity only; it must not
	// write a stale running snapshot back over the stopped row.
	if err := c.Touch(ctx, "ws-1"); err != nil {
		t.Fatalf("touch: %s", err)
	}

	ws, _ := store.GetWorkspace(ctx, "ws-1")
	if ws.IsRunning {
		t.Error("touch resurrected is_running on a stopped workspace")
	}
	if ws.LastStoppedAt == nil {
		t.Error("touch erased last_stopped_at")
	}
	if ws.LastAccessedAt == nil {
		t.Error("touch did not stamp last_accessed_at")
	}
	// Only start and stop write the runtime columns.
	if store.runtimeWrites != 2 {
		t.Errorf("runtime writes = %d, want 2", store.runtimeWrites)
	}
}

func TestSweepAutoStop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rt := runtime.NewFake()
	c := newController(t, store, rt)
	now := time.Now()
	c.now = func() time.Time { return now }

	// Idle 3h with a 2h budget: stopped.
	idle := completedWorkspace("ws-idle")
	idle.IsRunning = true
	at := now.Add(-3 * time.Hour)
	idle.LastAccessedAt = &at
	store.put(idle)

	// Idle 1h with the same budget: untouched.
	busy := completedWorkspace("ws-busy")
	busy.IsRunning = true
	bt := now.Add(-1 * time.Hour)
	busy.LastAccessedAt = &bt
	store.put(busy)

	// Auto-stop disabled: untouched regardless of idle time.
	forever := completedWorkspace("ws-forever")
	forever.IsRunning = true
	forever.AutoStopHours = 0
	ft := now.Add(-100 * time.Hour)
	forever.LastAccessedAt = &ft
	store.put(forever)

	if err := c.SweepAutoStop(ctx); err != nil {
		t.Fatalf("sweep: %s", err)
	}

	got, _ := store.GetWorkspace(ctx, "ws-idle")
	if got.IsRunning {
		t.Error("idle workspace not auto-stopped")
	}
	got, _ = store.GetWorkspace(ctx, "ws-busy")
	if !got.IsRunning {
		t.Error("busy workspace auto-stopped")
	}
	got, _ = store.GetWorkspace(ctx, "ws-forever")
	if !got.IsRunning {
		t.Error("workspace with auto-stop disabled was stopped")
	}
	if n := store.auditCount("workspace.autostop"); n != 1 {
		t.Errorf("autostop audits = %d, want 1", n)
	}
}

func TestSweepAutoStop_TouchResetsWindow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newController(t, store, runtime.NewFake())
	now := time.Now()
	c.now = func() time.Time { return now }

	ws := completedWorkspace("ws-1")
	ws.IsRunning = true
	at := now.Add(-3 * time.Hour)
	ws.LastAccessedAt = &at
	store.put(ws)

	if err := c.Touch(ctx, "ws-1"); err != nil {
		t.Fatalf("touch: %s", err)
	}
	if err := c.SweepAutoStop(ctx); err != nil {
		t.Fatalf("sweep: %s", err)
	}
	got, _ := store.GetWorkspace(ctx, "ws-1")
	if !got.IsRunning {
		t.Error("touched workspace was auto-stopped")
	}
}

func TestEnforceLimits_MemoryStopsImmediately(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newController(t, store, runtime.NewFake())

	ws := completedWorkspace("ws-1")
	ws.IsRunning = true
	store.put(ws)

	s := &core.MetricSample{WSID: "ws-1", MemoryUsedMB: 2048}
	if err := c.EnforceLimits(ctx, ws, s); err != nil {
		t.Fatalf("enforce: %s", err)
	}
	got, _ := store.GetWorkspace(ctx, "ws-1")
	if got.IsRunning {
		t.Error("workspace over memory limit still running")
	}
	if n := store.auditCount("workspace.limit_stop"); n != 1 {
		t.Errorf("limit_stop audits = %d, want 1", n)
	}
}

func TestEnforceLimits_CPUNeedsConsecutiveBreaches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newController(t, store, runtime.NewFake())

	ws := completedWorkspace("ws-1")
	ws.IsRunning = true
	store.put(ws)

	hot := &core.MetricSample{WSID: "ws-1", CPUPercent: 95}
	cool := &core.MetricSample{WSID: "ws-1", CPUPercent: 10}

	// Two breaches, then a good sample: the window resets.
	for _, s := range []*core.MetricSample{hot, hot, cool, hot, hot} {
		if err := c.EnforceLimits(ctx, ws, s); err != nil {
			t.Fatalf("enforce: %s", err)
		}
	}
	got, _ := store.GetWorkspace(ctx, "ws-1")
	if !got.IsRunning {
		t.Fatal("stopped before the breach window filled")
	}

	// Third consecutive breach trips the limit.
	if err := c.EnforceLimits(ctx, ws, hot); err != nil {
		t.Fatalf("enforce: %s", err)
	}
	got, _ = store.GetWorkspace(ctx, "ws-1")
	if got.IsRunning {
		t.Error("workspace not stopped after three consecutive CPU breaches")
	}
}

func TestHandleUnreachable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newController(t, store, runtime.NewFake())

	ws := completedWorkspace("ws-1")
	ws.IsRunning = true
	store.put(ws)

	if err := c.HandleUnreachable(ctx, "ws-1"); err != nil {
		t.Fatalf("unreachable: %s", err)
	}
	got, _ := store.GetWorkspace(ctx, "ws-1")
	if got.IsRunning {
		t.Error("unreachable workspace still marked running")
	}
	if n := store.auditCount("workspace.unreachable"); n != 1 {
		t.Errorf("unreachable audits = %d, want 1", n)
	}
}
