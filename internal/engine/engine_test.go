package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/executor"
)

// memStore is an in-memory engine.Store.
type memStore struct {
	mu      sync.Mutex
	ws      map[string]*core.Workspace
	updates int
}

func newMemStore() *memStore {
	return &memStore{ws: make(map[string]*core.Workspace)}
}

func (s *memStore) put(ws *core.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws[ws.WSID] = copyWorkspace(ws)
}

func (s *memStore) GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.ws[wsid]
	if !ok {
		return nil, errors.New("not found")
	}
	return copyWorkspace(ws), nil
}

func (s *memStore) UpdateProvisioning(ctx context.Context, ws *core.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws[ws.WSID] = copyWorkspace(ws)
	s.updates++
	return nil
}

func copyWorkspace(ws *core.Workspace) *core.Workspace {
	c := *ws
	if ws.Outputs != nil {
		c.Outputs = make(map[string]string, len(ws.Outputs))
		for k, v := range ws.Outputs {
			c.Outputs[k] = v
		}
	}
	return &c
}

// fakeAction succeeds or fails per scripted call.
type fakeAction struct {
	name    string
	outputs map[string]string
	errs    []error
	calls   int
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Execute(ctx context.Context, in executor.Input) (map[string]string, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return a.outputs, nil
}

// fakeComp records compensation order.
type fakeComp struct {
	name  string
	errs  []error
	order *[]string
}

func (c *fakeComp) Name() string { return c.name }

func (c *fakeComp) Compensate(ctx context.Context, in executor.Input) error {
	*c.order = append(*c.order, c.name)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	}
	return nil
}

type fakeNotifier struct {
	ready  []string
	failed []string
}

func (n *fakeNotifier) WorkspaceReady(ctx context.Context, wsid string)              { n.ready = append(n.ready, wsid) }
func (n *fakeNotifier) ProvisioningFailed(ctx context.Context, wsid, reason string)  { n.failed = append(n.failed, reason) }
func (n *fakeNotifier) HealthDegraded(ctx context.Context, wsid string, gaps int)    {}

type fakeStarter struct {
	started []string
}

func (s *fakeStarter) Start(ctx context.Context, wsid string) error {
	s.started = append(s.started, wsid)
	return nil
}

func testConfig() Config {
	return Config{
		BackoffBase:          time.Millisecond,
		BackoffCap:           5 * time.Millisecond,
		DefaultActionTimeout: time.Second,
	}
}

func newTestEngine(t *testing.T, store Store, reg *executor.Registry) (*Engine, *fakeNotifier, *fakeStarter) {
	t.Helper()
	n := &fakeNotifier{}
	s := &fakeStarter{}
	return New(store, reg, s, n, testConfig(), zap.NewNop()), n, s
}

func testWorkspace(plan *core.Plan, maxRetries int) *core.Workspace {
	return &core.Workspace{
		WSID:       "ws-1",
		CompanyID:  "co-1",
		Owner:      "dev",
		Name:       "dev box",
		TemplateID: "tpl-1",
		State:      core.WorkspaceProvisioning,
		Plan:       plan,
		TotalSteps: len(plan.Actions),
		MaxRetries: maxRetries,
		NextRunAt:  time.Now(),
	}
}

// drive calls Advance until the workspace leaves provisioning or the
// iteration budget runs out (transient retries keep state=provisioning).
func drive(t *testing.T, e *Engine, store *memStore, wsid string) *core.Workspace {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		ws, err := e.Advance(ctx, wsid)
		if err != nil {
			t.Fatalf("advance: %s", err)
		}
		if ws.State != core.WorkspaceProvisioning && ws.State != core.WorkspaceCreated {
			return ws
		}
	}
	ws, _ := store.GetWorkspace(ctx, wsid)
	t.Fatalf("workspace never settled, state=%s step=%d", ws.State, ws.Step)
	return nil
}

func threeStepPlan(rollback bool) (*core.Plan, *fakeAction, *fakeAction, *fakeAction) {
	a := &fakeAction{name: "allocate_port", outputs: map[string]string{"port": "42001"}}
	b := &fakeAction{name: "init_store", outputs: map[string]string{"namespace": "ws_1"}}
	c := &fakeAction{name: "render_config", outputs: map[string]string{"config_path": "/x"}}
	plan := &core.Plan{
		Actions: []core.ActionSpec{
			{Name: "allocate_port", Compensate: "release_port"},
			{Name: "init_store", Compensate: "drop_store"},
			{Name: "render_config"},
		},
		RollbackOnFatal: rollback,
	}
	return plan, a, b, c
}

func registryFor(order *[]string, actions ...*fakeAction) *executor.Registry {
	reg := executor.NewRegistry()
	for _, a := range actions {
		reg.Register(a)
	}
	reg.RegisterCompensation(&fakeComp{name: "release_port", order: order})
	reg.RegisterCompensation(&fakeComp{name: "drop_store", order: order})
	return reg
}

func TestAdvance_HappyPath(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, n, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceCompleted {
		t.Fatalf("state = %s, want completed", ws.State)
	}
	if ws.Step != ws.TotalSteps {
		t.Errorf("step = %d, want %d", ws.Step, ws.TotalSteps)
	}
	if ws.IsRunning {
		t.Error("is_running set before start was called")
	}
	if ws.Port == nil || *ws.Port != 42001 {
		t.Errorf("port output not captured: %v", ws.Port)
	}
	if ws.Namespace == nil || *ws.Namespace != "ws_1" {
		t.Errorf("namespace output not captured: %v", ws.Namespace)
	}
	if ws.Outputs["config_path"] != "/x" {
		t.Errorf("outputs not merged: %v", ws.Outputs)
	}
	if len(order) != 0 {
		t.Errorf("compensations ran on the happy path: %v", order)
	}
	if len(n.ready) != 1 {
		t.Errorf("expected one ready notification, got %d", len(n.ready))
	}
}

func TestAdvance_PromotesCreated(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.State = core.WorkspaceCreated
	store.put(ws)
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	got := drive(t, e, store, "ws-1")
	if got.State != core.WorkspaceCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
}

func TestAdvance_TransientRetriesThenSucceeds(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	// Step 2 (init_store) fails transiently twice, then succeeds.
	b.errs = []error{
		executor.Transient(errors.New("store not ready")),
		executor.Transient(errors.New("store not ready")),
		nil,
	}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceCompleted {
		t.Fatalf("state = %s, want completed", ws.State)
	}
	if ws.Step != 3 {
		t.Errorf("step = %d, want 3", ws.Step)
	}
	if b.calls != 3 {
		t.Errorf("init_store called %d times, want 3", b.calls)
	}
	if ws.RetryCount != 0 {
		t.Errorf("retry_count = %d after success, want 0", ws.RetryCount)
	}
	if len(order) != 0 {
		t.Errorf("rollback ran: %v", order)
	}
}

func TestAdvance_RetryCountBoundedBeforeEscalation(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	b.errs = []error{
		executor.Transient(errors.New("flake")),
		executor.Transient(errors.New("flake")),
		executor.Transient(errors.New("flake")),
		executor.Transient(errors.New("flake")),
	}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, n, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ctx := context.Background()
	var final *core.Workspace
	for i := 0; i < 10; i++ {
		ws, err := e.Advance(ctx, "ws-1")
		if err != nil {
			t.Fatalf("advance: %s", err)
		}
		if ws.State == core.WorkspaceProvisioning && ws.RetryCount > ws.MaxRetries {
			t.Fatalf("retry_count %d exceeded max_retries %d without escalation", ws.RetryCount, ws.MaxRetries)
		}
		if ws.State != core.WorkspaceProvisioning {
			final = ws
			break
		}
	}
	if final == nil || final.State != core.WorkspaceFailed {
		t.Fatalf("expected failed after exhausted retries, got %+v", final)
	}
	if final.FailedStep == nil || *final.FailedStep != 1 {
		t.Errorf("failed_step = %v, want 1", final.FailedStep)
	}
	if len(n.failed) != 1 {
		t.Errorf("expected one failure notification, got %d", len(n.failed))
	}
}

func TestAdvance_FatalWithRollback(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(true)
	// Step 3 fails fatally after steps 1 and 2 completed.
	c.errs = []error{executor.Fatal(errors.New("template broken"))}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed", ws.State)
	}
	if ws.Step != 0 {
		t.Errorf("step = %d after full rollback, want 0", ws.Step)
	}
	if ws.FailedStep == nil || *ws.FailedStep != 2 {
		t.Errorf("failed_step = %v, want 2", ws.FailedStep)
	}
	// Compensations must run in strictly descending step order.
	want := []string{"drop_store", "release_port"}
	if len(order) != len(want) {
		t.Fatalf("compensation order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("compensation order = %v, want %v", order, want)
		}
	}
	if ws.UncompensatedBefore != nil {
		t.Errorf("uncompensated_before = %v on a clean rollback", *ws.UncompensatedBefore)
	}
}

func TestAdvance_FatalWithoutRollback(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	b.errs = []error{executor.Fatal(errors.New("bad store"))}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed", ws.State)
	}
	if ws.Step != 1 {
		t.Errorf("step = %d, want 1 (no rollback, step preserved)", ws.Step)
	}
	if len(order) != 0 {
		t.Errorf("compensations ran without rollback flag: %v", order)
	}
}

func TestAdvance_CompensationFailureLeavesDiagnosedState(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(true)
	c.errs = []error{executor.Fatal(errors.New("boom"))}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))

	reg := executor.NewRegistry()
	for _, act := range []*fakeAction{a, b, c} {
		reg.Register(act)
	}
	reg.RegisterCompensation(&fakeComp{name: "drop_store", order: &order})
	// release_port (step 0) fails fatally during rollback.
	reg.RegisterCompensation(&fakeComp{
		name:  "release_port",
		order: &order,
		errs:  []error{executor.Fatal(errors.New("allocator unavailable"))},
	})

	e, _, _ := newTestEngine(t, store, reg)
	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceRolledBack {
		t.Fatalf("state = %s, want rolled_back", ws.State)
	}
	if ws.UncompensatedBefore == nil || *ws.UncompensatedBefore != 1 {
		t.Errorf("uncompensated_before = %v, want 1", ws.UncompensatedBefore)
	}
	if ws.FailureReason == nil {
		t.Error("failure_reason not recorded")
	}
}

func TestAdvance_RollbackStepRetriesTransient(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(true)
	b.errs = []error{executor.Fatal(errors.New("bad store"))}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))

	reg := executor.NewRegistry()
	for _, act := range []*fakeAction{a, b, c} {
		reg.Register(act)
	}
	reg.RegisterCompensation(&fakeComp{name: "drop_store", order: &order})
	reg.RegisterCompensation(&fakeComp{
		name:  "release_port",
		order: &order,
		errs:  []error{executor.Transient(errors.New("flake")), nil},
	})

	e, _, _ := newTestEngine(t, store, reg)
	ws := drive(t, e, store, "ws-1")

	if ws.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed (compensation retried to success)", ws.State)
	}
	if ws.Step != 0 {
		t.Errorf("step = %d, want 0", ws.Step)
	}
	// release_port appears twice: one transient failure, one success.
	if len(order) != 2 {
		t.Errorf("compensation invocations = %v, want two release_port attempts", order)
	}
}

func TestAdvance_FatalFlagForcesEscalation(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	plan.Actions[1].Fatal = true
	b.errs = []error{executor.Transient(errors.New("would normally retry"))}
	store := newMemStore()
	store.put(testWorkspace(plan, 2))
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	ws := drive(t, e, store, "ws-1")
	if ws.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed", ws.State)
	}
	if b.calls != 1 {
		t.Errorf("fatal-flagged action retried: %d calls", b.calls)
	}
}

func TestAdvance_CompletedIsNoop(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.State = core.WorkspaceCompleted
	ws.Step = 3
	store.put(ws)
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	before := store.updates
	got, err := e.Advance(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("advance: %s", err)
	}
	if got.State != core.WorkspaceCompleted {
		t.Errorf("state changed to %s", got.State)
	}
	if store.updates != before {
		t.Error("no-op advance persisted something")
	}
	if a.calls+b.calls+c.calls != 0 {
		t.Error("no-op advance executed an action")
	}
}

func TestAdvance_CancelRequested(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.Step = 1
	ws.CancelRequested = true
	store.put(ws)
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	got := drive(t, e, store, "ws-1")
	if got.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.FailureReason == nil || *got.FailureReason != "canceled" {
		t.Errorf("failure_reason = %v, want canceled", got.FailureReason)
	}
	if a.calls+b.calls+c.calls != 0 {
		t.Error("canceled workspace still executed an action")
	}
}

func TestAdvance_CancelInCreatedPromotesFirst(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.State = core.WorkspaceCreated
	ws.CancelRequested = true
	store.put(ws)
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	got := drive(t, e, store, "ws-1")
	if got.State != core.WorkspaceFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.FailureReason == nil || *got.FailureReason != "canceled" {
		t.Errorf("failure_reason = %v, want canceled", got.FailureReason)
	}
	if a.calls+b.calls+c.calls != 0 {
		t.Error("canceled workspace still executed an action")
	}
	// The workspace reaches failed through provisioning: the promotion is
	// persisted before the cancel is honored.
	if store.updates != 2 {
		t.Errorf("persisted updates = %d, want promote + fail", store.updates)
	}
}

func TestAdvance_AutoStartOnCompletion(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.AutoStart = true
	store.put(ws)
	e, _, starter := newTestEngine(t, store, registryFor(&order, a, b, c))

	drive(t, e, store, "ws-1")
	if len(starter.started) != 1 || starter.started[0] != "ws-1" {
		t.Errorf("auto-start not invoked: %v", starter.started)
	}
}

func TestApproveAndDeny(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	reg := registryFor(&order, a, b, c)

	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.State = core.WorkspacePendingApproval
	ws.RequiresApproval = true
	store.put(ws)
	e, _, _ := newTestEngine(t, store, reg)

	got, err := e.Approve(context.Background(), "ws-1", "admin")
	if err != nil {
		t.Fatalf("approve: %s", err)
	}
	if got.State != core.WorkspaceProvisioning {
		t.Errorf("state = %s after approve, want provisioning", got.State)
	}
	if got.ApprovedBy == nil || *got.ApprovedBy != "admin" || got.ApprovedAt == nil {
		t.Error("approval not stamped")
	}

	// Approving again is a precondition failure.
	if _, err := e.Approve(context.Background(), "ws-1", "admin"); err == nil {
		t.Error("approve on non-pending workspace succeeded")
	}

	// Deny path on a fresh pending workspace.
	ws2 := testWorkspace(plan, 2)
	ws2.WSID = "ws-2"
	ws2.State = core.WorkspacePendingApproval
	store.put(ws2)
	denied, err := e.Deny(context.Background(), "ws-2", "admin", "no budget")
	if err != nil {
		t.Fatalf("deny: %s", err)
	}
	if denied.State != core.WorkspaceFailed {
		t.Errorf("state = %s after deny, want failed", denied.State)
	}
	if denied.FailureReason == nil || *denied.FailureReason == "" {
		t.Error("deny reason not recorded")
	}
}

func TestRequeue(t *testing.T) {
	var order []string
	plan, a, b, c := threeStepPlan(false)
	store := newMemStore()
	ws := testWorkspace(plan, 2)
	ws.State = core.WorkspaceFailed
	ws.Step = 1
	reason := "step 1 failed"
	failedStep := 1
	ws.FailureReason = &reason
	ws.FailedStep = &failedStep
	store.put(ws)
	e, _, _ := newTestEngine(t, store, registryFor(&order, a, b, c))

	got, err := e.Requeue(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("requeue: %s", err)
	}
	if got.State != core.WorkspaceProvisioning || got.Step != 0 || got.RetryCount != 0 {
		t.Errorf("requeue did not reset: state=%s step=%d retries=%d", got.State, got.Step, got.RetryCount)
	}
	if got.FailureReason != nil || got.FailedStep != nil {
		t.Error("requeue kept failure diagnostics")
	}

	final := drive(t, e, store, "ws-1")
	if final.State != core.WorkspaceCompleted {
		t.Errorf("state = %s after requeued run, want completed", final.State)
	}
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	cap := 5 * time.Minute
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, cap},
		{64, cap},
	}
	for _, tc := range cases {
		if got := Backoff(base, cap, tc.retry); got != tc.want {
			t.Errorf("Backoff(retry=%d) = %s, want %s", tc.retry, got, tc.want)
		}
	}
}
