package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/runtime"
)

type memStore struct {
	mu      sync.Mutex
	running []*core.Workspace
	samples []*core.MetricSample
}

func (s *memStore) ListRunning(ctx context.Context) ([]*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, nil
}

func (s *memStore) InsertMetricSample(ctx context.Context, m *core.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, m)
	return nil
}

type recordingLimiter struct {
	enforced    []*core.MetricSample
	unreachable []string
}

func (l *recordingLimiter) EnforceLimits(ctx context.Context, ws *core.Workspace, s *core.MetricSample) error {
	l.enforced = append(l.enforced, s)
	return nil
}

func (l *recordingLimiter) HandleUnreachable(ctx context.Context, wsid string) error {
	l.unreachable = append(l.unreachable, wsid)
	return nil
}

type recordingNotifier struct {
	degraded []string
}

func (n *recordingNotifier) WorkspaceReady(ctx context.Context, wsid string)             {}
func (n *recordingNotifier) ProvisioningFailed(ctx context.Context, wsid, reason string) {}
func (n *recordingNotifier) HealthDegraded(ctx context.Context, wsid string, gaps int) {
	n.degraded = append(n.degraded, wsid)
}

func newSampler(store *memStore, rt runtime.Runtime, limiter *recordingLimiter, notifier *recordingNotifier) *Sampler {
	cfg := Config{Interval: time.Second, GapThreshold: 3}
	return New(store, rt, limiter, notifier, cfg, zap.NewNop())
}

func TestSampleAll_PersistsAndEnforces(t *testing.T) {
	ctx := context.Background()
	ws := &core.Workspace{WSID: "ws-1", IsRunning: true}
	store := &memStore{running: []*core.Workspace{ws}}
	rt := runtime.NewFake()
	rt.Start(ctx, ws)
	rt.Samples["ws-1"] = []*core.MetricSample{
		{WSID: "ws-1", CPUPercent: 12.5, MemoryUsedMB: 256},
	}
	limiter := &recordingLimiter{}
	notifier := &recordingNotifier{}
	s := newSampler(store, rt, limiter, notifier)

	s.SampleAll(ctx)

	if len(store.samples) != 1 {
		t.Fatalf("persisted %d samples, want 1", len(store.samples))
	}
	if store.samples[0].CPUPercent != 12.5 {
		t.Errorf("sample cpu = %v, want 12.5", store.samples[0].CPUPercent)
	}
	if len(limiter.enforced) != 1 {
		t.Errorf("limiter saw %d samples, want 1", len(limiter.enforced))
	}
	if len(limiter.unreachable) != 0 {
		t.Errorf("workspace declared unreachable on a clean sample")
	}
}

func TestSampleAll_GapThresholdTripsUnreachable(t *testing.T) {
	ctx := context.Background()
	ws := &core.Workspace{WSID: "ws-1", IsRunning: true}
	store := &memStore{running: []*core.Workspace{ws}}
	rt := runtime.NewFake()
	rt.SampleErr = errors.New("process gone")
	limiter := &recordingLimiter{}
	notifier := &recordingNotifier{}
	s := newSampler(store, rt, limiter, notifier)

	// Two gaps: below threshold, nothing happens.
	s.SampleAll(ctx)
	s.SampleAll(ctx)
	if len(limiter.unreachable) != 0 || len(notifier.degraded) != 0 {
		t.Fatal("acted before the gap threshold")
	}

	// Third consecutive gap trips.
	s.SampleAll(ctx)
	if len(limiter.unreachable) != 1 || limiter.unreachable[0] != "ws-1" {
		t.Fatalf("unreachable = %v, want [ws-1]", limiter.unreachable)
	}
	if len(notifier.degraded) != 1 {
		t.Errorf("degraded notifications = %d, want 1", len(notifier.degraded))
	}

	// Counter was reset; the next gap starts a fresh window.
	s.SampleAll(ctx)
	if len(limiter.unreachable) != 1 {
		t.Errorf("gap counter not reset after unreachable handling")
	}
}

func TestSampleAll_SuccessResetsGapCounter(t *testing.T) {
	ctx := context.Background()
	ws := &core.Workspace{WSID: "ws-1", IsRunning: true}
	store := &memStore{running: []*core.Workspace{ws}}
	rt := runtime.NewFake()
	limiter := &recordingLimiter{}
	notifier := &recordingNotifier{}
	s := newSampler(store, rt, limiter, notifier)

	// Two gaps, then a success, then two more gaps: never reaches three
	// consecutive.
	rt.SampleErr = errors.New("flake")
	s.SampleAll(ctx)
	s.SampleAll(ctx)

	rt.SampleErr = nil
	rt.Start(ctx, ws)
	s.SampleAll(ctx)

	rt.SampleErr = errors.New("flake")
	s.SampleAll(ctx)
	s.SampleAll(ctx)

	if len(limiter.unreachable) != 0 {
		t.Errorf("unreachable tripped without %d consecutive gaps", s.cfg.GapThreshold)
	}
	if len(store.samples) != 1 {
		t.Errorf("persisted %d samples, want 1", len(store.samples))
	}
}
