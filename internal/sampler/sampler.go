// Package sampler collects resource usage from running workspaces on a
// fixed interval and feeds the samples to limit enforcement.
package sampler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/collab"
	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/observability"
	"github.com/orbitenv/orbit/internal/runtime"
)

// Store is the slice of the persistence layer the sampler needs.
type Store interface {
	ListRunning(ctx context.Context) ([]*core.Workspace, error)
	InsertMetricSample(ctx context.Context, m *core.MetricSample) error
}

// Limiter is the lifecycle controller surface the sampler drives.
type Limiter interface {
	EnforceLimits(ctx context.Context, ws *core.Workspace, s *core.MetricSample) error
	HandleUnreachable(ctx context.Context, wsid string) error
}

type Config struct {
	Interval time.Duration `envconfig:"ORBIT_SAMPLE_INTERVAL" default:"30s"`
	// Consecutive failed samples before a workspace is declared unreachable.
	GapThreshold int `envconfig:"ORBIT_SAMPLE_GAP_THRESHOLD" default:"3"`
}

type Sampler struct {
	store    Store
	runtime  runtime.Runtime
	limiter  Limiter
	notifier collab.Notifier
	cfg      Config
	log      *zap.Logger

	mu   sync.Mutex
	gaps map[string]int
}

func New(store Store, rt runtime.Runtime, limiter Limiter, notifier collab.Notifier, cfg Config, log *zap.Logger) *Sampler {
	return &Sampler{
		store:    store,
		runtime:  rt,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		gaps:     make(map[string]int),
	}
}

// Run samples on the configured interval until the context is canceled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleAll(ctx)
		}
	}
}

// SampleAll takes one sample from every running workspace. A failed sample
// is a gap, not an error: the workspace is only acted on when gaps reach
// the threshold.
func (s *Sampler) SampleAll(ctx context.Context) {
	running, err := s.store.ListRunning(ctx)
	if err != nil {
		s.log.Warn("listing running workspaces failed", zap.Error(err))
		return
	}
	for _, ws := range running {
		s.sampleOne(ctx, ws)
	}
}

func (s *Sampler) sampleOne(ctx context.Context, ws *core.Workspace) {
	m, err := s.runtime.Sample(ctx, ws.WSID)
	if err != nil {
		observability.SamplerGapsTotal.Inc()
		s.mu.Lock()
		s.gaps[ws.WSID]++
		gaps := s.gaps[ws.WSID]
		if gaps >= s.cfg.GapThreshold {
			delete(s.gaps, ws.WSID)
		}
		s.mu.Unlock()

		s.log.Warn("sample failed",
			zap.String("wsid", ws.WSID), zap.Int("gaps", gaps), zap.Error(err))
		if gaps >= s.cfg.GapThreshold {
			s.notifier.HealthDegraded(ctx, ws.WSID, gaps)
			if err := s.limiter.HandleUnreachable(ctx, ws.WSID); err != nil {
				s.log.Warn("unreachable handling failed", zap.String("wsid", ws.WSID), zap.Error(err))
			}
		}
		return
	}

	s.mu.Lock()
	delete(s.gaps, ws.WSID)
	s.mu.Unlock()

	if err := s.store.InsertMetricSample(ctx, m); err != nil {
		s.log.Warn("sample insert failed", zap.String("wsid", ws.WSID), zap.Error(err))
		return
	}
	observability.SamplesTotal.Inc()
	if err := s.limiter.EnforceLimits(ctx, ws, m); err != nil {
		s.log.Warn("limit enforcement failed", zap.String("wsid", ws.WSID), zap.Error(err))
	}
}
