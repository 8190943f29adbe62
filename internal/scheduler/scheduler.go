// Package scheduler drives provisioning: a pool of workers claims due
// workspaces from the database and hands each one to the engine for a
// single transition.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/observability"
	"github.com/orbitenv/orbit/internal/store"
)

// Advancer is the engine surface the scheduler drives.
type Advancer interface {
	Advance(ctx context.Context, wsid string) (*core.Workspace, error)
}

type Config struct {
	Workers     int           `envconfig:"ORBIT_SCHEDULER_WORKERS" default:"4"`
	IdleBackoff time.Duration `envconfig:"ORBIT_SCHEDULER_IDLE_BACKOFF" default:"2s"`
	// ClaimLease is how far a claim pushes next_run_at into the future: the
	// window one transition has before another worker may pick the
	// workspace up again after a crash.
	ClaimLease         time.Duration `envconfig:"ORBIT_SCHEDULER_CLAIM_LEASE" default:"60s"`
	QueueDepthInterval time.Duration `envconfig:"ORBIT_SCHEDULER_QUEUE_DEPTH_INTERVAL" default:"15s"`
}

type Scheduler struct {
	pool   *pgxpool.Pool
	store  *store.Store
	engine Advancer
	cfg    Config
	log    *zap.Logger
	guard  *runGuard
}

func New(pool *pgxpool.Pool, st *store.Store, engine Advancer, cfg Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		pool:   pool,
		store:  st,
		engine: engine,
		cfg:    cfg,
		log:    log,
		guard:  newRunGuard(),
	}
}

// Run starts the worker pool and blocks until the context is canceled and
// all in-flight transitions have finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", zap.Int("workers", s.cfg.Workers))
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.runWorker(ctx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.reportQueueDepth(ctx)
	}()
	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	log := s.log.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ws, err := s.store.ClaimDue(ctx, s.cfg.ClaimLease)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				log.Warn("claim failed", zap.Error(err))
			} else {
				observability.ClaimEmptyTotal.Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.IdleBackoff):
			}
			continue
		}

		s.process(ctx, ws.WSID, log)
	}
}

// process runs one engine transition under both exclusivity layers: the
// in-process run-guard and the per-workspace advisory lock. Losing either
// just skips the workspace; the lease expiry re-offers it.
func (s *Scheduler) process(ctx context.Context, wsid string, log *zap.Logger) {
	if !s.guard.tryAcquire(wsid) {
		observability.ClaimConflictTotal.Inc()
		return
	}
	defer s.guard.release(wsid)

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		log.Warn("lock connection unavailable", zap.Error(err))
		return
	}
	defer conn.Release()

	// Session-level lock on a pinned connection, so lock and unlock hit
	// the same backend.
	lockStore := store.New(conn)
	lockStart := time.Now()
	got, err := lockStore.TryWorkspaceLock(ctx, wsid)
	if err != nil {
		log.Warn("advisory lock failed", zap.String("wsid", wsid), zap.Error(err))
		return
	}
	if !got {
		observability.ClaimConflictTotal.Inc()
		return
	}
	observability.LockWaitSeconds.Observe(time.Since(lockStart).Seconds())
	defer func() {
		if err := lockStore.UnlockWorkspace(context.WithoutCancel(ctx), wsid); err != nil {
			log.Warn("advisory unlock failed", zap.String("wsid", wsid), zap.Error(err))
		}
	}()

	ws, err := s.engine.Advance(ctx, wsid)
	if err != nil {
		log.Error("transition failed", zap.String("wsid", wsid), zap.Error(err))
		return
	}
	log.Debug("transition done",
		zap.String("wsid", wsid),
		zap.String("state", string(ws.State)),
		zap.Int("step", ws.Step))
}

func (s *Scheduler) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.QueueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := s.store.CountDue(ctx); err == nil {
				observability.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// runGuard is the in-process exclusivity layer: one transition per wsid per
// process, regardless of how many workers claim rows.
type runGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

func newRunGuard() *runGuard {
	return &runGuard{active: make(map[string]bool)}
}

func (g *runGuard) tryAcquire(wsid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[wsid] {
		return false
	}
	g.active[wsid] = true
	return true
}

func (g *runGuard) release(wsid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, wsid)
}
