package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/orbitenv/orbit/internal/core"
)

// Fake is a scriptable in-memory Runtime for tests.
type Fake struct {
	mu      sync.Mutex
	running map[string]bool

	StartErr  error
	StopErr   error
	SampleErr error
	// Samples are served per wsid in order; the last one repeats.
	Samples map[string][]*core.MetricSample

	Started []string
	Stopped []string
}

func NewFake() *Fake {
	return &Fake{
		running: make(map[string]bool),
		Samples: make(map[string][]*core.MetricSample),
	}
}

func (f *Fake) Start(ctx context.Context, ws *core.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.running[ws.WSID] = true
	f.Started = append(f.Started, ws.WSID)
	return nil
}

func (f *Fake) Stop(ctx context.Context, wsid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	delete(f.running, wsid)
	f.Stopped = append(f.Stopped, wsid)
	return nil
}

func (f *Fake) Sample(ctx context.Context, wsid string) (*core.MetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SampleErr != nil {
		return nil, f.SampleErr
	}
	if !f.running[wsid] {
		return nil, ErrNotRunning
	}
	q := f.Samples[wsid]
	if len(q) == 0 {
		return &core.MetricSample{WSID: wsid, CollectedAt: time.Now()}, nil
	}
	s := q[0]
	if len(q) > 1 {
		f.Samples[wsid] = q[1:]
	}
	return s, nil
}

func (f *Fake) Running(wsid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[wsid]
}
