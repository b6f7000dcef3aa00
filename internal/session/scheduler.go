package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSampleInterval is the cadence at which the scheduler asks the
// classifier for a detection.
const DefaultSampleInterval = 500 * time.Millisecond

// Scheduler invokes a tick function at a fixed cadence on a single goroutine.
// Ticks therefore never overlap: a slow tick delays the next one, and
// [time.Ticker] coalescing drops the missed fires, which bounds memory and
// keeps appends ordered.
type Scheduler struct {
	interval time.Duration
	tick     func(ctx context.Context)

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler creates a scheduler that calls tick every interval once
// started. A non-positive interval selects [DefaultSampleInterval].
func NewScheduler(interval time.Duration, tick func(ctx context.Context)) *Scheduler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Scheduler{
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run(ctx)
	})
}

// Stop halts the tick loop and blocks until any in-flight tick has finished.
// After Stop returns no further ticks run, so the caller may safely read
// whatever the ticks were writing to. Subsequent calls are no-ops.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}
