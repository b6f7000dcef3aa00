package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler(t *testing.T) {
	t.Parallel()

	t.Run("ticks never overlap", func(t *testing.T) {
		t.Parallel()
		var inFlight, overlapped atomic.Int32
		s := NewScheduler(time.Millisecond, func(context.Context) {
			if inFlight.Add(1) > 1 {
				overlapped.Store(1)
			}
			time.Sleep(3 * time.Millisecond) // slower than the interval
			inFlight.Add(-1)
		})

		s.Start(context.Background())
		time.Sleep(30 * time.Millisecond)
		s.Stop()

		if overlapped.Load() != 0 {
			t.Fatal("observed overlapping ticks")
		}
	})

	t.Run("stop waits for the in-flight tick", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		var done atomic.Bool
		s := NewScheduler(time.Millisecond, func(context.Context) {
			<-release
			done.Store(true)
		})

		s.Start(context.Background())
		time.Sleep(5 * time.Millisecond) // let a tick begin

		go func() {
			time.Sleep(5 * time.Millisecond)
			close(release)
		}()
		s.Stop()

		if !done.Load() {
			t.Fatal("Stop returned while a tick was still running")
		}
	})

	t.Run("stop is idempotent and safe from multiple goroutines", func(t *testing.T) {
		t.Parallel()
		s := NewScheduler(time.Millisecond, func(context.Context) {})
		s.Start(context.Background())

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Stop()
			}()
		}
		wg.Wait()
	})

	t.Run("stop before start does not block", func(t *testing.T) {
		t.Parallel()
		s := NewScheduler(time.Millisecond, func(context.Context) {})
		finished := make(chan struct{})
		go func() {
			s.Stop()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("Stop blocked without a started scheduler")
		}
	})

	t.Run("no ticks after stop", func(t *testing.T) {
		t.Parallel()
		var ticks atomic.Int32
		s := NewScheduler(time.Millisecond, func(context.Context) { ticks.Add(1) })
		s.Start(context.Background())
		time.Sleep(10 * time.Millisecond)
		s.Stop()

		after := ticks.Load()
		time.Sleep(10 * time.Millisecond)
		if got := ticks.Load(); got != after {
			t.Fatalf("ticks continued after Stop: %d -> %d", after, got)
		}
	})
}
