package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunInvokesRegisteredTaskRepeatedly(t *testing.T) {
	s := New()
	var count atomic.Int32
	s.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if count.Load() < 3 {
		t.Fatalf("expected at least 3 ticks in 55ms at a 10ms cadence, got %d", count.Load())
	}
}

func TestTickSkipsWhileBusy(t *testing.T) {
	s := New()
	var starts, overlaps atomic.Int32
	release := make(chan struct{})

	s.Register("slow", 5*time.Millisecond, func(ctx context.Context) error {
		if !starts.CompareAndSwap(0, 1) {
			overlaps.Add(1)
			return nil
		}
		<-release
		starts.Store(0)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(40 * time.Millisecond)
	close(release)
	cancel()

	if overlaps.Load() != 0 {
		t.Fatalf("expected no overlapping runs while the task was in flight, got %d", overlaps.Load())
	}
}

func TestSetCadenceTakesEffect(t *testing.T) {
	s := New()
	var count atomic.Int32
	s.Register("adaptive", time.Hour, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	s.SetCadence("adaptive", 10*time.Millisecond)
	s.Run(ctx)

	if count.Load() < 2 {
		t.Fatalf("expected SetCadence to take effect before the original 1h tick, got %d runs", count.Load())
	}
}
