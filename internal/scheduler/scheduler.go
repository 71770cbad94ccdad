// Package scheduler is the Scheduler Supervisor (spec §4.8): a single
// place owning every periodic task's ticker/select loop instead of the
// half-dozen ad hoc `go func(){ ticker...select{ctx.Done,ticker.C} }()`
// blocks main.go used to start by hand. Tasks register a name, a
// cadence, and a function; the Supervisor runs each on its own
// goroutine, skips a tick if the previous run of that task hasn't
// finished, and supports one task's cadence being swapped at runtime
// without restarting its goroutine.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// TaskFunc is one periodic unit of work. A returned error is logged,
// never fatal — a single bad tick must not take down the supervisor.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	fn       TaskFunc
	interval atomic.Int64 // nanoseconds; swapped live via SetCadence
	running  atomic.Bool
}

// Supervisor runs named periodic tasks on independent goroutines and
// shuts them all down cooperatively when its context is canceled.
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

func New() *Supervisor {
	return &Supervisor{tasks: make(map[string]*task)}
}

// Register adds a task at a fixed cadence. Calling Register after Run
// has started is safe but the new task only begins once Run sees it on
// the next call — in practice all tasks are registered before Run.
func (s *Supervisor) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task{name: name, fn: fn}
	t.interval.Store(int64(interval))
	s.tasks[name] = t
}

// SetCadence swaps a registered task's tick interval without touching
// its goroutine or losing in-flight state — the same atomic-swap shape
// the teacher's exposureCache used for a cached value, applied here to
// a ticker period instead. The new period applies from the end of the
// task's next run. No component in this tree calls it at runtime; the
// snapshot cadence stays at its registered interval.
func (s *Supervisor) SetCadence(name string, interval time.Duration) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.interval.Store(int64(interval))
}

// Run starts every registered task and blocks until ctx is canceled and
// all task goroutines have returned.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.runTask(ctx, t)
	}
	s.wg.Wait()
}

func (s *Supervisor) runTask(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(t.interval.Load()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
			if current := time.Duration(t.interval.Load()); current != 0 {
				ticker.Reset(current)
			}
		}
	}
}

// tick runs fn unless the previous tick of this task is still in
// flight, in which case the tick is skipped rather than queued —
// fixed-delay, skip-if-busy semantics (spec §4.8), so a slow snapshot
// capture can never pile up a backlog of overlapping captures.
func (s *Supervisor) tick(ctx context.Context, t *task) {
	if !t.running.CompareAndSwap(false, true) {
		log.Printf("[scheduler] %s still running, skipping this tick", t.name)
		return
	}
	defer t.running.Store(false)

	if err := t.fn(ctx); err != nil {
		log.Printf("[scheduler] %s failed: %v", t.name, err)
	}
}
