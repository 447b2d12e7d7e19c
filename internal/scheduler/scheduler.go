// Package scheduler implements the Scheduler (C3): at-least-once
// delivery of a periodic tick per running task, dispatched to a bounded
// worker pool with retry and backoff.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Handler processes one tick for a task. Returning an error triggers the
// scheduler's bounded retry with backoff; if every attempt fails the
// tick is dropped and the next period will redeliver.
type Handler func(ctx context.Context, taskID string) error

// Config controls dispatch parallelism and retry policy.
type Config struct {
	Workers      int
	RetryAttempts int
	RetryBase    time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{Workers: 5, RetryAttempts: 3, RetryBase: time.Second}
}

type taskEntry struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// Scheduler owns one repeating ticker per scheduled task and a fixed
// pool of workers draining a shared tick queue: a ticker-driven run loop
// generalized to many independent per-task periods instead of one fixed
// interval.
type Scheduler struct {
	cfg     Config
	handler Handler

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	queue   chan string
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a Scheduler. Call Start before Schedule-ing any tasks.
func New(cfg Config, handler Handler) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		handler: handler,
		tasks:   make(map[string]*taskEntry),
		queue:   make(chan string, 1024),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case taskID := <-s.queue:
			s.runWithRetry(taskID)
		}
	}
}

func (s *Scheduler) runWithRetry(taskID string) {
	backoff := s.cfg.RetryBase
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		err := s.handler(s.ctx, taskID)
		if err == nil {
			return
		}
		log.Printf("scheduler: tick for %s failed (attempt %d/%d): %v", taskID, attempt, s.cfg.RetryAttempts, err)
		if attempt == s.cfg.RetryAttempts {
			log.Printf("scheduler: tick for %s dropped after %d attempts, will redeliver next period", taskID, attempt)
			return
		}
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
		backoff *= 2
	}
}

// Schedule registers a repeating tick for taskId at the given interval.
// Idempotent: calling it again for an already-scheduled task is a no-op.
func (s *Scheduler) Schedule(taskID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[taskID]; exists {
		return
	}

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	s.tasks[taskID] = &taskEntry{ticker: ticker, stop: stop}

	go func(id string) {
		for {
			select {
			case <-ticker.C:
				select {
				case s.queue <- id:
				default:
					log.Printf("scheduler: queue full, dropping tick for %s", id)
				}
			case <-stop:
				ticker.Stop()
				return
			case <-s.ctx.Done():
				ticker.Stop()
				return
			}
		}
	}(taskID)
}

// Unschedule removes the periodic entry for taskId.
func (s *Scheduler) Unschedule(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return
	}
	close(entry.stop)
	delete(s.tasks, taskID)
}

// ClearAll removes every periodic entry, run at startup to purge zombie
// entries left by a prior process instance.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Unschedule(id)
	}
}

// Stop cancels the scheduler context, halting all per-task tickers and
// workers, and waits up to 30 seconds for in-flight ticks to drain.
func (s *Scheduler) Stop() {
	s.ClearAll()
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("scheduler: drain exceeded bound, forcing shutdown")
	}
}
