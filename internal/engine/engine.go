// Package engine implements the per-tick orchestration that ties
// the lock, ingestor, trade handlers, and reconciler together behind a
// single scheduler.Handler callback, following the mutex-guarded
// running-flag and cancel-and-drain shape of app.App but driven by the
// Scheduler's per-task tick instead of a websocket event loop.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/handlers"
	"github.com/polytrace/copytrader/internal/metrics"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/reconcile"
	"github.com/polytrace/copytrader/internal/scheduler"
	"github.com/polytrace/copytrader/internal/tasklock"
)

// Config carries the engine's own cadence knobs, distinct from
// handlers.Config's per-order guard constants.
type Config struct {
	TickInterval    time.Duration
	LockTTL         time.Duration
	ActivityWindow  func(mockMode bool) time.Duration
	SyncEveryNTicks int
}

// DefaultConfig matches the documented cadence defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		LockTTL:         10 * time.Minute,
		ActivityWindow:  activity.Window,
		SyncEveryNTicks: 30,
	}
}

// Engine wires the Task Store, distributed lock, Activity Ingestor,
// Trade Handlers, and Position Reconciler into the scheduler.Handler the
// Scheduler (C3) invokes once per task per tick.
type Engine struct {
	Tasks      *copytask.Store
	Activities *activity.Store
	Ingestor   *activity.Ingestor
	Venue      reconcile.PositionSource
	Handlers   *handlers.Handlers
	Reconciler *reconcile.Reconciler
	Lock       *tasklock.Lock
	Scheduler  *scheduler.Scheduler
	Cfg        Config

	mu    sync.Mutex
	ticks map[string]int
}

// New constructs an Engine. The caller must still call s.Start(ctx) (on
// the Scheduler field's *scheduler.Scheduler) separately — Engine.Start only
// performs the crash-recovery work, it does not start the Scheduler's
// worker pool.
func New(tasks *copytask.Store, activities *activity.Store, ingestor *activity.Ingestor, venue reconcile.PositionSource, h *handlers.Handlers, r *reconcile.Reconciler, lock *tasklock.Lock, sched *scheduler.Scheduler, cfg Config) *Engine {
	return &Engine{
		Tasks:      tasks,
		Activities: activities,
		Ingestor:   ingestor,
		Venue:      venue,
		Handlers:   h,
		Reconciler: r,
		Lock:       lock,
		Scheduler:  sched,
		Cfg:        cfg,
		ticks:      make(map[string]int),
	}
}

// Tick is the scheduler.Handler registered against the Scheduler: one
// pass of ingest -> dispatch -> (periodic) reconcile for a single task,
// under the task's distributed lock. Contention is not an error — it
// just means the previous tick is still running, so this firing is
// skipped rather than queued or awaited.
func (e *Engine) Tick(ctx context.Context, taskID string) error {
	err := e.Lock.WithLock(taskID, e.Cfg.LockTTL, func() error {
		return e.runTick(ctx, taskID)
	})
	if err == tasklock.ErrSkipped {
		metrics.IncLockContention()
		metrics.IncTick("skipped_lock")
		return nil
	}
	if err != nil {
		metrics.IncTick("error")
		return err
	}
	metrics.IncTick("ok")
	return nil
}

func (e *Engine) runTick(ctx context.Context, taskID string) error {
	task, err := e.Tasks.Get(taskID)
	if err != nil {
		return fmt.Errorf("engine: load task %s: %w", taskID, err)
	}
	if task.Status != copytask.StatusRunning {
		return nil
	}

	window := e.Cfg.ActivityWindow(task.Mode == copytask.ModeMock)
	if _, err := e.Ingestor.Fetch(ctx, task.ID, task.TargetAddress, window); err != nil {
		return fmt.Errorf("engine: ingest activity for %s: %w", task.ID, err)
	}

	targets, err := e.Venue.Find(ctx, task.TargetAddress)
	if err != nil {
		return fmt.Errorf("engine: load target positions for %s: %w", task.ID, err)
	}
	byAsset := make(map[string]*position.Position, len(targets))
	for _, p := range targets {
		byAsset[p.Asset] = p
	}

	pending, err := e.Activities.Pending(task.ID)
	if err != nil {
		return fmt.Errorf("engine: load pending activities for %s: %w", task.ID, err)
	}
	for _, act := range pending {
		if err := e.Handlers.Handle(ctx, task, act, byAsset[act.Asset]); err != nil {
			return fmt.Errorf("engine: handle %s for %s: %w", act.TxHash, task.ID, err)
		}
		// Handle may have mutated task.CurrentBalance; reload so the next
		// activity in this same tick sees the persisted balance.
		task, err = e.Tasks.Get(task.ID)
		if err != nil {
			return fmt.Errorf("engine: reload task %s: %w", task.ID, err)
		}
	}

	if e.dueForSync(task.ID) {
		if err := e.Reconciler.Sweep(ctx, task); err != nil {
			return fmt.Errorf("engine: sweep %s: %w", task.ID, err)
		}
	}
	return nil
}

// dueForSync advances and checks this task's in-memory tick counter
// against SyncEveryNTicks. The counter resets on process restart, which
// is fine — Start already runs one unconditional sweep per running task
// at recovery time.
func (e *Engine) dueForSync(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticks == nil {
		e.ticks = make(map[string]int)
	}
	e.ticks[taskID]++
	if e.ticks[taskID] >= e.Cfg.SyncEveryNTicks {
		e.ticks[taskID] = 0
		return true
	}
	return false
}

// Start performs the crash-recovery sequence: every claimed activity for
// a still-running task is reset to new (a crash between claim and
// done-* must not permanently stall it), every running task is
// rescheduled, and each such task gets one immediate reconciliation
// sweep before its first ordinary tick fires.
func (e *Engine) Start(ctx context.Context) error {
	e.Scheduler.ClearAll()

	tasks, err := e.Tasks.List("")
	if err != nil {
		return fmt.Errorf("engine: list tasks at startup: %w", err)
	}
	running := 0
	for _, t := range tasks {
		if t.Status != copytask.StatusRunning {
			continue
		}
		running++
		if err := e.Activities.ResetClaimed(t.ID); err != nil {
			return fmt.Errorf("engine: reset claimed activities for %s: %w", t.ID, err)
		}
		e.Scheduler.Schedule(t.ID, e.Cfg.TickInterval)
		if err := e.Reconciler.Sweep(ctx, t); err != nil {
			log.Printf("engine: startup reconciliation failed for %s: %v", t.ID, err)
		}
	}
	metrics.SetRunningTasks(running)
	return nil
}

// Shutdown stops the Scheduler, draining in-flight ticks before
// returning (bounded by the Scheduler's own drain timeout).
func (e *Engine) Shutdown(context.Context) {
	e.Scheduler.Stop()
}
