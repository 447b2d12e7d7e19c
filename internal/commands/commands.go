// Package commands implements the admin-facing operations on tasks:
// add, stop, remove, restart. It sits between internal/api and
// internal/copytask.Store, adding the staged Live-rollout admission
// check and firing internal/notify lifecycle alerts after each
// successful operation.
package commands

import (
	"context"
	"fmt"

	"github.com/polytrace/copytrader/internal/config"
	"github.com/polytrace/copytrader/internal/copytask"
)

// Notifier is the subset of *notify.Notifier a Dispatcher fires
// lifecycle events through.
type Notifier interface {
	NotifyTaskCreated(ctx context.Context, taskID, mode, targetAddress string, fixedAmount float64) error
	NotifyTaskStopped(ctx context.Context, taskID string) error
	NotifyTaskRemoved(ctx context.Context, taskID string) error
	NotifyTaskRestarted(ctx context.Context, taskID string) error
	NotifyTaskError(ctx context.Context, taskID, reason string) error
}

// Publisher is the out-of-scope pub/sub transport a Dispatcher would
// broadcast task-lifecycle events over, were one wired in. No
// concrete implementation ships; a Dispatcher with a nil Publisher
// simply skips publication.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber is the consumer side of Publisher, used by out-of-process
// readers of task-lifecycle events. Declared alongside Publisher so a
// future transport can implement both from one package without this
// one importing it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handle func(payload []byte)) error
}

// Dispatcher is the admin-facing entry point for task lifecycle
// operations, wrapping copytask.Store with admission policy and
// notification side effects.
type Dispatcher struct {
	Tasks    *copytask.Store
	Notifier Notifier
	Pub      Publisher
	Cfg      config.Config
}

// New constructs a Dispatcher. pub may be nil.
func New(tasks *copytask.Store, notifier Notifier, pub Publisher, cfg config.Config) *Dispatcher {
	return &Dispatcher{Tasks: tasks, Notifier: notifier, Pub: pub, Cfg: cfg}
}

// AddTask validates the staged Live-rollout caps (on top of
// copytask.Store's own mode-specific preconditions), creates the task,
// and notifies on success.
func (d *Dispatcher) AddTask(ctx context.Context, draft copytask.Draft) (*copytask.Task, error) {
	if draft.Mode == copytask.ModeLive {
		if !d.Cfg.AllowLiveTasks {
			return nil, fmt.Errorf("commands: live tasks are disabled by the current rollout phase")
		}
		if d.Cfg.MaxFixedAmountUSD > 0 && draft.FixedAmount > d.Cfg.MaxFixedAmountUSD {
			return nil, fmt.Errorf("commands: fixedAmount %.2f exceeds the rollout cap of %.2f USDC", draft.FixedAmount, d.Cfg.MaxFixedAmountUSD)
		}
	}

	task, err := d.Tasks.Create(draft)
	if err != nil {
		return nil, err
	}

	d.notify(ctx, task.ID, func(ctx context.Context) error {
		return d.Notifier.NotifyTaskCreated(ctx, task.ID, string(task.Mode), task.TargetAddress, task.FixedAmount)
	})
	d.publish(ctx, "task.created", task.ID)
	return task, nil
}

// StopTask stops a task and notifies on success.
func (d *Dispatcher) StopTask(ctx context.Context, taskID string) error {
	if err := d.Tasks.Stop(taskID); err != nil {
		return err
	}
	d.notify(ctx, taskID, func(ctx context.Context) error {
		return d.Notifier.NotifyTaskStopped(ctx, taskID)
	})
	d.publish(ctx, "task.stopped", taskID)
	return nil
}

// RemoveTask removes a task (and, if taskID is "", every task) and
// notifies on success. Removing all tasks notifies once per task
// actually on record at call time.
func (d *Dispatcher) RemoveTask(ctx context.Context, taskID string) error {
	var ids []string
	if taskID == "" {
		tasks, err := d.Tasks.List("")
		if err != nil {
			return err
		}
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
	} else {
		ids = []string{taskID}
	}

	if err := d.Tasks.Remove(taskID); err != nil {
		return err
	}
	for _, id := range ids {
		d.notify(ctx, id, func(ctx context.Context) error {
			return d.Notifier.NotifyTaskRemoved(ctx, id)
		})
		d.publish(ctx, "task.removed", id)
	}
	return nil
}

// RestartTask restarts a stopped task and notifies on success.
func (d *Dispatcher) RestartTask(ctx context.Context, taskID string) error {
	if err := d.Tasks.Restart(taskID); err != nil {
		return err
	}
	d.notify(ctx, taskID, func(ctx context.Context) error {
		return d.Notifier.NotifyTaskRestarted(ctx, taskID)
	})
	d.publish(ctx, "task.restarted", taskID)
	return nil
}

// notify runs fn and, if it fails, best-effort reports the failure as
// a task_error alert rather than propagating a notification failure
// back to the caller of an otherwise-successful operation.
func (d *Dispatcher) notify(ctx context.Context, taskID string, fn func(context.Context) error) {
	if d.Notifier == nil {
		return
	}
	if err := fn(ctx); err != nil {
		_ = d.Notifier.NotifyTaskError(ctx, taskID, err.Error())
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic, taskID string) {
	if d.Pub == nil {
		return
	}
	_ = d.Pub.Publish(ctx, topic, []byte(taskID))
}
