package commands

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/polytrace/copytrader/internal/config"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/store"
)

type fakeScheduler struct{ scheduled, unscheduled map[string]bool }

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: map[string]bool{}, unscheduled: map[string]bool{}}
}
func (f *fakeScheduler) Schedule(taskID string, _ time.Duration) { f.scheduled[taskID] = true }
func (f *fakeScheduler) Unschedule(taskID string)                { f.unscheduled[taskID] = true }

func deriveOK(pk string) (string, error) { return "0xOPERATOR", nil }

type fakeNotifier struct {
	events []string
	errs   []string
}

func (f *fakeNotifier) NotifyTaskCreated(_ context.Context, taskID, mode, target string, amt float64) error {
	f.events = append(f.events, "created:"+taskID)
	return nil
}
func (f *fakeNotifier) NotifyTaskStopped(_ context.Context, taskID string) error {
	f.events = append(f.events, "stopped:"+taskID)
	return nil
}
func (f *fakeNotifier) NotifyTaskRemoved(_ context.Context, taskID string) error {
	f.events = append(f.events, "removed:"+taskID)
	return nil
}
func (f *fakeNotifier) NotifyTaskRestarted(_ context.Context, taskID string) error {
	f.events = append(f.events, "restarted:"+taskID)
	return nil
}
func (f *fakeNotifier) NotifyTaskError(_ context.Context, taskID, reason string) error {
	f.errs = append(f.errs, taskID+":"+reason)
	return nil
}

type fakePublisher struct{ published []string }

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.published = append(f.published, topic+":"+string(payload))
	return nil
}

func newTestDispatcher(t *testing.T, cfg config.Config) (*Dispatcher, *fakeNotifier, *fakePublisher) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tasks := copytask.New(db, newFakeScheduler(), deriveOK, 5000)
	n := &fakeNotifier{}
	p := &fakePublisher{}
	return New(tasks, n, p, cfg), n, p
}

func TestAddTaskMock(t *testing.T) {
	d, notifier, pub := newTestDispatcher(t, config.Default())
	task, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeMock, TargetAddress: "0xTarget", FixedAmount: 50, InitialFinance: 500,
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "created:"+task.ID {
		t.Fatalf("expected created notification, got %v", notifier.events)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one publish, got %v", pub.published)
	}
}

func TestAddTaskLiveRejectedWhenRolloutDisallows(t *testing.T) {
	cfg := config.Default()
	cfg.AllowLiveTasks = false
	d, notifier, _ := newTestDispatcher(t, cfg)

	_, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeLive, TargetAddress: "0xTarget", FixedAmount: 10,
		OperatorWallet: "0xOPERATOR", PrivateKey: "anykey",
	})
	if err == nil {
		t.Fatal("expected error, live tasks disallowed")
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notification on rejected admission, got %v", notifier.events)
	}
}

func TestAddTaskLiveRejectedAboveRolloutCap(t *testing.T) {
	cfg := config.Default()
	cfg.AllowLiveTasks = true
	cfg.MaxFixedAmountUSD = 5
	d, _, _ := newTestDispatcher(t, cfg)

	_, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeLive, TargetAddress: "0xTarget", FixedAmount: 10,
		OperatorWallet: "0xOPERATOR", PrivateKey: "anykey",
	})
	if err == nil {
		t.Fatal("expected error, fixedAmount exceeds rollout cap")
	}
}

func TestAddTaskLiveAllowedWithinCap(t *testing.T) {
	cfg := config.Default()
	cfg.AllowLiveTasks = true
	cfg.MaxFixedAmountUSD = 5
	d, notifier, _ := newTestDispatcher(t, cfg)

	task, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeLive, TargetAddress: "0xTarget", FixedAmount: 5,
		OperatorWallet: "0xOPERATOR", PrivateKey: "anykey",
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "created:"+task.ID {
		t.Fatalf("expected created notification, got %v", notifier.events)
	}
}

func TestStopTaskNotifies(t *testing.T) {
	d, notifier, pub := newTestDispatcher(t, config.Default())
	task, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeMock, TargetAddress: "0xTarget", FixedAmount: 50, InitialFinance: 500,
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	notifier.events = nil
	pub.published = nil

	if err := d.StopTask(context.Background(), task.ID); err != nil {
		t.Fatalf("stop task: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "stopped:"+task.ID {
		t.Fatalf("expected stopped notification, got %v", notifier.events)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one publish, got %v", pub.published)
	}
}

func TestStopTaskPropagatesStoreError(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, config.Default())
	if err := d.StopTask(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown task")
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notification on failed stop, got %v", notifier.events)
	}
}

func TestRemoveTaskAllNotifiesPerTask(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, config.Default())
	var ids []string
	for i := 0; i < 3; i++ {
		task, err := d.AddTask(context.Background(), copytask.Draft{
			Mode: copytask.ModeMock, TargetAddress: fmt.Sprintf("0xTarget%d", i), FixedAmount: 50, InitialFinance: 500,
		})
		if err != nil {
			t.Fatalf("add task %d: %v", i, err)
		}
		ids = append(ids, task.ID)
	}
	notifier.events = nil

	if err := d.RemoveTask(context.Background(), ""); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if len(notifier.events) != len(ids) {
		t.Fatalf("expected %d removed notifications, got %v", len(ids), notifier.events)
	}
}

func TestRestartTaskNotifies(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, config.Default())
	task, err := d.AddTask(context.Background(), copytask.Draft{
		Mode: copytask.ModeMock, TargetAddress: "0xTarget", FixedAmount: 50, InitialFinance: 500,
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if err := d.StopTask(context.Background(), task.ID); err != nil {
		t.Fatalf("stop task: %v", err)
	}
	notifier.events = nil

	if err := d.RestartTask(context.Background(), task.ID); err != nil {
		t.Fatalf("restart task: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "restarted:"+task.ID {
		t.Fatalf("expected restarted notification, got %v", notifier.events)
	}
}
