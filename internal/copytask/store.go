package copytask

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polytrace/copytrader/internal/store"
)

const keyPrefix = "tasks:"

func key(id string) []byte { return []byte(keyPrefix + id) }

// Scheduler is the subset of the Scheduler (C3) the Task Store drives:
// every successful Create/Stop/Remove/restart must keep the scheduled-tick
// set in sync with Task.Status.
type Scheduler interface {
	Schedule(taskID string, interval time.Duration)
	Unschedule(taskID string)
}

// AddressDeriver derives the Ethereum address controlled by a private
// key, used to enforce the Live precondition "derivedAddress ==
// operatorWallet".
type AddressDeriver func(privateKeyHex string) (string, error)

// CascadeDeleter is implemented by every package that owns data scoped
// to a taskId (activities, positions, trade records). Remove(taskId)
// calls DeleteTask on each registered CascadeDeleter so task deletion is
// complete without the Task Store importing those packages directly.
type CascadeDeleter interface {
	DeleteTask(taskID string) error
}

// Store is the durable, authoritative taskId -> Task registry.
type Store struct {
	db        *store.Store
	scheduler Scheduler
	derive    AddressDeriver
	cascades  []CascadeDeleter
	tickMs    int
}

// New constructs a Task Store. tickIntervalMs is the scheduler cadence
// applied to every task this store schedules.
func New(db *store.Store, scheduler Scheduler, derive AddressDeriver, tickIntervalMs int) *Store {
	return &Store{db: db, scheduler: scheduler, derive: derive, tickMs: tickIntervalMs}
}

// RegisterCascade adds a CascadeDeleter invoked whenever a task is
// removed. Call once per owning package (activity, position,
// tradeledger) during startup wiring.
func (s *Store) RegisterCascade(c CascadeDeleter) {
	s.cascades = append(s.cascades, c)
}

// Create allocates a fresh task, validates mode-specific preconditions,
// persists it running, and schedules its tick.
func (s *Store) Create(d Draft) (*Task, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	if d.Mode == ModeLive {
		derived, err := s.derive(d.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("copytask: derive address: %w", err)
		}
		if !strings.EqualFold(derived, d.OperatorWallet) {
			return nil, fmt.Errorf("copytask: derived address %s does not match operatorWallet %s", derived, d.OperatorWallet)
		}
	}

	t := &Task{
		ID:             uuid.NewString(),
		Mode:           d.Mode,
		TargetAddress:  d.TargetAddress,
		ProfileURL:     d.ProfileURL,
		FixedAmount:    d.FixedAmount,
		InitialFinance: d.InitialFinance,
		CurrentBalance: d.InitialFinance,
		Status:         StatusRunning,
		CreatedAt:      time.Now(),
	}
	if d.Mode == ModeLive {
		t.Live = &LiveDetails{OperatorWallet: d.OperatorWallet, PrivateKey: d.PrivateKey}
	}

	if err := s.put(t); err != nil {
		return nil, err
	}
	s.scheduler.Schedule(t.ID, time.Duration(s.tickMs)*time.Millisecond)
	return t, nil
}

func (s *Store) put(t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("copytask: marshal task: %w", err)
	}
	if err := s.db.Set(key(t.ID), raw); err != nil {
		return fmt.Errorf("copytask: persist task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (s *Store) Get(id string) (*Task, error) {
	raw, err := s.db.Get(key(id))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("copytask: task %s not found", id)
		}
		return nil, fmt.Errorf("copytask: get %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("copytask: unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// List returns every task, optionally filtered by mode. Pass "" for no
// filter.
func (s *Store) List(modeFilter Mode) ([]*Task, error) {
	var out []*Task
	err := s.db.ScanPrefix([]byte(keyPrefix), func(_ []byte, val []byte) bool {
		var t Task
		if jsonErr := json.Unmarshal(val, &t); jsonErr != nil {
			return true // skip corrupt row, keep scanning
		}
		if modeFilter == "" || t.Mode == modeFilter {
			out = append(out, &t)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("copytask: list: %w", err)
	}
	return out, nil
}

// Update persists a task's current field values (used by handlers after
// debiting/crediting CurrentBalance).
func (s *Store) Update(t *Task) error {
	return s.put(t)
}

// Stop transitions a task to stopped and unschedules its tick.
func (s *Store) Stop(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	t.Status = StatusStopped
	if err := s.put(t); err != nil {
		return err
	}
	s.scheduler.Unschedule(id)
	return nil
}

// Restart transitions a stopped task back to running and reschedules it.
func (s *Store) Restart(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	t.Status = StatusRunning
	if err := s.put(t); err != nil {
		return err
	}
	s.scheduler.Schedule(id, time.Duration(s.tickMs)*time.Millisecond)
	return nil
}

// Remove unschedules and deletes a task plus every activity, position,
// and trade record it owns. Pass "" to remove all tasks.
func (s *Store) Remove(id string) error {
	if id == "" {
		tasks, err := s.List("")
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := s.Remove(t.ID); err != nil {
				return err
			}
		}
		return nil
	}

	s.scheduler.Unschedule(id)
	for _, c := range s.cascades {
		if err := c.DeleteTask(id); err != nil {
			return fmt.Errorf("copytask: cascade delete for %s: %w", id, err)
		}
	}
	if err := s.db.Delete(key(id)); err != nil {
		return fmt.Errorf("copytask: delete task %s: %w", id, err)
	}
	return nil
}
