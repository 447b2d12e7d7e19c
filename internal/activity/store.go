package activity

import (
	"encoding/json"
	"fmt"

	"github.com/polytrace/copytrader/internal/store"
)

const (
	rowPrefix = "activities:row:"
	idxPrefix = "activities:idx:"
)

func rowKey(taskID string, ts int64, txHash string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", rowPrefix, taskID, ts, txHash))
}

func rowPrefixForTask(taskID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", rowPrefix, taskID))
}

func idxKey(taskID, txHash string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxPrefix, taskID, txHash))
}

// Store is the durable, per-task, chronologically-ordered activity log.
type Store struct {
	db *store.Store
}

// New constructs an activity Store over the shared key-value store.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Exists reports whether (txHash, taskID) has already been persisted —
// the dedup check run before any new activity is admitted.
func (s *Store) Exists(taskID, txHash string) (bool, error) {
	return s.db.Exists(idxKey(taskID, txHash))
}

// Insert persists a new activity atomically: the row plus its dedup
// index entry in one batch, so a crash mid-write never leaves a
// half-visible activity.
func (s *Store) Insert(a *Activity) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("activity: marshal %s: %w", a.TxHash, err)
	}
	rk := rowKey(a.TaskID, a.Timestamp.UnixNano(), a.TxHash)

	b := s.db.NewBatch()
	b.Set(rk, raw)
	b.Set(idxKey(a.TaskID, a.TxHash), rk)
	if err := b.Commit(); err != nil {
		return fmt.Errorf("activity: insert %s: %w", a.TxHash, err)
	}
	return nil
}

// Update persists a mutated activity's current state (e.g. after
// Claim(), or transitioning to a done-* state).
func (s *Store) Update(a *Activity) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("activity: marshal %s: %w", a.TxHash, err)
	}
	rk := rowKey(a.TaskID, a.Timestamp.UnixNano(), a.TxHash)
	if err := s.db.Set(rk, raw); err != nil {
		return fmt.Errorf("activity: update %s: %w", a.TxHash, err)
	}
	return nil
}

// ListForTask returns every activity for taskID in chronological (venue)
// order.
func (s *Store) ListForTask(taskID string) ([]*Activity, error) {
	var out []*Activity
	err := s.db.ScanPrefix(rowPrefixForTask(taskID), func(_ []byte, val []byte) bool {
		var a Activity
		if jsonErr := json.Unmarshal(val, &a); jsonErr == nil {
			out = append(out, &a)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("activity: list for task %s: %w", taskID, err)
	}
	return out, nil
}

// Pending returns the new-state activities for a task, in order.
func (s *Store) Pending(taskID string) ([]*Activity, error) {
	all, err := s.ListForTask(taskID)
	if err != nil {
		return nil, err
	}
	var pending []*Activity
	for _, a := range all {
		if a.Eligible() {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// ResetClaimed resets every claimed activity for a task back to new.
// Called once per running task at startup recovery: a crash between
// claim and done-* must not permanently stall an activity.
func (s *Store) ResetClaimed(taskID string) error {
	all, err := s.ListForTask(taskID)
	if err != nil {
		return err
	}
	for _, a := range all {
		if a.State == StateClaimed {
			a.State = StateNew
			a.ExecAttempts = 0
			if err := s.Update(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// PendingSellSizes sums the sizes of this task's unprocessed (new or
// claimed) SELL activities for the given asset, used by the sell-ratio
// reconstruction when handling a SELL. The activity currently being
// handled is in state claimed, so its own size is already part of the
// sum; call sites add the result to T_now directly to get T_before.
func (s *Store) PendingSellSizes(taskID, asset string) (float64, error) {
	all, err := s.ListForTask(taskID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range all {
		if a.Asset == asset && a.Side == SideSell && (a.State == StateNew || a.State == StateClaimed) {
			total += a.Size
		}
	}
	return total, nil
}

// DeleteTask removes every activity belonging to taskID. Implements
// copytask.CascadeDeleter.
func (s *Store) DeleteTask(taskID string) error {
	if err := s.db.DeletePrefix(rowPrefixForTask(taskID)); err != nil {
		return fmt.Errorf("activity: delete rows for %s: %w", taskID, err)
	}
	if err := s.db.DeletePrefix([]byte(fmt.Sprintf("%s%s:", idxPrefix, taskID))); err != nil {
		return fmt.Errorf("activity: delete index for %s: %w", taskID, err)
	}
	return nil
}
