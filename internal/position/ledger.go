package position

import (
	"encoding/json"
	"fmt"

	"github.com/polytrace/copytrader/internal/store"
)

const keyPrefix = "positions:"

func key(taskID, conditionID, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", keyPrefix, taskID, conditionID, asset))
}

func taskPrefix(taskID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", keyPrefix, taskID))
}

// Ledger is the Mock-mode Position Ledger: a persistent, authoritative
// position set per task, backed by the shared store instead of a
// mutex-guarded in-memory map, since only the task's lock-holder ever
// writes it.
type Ledger struct {
	db *store.Store
}

// NewLedger constructs a Mock Position Ledger.
func NewLedger(db *store.Store) *Ledger {
	return &Ledger{db: db}
}

// Upsert persists p. size==0 positions must be deleted, not upserted
// with a zero size — callers call Delete instead.
func (l *Ledger) Upsert(p *Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("position: marshal %s/%s: %w", p.TaskID, p.ConditionID, err)
	}
	if err := l.db.Set(key(p.TaskID, p.ConditionID, p.Asset), raw); err != nil {
		return fmt.Errorf("position: upsert %s/%s: %w", p.TaskID, p.ConditionID, err)
	}
	return nil
}

// Delete removes a position (called when size reaches zero).
func (l *Ledger) Delete(taskID, conditionID, asset string) error {
	if err := l.db.Delete(key(taskID, conditionID, asset)); err != nil {
		return fmt.Errorf("position: delete %s/%s: %w", taskID, conditionID, err)
	}
	return nil
}

// FindOne returns the position for (taskID, conditionID, asset), or nil
// if absent (no error on absence — callers expect a nil position to mean
// "no position").
func (l *Ledger) FindOne(taskID, conditionID, asset string) (*Position, error) {
	raw, err := l.db.Get(key(taskID, conditionID, asset))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position: find %s/%s: %w", taskID, conditionID, err)
	}
	var p Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("position: unmarshal %s/%s: %w", taskID, conditionID, err)
	}
	return &p, nil
}

// Find returns every position held by a task.
func (l *Ledger) Find(taskID string) ([]*Position, error) {
	var out []*Position
	err := l.db.ScanPrefix(taskPrefix(taskID), func(_ []byte, val []byte) bool {
		var p Position
		if jsonErr := json.Unmarshal(val, &p); jsonErr == nil {
			out = append(out, &p)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("position: find for task %s: %w", taskID, err)
	}
	return out, nil
}

// DeleteTask removes every position belonging to taskID. Implements
// copytask.CascadeDeleter.
func (l *Ledger) DeleteTask(taskID string) error {
	if err := l.db.DeletePrefix(taskPrefix(taskID)); err != nil {
		return fmt.Errorf("position: delete task %s: %w", taskID, err)
	}
	return nil
}

// FindByAsset finds the own position matching an asset (conditionId is
// looked up by scanning, since SELL handling keys on asset primarily).
func (l *Ledger) FindByAsset(taskID, asset string) (*Position, error) {
	all, err := l.Find(taskID)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Asset == asset {
			return p, nil
		}
	}
	return nil, nil
}
