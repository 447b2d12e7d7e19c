// Package tradeledger implements the Trade Record Log (C10): an
// append-only record of every executed fill, for audit and analytics.
package tradeledger

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/polytrace/copytrader/internal/store"
)

// Side mirrors activity.Side without importing that package, since a
// trade record only ever needs the three terminal action kinds.
type Side string

const (
	SideBuy    Side = "BUY"
	SideSell   Side = "SELL"
	SideRedeem Side = "REDEEM"
)

// Record is one append-only ledger row.
type Record struct {
	TaskID      string    `json:"taskId"`
	TxHash      string    `json:"txHash"`
	ConditionID string    `json:"conditionId"`
	Asset       string    `json:"asset"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	QuoteAmount float64   `json:"quoteAmount"`
	RealizedPnl float64   `json:"realizedPnl"`
	Mode        string    `json:"mode"`
	CreatedAt   time.Time `json:"createdAt"`
}

const prefix = "trades:"

func taskPrefix(taskID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefix, taskID))
}

func rowKey(taskID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefix, taskID, seq))
}

// Ledger is the append-only trade record store, keyed (taskId, seq) so
// prefix iteration yields insertion order; reverse iteration gives
// "most recent first" reads.
type Ledger struct {
	db *store.Store
}

// New constructs a trade record Ledger.
func New(db *store.Store) *Ledger {
	return &Ledger{db: db}
}

// Append writes a trade record. Writes must never fail the handler that
// produced them — callers should log-and-continue on error rather than
// abort the activity they're recording.
func (l *Ledger) Append(r *Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("tradeledger: marshal %s: %w", r.TxHash, err)
	}
	if err := l.db.Set(rowKey(r.TaskID, r.CreatedAt.UnixNano()), raw); err != nil {
		return fmt.Errorf("tradeledger: append %s: %w", r.TxHash, err)
	}
	return nil
}

// AppendBestEffort calls Append and only logs on failure, for call
// sites where a log failure must not abort an otherwise-successful
// trade handler.
func (l *Ledger) AppendBestEffort(r *Record) {
	if err := l.Append(r); err != nil {
		log.Printf("tradeledger: best-effort append failed: %v", err)
	}
}

// Recent returns up to limit most-recent trade records for a task.
func (l *Ledger) Recent(taskID string, limit int) ([]*Record, error) {
	var out []*Record
	err := l.db.ScanPrefixReverse(taskPrefix(taskID), func(_ []byte, val []byte) bool {
		var r Record
		if jsonErr := json.Unmarshal(val, &r); jsonErr == nil {
			out = append(out, &r)
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("tradeledger: recent for %s: %w", taskID, err)
	}
	return out, nil
}

// All returns every trade record for a task, oldest first.
func (l *Ledger) All(taskID string) ([]*Record, error) {
	var out []*Record
	err := l.db.ScanPrefix(taskPrefix(taskID), func(_ []byte, val []byte) bool {
		var r Record
		if jsonErr := json.Unmarshal(val, &r); jsonErr == nil {
			out = append(out, &r)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("tradeledger: all for %s: %w", taskID, err)
	}
	return out, nil
}

// DeleteTask removes every trade record belonging to taskID. Implements
// copytask.CascadeDeleter.
func (l *Ledger) DeleteTask(taskID string) error {
	if err := l.db.DeletePrefix(taskPrefix(taskID)); err != nil {
		return fmt.Errorf("tradeledger: delete task %s: %w", taskID, err)
	}
	return nil
}
