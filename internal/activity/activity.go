// Package activity implements the Activity Ingestor (C4): it fetches a
// target trader's recent venue activity, deduplicates it against
// already-persisted rows, and tracks each activity through its
// processing state machine.
package activity

import "time"

// Side is the kind of action an Activity represents.
type Side string

const (
	SideBuy    Side = "BUY"
	SideSell   Side = "SELL"
	SideRedeem Side = "REDEEM"
)

// State is a position in the Activity processing state machine:
// new -> claimed -> {done-ok | done-skipped | done-exhausted}.
type State string

const (
	StateNew          State = "new"
	StateClaimed      State = "claimed"
	StateDoneOK       State = "done-ok"
	StateDoneSkipped  State = "done-skipped"
	StateDoneExhaust  State = "done-exhausted"
)

// DuplicateSentinel marks an Activity that was pre-closed at ingest time
// (a repeat BUY for a conditionId already seen this window) and will
// never be executed.
const DuplicateSentinel = -1

// Activity is a single observed event produced by the target trader.
type Activity struct {
	TxHash       string    `json:"txHash"`
	TaskID       string    `json:"taskId"`
	Timestamp    time.Time `json:"timestamp"`
	ConditionID  string    `json:"conditionId"`
	Asset        string    `json:"asset"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	Notional     float64   `json:"notional"`
	Price        float64   `json:"price"`
	OutcomeIndex int       `json:"outcomeIndex"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	OutcomeLabel string    `json:"outcomeLabel"`

	Bot          bool    `json:"bot"`
	ExecAttempts int     `json:"execAttempts"`
	MyBoughtSize float64 `json:"myBoughtSize"`
	State        State   `json:"state"`
}

// Claim transitions new -> claimed, marking execAttempts=1. Idempotent
// under lock: only called by the handler holding the task's lock.
func (a *Activity) Claim() {
	a.State = StateClaimed
	a.ExecAttempts = 1
}

// Eligible reports whether this activity may still be handled.
func (a *Activity) Eligible() bool {
	return a.State == StateNew
}
