package engine

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/handlers"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/reconcile"
	"github.com/polytrace/copytrader/internal/scheduler"
	"github.com/polytrace/copytrader/internal/settlement"
	"github.com/polytrace/copytrader/internal/store"
	"github.com/polytrace/copytrader/internal/tasklock"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

type fakeVenue struct {
	byAddress map[string][]*position.Position
}

func (f *fakeVenue) Find(ctx context.Context, address string) ([]*position.Position, error) {
	return f.byAddress[address], nil
}

type fakeBooks struct{ book orderbook.Book }

func (f *fakeBooks) FetchBook(ctx context.Context, assetID string) (orderbook.Book, error) {
	return f.book, nil
}

type fakeLiveOrders struct{}

func (fakeLiveOrders) SubmitBuy(ctx context.Context, tokenID string, price, notionalUSDC float64) (float64, float64, error) {
	return notionalUSDC / price, notionalUSDC, nil
}
func (fakeLiveOrders) SubmitSell(ctx context.Context, tokenID string, price, tokens float64) (float64, error) {
	return tokens * price, nil
}

type stubSettler struct {
	settled     bool
	payoutRatio float64
}

func (s *stubSettler) PayoutRatio(ctx context.Context, conditionID [32]byte, outcomeIndex int) (settlement.PayoutResult, error) {
	return settlement.PayoutResult{Settled: s.settled, Payout: s.payoutRatio}, nil
}
func (s *stubSettler) RedeemOnChain(ctx context.Context, privateKey *ecdsa.PrivateKey, conditionID [32]byte) (settlement.RedeemResult, error) {
	return settlement.RedeemResult{Success: true}, nil
}

// newActivityServer serves a fixed /activity response so the Ingestor
// has something to fetch without hitting a real venue.
func newActivityServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, activityBody string) (*Engine, *copytask.Store, *activity.Store, *fakeVenue) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sched := scheduler.New(scheduler.DefaultConfig(), func(ctx context.Context, taskID string) error { return nil })
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	derive := func(string) (string, error) { return "0xOperator", nil }
	tasks := copytask.New(db, sched, derive, 1000)
	activities := activity.New(db)
	mockPos := position.NewLedger(db)
	trades := tradeledger.New(db)

	tasks.RegisterCascade(activities)
	tasks.RegisterCascade(mockPos)
	tasks.RegisterCascade(trades)

	srv := newActivityServer(t, activityBody)
	ingestor := activity.NewIngestor(srv.URL, activities)
	venue := &fakeVenue{byAddress: map[string][]*position.Position{}}
	books := &fakeBooks{}

	h := &handlers.Handlers{
		Activities:    activities,
		MockPositions: mockPos,
		Trades:        trades,
		Tasks:         tasks,
		Books:         books,
		Live:          fakeLiveOrders{},
		Settle:        &stubSettler{},
		Cfg:           handlers.DefaultConfig(),
	}
	rec := reconcile.New(mockPos, venue, trades, tasks, books, fakeLiveOrders{}, &stubSettler{}, handlers.DefaultConfig())
	lock := tasklock.New(db)

	cfg := DefaultConfig()
	cfg.SyncEveryNTicks = 2

	e := New(tasks, activities, ingestor, venue, h, rec, lock, sched, cfg)
	return e, tasks, activities, venue
}

func mustCreateMockTask(t *testing.T, tasks *copytask.Store, target string) *copytask.Task {
	t.Helper()
	task, err := tasks.Create(copytask.Draft{
		Mode: copytask.ModeMock, TargetAddress: target, FixedAmount: 100, InitialFinance: 1000,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// Tick ingests a fresh BUY activity and executes it, debiting the task's
// balance.
func TestTickIngestsAndExecutesBuy(t *testing.T) {
	now := time.Now().Unix()
	body := `[{"transactionHash":"0xabc","timestamp":` + itoa(now) + `,"conditionId":"cond-1","asset":"asset-1","side":"BUY","size":"100","usdcSize":"50","price":"0.50","outcomeIndex":0,"title":"t","slug":"s","outcome":"Yes"}]`

	e, tasks, _, _ := newTestEngine(t, body)
	e.Handlers.Books.(*fakeBooks).book = orderbook.Book{Asks: []orderbook.Level{{Price: 0.50, Size: 1000}}}

	task := mustCreateMockTask(t, tasks, "0xTarget")

	if err := e.Tick(context.Background(), task.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	updated, err := tasks.Get(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.CurrentBalance >= 1000 {
		t.Fatalf("expected balance debited below 1000, got %v", updated.CurrentBalance)
	}

	pos, err := e.Handlers.MockPositions.FindOne(task.ID, "cond-1", "asset-1")
	if err != nil || pos == nil {
		t.Fatalf("expected a position to exist, err=%v pos=%v", err, pos)
	}
}

// A stopped task's tick is a no-op: no activity is dispatched.
func TestTickSkipsStoppedTask(t *testing.T) {
	e, tasks, _, _ := newTestEngine(t, `[]`)
	task := mustCreateMockTask(t, tasks, "0xTarget")
	if err := tasks.Stop(task.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := e.Tick(context.Background(), task.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

// Two ticks on a task with SyncEveryNTicks=2 should trigger exactly one
// reconciliation sweep — observable by a position that the target no
// longer holds being force-closed.
func TestTickTriggersReconcileOnCadence(t *testing.T) {
	e, tasks, _, venue := newTestEngine(t, `[]`)
	task := mustCreateMockTask(t, tasks, "0xTarget")

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-9", Asset: "asset-9", Size: 10, AvgPrice: 0.40}
	if err := e.Handlers.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	venue.byAddress["0xTarget"] = nil // target holds nothing
	e.Handlers.Books.(*fakeBooks).book = orderbook.Book{Bids: []orderbook.Level{{Price: 0.45, Size: 1000}}}

	if err := e.Tick(context.Background(), task.ID); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	stillThere, err := e.Handlers.MockPositions.FindOne(task.ID, "cond-9", "asset-9")
	if err != nil || stillThere == nil {
		t.Fatalf("expected position to survive tick 1, err=%v pos=%v", err, stillThere)
	}

	if err := e.Tick(context.Background(), task.ID); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	gone, err := e.Handlers.MockPositions.FindOne(task.ID, "cond-9", "asset-9")
	if err != nil {
		t.Fatalf("find position: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected position force-closed on the 2nd tick, got %+v", gone)
	}
}

// Start resets claimed activities back to new and sweeps once per
// running task immediately, before any tick fires.
func TestStartResetsClaimedAndSweepsImmediately(t *testing.T) {
	e, tasks, activities, venue := newTestEngine(t, `[]`)
	task := mustCreateMockTask(t, tasks, "0xTarget")

	act := &activity.Activity{
		TxHash: "0xclaimed", TaskID: task.ID, Timestamp: time.Now(),
		ConditionID: "cond-5", Asset: "asset-5", Side: activity.SideBuy, Size: 10, Price: 0.3,
		State: activity.StateClaimed, ExecAttempts: 1,
	}
	if err := activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-9", Asset: "asset-9", Size: 10, AvgPrice: 0.40}
	if err := e.Handlers.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	venue.byAddress["0xTarget"] = nil
	e.Handlers.Books.(*fakeBooks).book = orderbook.Book{Bids: []orderbook.Level{{Price: 0.45, Size: 1000}}}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	pending, err := activities.Pending(task.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	found := false
	for _, a := range pending {
		if a.TxHash == "0xclaimed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected claimed activity reset to new, pending=%+v", pending)
	}

	closed, err := e.Handlers.MockPositions.FindOne(task.ID, "cond-9", "asset-9")
	if err != nil {
		t.Fatalf("find position: %v", err)
	}
	if closed != nil {
		t.Fatalf("expected startup sweep to force-close orphaned position, got %+v", closed)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
