package handlers

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/settlement"
	"github.com/polytrace/copytrader/internal/store"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

type fakeBooks struct {
	book orderbook.Book
	err  error
}

func (f *fakeBooks) FetchBook(ctx context.Context, assetID string) (orderbook.Book, error) {
	return f.book, f.err
}

type fakeLiveOrders struct {
	buyErr, sellErr error
}

func (f *fakeLiveOrders) SubmitBuy(ctx context.Context, tokenID string, price, notionalUSDC float64) (float64, float64, error) {
	if f.buyErr != nil {
		return 0, 0, f.buyErr
	}
	return notionalUSDC / price, notionalUSDC, nil
}

func (f *fakeLiveOrders) SubmitSell(ctx context.Context, tokenID string, price, tokens float64) (float64, error) {
	if f.sellErr != nil {
		return 0, f.sellErr
	}
	return tokens * price, nil
}

type fakeBalances struct {
	balance float64
	err     error
}

func (f *fakeBalances) QuoteBalance(ctx context.Context, wallet string) (float64, error) {
	return f.balance, f.err
}

// sequencedBooks returns a different book on each successive FetchBook
// call, then repeats its last entry — used to simulate depth changing
// (or evaporating) between retries of a live BUY/SELL loop.
type sequencedBooks struct {
	books []orderbook.Book
	calls int
}

func (s *sequencedBooks) FetchBook(ctx context.Context, assetID string) (orderbook.Book, error) {
	i := s.calls
	if i >= len(s.books) {
		i = len(s.books) - 1
	}
	s.calls++
	return s.books[i], nil
}

type fakeScheduler struct{}

func (fakeScheduler) Schedule(string, time.Duration) {}
func (fakeScheduler) Unschedule(string)               {}

func newTestHandlers(t *testing.T) (*Handlers, *copytask.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	derive := func(string) (string, error) { return "0xOperator", nil }
	tasks := copytask.New(db, fakeScheduler{}, derive, 1000)
	acts := activity.New(db)
	mockPos := position.NewLedger(db)
	trades := tradeledger.New(db)

	tasks.RegisterCascade(acts)
	tasks.RegisterCascade(mockPos)
	tasks.RegisterCascade(trades)

	h := &Handlers{
		Activities:    acts,
		MockPositions: mockPos,
		Trades:        trades,
		Tasks:         tasks,
		Books:         &fakeBooks{},
		Live:          &fakeLiveOrders{},
		Cfg:           DefaultConfig(),
	}
	return h, tasks
}

func mustCreateMockTask(t *testing.T, tasks *copytask.Store, fixedAmount, initialFinance float64) *copytask.Task {
	t.Helper()
	task, err := tasks.Create(copytask.Draft{
		Mode:           copytask.ModeMock,
		TargetAddress:  "0xTarget",
		FixedAmount:    fixedAmount,
		InitialFinance: initialFinance,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustCreateLiveTask(t *testing.T, tasks *copytask.Store, fixedAmount, initialFinance float64) *copytask.Task {
	t.Helper()
	task, err := tasks.Create(copytask.Draft{
		Mode:           copytask.ModeLive,
		TargetAddress:  "0xTarget",
		OperatorWallet: "0xOperator",
		PrivateKey:     "deadbeef",
		FixedAmount:    fixedAmount,
		InitialFinance: initialFinance,
	})
	if err != nil {
		t.Fatalf("create live task: %v", err)
	}
	return task
}

func newBuyActivity(taskID, conditionID, asset string, size, price float64) *activity.Activity {
	return &activity.Activity{
		TxHash: "tx-" + conditionID + "-buy", TaskID: taskID, Timestamp: time.Now(),
		ConditionID: conditionID, Asset: asset, Side: activity.SideBuy,
		Size: size, Notional: size * price, Price: price, State: activity.StateNew,
	}
}

func newSellActivity(taskID, conditionID, asset string, size, price float64) *activity.Activity {
	return &activity.Activity{
		TxHash: "tx-" + conditionID + "-sell", TaskID: taskID, Timestamp: time.Now(),
		ConditionID: conditionID, Asset: asset, Side: activity.SideSell,
		Size: size, Notional: size * price, Price: price, State: activity.StateNew,
	}
}

// Scenario: simple copy BUY fills against a clean book.
func TestHandleBuyMockSimpleFill(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)

	h.Books.(*fakeBooks).book = orderbook.Book{Asks: []orderbook.Level{{Price: 0.50, Size: 1000}}}
	act := newBuyActivity(task.ID, "cond-1", "asset-1", 50, 0.50)
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pos, err := h.MockPositions.FindOne(task.ID, "cond-1", "asset-1")
	if err != nil || pos == nil {
		t.Fatalf("expected a position, err=%v pos=%v", err, pos)
	}
	if pos.Size <= 0 || pos.AvgPrice != 0.50 {
		t.Fatalf("unexpected position %+v", pos)
	}

	got, err := h.Tasks.Get(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.CurrentBalance >= 1000 {
		t.Fatalf("expected balance debited, got %v", got.CurrentBalance)
	}

	reloaded, err := h.Activities.ListForTask(task.ID)
	if err != nil || len(reloaded) != 1 || reloaded[0].State != activity.StateDoneOK {
		t.Fatalf("expected done-ok activity, got %+v err=%v", reloaded, err)
	}
}

// Scenario: BUY rejected for slippage beyond the 5% cap.
func TestHandleBuyMockSlippageRejection(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)

	h.Books.(*fakeBooks).book = orderbook.Book{Asks: []orderbook.Level{{Price: 0.70, Size: 1000}}}
	act := newBuyActivity(task.ID, "cond-2", "asset-2", 50, 0.50)
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pos, err := h.MockPositions.FindOne(task.ID, "cond-2", "asset-2")
	if err != nil {
		t.Fatalf("find position: %v", err)
	}
	if pos != nil {
		t.Fatalf("expected no position opened, got %+v", pos)
	}

	reloaded, err := h.Activities.ListForTask(task.ID)
	if err != nil || len(reloaded) != 1 || reloaded[0].State != activity.StateDoneSkipped {
		t.Fatalf("expected done-skipped activity, got %+v err=%v", reloaded, err)
	}
}

// Scenario: a Live BUY fills part of the order against the book, then
// depth evaporates before the loop can finish. The partial fill must
// still be recorded, the balance debited, and myBoughtSize set — not
// silently dropped by an early return out of the fill loop.
func TestHandleBuyLivePartialFillThenNoLiquidityStillFinalizes(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateLiveTask(t, tasks, 100, 1000)

	h.Balances = &fakeBalances{balance: 1000}
	h.Books = &sequencedBooks{books: []orderbook.Book{
		{Asks: []orderbook.Level{{Price: 0.50, Size: 60}}},
		{Asks: nil},
	}}

	act := newBuyActivity(task.ID, "cond-live-1", "asset-live-1", 100, 0.50)
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	reloaded, err := h.Activities.ListForTask(task.ID)
	if err != nil || len(reloaded) != 1 {
		t.Fatalf("list activities: %+v err=%v", reloaded, err)
	}
	got := reloaded[0]
	if got.State != activity.StateDoneExhaust {
		t.Fatalf("expected done-exhausted activity, got %+v", got)
	}
	if got.MyBoughtSize <= 0 {
		t.Fatalf("expected myBoughtSize to reflect the partial fill, got %v", got.MyBoughtSize)
	}

	trades, err := h.Trades.Recent(task.ID, 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected one recorded trade for the partial fill, got %+v err=%v", trades, err)
	}
	if trades[0].Size != got.MyBoughtSize {
		t.Fatalf("trade size %v does not match myBoughtSize %v", trades[0].Size, got.MyBoughtSize)
	}

	updated, err := h.Tasks.Get(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.CurrentBalance >= 1000 {
		t.Fatalf("expected balance debited for the partial fill, got %v", updated.CurrentBalance)
	}
}

// Scenario: target partially sells, we liquidate the same
// ratio of our own position. position size=100, avgPrice=0.30, SELL
// size=40, T_now=60 => T_before=100, ratio=0.4, realizedPnl=8.00.
func TestHandleSellPartialScenario3(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-3", Asset: "asset-3", Size: 100, AvgPrice: 0.30, TotalBought: 30}
	if err := h.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	h.Books.(*fakeBooks).book = orderbook.Book{Bids: []orderbook.Level{{Price: 0.50, Size: 1000}}}
	act := newSellActivity(task.ID, "cond-3", "asset-3", 40, 0.50)
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	targetPos := &position.Position{Size: 60}
	if err := h.Handle(context.Background(), task, act, targetPos); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := h.MockPositions.FindOne(task.ID, "cond-3", "asset-3")
	if err != nil || got == nil {
		t.Fatalf("expected residual position, err=%v got=%v", err, got)
	}
	if diff := got.Size - 60; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected residual size 60, got %v", got.Size)
	}

	trades, err := h.Trades.All(task.ID)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected one trade record, got %+v err=%v", trades, err)
	}
	if diff := trades[0].RealizedPnl - 8.0; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected realizedPnl 8.00, got %v", trades[0].RealizedPnl)
	}
}

// Scenario: target fully exits (no target position),
// liquidating the entirety of our holding regardless of pending queue.
func TestHandleSellFullExitNoTargetPosition(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-4", Asset: "asset-4", Size: 25, AvgPrice: 0.40, TotalBought: 10}
	if err := h.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	h.Books.(*fakeBooks).book = orderbook.Book{Bids: []orderbook.Level{{Price: 0.20, Size: 1000}}}
	act := newSellActivity(task.ID, "cond-4", "asset-4", 25, 0.20)
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := h.MockPositions.FindOne(task.ID, "cond-4", "asset-4")
	if err != nil {
		t.Fatalf("find position: %v", err)
	}
	if got != nil {
		t.Fatalf("expected position fully closed, got %+v", got)
	}
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

// Scenario: REDEEM on a winning outcome closes the
// position and credits the payout to balance.
func TestHandleRedeemWinning(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)
	h.Settle = &stubSettler{settled: true, payoutRatio: 1.0}

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-5", Asset: "asset-5", Size: 50, AvgPrice: 0.40, TotalBought: 20}
	if err := h.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	act := &activity.Activity{
		TxHash: "tx-cond-5-redeem", TaskID: task.ID, Timestamp: time.Now(),
		ConditionID: "cond-5", Asset: "asset-5", Side: activity.SideRedeem, State: activity.StateNew,
	}
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := h.MockPositions.FindOne(task.ID, "cond-5", "asset-5")
	if err != nil {
		t.Fatalf("find position: %v", err)
	}
	if got != nil {
		t.Fatalf("expected position closed after redemption, got %+v", got)
	}

	updated, err := h.Tasks.Get(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.CurrentBalance <= 1000 {
		t.Fatalf("expected balance credited with payout, got %v", updated.CurrentBalance)
	}
}

// TestHandleRedeemNotSettledSkips verifies an unsettled market defers
// the REDEEM for a later tick rather than erroring.
func TestHandleRedeemNotSettledSkips(t *testing.T) {
	h, tasks := newTestHandlers(t)
	task := mustCreateMockTask(t, tasks, 100, 1000)
	h.Settle = &stubSettler{settled: false}

	pos := &position.Position{TaskID: task.ID, ConditionID: "cond-6", Asset: "asset-6", Size: 10, AvgPrice: 0.40, TotalBought: 4}
	if err := h.MockPositions.Upsert(pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	act := &activity.Activity{
		TxHash: "tx-cond-6-redeem", TaskID: task.ID, Timestamp: time.Now(),
		ConditionID: "cond-6", Asset: "asset-6", Side: activity.SideRedeem, State: activity.StateNew,
	}
	if err := h.Activities.Insert(act); err != nil {
		t.Fatalf("insert activity: %v", err)
	}

	if err := h.Handle(context.Background(), task, act, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := h.MockPositions.FindOne(task.ID, "cond-6", "asset-6")
	if err != nil || got == nil {
		t.Fatalf("expected position to survive an unsettled redeem, err=%v got=%v", err, got)
	}

	reloaded, err := h.Activities.ListForTask(task.ID)
	if err != nil || len(reloaded) != 1 || reloaded[0].State != activity.StateDoneSkipped {
		t.Fatalf("expected done-skipped activity, got %+v err=%v", reloaded, err)
	}
}
