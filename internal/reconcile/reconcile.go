// Package reconcile implements the Position Reconciler (C8): a periodic
// sweep that force-closes positions the target trader no longer holds,
// following the same fetch-then-diff shape as builder.VolumeTracker.Sync,
// generalized from a volume/leaderboard poll into a per-task position
// diff.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/handlers"
	"github.com/polytrace/copytrader/internal/metrics"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// PositionSource reads a wallet's venue position snapshot, satisfied by
// *position.LiveView. Used both for a Live task's own positions and,
// regardless of task mode, for the target trader's positions — the
// target is always read through the venue.
type PositionSource interface {
	Find(ctx context.Context, address string) ([]*position.Position, error)
}

// Reconciler closes orphaned positions: ones the target trader has
// exited but this task still holds.
type Reconciler struct {
	MockPositions *position.Ledger
	Venue         PositionSource
	Trades        *tradeledger.Ledger
	Tasks         *copytask.Store
	Books         handlers.BookSource
	Live          handlers.LiveOrders
	Settle        handlers.Settler
	Cfg           handlers.Config
}

// New constructs a Reconciler from the same collaborators the Trade
// Handlers use.
func New(mockPositions *position.Ledger, venue PositionSource, trades *tradeledger.Ledger, tasks *copytask.Store, books handlers.BookSource, live handlers.LiveOrders, settle handlers.Settler, cfg handlers.Config) *Reconciler {
	return &Reconciler{
		MockPositions: mockPositions,
		Venue:         venue,
		Trades:        trades,
		Tasks:         tasks,
		Books:         books,
		Live:          live,
		Settle:        settle,
		Cfg:           cfg,
	}
}

// Sweep fetches own positions, fetches the target's positions, and
// forced-closes every own position the target no longer holds (absent,
// or present at size 0).
func (r *Reconciler) Sweep(ctx context.Context, task *copytask.Task) error {
	if err := r.sweep(ctx, task); err != nil {
		metrics.IncReconcileSweep("error")
		return err
	}
	metrics.IncReconcileSweep("ok")
	return nil
}

func (r *Reconciler) sweep(ctx context.Context, task *copytask.Task) error {
	var own []*position.Position
	var err error
	if task.Mode == copytask.ModeLive {
		own, err = r.Venue.Find(ctx, task.Live.OperatorWallet)
	} else {
		own, err = r.MockPositions.Find(task.ID)
	}
	if err != nil {
		return fmt.Errorf("reconcile: load own positions for %s: %w", task.ID, err)
	}
	if len(own) == 0 {
		return nil
	}

	targets, err := r.Venue.Find(ctx, task.TargetAddress)
	if err != nil {
		return fmt.Errorf("reconcile: load target positions for %s: %w", task.ID, err)
	}
	held := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.Size > 0 {
			held[t.ConditionID] = true
		}
	}

	for _, pos := range own {
		if held[pos.ConditionID] {
			continue
		}
		closed, err := r.forcedClose(ctx, task, pos)
		if err != nil {
			return fmt.Errorf("reconcile: forced close %s/%s: %w", task.ID, pos.ConditionID, err)
		}
		if closed {
			metrics.IncReconcileForcedClose()
		}
	}
	return nil
}

// forcedClose sells at best-bid if the book has one, clamped to
// whatever depth is available (no slippage cap); otherwise treats the
// market as settled and redeems. Returns false (with no error) when the
// position could not be closed yet and should be retried next sweep.
func (r *Reconciler) forcedClose(ctx context.Context, task *copytask.Task, pos *position.Position) (bool, error) {
	book, err := r.Books.FetchBook(ctx, pos.Asset)
	if err != nil {
		return false, fmt.Errorf("fetch book for %s: %w", pos.Asset, err)
	}

	if _, _, ok := orderbook.BestBid(book); ok {
		if task.Mode == copytask.ModeLive {
			return r.forceCloseSellLive(ctx, task, pos, book)
		}
		return r.forceCloseSellMock(task, pos, book)
	}
	return r.forceCloseRedeem(ctx, task, pos)
}

func (r *Reconciler) forceCloseSellMock(task *copytask.Task, pos *position.Position, book orderbook.Book) (bool, error) {
	res := orderbook.SimulateSell(book, pos.Size, pos.AvgPrice)
	if !res.Success {
		return false, nil // depth evaporated between BestBid check and walk; retry next sweep
	}

	realizedPnl := pos.ApplySell(res.FillSize, res.FillPrice)
	if pos.Residual() {
		if err := r.MockPositions.Upsert(pos); err != nil {
			return false, err
		}
	} else {
		if err := r.MockPositions.Delete(task.ID, pos.ConditionID, pos.Asset); err != nil {
			return false, err
		}
	}

	r.Trades.AppendBestEffort(&tradeledger.Record{
		TaskID: task.ID, TxHash: reconcileTxHash(task.ID, pos.ConditionID), ConditionID: pos.ConditionID, Asset: pos.Asset,
		Side: tradeledger.SideSell, Size: res.FillSize, Price: res.FillPrice, QuoteAmount: res.QuoteAmount,
		RealizedPnl: realizedPnl, Mode: string(copytask.ModeMock),
	})

	task.CurrentBalance += res.QuoteAmount
	return true, r.Tasks.Update(task)
}

func (r *Reconciler) forceCloseSellLive(ctx context.Context, task *copytask.Task, pos *position.Position, book orderbook.Book) (bool, error) {
	avgPriceBeforeSell := pos.AvgPrice
	remaining := pos.Size
	var totalSold, totalReceived float64
	retries := 0

	for remaining >= r.Cfg.MinOrderTokens {
		bestPrice, bestSize, ok := orderbook.BestBid(book)
		if !ok {
			break
		}
		orderSize := remaining
		if bestSize < orderSize {
			orderSize = bestSize
		}
		received, err := r.Live.SubmitSell(ctx, pos.Asset, bestPrice, orderSize)
		if err == nil {
			totalSold += orderSize
			totalReceived += received
			remaining -= orderSize
			retries = 0
			refreshed, refreshErr := r.Books.FetchBook(ctx, pos.Asset)
			if refreshErr != nil {
				break
			}
			book = refreshed
			continue
		}
		retries++
		if retries >= r.Cfg.LiveRetryLimit {
			break
		}
	}
	if totalSold <= 0 {
		return false, nil
	}

	realizedPnl := totalReceived - totalSold*avgPriceBeforeSell
	r.Trades.AppendBestEffort(&tradeledger.Record{
		TaskID: task.ID, TxHash: reconcileTxHash(task.ID, pos.ConditionID), ConditionID: pos.ConditionID, Asset: pos.Asset,
		Side: tradeledger.SideSell, Size: totalSold, Price: safeDiv(totalReceived, totalSold), QuoteAmount: totalReceived,
		RealizedPnl: realizedPnl, Mode: string(copytask.ModeLive),
	})
	if task.TracksBalance() {
		task.CurrentBalance += totalReceived
		return true, r.Tasks.Update(task)
	}
	return true, nil
}

func (r *Reconciler) forceCloseRedeem(ctx context.Context, task *copytask.Task, pos *position.Position) (bool, error) {
	payout, err := r.Settle.PayoutRatio(ctx, conditionIDBytes(pos.ConditionID), pos.OutcomeIndex)
	if err != nil {
		return false, fmt.Errorf("payout ratio for %s: %w", pos.ConditionID, err)
	}
	if !payout.Settled {
		return false, nil // not actually settled yet despite the empty book; retry next sweep
	}

	redeemValue := pos.Size * payout.Payout
	realizedPnl := redeemValue - pos.Size*pos.AvgPrice

	if task.Mode == copytask.ModeMock {
		r.Trades.AppendBestEffort(&tradeledger.Record{
			TaskID: task.ID, TxHash: reconcileTxHash(task.ID, pos.ConditionID), ConditionID: pos.ConditionID, Asset: pos.Asset,
			Side: tradeledger.SideRedeem, Size: pos.Size, Price: payout.Payout, QuoteAmount: redeemValue,
			RealizedPnl: realizedPnl, Mode: string(copytask.ModeMock),
		})
		if err := r.MockPositions.Delete(task.ID, pos.ConditionID, pos.Asset); err != nil {
			return false, err
		}
		task.CurrentBalance += redeemValue
		return true, r.Tasks.Update(task)
	}

	privKey, err := parsePrivateKeyHex(task.Live.PrivateKey)
	if err != nil {
		return false, nil // malformed key is a config error, not a transient one; skip rather than loop
	}
	res, err := r.Settle.RedeemOnChain(ctx, privKey, conditionIDBytes(pos.ConditionID))
	if err != nil || !res.Success {
		return false, nil // retry next sweep
	}

	r.Trades.AppendBestEffort(&tradeledger.Record{
		TaskID: task.ID, TxHash: reconcileTxHash(task.ID, pos.ConditionID), ConditionID: pos.ConditionID, Asset: pos.Asset,
		Side: tradeledger.SideRedeem, Size: pos.Size, Price: payout.Payout, QuoteAmount: redeemValue,
		RealizedPnl: realizedPnl, Mode: string(copytask.ModeLive),
	})
	if task.TracksBalance() {
		task.CurrentBalance += redeemValue
		return true, r.Tasks.Update(task)
	}
	return true, nil
}

func reconcileTxHash(taskID, conditionID string) string {
	return fmt.Sprintf("reconcile:%s:%s:%d", taskID, conditionID, time.Now().UnixNano())
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
