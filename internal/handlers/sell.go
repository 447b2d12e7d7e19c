package handlers

import (
	"context"
	"fmt"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// handleSell mirrors a SELL activity by the target trader, including the
// sell-ratio reconstruction algorithm. targetPos is the target trader's
// current position in the same asset, nil if they hold none.
func (h *Handlers) handleSell(ctx context.Context, task *copytask.Task, act *activity.Activity, targetPos *position.Position) error {
	var ownPos *position.Position
	var err error
	if task.Mode == copytask.ModeLive {
		ownPos, err = h.LivePositions.FindOne(ctx, task.Live.OperatorWallet, act.Asset)
	} else {
		ownPos, err = h.MockPositions.FindOne(task.ID, act.ConditionID, act.Asset)
	}
	if err != nil {
		return fmt.Errorf("handlers: load own position for %s: %w", act.TxHash, err)
	}
	if ownPos == nil || ownPos.Size <= 0 {
		h.skip(act, "no own position")
		return nil
	}

	tNow := 0.0
	if targetPos != nil {
		tNow = targetPos.Size
	}
	u, err := h.Activities.PendingSellSizes(task.ID, act.Asset)
	if err != nil {
		return fmt.Errorf("handlers: sum pending sells for %s: %w", act.TxHash, err)
	}
	tBefore := tNow + u // reconstructed target size just before this SELL

	var baseSize float64
	if targetPos == nil {
		baseSize = ownPos.Size // target fully exited: sell everything we hold
	} else {
		ratio := act.Size / tBefore
		if task.Mode == copytask.ModeLive {
			boughtTotal, btErr := h.liveBoughtSizeTotal(task.ID, act.Asset)
			if btErr != nil {
				return btErr
			}
			if boughtTotal > 0 {
				baseSize = boughtTotal * ratio
			} else {
				baseSize = ownPos.Size * ratio
			}
		} else {
			baseSize = ownPos.Size * ratio
		}
	}
	if baseSize > ownPos.Size {
		baseSize = ownPos.Size
	}
	if baseSize < h.Cfg.MinOrderTokens {
		h.skip(act, "base size below minimum tokens")
		return nil
	}

	if task.Mode == copytask.ModeLive {
		return h.executeSellLive(ctx, task, act, ownPos, baseSize)
	}
	return h.executeSellMock(ctx, task, act, ownPos, baseSize)
}

func (h *Handlers) executeSellMock(ctx context.Context, task *copytask.Task, act *activity.Activity, ownPos *position.Position, baseSize float64) error {
	book, err := h.Books.FetchBook(ctx, act.Asset)
	if err != nil {
		return fmt.Errorf("handlers: fetch book for %s: %w", act.Asset, err)
	}

	res := orderbook.SimulateSell(book, baseSize, act.Price)
	if !res.Success {
		h.skip(act, res.Reason)
		return nil
	}

	realizedPnl := ownPos.ApplySell(res.FillSize, res.FillPrice)
	if ownPos.Residual() {
		if err := h.MockPositions.Upsert(ownPos); err != nil {
			return fmt.Errorf("handlers: upsert position after sell for %s: %w", act.TxHash, err)
		}
	} else {
		if err := h.MockPositions.Delete(task.ID, act.ConditionID, act.Asset); err != nil {
			return fmt.Errorf("handlers: delete position after sell for %s: %w", act.TxHash, err)
		}
	}

	h.record(&tradeledger.Record{
		TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
		Side: tradeledger.SideSell, Size: res.FillSize, Price: res.FillPrice, QuoteAmount: res.QuoteAmount,
		RealizedPnl: realizedPnl, Mode: string(copytask.ModeMock),
	})

	task.CurrentBalance += res.QuoteAmount
	if err := h.Tasks.Update(task); err != nil {
		return fmt.Errorf("handlers: credit balance for %s: %w", task.ID, err)
	}

	h.ok(act)
	return nil
}

func (h *Handlers) executeSellLive(ctx context.Context, task *copytask.Task, act *activity.Activity, ownPos *position.Position, baseSize float64) error {
	avgPriceBeforeSell := ownPos.AvgPrice
	trackedBefore, err := h.liveBoughtSizeTotal(task.ID, act.Asset)
	if err != nil {
		return err
	}

	remaining := baseSize
	var totalSold, totalReceived float64
	retries := 0
	exhausted := false

	for remaining >= h.Cfg.MinOrderTokens {
		book, bookErr := h.Books.FetchBook(ctx, act.Asset)
		if bookErr != nil {
			return fmt.Errorf("handlers: fetch book for %s: %w", act.Asset, bookErr)
		}
		bestPrice, bestSize, ok := orderbook.BestBid(book)
		if !ok {
			break // no liquidity: finalize with whatever sold so far
		}

		orderSize := remaining
		if bestSize < orderSize {
			orderSize = bestSize
		}

		received, orderErr := h.Live.SubmitSell(ctx, act.Asset, bestPrice, orderSize)
		if orderErr == nil {
			totalSold += orderSize
			totalReceived += received
			remaining -= orderSize
			retries = 0
			continue
		}
		if orderErr == ErrInsufficientFunds {
			exhausted = true
			break
		}
		retries++
		if retries >= h.Cfg.LiveRetryLimit {
			exhausted = true
			break
		}
	}

	if totalSold > 0 {
		realizedPnl := totalReceived - totalSold*avgPriceBeforeSell
		h.record(&tradeledger.Record{
			TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
			Side: tradeledger.SideSell, Size: totalSold, Price: safeDiv(totalReceived, totalSold), QuoteAmount: totalReceived,
			RealizedPnl: realizedPnl, Mode: string(copytask.ModeLive),
		})

		if trackedBefore > 0 {
			soldFraction := totalSold / trackedBefore
			if err := h.scaleTrackedBuys(task.ID, act.Asset, soldFraction); err != nil {
				return err
			}
		}

		if task.TracksBalance() {
			task.CurrentBalance += totalReceived
			if err := h.Tasks.Update(task); err != nil {
				return fmt.Errorf("handlers: credit balance for %s: %w", task.ID, err)
			}
		}

		h.ok(act)
		return nil
	}

	if exhausted {
		h.exhaust(act)
		return nil
	}
	h.skip(act, "no liquidity")
	return nil
}

// liveBoughtSizeTotal sums the tracked myBoughtSize of every prior
// done-ok BUY activity for this task and asset, used both for Live
// sell-ratio sizing and for scaling after a Live sell.
func (h *Handlers) liveBoughtSizeTotal(taskID, asset string) (float64, error) {
	all, err := h.Activities.ListForTask(taskID)
	if err != nil {
		return 0, fmt.Errorf("handlers: list activities for %s: %w", taskID, err)
	}
	var total float64
	for _, a := range all {
		if a.Asset == asset && a.Side == activity.SideBuy && a.State == activity.StateDoneOK && a.MyBoughtSize > 0 {
			total += a.MyBoughtSize
		}
	}
	return total, nil
}

// scaleTrackedBuys updates the tracked myBoughtSize of every prior BUY
// activity for this task/asset after a Live sell: zeroed entirely once
// cumulative sales reach 99% of tracked tokens, otherwise scaled down by
// (1 - soldFraction).
func (h *Handlers) scaleTrackedBuys(taskID, asset string, soldFraction float64) error {
	all, err := h.Activities.ListForTask(taskID)
	if err != nil {
		return fmt.Errorf("handlers: list activities for %s: %w", taskID, err)
	}
	zeroAll := soldFraction >= 0.99
	for _, a := range all {
		if a.Asset != asset || a.Side != activity.SideBuy || a.State != activity.StateDoneOK || a.MyBoughtSize <= 0 {
			continue
		}
		if zeroAll {
			a.MyBoughtSize = 0
		} else {
			a.MyBoughtSize *= 1 - soldFraction
		}
		if err := h.Activities.Update(a); err != nil {
			return fmt.Errorf("handlers: scale tracked buy %s: %w", a.TxHash, err)
		}
	}
	return nil
}
