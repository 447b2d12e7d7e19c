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

// handleBuyMock mirrors a BUY activity into a Mock task's paper position.
func (h *Handlers) handleBuyMock(ctx context.Context, task *copytask.Task, act *activity.Activity) error {
	if act.Price > h.Cfg.PriceCapBuy {
		h.skip(act, "price above cap")
		return nil
	}

	existing, err := h.MockPositions.FindOne(task.ID, act.ConditionID, act.Asset)
	if err != nil {
		return fmt.Errorf("handlers: load position for %s: %w", act.TxHash, err)
	}
	if existing != nil && existing.Size > 0 {
		h.skip(act, "already holding position, no pyramiding")
		return nil
	}

	notional := capNotional(task.FixedAmount, task.CurrentBalance, h.Cfg.BalanceSafetyBuffer)
	if notional < h.Cfg.MinOrderUSD {
		h.skip(act, "notional below minimum")
		return nil
	}

	book, err := h.Books.FetchBook(ctx, act.Asset)
	if err != nil {
		return fmt.Errorf("handlers: fetch book for %s: %w", act.Asset, err)
	}

	res := orderbook.SimulateBuy(book, notional, act.Price, h.Cfg.SlippagePctLimitBuy)
	if !res.Success {
		h.skip(act, res.Reason)
		return nil
	}

	pos := existing
	if pos == nil {
		pos = &position.Position{TaskID: task.ID, ConditionID: act.ConditionID, Asset: act.Asset, OutcomeIndex: act.OutcomeIndex, Title: act.Title, Slug: act.Slug}
	}
	pos.ApplyBuy(res.FillSize, res.FillPrice)
	if err := h.MockPositions.Upsert(pos); err != nil {
		return fmt.Errorf("handlers: upsert position for %s: %w", act.TxHash, err)
	}

	h.record(&tradeledger.Record{
		TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
		Side: tradeledger.SideBuy, Size: res.FillSize, Price: res.FillPrice, QuoteAmount: res.QuoteAmount,
		Mode: string(copytask.ModeMock),
	})

	task.CurrentBalance -= res.QuoteAmount
	if err := h.Tasks.Update(task); err != nil {
		return fmt.Errorf("handlers: debit balance for %s: %w", task.ID, err)
	}

	act.MyBoughtSize = res.FillSize
	h.ok(act)
	return nil
}

// handleBuyLive mirrors a BUY activity by submitting a real FOK market
// order against the venue.
func (h *Handlers) handleBuyLive(ctx context.Context, task *copytask.Task, act *activity.Activity) error {
	if act.Price > h.Cfg.PriceCapBuy {
		h.skip(act, "price above cap")
		return nil
	}

	prior, err := h.findPriorBoughtBuy(task.ID, act.ConditionID)
	if err != nil {
		return err
	}
	if prior != nil {
		h.skip(act, "already bought this condition, awaiting venue reflection")
		return nil
	}

	balance, err := h.Balances.QuoteBalance(ctx, task.Live.OperatorWallet)
	if err != nil {
		return fmt.Errorf("handlers: fetch on-chain quote balance for %s: %w", act.TxHash, err)
	}

	remaining := capNotional(task.FixedAmount, balance, h.Cfg.BalanceSafetyBuffer)
	if remaining < h.Cfg.MinOrderUSD {
		h.skip(act, "notional below minimum")
		return nil
	}

	var filledTokens, spent float64
	retries := 0
	exhausted := false

	for remaining >= h.Cfg.MinOrderUSD {
		book, bookErr := h.Books.FetchBook(ctx, act.Asset)
		if bookErr != nil {
			return fmt.Errorf("handlers: fetch book for %s: %w", act.Asset, bookErr)
		}
		bestPrice, bestSize, ok := orderbook.BestAsk(book)
		if !ok {
			exhausted = true
			break
		}
		if bestPrice > act.Price+h.Cfg.LiveSlippageGuardAbs {
			exhausted = true
			break
		}

		orderNotional := remaining
		if levelNotional := bestSize * bestPrice; levelNotional < orderNotional {
			orderNotional = levelNotional
		}

		tokens, usdcSpent, orderErr := h.Live.SubmitBuy(ctx, act.Asset, bestPrice, orderNotional)
		if orderErr == nil {
			filledTokens += tokens
			spent += usdcSpent
			remaining -= usdcSpent
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

	act.MyBoughtSize = filledTokens
	if filledTokens > 0 {
		h.record(&tradeledger.Record{
			TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
			Side: tradeledger.SideBuy, Size: filledTokens, Price: safeDiv(spent, filledTokens), QuoteAmount: spent,
			Mode: string(copytask.ModeLive),
		})
	}
	if task.TracksBalance() {
		task.CurrentBalance -= spent
		if err := h.Tasks.Update(task); err != nil {
			return fmt.Errorf("handlers: debit balance for %s: %w", task.ID, err)
		}
	}

	if exhausted {
		h.exhaust(act)
		return nil
	}
	h.ok(act)
	return nil
}

// findPriorBoughtBuy looks for an earlier done-ok BUY on this task for
// the same conditionId with myBoughtSize>0 — the API-latency protection
// against double-buying before the venue reflects the prior fill.
func (h *Handlers) findPriorBoughtBuy(taskID, conditionID string) (*activity.Activity, error) {
	all, err := h.Activities.ListForTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("handlers: list activities for %s: %w", taskID, err)
	}
	for _, a := range all {
		if a.ConditionID == conditionID && a.Side == activity.SideBuy && a.State == activity.StateDoneOK && a.MyBoughtSize > 0 {
			return a, nil
		}
	}
	return nil, nil
}

// capNotional caps the intended per-BUY notional by available balance
// with a 1% safety buffer.
func capNotional(intended, availableBalance, bufferFrac float64) float64 {
	capped := availableBalance * bufferFrac
	if intended < capped {
		return intended
	}
	return capped
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
