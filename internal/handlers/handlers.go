// Package handlers implements the Trade Handlers (C7): BUY, SELL, and
// REDEEM logic for both Mock and Live tasks, including the sell-ratio
// reconstruction algorithm.
package handlers

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/metrics"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/settlement"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// Config carries the protocol minima and guard constants governing
// order sizing and slippage tolerance.
type Config struct {
	MinOrderUSD          float64
	MinOrderTokens       float64
	SlippagePctLimitBuy  float64
	PriceCapBuy          float64
	LiveSlippageGuardAbs float64
	LiveRetryLimit       int
	BalanceSafetyBuffer  float64 // 0.99: never size a Live BUY against the full balance
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinOrderUSD:          1.0,
		MinOrderTokens:       1.0,
		SlippagePctLimitBuy:  5.0,
		PriceCapBuy:          0.99,
		LiveSlippageGuardAbs: 0.05,
		LiveRetryLimit:       3,
		BalanceSafetyBuffer:  0.99,
	}
}

// BookSource retrieves a live order-book snapshot for an asset.
type BookSource interface {
	FetchBook(ctx context.Context, assetID string) (orderbook.Book, error)
}

// LiveOrders submits fill-or-kill market orders to the venue. FOK
// semantics mean a call either fills the requested amount in full or
// returns an error — there is no partial-fill response to parse.
type LiveOrders interface {
	SubmitBuy(ctx context.Context, tokenID string, price, notionalUSDC float64) (filledTokens, spentUSDC float64, err error)
	SubmitSell(ctx context.Context, tokenID string, price, tokens float64) (quoteReceived float64, err error)
}

// BalanceSource reads a Live wallet's current on-chain quote (collateral)
// balance, consulted before every Live BUY sizing decision.
type BalanceSource interface {
	QuoteBalance(ctx context.Context, wallet string) (float64, error)
}

// ErrInsufficientFunds is returned by a LiveOrders implementation when
// the venue rejects an order for insufficient funds or allowance.
var ErrInsufficientFunds = fmt.Errorf("handlers: insufficient funds or allowance")

// Settler is the subset of the Settlement Adapter (C9) the REDEEM
// handler consults.
type Settler interface {
	PayoutRatio(ctx context.Context, conditionID [32]byte, outcomeIndex int) (settlement.PayoutResult, error)
	RedeemOnChain(ctx context.Context, privateKey *ecdsa.PrivateKey, conditionID [32]byte) (settlement.RedeemResult, error)
}

// Handlers wires together every collaborator a trade handler needs.
type Handlers struct {
	Activities    *activity.Store
	MockPositions *position.Ledger
	LivePositions *position.LiveView
	Trades        *tradeledger.Ledger
	Tasks         *copytask.Store
	Books         BookSource
	Live          LiveOrders
	Balances      BalanceSource
	Settle        Settler
	Cfg           Config
}

func conditionIDBytes(conditionID string) [32]byte {
	return common.HexToHash(conditionID)
}

// Handle dispatches one pending activity to its handler, given the
// owning task and the target trader's current position in the same
// asset (nil if the target holds none). It never returns an error for a
// handler-level failure — those are recorded as activity state
// transitions; only I/O failures bubble so the Scheduler can retry the
// tick.
func (h *Handlers) Handle(ctx context.Context, task *copytask.Task, act *activity.Activity, targetPos *position.Position) error {
	act.Claim()
	if err := h.Activities.Update(act); err != nil {
		return fmt.Errorf("handlers: claim %s: %w", act.TxHash, err)
	}

	var err error
	switch act.Side {
	case activity.SideBuy:
		if task.Mode == copytask.ModeLive {
			err = h.handleBuyLive(ctx, task, act)
		} else {
			err = h.handleBuyMock(ctx, task, act)
		}
	case activity.SideSell:
		err = h.handleSell(ctx, task, act, targetPos)
	case activity.SideRedeem:
		err = h.handleRedeem(ctx, task, act)
	default:
		h.skip(act, "unknown activity side")
	}
	return err
}

func (h *Handlers) skip(act *activity.Activity, reason string) {
	act.State = activity.StateDoneSkipped
	metrics.IncHandlerOutcome(string(act.Side), "skipped")
	if err := h.Activities.Update(act); err != nil {
		log.Printf("handlers: persist skip for %s (%s): %v", act.TxHash, reason, err)
	}
}

func (h *Handlers) exhaust(act *activity.Activity) {
	act.State = activity.StateDoneExhaust
	metrics.IncHandlerOutcome(string(act.Side), "exhausted")
	if err := h.Activities.Update(act); err != nil {
		log.Printf("handlers: persist exhaust for %s: %v", act.TxHash, err)
	}
}

func (h *Handlers) ok(act *activity.Activity) {
	act.State = activity.StateDoneOK
	metrics.IncHandlerOutcome(string(act.Side), "ok")
	if err := h.Activities.Update(act); err != nil {
		log.Printf("handlers: persist ok for %s: %v", act.TxHash, err)
	}
}

func (h *Handlers) record(r *tradeledger.Record) {
	h.Trades.AppendBestEffort(r)
}
