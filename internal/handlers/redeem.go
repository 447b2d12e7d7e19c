package handlers

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// handleRedeem queries settlement for the condition's payout ratio and,
// if settled, redeems our held tokens for collateral.
func (h *Handlers) handleRedeem(ctx context.Context, task *copytask.Task, act *activity.Activity) error {
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

	payout, err := h.Settle.PayoutRatio(ctx, conditionIDBytes(act.ConditionID), act.OutcomeIndex)
	if err != nil {
		return fmt.Errorf("handlers: payout ratio for %s: %w", act.ConditionID, err)
	}
	if !payout.Settled {
		h.skip(act, "market not yet settled")
		return nil
	}

	redeemValue := ownPos.Size * payout.Payout
	realizedPnl := redeemValue - ownPos.Size*ownPos.AvgPrice

	if task.Mode == copytask.ModeMock {
		h.record(&tradeledger.Record{
			TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
			Side: tradeledger.SideRedeem, Size: ownPos.Size, Price: payout.Payout, QuoteAmount: redeemValue,
			RealizedPnl: realizedPnl, Mode: string(copytask.ModeMock),
		})
		if err := h.MockPositions.Delete(task.ID, act.ConditionID, act.Asset); err != nil {
			return fmt.Errorf("handlers: delete position after redeem for %s: %w", act.TxHash, err)
		}
		task.CurrentBalance += redeemValue
		if err := h.Tasks.Update(task); err != nil {
			return fmt.Errorf("handlers: credit balance for %s: %w", task.ID, err)
		}
		h.ok(act)
		return nil
	}

	privKey, err := parsePrivateKey(task.Live.PrivateKey)
	if err != nil {
		h.skip(act, "invalid operator private key")
		return nil
	}

	res, err := h.Settle.RedeemOnChain(ctx, privKey, conditionIDBytes(act.ConditionID))
	if err != nil || !res.Success {
		h.skip(act, "on-chain redemption failed, retry next cycle")
		return nil
	}

	h.record(&tradeledger.Record{
		TaskID: task.ID, TxHash: act.TxHash, ConditionID: act.ConditionID, Asset: act.Asset,
		Side: tradeledger.SideRedeem, Size: ownPos.Size, Price: payout.Payout, QuoteAmount: redeemValue,
		RealizedPnl: realizedPnl, Mode: string(copytask.ModeLive),
	})
	if task.TracksBalance() {
		task.CurrentBalance += redeemValue
		if err := h.Tasks.Update(task); err != nil {
			return fmt.Errorf("handlers: credit balance for %s: %w", task.ID, err)
		}
	}
	h.ok(act)
	return nil
}

// parsePrivateKey accepts a hex-encoded ECDSA private key with or
// without the 0x prefix.
func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}
