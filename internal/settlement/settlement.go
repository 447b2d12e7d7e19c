// Package settlement implements the Settlement Adapter (C9): reading
// payout ratios from the venue's conditional-tokens contract and
// executing on-chain redemption for Live tasks.
//
// No complete ABI-bound contract client survives in the retrieval pack
// this repo was built from, so this package talks to go-ethereum's
// ethclient/accounts/abi/bind directly — the same packages the rest of
// the pack imports for on-chain interaction.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

func ethereumCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// conditionalTokensABI covers only the four methods the core consults:
// payoutDenominator, payoutNumerators, getOutcomeSlotCount,
// redeemPositions.
const conditionalTokensABI = `[
	{"constant":true,"inputs":[{"name":"conditionId","type":"bytes32"}],"name":"payoutDenominator","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"conditionId","type":"bytes32"},{"name":"index","type":"uint256"}],"name":"payoutNumerators","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"conditionId","type":"bytes32"}],"name":"getOutcomeSlotCount","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"type":"function"}
]`

// RedeemGasLimit is the fixed gas limit submitted with every redemption.
const RedeemGasLimit = uint64(500_000)

// PayoutResult is the outcome of a payoutRatio lookup.
type PayoutResult struct {
	Settled bool
	Payout  float64
}

// RedeemResult is the outcome of an on-chain redemption attempt.
type RedeemResult struct {
	Success bool
	TxHash  string
	GasUsed uint64
}

// Adapter talks to the settlement (conditional-tokens) contract over an
// Ethereum-compatible RPC endpoint.
type Adapter struct {
	client             *ethclient.Client
	abi                abi.ABI
	contractAddress    common.Address
	collateralAddress  common.Address
	chainID            *big.Int
}

// New dials rpcURL and prepares the settlement contract binding.
func New(ctx context.Context, rpcURL string, contractAddress, collateralAddress common.Address, chainID *big.Int) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("settlement: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(conditionalTokensABI))
	if err != nil {
		return nil, fmt.Errorf("settlement: parse abi: %w", err)
	}
	return &Adapter{
		client:            client,
		abi:               parsed,
		contractAddress:   contractAddress,
		collateralAddress: collateralAddress,
		chainID:           chainID,
	}, nil
}

func (a *Adapter) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	data, err := a.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("settlement: pack %s: %w", method, err)
	}
	result, err := a.client.CallContract(ctx, ethereumCallMsg(a.contractAddress, data), nil)
	if err != nil {
		return fmt.Errorf("settlement: call %s: %w", method, err)
	}
	if err := a.abi.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("settlement: unpack %s: %w", method, err)
	}
	return nil
}

// PayoutRatio reads the settlement state for (conditionId, outcomeIndex).
// settled is true iff the denominator is non-zero; payout is
// numerator/denominator. outcomeIndex is validated against
// getOutcomeSlotCount.
func (a *Adapter) PayoutRatio(ctx context.Context, conditionID [32]byte, outcomeIndex int) (PayoutResult, error) {
	var slotCount *big.Int
	if err := a.call(ctx, "getOutcomeSlotCount", &slotCount, conditionID); err != nil {
		return PayoutResult{}, err
	}
	if outcomeIndex < 0 || int64(outcomeIndex) >= slotCount.Int64() {
		return PayoutResult{}, fmt.Errorf("settlement: outcomeIndex %d out of range [0,%d)", outcomeIndex, slotCount.Int64())
	}

	var denominator *big.Int
	if err := a.call(ctx, "payoutDenominator", &denominator, conditionID); err != nil {
		return PayoutResult{}, err
	}
	if denominator.Sign() == 0 {
		return PayoutResult{Settled: false}, nil
	}

	var numerator *big.Int
	if err := a.call(ctx, "payoutNumerators", &numerator, conditionID, big.NewInt(int64(outcomeIndex))); err != nil {
		return PayoutResult{}, err
	}

	num, _ := new(big.Float).SetInt(numerator).Float64()
	den, _ := new(big.Float).SetInt(denominator).Float64()
	return PayoutResult{Settled: true, Payout: num / den}, nil
}

// RedeemOnChain submits redeemPositions for every outcome slot of
// conditionId, fee-bumped to 120% of the network-suggested gas price,
// with a fixed 500,000 gas limit, and waits for the receipt.
func (a *Adapter) RedeemOnChain(ctx context.Context, privateKey *ecdsa.PrivateKey, conditionID [32]byte) (RedeemResult, error) {
	var slotCount *big.Int
	if err := a.call(ctx, "getOutcomeSlotCount", &slotCount, conditionID); err != nil {
		return RedeemResult{}, err
	}
	indexSets := buildIndexSets(slotCount.Int64())

	var zeroParent [32]byte
	data, err := a.abi.Pack("redeemPositions", a.collateralAddress, zeroParent, conditionID, indexSets)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: pack redeemPositions: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, a.chainID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: build transactor: %w", err)
	}

	suggested, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: suggest gas price: %w", err)
	}
	bumped := bumpGasPrice(suggested)

	from := auth.From
	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.contractAddress,
		Value:    big.NewInt(0),
		Gas:      RedeemGasLimit,
		GasPrice: bumped,
		Data:     data,
	})

	signedTx, err := auth.Signer(from, tx)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: sign tx: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return RedeemResult{}, fmt.Errorf("settlement: send tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, a.client, signedTx)
	if err != nil {
		return RedeemResult{Success: false, TxHash: signedTx.Hash().Hex()}, fmt.Errorf("settlement: wait mined: %w", err)
	}

	return RedeemResult{
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
	}, nil
}

// bumpGasPrice applies the 120% fee bump required for redemption.
func bumpGasPrice(suggested *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(suggested, big.NewInt(120)), big.NewInt(100))
}

// buildIndexSets returns [1<<0, 1<<1, ..., 1<<(n-1)] for redeemPositions.
func buildIndexSets(n int64) []*big.Int {
	out := make([]*big.Int, n)
	for i := int64(0); i < n; i++ {
		out[i] = new(big.Int).Lsh(big.NewInt(1), uint(i))
	}
	return out
}
