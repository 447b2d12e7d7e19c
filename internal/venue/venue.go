// Package venue adapts the Polymarket CLOB SDK and a direct ERC20
// balanceOf read into the handlers.LiveOrders, handlers.BalanceSource,
// and copytask.AddressDeriver collaborators a Live task needs, the same
// pattern cmd/trader's signer/CLOB-client wiring and internal/settlement's
// direct go-ethereum contract calls use.
package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// ChainID is Polygon mainnet, the only network the venue runs on.
var ChainID = big.NewInt(137)

// DeriveAddress returns the checksummed address controlled by a hex
// private key. Passed to copytask.New as its AddressDeriver, enforcing
// "derivedAddress == operatorWallet" on every Live task creation.
func DeriveAddress(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("venue: parse private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// NewSignerAndClient builds the CLOB client and signer a Live order
// submitter needs from raw credentials.
func NewSignerAndClient(privateKeyHex, apiKey, apiSecret, apiPassphrase string) (clob.Client, auth.Signer, error) {
	signer, err := auth.NewPrivateKeySigner(strings.TrimSpace(privateKeyHex), ChainID.Int64())
	if err != nil {
		return nil, nil, fmt.Errorf("venue: build signer: %w", err)
	}
	creds := &auth.APIKey{
		Key:        strings.TrimSpace(apiKey),
		Secret:     strings.TrimSpace(apiSecret),
		Passphrase: strings.TrimSpace(apiPassphrase),
	}
	sdkClient := polymarket.NewClient()
	return sdkClient.CLOB.WithAuth(signer, creds), signer, nil
}

// Orders submits fill-or-kill market orders through the CLOB client.
// FOK orders either fill in full at the time of submission or are
// rejected outright, so the requested notional/size (priced at the
// caller's already-simulated fill price) is reported back as filled —
// there is no partial-fill response to reconcile against.
type Orders struct {
	client clob.Client
	signer auth.Signer
}

// NewOrders constructs a Live order submitter.
func NewOrders(client clob.Client, signer auth.Signer) *Orders {
	return &Orders{client: client, signer: signer}
}

// SubmitBuy submits a FOK BUY for notionalUSDC at the venue's best
// available price.
func (o *Orders) SubmitBuy(ctx context.Context, tokenID string, price, notionalUSDC float64) (filledTokens, spentUSDC float64, err error) {
	if _, err := o.submitMarket(ctx, tokenID, "BUY", notionalUSDC); err != nil {
		return 0, 0, err
	}
	if price <= 0 {
		return 0, 0, fmt.Errorf("venue: non-positive fill price for %s", tokenID)
	}
	return notionalUSDC / price, notionalUSDC, nil
}

// SubmitSell submits a FOK SELL for tokens at the venue's best available
// price.
func (o *Orders) SubmitSell(ctx context.Context, tokenID string, price, tokens float64) (quoteReceived float64, err error) {
	if _, err := o.submitMarket(ctx, tokenID, "SELL", tokens); err != nil {
		return 0, err
	}
	return tokens * price, nil
}

func (o *Orders) submitMarket(ctx context.Context, tokenID, side string, amount float64) (clobtypes.OrderResponse, error) {
	builder := clob.NewOrderBuilder(o.client, o.signer).
		TokenID(tokenID).
		Side(side).
		AmountUSDC(amount).
		OrderType(clobtypes.OrderTypeFOK)

	signable, err := builder.BuildMarketWithContext(ctx)
	if err != nil {
		return clobtypes.OrderResponse{}, fmt.Errorf("venue: build market %s %s: %w", side, tokenID, err)
	}
	resp, err := o.client.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return clobtypes.OrderResponse{}, fmt.Errorf("venue: submit market %s %s: %w", side, tokenID, err)
	}
	if resp.ID == "" {
		return clobtypes.OrderResponse{}, fmt.Errorf("venue: market %s %s rejected (FOK not filled)", side, tokenID)
	}
	return resp, nil
}

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`

// CollateralBalance reads a wallet's ERC20 collateral (USDC.e) balance
// directly from the chain, the same bare ethclient.CallContract idiom
// internal/settlement uses for the conditional-tokens contract.
type CollateralBalance struct {
	client            *ethclient.Client
	abi               abi.ABI
	collateralAddress common.Address
	decimals          int32
}

// NewCollateralBalance dials rpcURL and caches the collateral token's
// decimals for USDC-denominated conversions.
func NewCollateralBalance(ctx context.Context, rpcURL string, collateralAddress common.Address) (*CollateralBalance, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("venue: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("venue: parse erc20 abi: %w", err)
	}
	cb := &CollateralBalance{client: client, abi: parsed, collateralAddress: collateralAddress, decimals: 6}

	var dec uint8
	data, err := cb.abi.Pack("decimals")
	if err == nil {
		if result, callErr := client.CallContract(ctx, ethereum.CallMsg{To: &collateralAddress, Data: data}, nil); callErr == nil {
			if unpackErr := cb.abi.UnpackIntoInterface(&dec, "decimals", result); unpackErr == nil {
				cb.decimals = int32(dec)
			}
		}
	}
	return cb, nil
}

// QuoteBalance returns wallet's collateral balance in whole USDC units,
// converted from the contract's raw integer units via shopspring/decimal
// so the division never loses precision to float64 rounding the way
// big.Float/float64 would.
func (cb *CollateralBalance) QuoteBalance(ctx context.Context, wallet string) (float64, error) {
	owner := common.HexToAddress(wallet)
	data, err := cb.abi.Pack("balanceOf", owner)
	if err != nil {
		return 0, fmt.Errorf("venue: pack balanceOf: %w", err)
	}
	result, err := cb.client.CallContract(ctx, ethereum.CallMsg{To: &cb.collateralAddress, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("venue: call balanceOf: %w", err)
	}
	var raw *big.Int
	if err := cb.abi.UnpackIntoInterface(&raw, "balanceOf", result); err != nil {
		return 0, fmt.Errorf("venue: unpack balanceOf: %w", err)
	}
	amount := decimal.NewFromBigInt(raw, 0).Shift(-cb.decimals)
	f, _ := amount.Float64()
	return f, nil
}
