// Package orderbook implements the Order-Book Simulator (C6): given a
// depth snapshot, it walks levels to compute a weighted fill price,
// slippage, and partial fills, extending a top-of-book-only fill model
// into a full depth walk.
package orderbook

import "sort"

// Level is one price/size rung of a book side.
type Level struct {
	Price float64
	Size  float64
}

// Book is a depth snapshot for one asset.
type Book struct {
	Bids []Level
	Asks []Level
}

// Result is the outcome of walking the book for an order.
type Result struct {
	Success     bool
	FillPrice   float64
	FillSize    float64
	QuoteAmount float64
	SlippagePct float64
	Reason      string
}

func validLevels(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Price > 0 && l.Size > 0 {
			out = append(out, l)
		}
	}
	return out
}

// SimulateBuy walks asks ascending by price, spending up to notional
// quote units, and fails if the weighted fill price slippage against
// targetPrice exceeds slippageLimitPct (default 5%).
func SimulateBuy(book Book, notional, targetPrice, slippageLimitPct float64) Result {
	asks := validLevels(book.Asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	remaining := notional
	var totalTokens, totalQuote float64

	for _, lvl := range asks {
		if remaining <= 0 {
			break
		}
		levelQuote := lvl.Size * lvl.Price
		spend := remaining
		if levelQuote < spend {
			spend = levelQuote
		}
		tokens := spend / lvl.Price
		totalTokens += tokens
		totalQuote += spend
		remaining -= spend
	}

	if totalTokens <= 0 {
		return Result{Success: false, Reason: "no liquidity"}
	}

	fillPrice := totalQuote / totalTokens
	slippagePct := (fillPrice - targetPrice) / targetPrice * 100

	if abs(slippagePct) > slippageLimitPct {
		return Result{
			Success:     false,
			FillPrice:   fillPrice,
			FillSize:    totalTokens,
			QuoteAmount: totalQuote,
			SlippagePct: slippagePct,
			Reason:      "slippage too high",
		}
	}

	return Result{
		Success:     true,
		FillPrice:   fillPrice,
		FillSize:    totalTokens,
		QuoteAmount: totalQuote,
		SlippagePct: slippagePct,
	}
}

// SimulateSell walks bids descending by price, liquidating up to
// tokenAmount tokens. SELL enforces no slippage ceiling — liquidation
// must proceed even at adverse prices.
func SimulateSell(book Book, tokenAmount, targetPrice float64) Result {
	bids := validLevels(book.Bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	remaining := tokenAmount
	var totalTokens, totalQuote float64

	for _, lvl := range bids {
		if remaining <= 0 {
			break
		}
		size := remaining
		if lvl.Size < size {
			size = lvl.Size
		}
		totalTokens += size
		totalQuote += size * lvl.Price
		remaining -= size
	}

	if totalTokens <= 0 {
		return Result{Success: false, Reason: "no liquidity"}
	}

	fillPrice := totalQuote / totalTokens
	slippagePct := (fillPrice - targetPrice) / targetPrice * 100

	return Result{
		Success:     true,
		FillPrice:   fillPrice,
		FillSize:    totalTokens,
		QuoteAmount: totalQuote,
		SlippagePct: slippagePct,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
