// Package position implements the Position Ledger (C5): a persistent
// Mock position set per task, and a read-through Live snapshot sourced
// from the venue.
package position

// Position is keyed by (taskId, asset, conditionId). Mock positions are
// authoritative and persisted; Live positions are a read-through
// snapshot from the venue (see LiveView in live.go).
type Position struct {
	TaskID       string  `json:"taskId"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	TotalBought  float64 `json:"totalBought"`
	CurrentValue float64 `json:"currentValue"`
	RealizedPnl  float64 `json:"realizedPnl"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
}

// ApplyBuy folds a BUY fill into the position: a fresh fill
// average-prices into any existing cost basis.
func (p *Position) ApplyBuy(fillSize, fillPrice float64) {
	newTotalBought := p.TotalBought + fillSize*fillPrice
	newSize := p.Size + fillSize
	p.TotalBought = newTotalBought
	p.Size = newSize
	if newSize > 0 {
		p.AvgPrice = newTotalBought / newSize
	}
}

// ApplySell decrements the position by soldTokens at the position's
// current avgPrice, returning the realized PnL on this slice. The
// position is left with residual size/totalBought; callers delete the
// position once size drops to (near) zero.
func (p *Position) ApplySell(soldTokens, fillPrice float64) (realizedPnl float64) {
	realizedPnl = soldTokens*fillPrice - soldTokens*p.AvgPrice
	p.Size -= soldTokens
	p.TotalBought -= soldTokens * p.AvgPrice
	p.RealizedPnl += realizedPnl
	if p.Size < 0 {
		p.Size = 0
	}
	if p.TotalBought < 0 {
		p.TotalBought = 0
	}
	return realizedPnl
}

// Residual reports whether the position still holds a size worth
// keeping (size > 0.01); callers delete it when this is false.
func (p *Position) Residual() bool {
	return p.Size > 0.01
}
