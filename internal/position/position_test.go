package position

import "testing"

func TestApplyBuyFreshPosition(t *testing.T) {
	p := &Position{TaskID: "t1", ConditionID: "C1", Asset: "A"}
	p.ApplyBuy(250, 0.40)
	if p.Size != 250 {
		t.Fatalf("expected size 250, got %v", p.Size)
	}
	if p.AvgPrice != 0.40 {
		t.Fatalf("expected avgPrice 0.40, got %v", p.AvgPrice)
	}
	if p.TotalBought != 100 {
		t.Fatalf("expected totalBought 100, got %v", p.TotalBought)
	}
}

func TestApplyBuyAveragesIn(t *testing.T) {
	p := &Position{Size: 100, AvgPrice: 0.20, TotalBought: 20}
	p.ApplyBuy(100, 0.40)
	if p.Size != 200 {
		t.Fatalf("expected 200, got %v", p.Size)
	}
	// totalBought = 20 + 40 = 60, avgPrice = 60/200 = 0.30
	if p.TotalBought != 60 {
		t.Fatalf("expected totalBought 60, got %v", p.TotalBought)
	}
	if p.AvgPrice != 0.30 {
		t.Fatalf("expected avgPrice 0.30, got %v", p.AvgPrice)
	}
}

func TestApplySellPartial(t *testing.T) {
	// position (size=100, avgPrice=0.30), sell 40 @ 0.50.
	p := &Position{Size: 100, AvgPrice: 0.30, TotalBought: 30}
	pnl := p.ApplySell(40, 0.50)
	if pnl != 8.0 {
		t.Fatalf("expected realizedPnl 8.00, got %v", pnl)
	}
	if p.Size != 60 {
		t.Fatalf("expected size 60, got %v", p.Size)
	}
	if p.TotalBought != 18.0 {
		t.Fatalf("expected totalBought 18.00, got %v", p.TotalBought)
	}
}

func TestResidualThreshold(t *testing.T) {
	p := &Position{Size: 0.005}
	if p.Residual() {
		t.Fatalf("expected residual below 0.01 to report false (deletable)")
	}
	p.Size = 0.02
	if !p.Residual() {
		t.Fatalf("expected residual above 0.01 to report true")
	}
}
