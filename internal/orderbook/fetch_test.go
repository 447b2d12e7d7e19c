package orderbook

import "testing"

func TestBestAskBestBid(t *testing.T) {
	book := Book{
		Asks: []Level{{0.45, 10}, {0.40, 20}, {-1, 5}},
		Bids: []Level{{0.30, 10}, {0.35, 20}, {0, 5}},
	}
	price, size, ok := BestAsk(book)
	if !ok || price != 0.40 || size != 20 {
		t.Fatalf("expected best ask 0.40/20, got %v/%v ok=%v", price, size, ok)
	}
	price, size, ok = BestBid(book)
	if !ok || price != 0.35 || size != 20 {
		t.Fatalf("expected best bid 0.35/20, got %v/%v ok=%v", price, size, ok)
	}
}

func TestBestAskEmptyBook(t *testing.T) {
	if _, _, ok := BestAsk(Book{}); ok {
		t.Fatalf("expected no best ask on empty book")
	}
}
