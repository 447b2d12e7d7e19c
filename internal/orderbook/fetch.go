package orderbook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type rawBook struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

// Fetcher retrieves live order-book snapshots from the venue's
// order-book API, using the same resty retry/backoff configuration as
// the Activity Ingestor. BestAsk and BestBid read prices from a fetched
// snapshot; they make no request of their own.
type Fetcher struct {
	http *resty.Client
}

// NewFetcher constructs a book Fetcher against baseURL.
func NewFetcher(baseURL string) *Fetcher {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(4 * time.Second)
	return &Fetcher{http: c}
}

func parseLevels(raw []rawLevel) []Level {
	out := make([]Level, 0, len(raw))
	for _, r := range raw {
		p, _ := strconv.ParseFloat(r.Price, 64)
		s, _ := strconv.ParseFloat(r.Size, 64)
		out = append(out, Level{Price: p, Size: s})
	}
	return out
}

// FetchBook retrieves the current book snapshot for assetID.
func (f *Fetcher) FetchBook(ctx context.Context, assetID string) (Book, error) {
	var raw rawBook
	resp, err := f.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/orderbook/" + assetID)
	if err != nil {
		return Book{}, fmt.Errorf("orderbook: fetch %s: %w", assetID, err)
	}
	if resp.IsError() {
		return Book{}, fmt.Errorf("orderbook: fetch %s: venue returned %s", assetID, resp.Status())
	}
	return Book{Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks)}, nil
}

// BestAsk returns the lowest ask price and its size, or ok=false if the
// book has no asks.
func BestAsk(book Book) (price, size float64, ok bool) {
	asks := validLevels(book.Asks)
	if len(asks) == 0 {
		return 0, 0, false
	}
	best := asks[0]
	for _, l := range asks[1:] {
		if l.Price < best.Price {
			best = l
		}
	}
	return best.Price, best.Size, true
}

// BestBid returns the highest bid price and its size, or ok=false if the
// book has no bids.
func BestBid(book Book) (price, size float64, ok bool) {
	bids := validLevels(book.Bids)
	if len(bids) == 0 {
		return 0, 0, false
	}
	best := bids[0]
	for _, l := range bids[1:] {
		if l.Price > best.Price {
			best = l
		}
	}
	return best.Price, best.Size, true
}
