package position

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// rawPosition is the venue's /positions wire shape.
type rawPosition struct {
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	CurrentValue float64 `json:"currentValue"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
}

// LiveView delegates position reads to the venue's /positions endpoint.
// It is read-only: Live positions are owned by the venue, not by this
// process. Callers must treat results as eventually consistent — a
// just-submitted order may not show up for several seconds.
type LiveView struct {
	http *resty.Client
}

// NewLiveView constructs a Live position reader against baseURL.
func NewLiveView(baseURL string) *LiveView {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(4 * time.Second)
	return &LiveView{http: c}
}

// Find returns the venue's current position snapshot for an address.
func (v *LiveView) Find(ctx context.Context, address string) ([]*Position, error) {
	var rows []rawPosition
	resp, err := v.http.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetQueryParam("redeemable", "false").
		SetQueryParam("limit", "500").
		SetResult(&rows).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("position: live fetch for %s: %w", address, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("position: live fetch for %s: venue returned %s", address, resp.Status())
	}

	out := make([]*Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Position{
			Asset:        r.Asset,
			ConditionID:  r.ConditionID,
			OutcomeIndex: r.OutcomeIndex,
			Size:         r.Size,
			AvgPrice:     r.AvgPrice,
			CurPrice:     r.CurPrice,
			CurrentValue: r.CurrentValue,
			Title:        r.Title,
			Slug:         r.Slug,
		})
	}
	return out, nil
}

// FindOne returns a single venue position by asset, or nil if the venue
// does not currently report a position for it.
func (v *LiveView) FindOne(ctx context.Context, address, asset string) (*Position, error) {
	all, err := v.Find(ctx, address)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Asset == asset {
			return p, nil
		}
	}
	return nil, nil
}
