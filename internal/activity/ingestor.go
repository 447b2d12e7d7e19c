package activity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// rawActivity is the venue's wire shape for one /activity row.
type rawActivity struct {
	TransactionHash string `json:"transactionHash"`
	Timestamp       int64  `json:"timestamp"`
	ConditionID     string `json:"conditionId"`
	Asset           string `json:"asset"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	USDCSize        string `json:"usdcSize"`
	Price           string `json:"price"`
	OutcomeIndex    int    `json:"outcomeIndex"`
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Outcome         string `json:"outcome"`
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Ingestor fetches a target trader's recent activity over HTTP and
// persists new rows, following the venue-call-with-retry shape the
// teacher uses for its data client, but against the raw /activity
// endpoint rather than the opaque SDK data client.
type Ingestor struct {
	http  *resty.Client
	store *Store
}

// NewIngestor constructs an Ingestor against baseURL, with a 10s timeout
// and 3 retries at 1/2/4s backoff on transient network errors.
func NewIngestor(baseURL string, store *Store) *Ingestor {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(4 * time.Second)
	return &Ingestor{http: c, store: store}
}

// Window returns the ingestion window for a task's mode: 1h for Mock,
// 1m for Live.
func Window(mockMode bool) time.Duration {
	if mockMode {
		return time.Hour
	}
	return time.Minute
}

// Fetch pulls targetAddress's recent activity, drops anything older than
// window, and persists each new row, marking duplicate-within-window
// BUYs per the conditionId dedup rule. Returns the newly persisted
// activities, in venue order.
func (ing *Ingestor) Fetch(ctx context.Context, taskID, targetAddress string, window time.Duration) ([]*Activity, error) {
	cutoff := time.Now().Add(-window)

	var rows []rawActivity
	resp, err := ing.http.R().
		SetContext(ctx).
		SetQueryParam("user", targetAddress).
		SetQueryParam("start", strconv.FormatInt(cutoff.Unix(), 10)).
		SetResult(&rows).
		Get("/activity")
	if err != nil {
		return nil, fmt.Errorf("activity: fetch for %s: %w", targetAddress, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("activity: fetch for %s: venue returned %s", targetAddress, resp.Status())
	}

	seenBuyConditions := map[string]bool{}
	var inserted []*Activity

	for _, r := range rows {
		ts := time.Unix(r.Timestamp, 0)
		if ts.Before(cutoff) {
			continue // step 1: drop stale
		}

		exists, err := ing.store.Exists(taskID, r.TransactionHash)
		if err != nil {
			return nil, err
		}
		if exists {
			continue // step 2: already persisted
		}

		a := &Activity{
			TxHash:       r.TransactionHash,
			TaskID:       taskID,
			Timestamp:    ts,
			ConditionID:  r.ConditionID,
			Asset:        r.Asset,
			Side:         Side(r.Side),
			Size:         parseFloat(r.Size),
			Notional:     parseFloat(r.USDCSize),
			Price:        parseFloat(r.Price),
			OutcomeIndex: r.OutcomeIndex,
			Title:        r.Title,
			Slug:         r.Slug,
			OutcomeLabel: r.Outcome,
			State:        StateNew,
		}

		// step 3: duplicate-BUY-within-window sentinel. SELLs are never
		// deduplicated this way — the target may progressively exit a
		// position and every SELL must fire to track it.
		if a.Side == SideBuy {
			if seenBuyConditions[a.ConditionID] {
				a.Bot = true
				a.ExecAttempts = DuplicateSentinel
				a.State = StateDoneSkipped
			} else {
				seenBuyConditions[a.ConditionID] = true
			}
		}

		if err := ing.store.Insert(a); err != nil {
			return nil, err
		}
		inserted = append(inserted, a)
	}

	return inserted, nil
}
