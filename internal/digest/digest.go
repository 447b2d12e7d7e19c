// Package digest periodically aggregates every task's running state and
// recent fills into a portfolio summary, rendered via
// internal/telegramtmpl and delivered through internal/notify. It
// follows the same background poll-loop shape the copied portfolio
// tracker used for its continuous sync, generalized from one account's
// position snapshot into a fleet-wide rollup across all copy tasks.
package digest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/telegramtmpl"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// Notifier is the subset of *notify.Notifier the digest needs.
type Notifier interface {
	NotifyPortfolioSummaryTemplate(ctx context.Context, textHTML string) error
}

// TaskSource lists tasks to summarize.
type TaskSource interface {
	List(modeFilter copytask.Mode) ([]*copytask.Task, error)
}

// TradeSource reads a task's fill history.
type TradeSource interface {
	All(taskID string) ([]*tradeledger.Record, error)
}

// Scheduler runs a daily digest and a weekly digest on independent
// tickers until ctx is canceled.
type Scheduler struct {
	Tasks    TaskSource
	Trades   TradeSource
	Notifier Notifier

	Daily  time.Duration
	Weekly time.Duration
}

// New constructs a Scheduler with sane default intervals (24h / 7d),
// overridable via the Daily/Weekly fields before Start.
func New(tasks TaskSource, trades TradeSource, notifier Notifier) *Scheduler {
	return &Scheduler{
		Tasks:    tasks,
		Trades:   trades,
		Notifier: notifier,
		Daily:    24 * time.Hour,
		Weekly:   7 * 24 * time.Hour,
	}
}

// Start launches the daily and weekly digest loops in background
// goroutines. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.Daily > 0 {
		go s.loop(ctx, s.Daily, s.sendDaily)
	}
	if s.Weekly > 0 {
		go s.loop(ctx, s.Weekly, s.sendWeekly)
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, send func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx); err != nil {
				log.Printf("digest: %v", err)
			}
		}
	}
}

type rollup struct {
	running, stopped int
	fills            int
	realizedPnl      float64
	topTaskID        string
	topTaskPnl       float64
	lowBalanceTasks  []string
}

func (s *Scheduler) aggregate() (rollup, error) {
	var r rollup
	tasks, err := s.Tasks.List("")
	if err != nil {
		return r, fmt.Errorf("digest: list tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status == copytask.StatusRunning {
			r.running++
		} else {
			r.stopped++
		}
		if t.TracksBalance() && t.CurrentBalance < t.FixedAmount {
			r.lowBalanceTasks = append(r.lowBalanceTasks, t.ID)
		}

		records, err := s.Trades.All(t.ID)
		if err != nil {
			return r, fmt.Errorf("digest: trades for %s: %w", t.ID, err)
		}
		var taskPnl float64
		for _, rec := range records {
			r.fills++
			r.realizedPnl += rec.RealizedPnl
			taskPnl += rec.RealizedPnl
		}
		if taskPnl > r.topTaskPnl || r.topTaskID == "" {
			r.topTaskID = t.ID
			r.topTaskPnl = taskPnl
		}
	}
	return r, nil
}

func (s *Scheduler) sendDaily(ctx context.Context) error {
	r, err := s.aggregate()
	if err != nil {
		return err
	}
	advice := telegramtmpl.PortfolioAdviceInput{
		RunningTasks:         r.running,
		StoppedTasks:         r.stopped,
		Fills:                r.fills,
		TotalRealizedPnLUSDC: r.realizedPnl,
		TopTask:              r.topTaskID,
		LowBalanceTasks:      r.lowBalanceTasks,
	}
	data := telegramtmpl.BuildPortfolioDailyData(
		time.Now().UTC().Format("2006-01-02"),
		r.running, r.stopped, r.fills,
		r.realizedPnl, r.topTaskID,
		telegramtmpl.BuildPortfolioDailyActions(advice),
		telegramtmpl.BuildPortfolioWarnings(advice),
	)
	return s.Notifier.NotifyPortfolioSummaryTemplate(ctx, telegramtmpl.RenderPortfolioDailyHTML(data))
}

func (s *Scheduler) sendWeekly(ctx context.Context) error {
	r, err := s.aggregate()
	if err != nil {
		return err
	}
	highlights, warnings := telegramtmpl.BuildPortfolioWeeklyHighlightsWarnings(telegramtmpl.WeeklyAdviceInput{
		NetRealizedPnLUSDC: r.realizedPnl,
		TopTask:            r.topTaskID,
		TopTaskPnLUSDC:     r.topTaskPnl,
		RunningTasks:       r.running,
	})
	data := telegramtmpl.BuildPortfolioWeeklyData(
		"", 7, r.running, r.realizedPnl, r.fills, highlights, warnings,
	)
	return s.Notifier.NotifyPortfolioSummaryTemplate(ctx, telegramtmpl.RenderPortfolioWeeklyHTML(data))
}
