// Package telegramtmpl renders the Telegram HTML bodies for the periodic
// portfolio summaries internal/notify sends, building plain strings
// with strings.Builder rather than text/template.
package telegramtmpl

import (
	"fmt"
	"strings"
)

// PortfolioDailyData describes the data required to render a daily
// portfolio summary message.
type PortfolioDailyData struct {
	Date                 string
	RunningTasks         int
	StoppedTasks         int
	Fills                int
	TotalRealizedPnLUSDC float64
	TopTask              string
	Actions              []string
	Warnings             []string
}

// PortfolioWeeklyData describes the data required to render a weekly
// portfolio review message.
type PortfolioWeeklyData struct {
	WindowLabel          string
	WindowDays           int
	RunningTasks         int
	TotalRealizedPnLUSDC float64
	Fills                int
	Highlights           []string
	Warnings             []string
}

// BuildPortfolioDailyData normalizes daily template inputs into a
// renderable payload.
func BuildPortfolioDailyData(
	date string,
	runningTasks, stoppedTasks, fills int,
	totalRealizedPnLUSDC float64,
	topTask string,
	actions []string,
	warnings []string,
) PortfolioDailyData {
	if len(actions) > 3 {
		actions = actions[:3]
	}
	return PortfolioDailyData{
		Date:                 strings.TrimSpace(date),
		RunningTasks:         runningTasks,
		StoppedTasks:         stoppedTasks,
		Fills:                fills,
		TotalRealizedPnLUSDC: totalRealizedPnLUSDC,
		TopTask:              strings.TrimSpace(topTask),
		Actions:              actions,
		Warnings:             warnings,
	}
}

// BuildPortfolioWeeklyData normalizes weekly template inputs into a
// renderable payload.
func BuildPortfolioWeeklyData(
	windowLabel string,
	windowDays, runningTasks int,
	totalRealizedPnLUSDC float64,
	fills int,
	highlights []string,
	warnings []string,
) PortfolioWeeklyData {
	label := strings.TrimSpace(windowLabel)
	if label == "" && windowDays > 0 {
		label = fmt.Sprintf("%dd", windowDays)
	}
	return PortfolioWeeklyData{
		WindowLabel:          label,
		WindowDays:           windowDays,
		RunningTasks:         runningTasks,
		TotalRealizedPnLUSDC: totalRealizedPnLUSDC,
		Fills:                fills,
		Highlights:           highlights,
		Warnings:             warnings,
	}
}

// RenderPortfolioDailyHTML renders a daily portfolio summary in HTML
// parse mode.
func RenderPortfolioDailyHTML(d PortfolioDailyData) string {
	var b strings.Builder
	b.WriteString("<b>Daily Portfolio Summary</b>\n")
	if d.Date != "" {
		b.WriteString(fmt.Sprintf("Date: %s\n", d.Date))
	}
	b.WriteString(fmt.Sprintf("Running Tasks: %d\nStopped Tasks: %d\n", d.RunningTasks, d.StoppedTasks))
	b.WriteString(fmt.Sprintf("Realized PnL: %.2f USDC\nFills: %d\n", d.TotalRealizedPnLUSDC, d.Fills))
	if d.TopTask != "" {
		b.WriteString(fmt.Sprintf("Top Task: %s\n", d.TopTask))
	}
	if len(d.Actions) > 0 {
		b.WriteString("\n<b>Actions</b>\n")
		for _, a := range d.Actions {
			b.WriteString("- " + a + "\n")
		}
	}
	if len(d.Warnings) > 0 {
		b.WriteString("\n<b>Warnings</b>\n")
		for _, w := range d.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// RenderPortfolioWeeklyHTML renders a weekly portfolio review in HTML
// parse mode.
func RenderPortfolioWeeklyHTML(w PortfolioWeeklyData) string {
	var b strings.Builder
	b.WriteString("<b>Weekly Portfolio Review</b>\n")
	if w.WindowDays > 0 {
		b.WriteString(fmt.Sprintf("Window: %s (%d days)\n", w.WindowLabel, w.WindowDays))
	} else {
		b.WriteString(fmt.Sprintf("Window: %s\n", w.WindowLabel))
	}
	b.WriteString(fmt.Sprintf("Running Tasks: %d\n", w.RunningTasks))
	b.WriteString(fmt.Sprintf("Realized PnL: %.2f USDC\nFills: %d\n", w.TotalRealizedPnLUSDC, w.Fills))
	if len(w.Highlights) > 0 {
		b.WriteString("\n<b>Highlights</b>\n")
		for _, h := range w.Highlights {
			b.WriteString("- " + h + "\n")
		}
	}
	if len(w.Warnings) > 0 {
		b.WriteString("\n<b>Warnings</b>\n")
		for _, warn := range w.Warnings {
			b.WriteString("- " + warn + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
