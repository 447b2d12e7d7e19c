package telegramtmpl

import (
	"fmt"
	"strings"
)

// PortfolioAdviceInput describes the inputs for generating daily
// portfolio actions and warnings.
type PortfolioAdviceInput struct {
	RunningTasks         int
	StoppedTasks         int
	Fills                int
	TotalRealizedPnLUSDC float64
	TopTask              string
	LowBalanceTasks      []string
	StaleLockTasks       []string
}

// WeeklyAdviceInput describes the inputs for generating a weekly
// portfolio review's highlights and warnings.
type WeeklyAdviceInput struct {
	NetRealizedPnLUSDC    float64
	TopTask               string
	TopTaskPnLUSDC        float64
	ReconcileForcedCloses int
	ExhaustedActivities   int
	RunningTasks          int
}

// BuildPortfolioDailyActions generates prioritized daily actions shared
// by the API and notification paths.
func BuildPortfolioDailyActions(in PortfolioAdviceInput) []string {
	actions := make([]string, 0, 5)
	if in.StoppedTasks > 0 {
		actions = append(actions, fmt.Sprintf("Review %d stopped task(s) for restart.", in.StoppedTasks))
	}
	if in.TotalRealizedPnLUSDC <= 0 {
		actions = append(actions, "Realized PnL is flat or negative: review target selection.")
	}
	if len(in.LowBalanceTasks) > 0 {
		actions = append(actions, fmt.Sprintf("%d task(s) below minimum order size: top up balance or stop.", len(in.LowBalanceTasks)))
	}
	if strings.TrimSpace(in.TopTask) != "" {
		actions = append(actions, fmt.Sprintf("Strongest task this period: %s.", in.TopTask))
	}
	if len(actions) == 0 {
		actions = append(actions, "No action needed: all tasks running within normal bounds.")
	}
	if len(actions) > 3 {
		actions = actions[:3]
	}
	return actions
}

// BuildPortfolioWarnings generates operational warnings shared by the
// API and notification paths.
func BuildPortfolioWarnings(in PortfolioAdviceInput) []string {
	warnings := make([]string, 0, 4)
	if len(in.StaleLockTasks) > 0 {
		warnings = append(warnings, "Lock contention on: "+strings.Join(in.StaleLockTasks, ", "))
	}
	if len(in.LowBalanceTasks) > 0 {
		warnings = append(warnings, "Low balance on: "+strings.Join(in.LowBalanceTasks, ", "))
	}
	if in.StoppedTasks > 0 {
		warnings = append(warnings, fmt.Sprintf("%d task(s) currently stopped.", in.StoppedTasks))
	}
	return warnings
}

// BuildPortfolioWeeklyHighlightsWarnings generates a weekly review's
// highlights and warnings.
func BuildPortfolioWeeklyHighlightsWarnings(in WeeklyAdviceInput) (highlights []string, warnings []string) {
	highlights = make([]string, 0, 3)
	warnings = make([]string, 0, 4)

	if in.NetRealizedPnLUSDC > 0 {
		highlights = append(highlights, fmt.Sprintf("Net realized PnL remains positive at %.2f USDC.", in.NetRealizedPnLUSDC))
	} else {
		warnings = append(warnings, fmt.Sprintf("Net realized PnL is non-positive at %.2f USDC.", in.NetRealizedPnLUSDC))
	}
	if strings.TrimSpace(in.TopTask) != "" {
		if in.TopTaskPnLUSDC > 0 {
			highlights = append(highlights, fmt.Sprintf("Top task this period: %s (+%.2f USDC).", in.TopTask, in.TopTaskPnLUSDC))
		} else {
			highlights = append(highlights, fmt.Sprintf("Most active task: %s.", in.TopTask))
		}
	}
	if in.ReconcileForcedCloses > 0 {
		warnings = append(warnings, fmt.Sprintf("%d position(s) were force-closed by reconciliation this period.", in.ReconcileForcedCloses))
	}
	if in.ExhaustedActivities > 0 {
		warnings = append(warnings, fmt.Sprintf("%d activity(ies) exhausted their retry budget without filling.", in.ExhaustedActivities))
	}
	if in.RunningTasks == 0 {
		warnings = append(warnings, "No tasks are currently running.")
	}
	return highlights, warnings
}
