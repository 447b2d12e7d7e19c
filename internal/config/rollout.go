package config

import (
	"fmt"
	"strings"
)

// ApplyRolloutPhase applies a staged caution preset to the Live-task
// admission caps a commands.Dispatcher consults, mirroring the
// teacher's staged trading_mode rollout (paper -> shadow -> live-small
// -> live) but gating how large a Live task's fixedAmount may be rather
// than a single global trading mode, since this engine's mode is chosen
// per task at addTask time, not process-wide. Supported phases:
//   - paper:      no Live tasks admitted at all
//   - shadow:     Live tasks admitted, capped at $1 fixedAmount
//   - live-small: Live tasks admitted, capped at $5 fixedAmount
//   - live:       Live tasks admitted, uncapped
func ApplyRolloutPhase(cfg *Config, phase string) error {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return nil
	}

	switch p {
	case "paper":
		cfg.AllowLiveTasks = false
	case "shadow", "live-dryrun", "live-dry-run":
		cfg.AllowLiveTasks = true
		cfg.MaxFixedAmountUSD = 1
	case "live-small", "small":
		cfg.AllowLiveTasks = true
		clampMaxFloat(&cfg.MaxFixedAmountUSD, 5)
	case "live":
		cfg.AllowLiveTasks = true
		cfg.MaxFixedAmountUSD = 0 // uncapped
	default:
		return fmt.Errorf("unknown rollout phase %q (supported: paper|shadow|live-small|live)", phase)
	}

	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}
