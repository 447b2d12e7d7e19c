package config

import "fmt"

// Validate checks the high-impact runtime configuration constraints,
// returning the first violated constraint.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be > 0, got %s", c.TickInterval)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency must be > 0, got %d", c.WorkerConcurrency)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be > 0, got %s", c.LockTTL)
	}
	if c.LiveRetryLimit <= 0 {
		return fmt.Errorf("live_retry_limit must be > 0, got %d", c.LiveRetryLimit)
	}
	if c.MinOrderUSD < 0 {
		return fmt.Errorf("min_order_usd must be >= 0, got %f", c.MinOrderUSD)
	}
	if c.MinOrderTokens < 0 {
		return fmt.Errorf("min_order_tokens must be >= 0, got %f", c.MinOrderTokens)
	}
	if c.SlippagePctLimitBuy < 0 {
		return fmt.Errorf("slippage_pct_limit_buy must be >= 0, got %f", c.SlippagePctLimitBuy)
	}
	if c.PriceCapBuy <= 0 || c.PriceCapBuy > 1 {
		return fmt.Errorf("price_cap_buy must be within (0,1], got %f", c.PriceCapBuy)
	}
	if c.LiveSlippageGuardAbs < 0 {
		return fmt.Errorf("live_slippage_guard_abs must be >= 0, got %f", c.LiveSlippageGuardAbs)
	}
	if c.ActivityWindowLive <= 0 {
		return fmt.Errorf("activity_window_live must be > 0, got %s", c.ActivityWindowLive)
	}
	if c.ActivityWindowMock <= 0 {
		return fmt.Errorf("activity_window_mock must be > 0, got %s", c.ActivityWindowMock)
	}
	if c.SyncEveryNTicks <= 0 {
		return fmt.Errorf("sync_every_n_ticks must be > 0, got %d", c.SyncEveryNTicks)
	}
	if c.MaxFixedAmountUSD < 0 {
		return fmt.Errorf("max_fixed_amount_usd must be >= 0, got %f", c.MaxFixedAmountUSD)
	}
	if c.AllowLiveTasks {
		if c.SettlementContractAddress == "" {
			return fmt.Errorf("settlement_contract_address required when allow_live_tasks is true")
		}
		if c.CollateralAddress == "" {
			return fmt.Errorf("collateral_address required when allow_live_tasks is true")
		}
	}

	return nil
}
