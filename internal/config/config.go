package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine's tunable runtime knobs, plus the usual
// connection settings (private key / API credentials, data-store path,
// RPC URL, Telegram bot token/chat id).
type Config struct {
	PrivateKey    string `yaml:"private_key"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	APIPassphrase string `yaml:"api_passphrase"`
	LogLevel      string `yaml:"log_level"`

	DataDir     string `yaml:"data_dir"`
	RPCURL      string `yaml:"rpc_url"`
	DataBaseURL string `yaml:"data_base_url"` // venue /activity, /positions
	CLOBBaseURL string `yaml:"clob_base_url"` // venue /orderbook, /price, /time

	TickInterval         time.Duration `yaml:"tick_interval"`
	WorkerConcurrency    int           `yaml:"worker_concurrency"`
	LockTTL              time.Duration `yaml:"lock_ttl"`
	LiveRetryLimit       int           `yaml:"live_retry_limit"`
	MinOrderUSD          float64       `yaml:"min_order_usd"`
	MinOrderTokens       float64       `yaml:"min_order_tokens"`
	SlippagePctLimitBuy  float64       `yaml:"slippage_pct_limit_buy"`
	PriceCapBuy          float64       `yaml:"price_cap_buy"`
	LiveSlippageGuardAbs float64       `yaml:"live_slippage_guard_abs"`
	ActivityWindowLive   time.Duration `yaml:"activity_window_live"`
	ActivityWindowMock   time.Duration `yaml:"activity_window_mock"`
	SyncEveryNTicks      int           `yaml:"sync_every_n_ticks"`

	SettlementContractAddress string `yaml:"settlement_contract_address"`
	CollateralAddress         string `yaml:"collateral_address"`

	// AllowLiveTasks and MaxFixedAmountUSD are staged-rollout caps a
	// commands.Dispatcher consults before admitting a Mode=live addTask.
	// They are the only admission checks on fixedAmount: the wallet
	// balance is not compared against fixedAmount when a task is added.
	// See ApplyRolloutPhase.
	AllowLiveTasks    bool    `yaml:"allow_live_tasks"`
	MaxFixedAmountUSD float64 `yaml:"max_fixed_amount_usd"`

	Telegram TelegramConfig `yaml:"telegram"`
	API      APIConfig      `yaml:"api"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the documented baseline configuration.
func Default() Config {
	return Config{
		LogLevel: "info",

		DataDir:     "./data",
		DataBaseURL: "https://data-api.polymarket.com",
		CLOBBaseURL: "https://clob.polymarket.com",

		TickInterval:         5 * time.Second,
		WorkerConcurrency:    5,
		LockTTL:              10 * time.Minute,
		LiveRetryLimit:       3,
		MinOrderUSD:          1.0,
		MinOrderTokens:       1.0,
		SlippagePctLimitBuy:  5.0,
		PriceCapBuy:          0.99,
		LiveSlippageGuardAbs: 0.05,
		ActivityWindowLive:   60 * time.Second,
		ActivityWindowMock:   3600 * time.Second,
		SyncEveryNTicks:      30,

		AllowLiveTasks: false,

		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// LoadFile reads a YAML config file, starting from Default and
// overwriting only the fields present in the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides credential and low-frequency fields from the
// process environment using plain os.Getenv — no third-party
// env-binding library.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("POLYMARKET_PK"); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv("POLYMARKET_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("POLYMARKET_API_SECRET"); v != "" {
		c.APISecret = v
	}
	if v := os.Getenv("POLYMARKET_API_PASSPHRASE"); v != "" {
		c.APIPassphrase = v
	}
	if v := os.Getenv("POLYMARKET_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("COPYTRADER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("COPYTRADER_SETTLEMENT_CONTRACT"); v != "" {
		c.SettlementContractAddress = v
	}
	if v := os.Getenv("COPYTRADER_COLLATERAL_ADDRESS"); v != "" {
		c.CollateralAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("COPYTRADER_ALLOW_LIVE_TASKS")); v != "" {
		c.AllowLiveTasks = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}
