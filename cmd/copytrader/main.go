package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polytrace/copytrader/internal/activity"
	"github.com/polytrace/copytrader/internal/api"
	"github.com/polytrace/copytrader/internal/commands"
	"github.com/polytrace/copytrader/internal/config"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/digest"
	"github.com/polytrace/copytrader/internal/engine"
	"github.com/polytrace/copytrader/internal/handlers"
	"github.com/polytrace/copytrader/internal/notify"
	"github.com/polytrace/copytrader/internal/orderbook"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/reconcile"
	"github.com/polytrace/copytrader/internal/scheduler"
	"github.com/polytrace/copytrader/internal/settlement"
	"github.com/polytrace/copytrader/internal/store"
	"github.com/polytrace/copytrader/internal/tasklock"
	"github.com/polytrace/copytrader/internal/tradeledger"
	"github.com/polytrace/copytrader/internal/venue"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("copytrader starting (allow_live_tasks=%t)", cfg.AllowLiveTasks)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	activities := activity.New(db)
	mockPositions := position.NewLedger(db)
	livePositions := position.NewLiveView(cfg.DataBaseURL)
	trades := tradeledger.New(db)
	lock := tasklock.New(db)
	books := orderbook.NewFetcher(cfg.CLOBBaseURL)
	ingestor := activity.NewIngestor(cfg.DataBaseURL, activities)

	var liveOrders *venue.Orders
	var balances *venue.CollateralBalance
	if cfg.PrivateKey != "" && cfg.RPCURL != "" {
		clobClient, signer, err := venue.NewSignerAndClient(cfg.PrivateKey, cfg.APIKey, cfg.APISecret, cfg.APIPassphrase)
		if err != nil {
			log.Fatalf("venue: signer: %v", err)
		}
		liveOrders = venue.NewOrders(clobClient, signer)

		if cfg.CollateralAddress != "" {
			balances, err = venue.NewCollateralBalance(ctx, cfg.RPCURL, common.HexToAddress(cfg.CollateralAddress))
			if err != nil {
				log.Fatalf("venue: collateral balance: %v", err)
			}
		}
	}

	var settler *settlement.Adapter
	if cfg.RPCURL != "" && cfg.SettlementContractAddress != "" && cfg.CollateralAddress != "" {
		settler, err = settlement.New(ctx, cfg.RPCURL,
			common.HexToAddress(cfg.SettlementContractAddress),
			common.HexToAddress(cfg.CollateralAddress),
			venue.ChainID)
		if err != nil {
			log.Fatalf("settlement: %v", err)
		}
	}

	h := &handlers.Handlers{
		Activities:    activities,
		MockPositions: mockPositions,
		LivePositions: livePositions,
		Trades:        trades,
		Books:         books,
		Cfg: handlers.Config{
			MinOrderUSD:          cfg.MinOrderUSD,
			MinOrderTokens:       cfg.MinOrderTokens,
			SlippagePctLimitBuy:  cfg.SlippagePctLimitBuy,
			PriceCapBuy:          cfg.PriceCapBuy,
			LiveSlippageGuardAbs: cfg.LiveSlippageGuardAbs,
			LiveRetryLimit:       cfg.LiveRetryLimit,
			BalanceSafetyBuffer:  0.99,
		},
	}
	// liveOrders/balances/settler are concrete *T; assigning a nil one
	// straight into an interface field would make a non-nil interface
	// wrapping a nil pointer, so each is only wired in when non-nil.
	if liveOrders != nil {
		h.Live = liveOrders
	}
	if balances != nil {
		h.Balances = balances
	}
	if settler != nil {
		h.Settle = settler
	}

	// eng is allocated before the Scheduler it needs to drive it: the
	// Scheduler requires a Handler up front, and the Handler is
	// eng.Tick. Allocating eng by pointer first and binding the method
	// value off that pointer lets the Scheduler and the Task Store
	// (which the Scheduler-driven Handler itself operates on) both be
	// constructed in between, with eng's own fields filled in last.
	eng := &engine.Engine{}
	sched := scheduler.New(scheduler.Config{
		Workers:       cfg.WorkerConcurrency,
		RetryAttempts: 3,
		RetryBase:     time.Second,
	}, eng.Tick)

	tasks := copytask.New(db, sched, venue.DeriveAddress, int(cfg.TickInterval/time.Millisecond))
	tasks.RegisterCascade(activities)
	tasks.RegisterCascade(mockPositions)
	tasks.RegisterCascade(trades)
	h.Tasks = tasks

	rec := reconcile.New(mockPositions, livePositions, trades, tasks, books, h.Live, h.Settle, h.Cfg)

	eng.Tasks = tasks
	eng.Activities = activities
	eng.Ingestor = ingestor
	eng.Venue = livePositions
	eng.Handlers = h
	eng.Reconciler = rec
	eng.Lock = lock
	eng.Scheduler = sched
	eng.Cfg = engine.Config{
		TickInterval:    cfg.TickInterval,
		LockTTL:         cfg.LockTTL,
		ActivityWindow:  activityWindow(cfg),
		SyncEveryNTicks: cfg.SyncEveryNTicks,
	}

	notifier := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	dispatch := commands.New(tasks, notifier, nil, cfg)
	digestSched := digest.New(tasks, trades, notifier)
	digestSched.Start(ctx)

	sched.Start(ctx)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine: startup recovery: %v", err)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, tasks, dispatch, mockPositions, trades)
		if err := apiServer.Start(ctx); err != nil {
			log.Fatalf("api: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	eng.Shutdown(shutdownCtx)
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
	}
	cancel()
	log.Println("copytrader stopped")
}

func activityWindow(cfg config.Config) func(mockMode bool) time.Duration {
	return func(mockMode bool) time.Duration {
		if mockMode {
			return cfg.ActivityWindowMock
		}
		return cfg.ActivityWindowLive
	}
}
