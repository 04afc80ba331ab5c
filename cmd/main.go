// Command helmsman runs the automated trading agent: a periodic decision
// pipeline that asks an LLM for a trading plan, reviews it, and executes
// approved trades on the exchange.
//
// Usage:
//
//	helmsman --config config.yaml
//	helmsman (uses CLI arguments)
//
// Required environment variables:
//
//	KRAKEN_API_KEY, KRAKEN_API_SECRET: exchange credentials
//	LLM_API_KEY: key for the OpenAI-compatible decision model
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"helmsman/config"
	"helmsman/internal/exchange"
	"helmsman/internal/services/analyst"
	"helmsman/internal/services/executor"
	"helmsman/internal/services/pipeline"
	"helmsman/internal/storage/cycles"
	"helmsman/internal/web"
)

const monitorInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	apiKey := os.Getenv("KRAKEN_API_KEY")
	apiSecret := os.Getenv("KRAKEN_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		logger.Fatal("KRAKEN_API_KEY and KRAKEN_API_SECRET environment variables must be set")
	}

	session, err := exchange.NewSession(apiKey, apiSecret)
	if err != nil {
		logger.Fatal("failed to create exchange session", zap.Error(err))
	}
	client := exchange.NewClient(cfg.ExchangeBaseURL, session, logger)

	store, err := cycles.NewWALStore(cfg.WALDir)
	if err != nil {
		logger.Fatal("failed to open cycle store", zap.Error(err))
	}
	defer store.Close()

	exec := executor.New(client, cfg.QuoteAsset, cfg.BalanceTolerance, logger)
	validator := pipeline.NewValidator(exec, cfg.SmallPortfolioThreshold, cfg.SmallPortfolioCap, cfg.LargePortfolioCap, logger)

	llm := analyst.NewOpenAICompatibleClient(cfg.LLMAPIURL, os.Getenv("LLM_API_KEY"), cfg.LLMModel)
	stages := []pipeline.Stage{
		analyst.MarketStage(client, cfg.Watchlist, logger),
		analyst.PlanStage(llm, logger),
	}

	orchestrator := pipeline.NewOrchestrator(stages, validator, exec, store, cfg.MaxRefinementLoops, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runScheduler(ctx, orchestrator, cfg.DecisionInterval, logger)
	})

	g.Go(func() error {
		monitor(ctx, orchestrator, logger)
		return nil
	})

	if cfg.WebAddr != "" {
		g.Go(func() error {
			logger.Info("web server listening", zap.String("addr", cfg.WebAddr))
			return web.NewServer(cfg.WebAddr, store, logger).Start(ctx)
		})
	}

	logger.Info("agent started",
		zap.Duration("interval", cfg.DecisionInterval),
		zap.Strings("watchlist", cfg.Watchlist),
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal("agent stopped", zap.Error(err))
	}
	logger.Info("agent stopped")
}

// runScheduler triggers one cycle immediately and then on every interval
// tick. A fatal cycle error terminates the process; transient ones wait for
// the next tick.
func runScheduler(ctx context.Context, orchestrator *pipeline.Orchestrator, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := orchestrator.RunCycle(ctx); err != nil {
			if err == pipeline.ErrCycleInProgress {
				logger.Warn("tick skipped, cycle still running")
			} else if exchange.IsFatal(err) {
				return err
			} else {
				logger.Error("cycle failed, waiting for next tick", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// monitor periodically reports whether a cycle is in flight. It never
// triggers cycles itself; the single-flight guard belongs to the
// orchestrator.
func monitor(ctx context.Context, orchestrator *pipeline.Orchestrator, logger *zap.Logger) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if orchestrator.Running() {
				logger.Info("cycle in progress")
			}
		}
	}
}
