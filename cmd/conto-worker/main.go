package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conto/internal/aggregate"
	"conto/internal/broadcast"
	"conto/internal/cache"
	"conto/internal/config"
	"conto/internal/core"
	"conto/internal/fetch"
	"conto/internal/log"
	"conto/internal/mutate"
	"conto/internal/persist"
	"conto/internal/reconcile"
	"conto/internal/remote"
)

// savingCache requests a debounced snapshot save on every cache write or
// invalidation, so the durable copy tracks cache activity.
type savingCache struct {
	cache.Provider
	scheduler *persist.Scheduler
}

func (s savingCache) Set(key string, data []core.Transaction) {
	s.Provider.Set(key, data)
	s.scheduler.RequestSave()
}

func (s savingCache) Invalidate(key string) {
	s.Provider.Invalidate(key)
	s.scheduler.RequestSave()
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentWorker})
	slog.SetDefault(logger.Logger)

	logger.Info("Starting conto-worker")

	// Load configuration
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the durable cache snapshot store
	snapshots, err := persist.NewStore(cfg.SnapshotDBPath)
	if err != nil {
		logger.Error("Failed to open snapshot store", "error", err, "path", cfg.SnapshotDBPath)
		os.Exit(1)
	}
	defer snapshots.Close()

	// Open the local transaction store
	store, err := remote.NewSQLiteStore(cfg.RemoteDBPath)
	if err != nil {
		logger.Error("Failed to open transaction store", "error", err, "path", cfg.RemoteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// Caches, restored from the last snapshot if one survives validation
	periods := cache.NewPeriodCache(cfg.CacheCapacity, cfg.CacheTTL)
	views := cache.NewViewCache(cfg.CacheTTL)
	tandem := cache.NewTandem(periods, views)

	if entries := snapshots.Load(ctx); len(entries) > 0 {
		periods.Restore(entries)
		logger.Info("Cache restored from snapshot",
			"entries", len(entries),
			"saved_at", snapshots.SavedAt(ctx))
	}

	// Persistence scheduler flushes the period cache into the snapshot store
	scheduler := persist.NewScheduler(func(ctx context.Context) error {
		return snapshots.Save(ctx, periods.Entries())
	}, persist.SchedulerConfig{
		Debounce:      cfg.SaveDebounce,
		FlushInterval: cfg.FlushInterval,
	})
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start persistence scheduler", "error", err)
		os.Exit(1)
	}

	provider := savingCache{Provider: tandem, scheduler: scheduler}

	// Initialize AMQP broadcast client (optional)
	var broadcaster *broadcast.Client
	if cfg.AMQPURL != "" {
		broadcaster, err = broadcast.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer broadcaster.Close()
		logger.Info("Broadcast client connected", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Broadcast disabled - no AMQP_URL provided")
	}

	var publisher reconcile.Publisher
	if broadcaster != nil {
		publisher = broadcaster
	}
	bus := reconcile.NewBus(provider, publisher)

	// Warm the cache for the current month and year
	fetcher := fetch.NewCoordinator(cfg.UserID, provider, store)
	now := time.Now()
	monthTxs, err := fetcher.Month(ctx, now.Year(), now.Month())
	if err != nil {
		logger.Warn("Failed to warm current month", "error", err)
	} else {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		starting, err := store.BalanceBeforeDate(ctx, cfg.UserID, monthStart, false)
		if err != nil {
			logger.Warn("Failed to read starting balance", "error", err)
		} else {
			series := aggregate.BalanceSeries(monthTxs, starting, aggregate.Daily)
			logger.Info("Current month warmed",
				"transactions", len(monthTxs),
				"ending_balance", aggregate.EndingBalance(series, starting))
		}
	}
	if _, err := fetcher.Year(ctx, now.Year()); err != nil {
		logger.Warn("Failed to warm current year", "error", err)
	}

	// Mutation coordinator, confirming changes through the reconciliation bus
	rates := remote.NewRatesClient(cfg.RatesURL)
	mutator := mutate.NewCoordinator(cfg.UserID, provider, store, rates)
	mutator.Notify = func(ctx context.Context, ch core.ChangeEvent) {
		if err := bus.Apply(ctx, ch, false); err != nil {
			logger.Warn("Change propagation failed", log.FieldTransactionID, ch.TransactionID, log.FieldError, err)
		}
	}
	// Balance and category views derive from the mutated partitions;
	// drop them all so the next read recomputes.
	mutator.Revalidate = func(ctx context.Context) { views.Clear() }

	// Background sweep resolving EUR amounts the rate service had not
	// published yet when the transaction was written
	convertCfg := mutate.DefaultBatchConverterConfig()
	convertCfg.Concurrency = cfg.ConvertConcurrency
	convertCfg.Interval = cfg.ConvertInterval
	convertCfg.MaxRetries = cfg.ConvertMaxRetries
	converter := mutate.NewBatchConverter(rates, convertCfg)

	convertLog := logger.WithComponent(log.ComponentMutate)
	convertSweep := func(ctx context.Context) {
		sweepNow := time.Now()
		txs, err := fetcher.Month(ctx, sweepNow.Year(), sweepNow.Month())
		if err != nil {
			convertLog.Warn("Conversion sweep fetch failed", log.FieldError, err)
			return
		}
		results, err := converter.Convert(ctx, txs)
		if err != nil {
			convertLog.Warn("Conversion sweep failed", log.FieldError, err)
			return
		}
		backfilled := 0
		for i, res := range results {
			if res.EUR == nil || txs[i].EURAmount != nil || txs[i].SplitIsReadOnly {
				continue
			}
			patch := core.TransactionPatch{EURAmount: res.EUR, ExchangeRate: res.Rate}
			if _, err := mutator.Update(ctx, txs[i], patch); err != nil {
				convertLog.Warn("EUR backfill failed", log.FieldTransactionID, res.ID, log.FieldError, err)
				continue
			}
			backfilled++
		}
		if backfilled > 0 {
			convertLog.Info("EUR amounts backfilled", log.FieldCount, backfilled)
		}
	}

	go func() {
		convertSweep(ctx)
		sweepTicker := time.NewTicker(time.Hour)
		defer sweepTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				convertSweep(ctx)
			}
		}
	}()

	// Server change polling
	poller := reconcile.NewPoller(cfg.UserID, store, bus, reconcile.PollerConfig{
		Interval: cfg.PollInterval,
	})
	if err := poller.Start(ctx); err != nil {
		logger.Error("Failed to start change poller", "error", err)
		os.Exit(1)
	}

	// Realtime change subscription (only with a broadcast channel)
	var subscriber *reconcile.Subscriber
	if broadcaster != nil {
		subscriber = reconcile.NewSubscriber(broadcaster, bus, reconcile.DefaultSubscriberConfig())
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("Failed to start realtime subscriber", "error", err)
			os.Exit(1)
		}
	}

	// Periodic operational state log
	statsTicker := time.NewTicker(5 * time.Minute)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := bus.Stats()
				logger.Info("Engine state",
					"cached_periods", periods.Len(),
					"online", stats.Online,
					"queued_changes", stats.Queued,
					"last_sync", stats.LastSync)
			}
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")

	if subscriber != nil {
		if err := subscriber.Stop(shutdownCtx); err != nil {
			logger.Warn("Realtime subscriber did not stop cleanly", "error", err)
		}
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		logger.Warn("Change poller did not stop cleanly", "error", err)
	}

	// Scheduler stop performs the final flush
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Persistence scheduler did not stop cleanly", "error", err)
	}

	cancel()
	logger.Info("Worker shutdown complete")
}
