// Command sentinel runs the autonomous trading supervisor: it wires the
// store, bus, risk gate, pipeline, rule evaluator, snapshot engine,
// kill-switch controller, anomaly detector, and HTTP surface together
// and hands every periodic task to the scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters"
	"sentinel/internal/anomaly"
	"sentinel/internal/api"
	"sentinel/internal/bus"
	"sentinel/internal/killswitch"
	"sentinel/internal/monitor"
	"sentinel/internal/pipeline"
	"sentinel/internal/reconciliation"
	"sentinel/internal/risk"
	"sentinel/internal/rules"
	"sentinel/internal/scheduler"
	"sentinel/internal/snapshot"
	"sentinel/internal/store"
	"sentinel/pkg/cache"
	"sentinel/pkg/config"
	"sentinel/pkg/exchanges/binance/spot"
	"sentinel/pkg/i18n"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.New()

	st, err := store.Open(cfg.DBPath, b)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	brokerage, liveClient := newBrokerage(cfg)
	clock := adapters.SystemClock{}

	if liveClient != nil {
		go adapters.NewUserStream(liveClient, b).Run(ctx)
	}

	priceCache := cache.NewShardedPriceCache()

	gate := risk.New(cfg, st, clock)
	pl := pipeline.New(cfg, st, gate, brokerage, b, clock, priceCache)
	evaluator := rules.New(st)
	snapEngine := snapshot.New(brokerage, st, b, cfg.Symbols, priceCache)
	ksController := killswitch.New(cfg, st, gate, clock)
	var learningWorker adapters.LearningWorker = anomaly.HeuristicWorker{}
	detector := anomaly.New(cfg, st, learningWorker)

	recon := reconciliation.New(st)
	if report, err := recon.Reconcile(ctx); err != nil {
		log.Printf("[main] reconciliation: %v", err)
	} else if len(report.Orphaned) > 0 {
		log.Printf("[main] reconciliation found %d orphaned approval(s)", len(report.Orphaned))
	}

	metrics := monitor.NewSystemMetrics()
	mon := &monitor.Monitor{Bus: b, Sink: alertLogSink{}}
	go mon.Start(ctx)

	sched := scheduler.New()
	if !cfg.LightMode {
		registerTasks(sched, cfg, pl, evaluator, snapEngine, ksController, detector, metrics)
	}
	go sched.Run(ctx)

	srv := api.NewServer(cfg, st, b, pl, evaluator, snapEngine, ksController, detector, sched, metrics, version)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router,
	}

	go func() {
		log.Printf("[main] listening on %s (dryRun=%v)", httpServer.Addr, cfg.DryRun)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown: %v", err)
	}
}

// newBrokerage picks the venue implementation: a synthetic random-walk
// venue for DRY_RUN/local development, or a live Binance spot client
// when credentials are configured and mocking is explicitly disabled.
// The second return value is the raw spot client, non-nil only in the
// live case, so main can also start a user-data-stream listener on it.
func newBrokerage(cfg *config.Config) (adapters.Brokerage, *spot.Client) {
	if cfg.UseMockBrokerage || cfg.BinanceAPIKey == "" {
		seed := map[string]decimal.Decimal{"USDT": decimal.NewFromInt(10000)}
		prices := make(map[string]decimal.Decimal, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			seed[sym] = decimal.Zero
			prices[sym] = decimal.NewFromInt(100)
		}
		return adapters.NewMockBrokerage(seed, prices), nil
	}

	client := spot.New(spot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	return adapters.NewBinanceBrokerage(client, cfg.BinanceTestnet), client
}

// registerTasks wires every scheduled responsibility (spec §4.8) at its
// default cadence. The snapshot task runs at the fixed
// SNAPSHOT_INTERVAL_MINUTES cadence: no task here measures volatility
// or calls sched.SetCadence, so the VOL_* settings are not applied.
func registerTasks(
	sched *scheduler.Supervisor,
	cfg *config.Config,
	pl *pipeline.Pipeline,
	evaluator *rules.Evaluator,
	snapEngine *snapshot.Engine,
	ksController *killswitch.Controller,
	detector *anomaly.Detector,
	metrics *monitor.SystemMetrics,
) {
	snapshotInterval := time.Duration(cfg.SnapshotIntervalMinutes) * time.Minute

	sched.Register("snapshot", snapshotInterval, func(ctx context.Context) error {
		timer := monitor.NewTimer(metrics.SchedulerLatency)
		defer timer.Stop()
		if _, err := snapEngine.Capture(ctx); err != nil {
			metrics.IncrementTaskFailure()
			return err
		}
		metrics.IncrementTaskRun()
		return nil
	})

	sched.Register("rules", 1*time.Minute, func(ctx context.Context) error {
		intents, err := evaluator.Evaluate(ctx)
		if err != nil {
			metrics.IncrementTaskFailure()
			return err
		}
		if len(intents) > 0 {
			if err := pl.Intake(ctx, intents); err != nil {
				metrics.IncrementTaskFailure()
				return err
			}
		}
		metrics.IncrementTaskRun()
		return nil
	})

	sched.Register("kill-switch", 1*time.Minute, func(ctx context.Context) error {
		if err := ksController.CheckBreach(ctx); err != nil {
			metrics.IncrementTaskFailure()
			return err
		}
		metrics.IncrementTaskRun()
		return nil
	})

	sched.Register("anomaly", 5*time.Minute, func(ctx context.Context) error {
		if err := detector.CheckAnomalies(ctx); err != nil {
			metrics.IncrementTaskFailure()
			return err
		}
		metrics.IncrementTaskRun()
		return nil
	})

	sched.Register("learning", 1*time.Hour, func(ctx context.Context) error {
		if err := detector.RecomputePreferences(ctx); err != nil {
			metrics.IncrementTaskFailure()
			return err
		}
		metrics.IncrementTaskRun()
		return nil
	})
}

// alertLogSink is the default monitor.AlertSink: process-log delivery,
// matching adapters.LogNotifier's behavior for the bus-forwarded path.
type alertLogSink struct{}

func (alertLogSink) Send(message string) error {
	log.Printf("[alert] %s", message)
	return nil
}
