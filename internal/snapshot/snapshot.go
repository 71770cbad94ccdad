// Package snapshot is the Snapshot Engine (spec §4.3): it periodically
// captures the owner's balances and prices, seeds per-symbol baselines on
// first sight, and answers the 24h-delta query the API surface's
// portfolio endpoint needs. Grounded on the teacher's internal/market
// feed/mock shape, generalized to run as a scheduler-invoked task instead
// of owning its own ticker goroutine.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters"
	"sentinel/internal/bus"
	"sentinel/internal/store"
	"sentinel/pkg/cache"
)

// cashAsset is valued at a fixed 1:1 USD price rather than fetched from
// a ticker, since Binance has no BUSDUSDT-style pair for it.
const cashAsset = "USDT"

// minimumBaselineQty overrides the "current qty or 0" default baseline
// seed for symbols the supervisor should always protect a floor
// position in, even before the owner has bought any.
var minimumBaselineQty = map[string]decimal.Decimal{
	"XRP": decimal.NewFromInt(10),
}

// Engine captures periodic portfolio snapshots.
type Engine struct {
	brokerage adapters.Brokerage
	store     *store.Store
	bus       *bus.Bus
	symbols   []string
	prices    *cache.ShardedPriceCache
}

// New builds a Snapshot Engine tracking the given symbols (excluding the
// cash asset, which is always included). prices is the process-wide
// last-known-price cache this engine keeps warm on every Capture, for
// the pipeline's execute-time slippage check to fall back on when a
// live price fetch fails.
func New(brokerage adapters.Brokerage, st *store.Store, b *bus.Bus, symbols []string, prices *cache.ShardedPriceCache) *Engine {
	return &Engine{brokerage: brokerage, store: st, bus: b, symbols: symbols, prices: prices}
}

// Capture fetches balances and prices, computes the total USD value,
// persists the snapshot, seeds any missing baselines, and publishes
// bus.TopicPortfolioUpdated. It is the task the scheduler invokes on
// the fixed SNAPSHOT_INTERVAL_MINUTES cadence; the cadence does not
// change with volatility.
func (e *Engine) Capture(ctx context.Context) (store.Snapshot, error) {
	rawBalances, err := e.brokerage.Balances(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("fetch balances: %w", err)
	}
	prices, err := e.brokerage.Prices(ctx, e.symbols)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("fetch prices: %w", err)
	}
	if e.prices != nil {
		for sym, price := range prices {
			f, _ := price.Float64()
			e.prices.Set(sym, f)
		}
	}

	balances := e.filterBalances(rawBalances)

	total := decimal.Zero
	for sym, qty := range balances {
		if sym == cashAsset {
			total = total.Add(qty)
			continue
		}
		price, ok := prices[sym]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(price))
	}

	snap := store.Snapshot{
		CapturedAt: time.Now(),
		Balances:   balances,
		Prices:     prices,
		TotalUSD:   total,
	}

	if _, err := e.store.SaveSnapshot(ctx, snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(bus.TopicPortfolioUpdated, snap)
	}

	if err := e.seedBaselines(ctx, balances, prices); err != nil {
		return snap, fmt.Errorf("seed baselines: %w", err)
	}
	if err := e.raisePeaks(ctx, balances, prices); err != nil {
		return snap, fmt.Errorf("raise baseline peaks: %w", err)
	}

	return snap, nil
}

// filterBalances keeps only the cash asset and the symbols the
// supervisor tracks, dropping dust balances in assets it has no rules
// or risk checks for.
func (e *Engine) filterBalances(raw map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.symbols)+1)
	if qty, ok := raw[cashAsset]; ok {
		out[cashAsset] = qty
	}
	for _, sym := range e.symbols {
		if qty, ok := raw[sym]; ok {
			out[sym] = qty
		}
	}
	return out
}

// seedBaselines inserts a baseline for each tracked symbol the first
// time it is observed. Decision (Open Question): the seed quantity is
// the current balance, except where minimumBaselineQty names a floor
// (XRP defaults to 10 even with a zero starting balance).
func (e *Engine) seedBaselines(ctx context.Context, balances, prices map[string]decimal.Decimal) error {
	now := time.Now()
	for _, sym := range e.symbols {
		qty := balances[sym]
		if floor, ok := minimumBaselineQty[sym]; ok && qty.LessThan(floor) {
			qty = floor
		}

		peak := decimal.Zero
		if price, ok := prices[sym]; ok {
			peak = qty.Mul(price)
		}

		if err := e.store.SeedBaseline(ctx, store.Baseline{
			Symbol:    sym,
			Qty:       qty,
			PeakUSD:   peak,
			SeededAt:  now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// raisePeaks lets each symbol's baseline peak ratchet upward as its USD
// value grows; the max-drawdown risk check measures the fall from this
// peak.
func (e *Engine) raisePeaks(ctx context.Context, balances, prices map[string]decimal.Decimal) error {
	for _, sym := range e.symbols {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		qty := balances[sym]
		value := qty.Mul(price)
		if err := e.store.UpdatePeak(ctx, sym, value); err != nil {
			return err
		}
	}
	return nil
}

// Delta24h returns the absolute and percentage change in total USD
// value over the trailing 24h window, using the oldest snapshot still
// inside that window as the reference point.
func (e *Engine) Delta24h(ctx context.Context) (absolute decimal.Decimal, pct decimal.Decimal, err error) {
	latest, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("latest snapshot: %w", err)
	}

	history, err := e.store.SnapshotsSince(ctx, latest.CapturedAt.Add(-24*time.Hour))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("snapshot history: %w", err)
	}
	if len(history) == 0 {
		return decimal.Zero, decimal.Zero, nil
	}

	reference := history[0]
	absolute = latest.TotalUSD.Sub(reference.TotalUSD)
	if reference.TotalUSD.IsZero() {
		return absolute, decimal.Zero, nil
	}
	pct = absolute.Div(reference.TotalUSD).Mul(decimal.NewFromInt(100))
	return absolute, pct, nil
}
