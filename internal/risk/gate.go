package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters"
	"sentinel/internal/apperr"
	"sentinel/internal/rules"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

// Gate is the stateful filter between the Rule Evaluator and the
// Approval/Execution Pipeline. Checks run in the fixed order the spec
// names; the first rejection short-circuits the rest, mirroring the
// teacher's EvaluateSignal early-return pipeline.
type Gate struct {
	cfg   *config.Config
	store *store.Store
	clock adapters.Clock
	state *state
}

// New builds a risk gate reading thresholds from cfg and persisted
// facts (baselines, collateral) from st.
func New(cfg *config.Config, st *store.Store, clock adapters.Clock) *Gate {
	if clock == nil {
		clock = adapters.SystemClock{}
	}
	return &Gate{cfg: cfg, store: st, clock: clock, state: newState()}
}

// RecordExecution is C6's mutator: called once per completed order
// (dry-run or live) so the velocity and daily-loss counters reflect
// reality on the next Check.
func (g *Gate) RecordExecution(ruleID, symbol, side string, pnl decimal.Decimal) {
	g.state.recordExecution(ruleID, symbol, side, pnl, g.clock.Now())
}

// Check runs intent through the seven ordered guardrails (spec §4.5).
// A rejection is a normal Decision, never an error; err is reserved for
// infrastructure failures (degraded store, etc).
func (g *Gate) Check(ctx context.Context, intent rules.Intent) (Decision, error) {
	now := g.clock.Now()
	snap := g.state.snapshot(now)

	if d := g.checkCooldown(intent, snap, now); !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}

	latest, err := g.store.LatestSnapshot(ctx)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Decision{}, fmt.Errorf("latest snapshot: %w", err)
	}

	if d := g.checkMaxDrawdown(ctx, latest); !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}
	if d := g.checkDailyLoss(snap, latest); !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}
	if d := g.checkVelocity(snap); !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}
	if d, err := g.checkBaselineProtection(ctx, intent, latest); err != nil {
		return Decision{}, err
	} else if !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}
	if d, err := g.checkCollateral(ctx, intent); err != nil {
		return Decision{}, err
	} else if !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}
	if d := g.checkMaxPosition(intent, latest); !d.Allowed {
		logRejection(intent, d)
		return d, nil
	}

	// Allowed through every check; mark the rule's cooldown clock now so
	// a second matching tick before the outcome is recorded doesn't
	// re-fire the same rule. recordExecution (called by C6 once the
	// trade actually settles) folds the pnl in on top of this.
	g.state.markCooldown(intent.RuleID, now)
	return allow(), nil
}

// Preflight re-runs only the velocity and daily-loss checks, with no
// cooldown side effects. Used by the execution pipeline immediately
// before it calls the brokerage (spec §4.6.3: "velocity and daily-loss
// gates re-checked via C5") — re-running the full seven-check Check
// here would self-reject on the cooldown Check already set when the
// same intent passed the gate at intake.
func (g *Gate) Preflight(ctx context.Context) (Decision, error) {
	now := g.clock.Now()
	snap := g.state.snapshot(now)

	latest, err := g.store.LatestSnapshot(ctx)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Decision{}, fmt.Errorf("latest snapshot: %w", err)
	}

	if d := g.checkDailyLoss(snap, latest); !d.Allowed {
		return d, nil
	}
	if d := g.checkVelocity(snap); !d.Allowed {
		return d, nil
	}
	return allow(), nil
}

// Snapshot exposes the velocity and daily-loss counters the Kill-Switch
// Controller (C7) polls independently of any single intent — the same
// numbers checkVelocity and checkDailyLoss gate on, read without
// tripping cooldown bookkeeping.
func (g *Gate) Snapshot() (tradesLastHour int, dailyLoss decimal.Decimal) {
	snap := g.state.snapshot(g.clock.Now())
	return snap.tradesLastHour, snap.dailyLoss
}

// 1. Cooldown.
func (g *Gate) checkCooldown(intent rules.Intent, snap snapshot, now time.Time) Decision {
	last, ok := snap.lastExecution[intent.RuleID]
	if !ok {
		return allow()
	}
	cooldown := time.Duration(intent.CooldownSecs) * time.Second
	if cooldown <= 0 {
		cooldown = time.Duration(g.cfg.RiskDefaultCooldownSecs) * time.Second
	}
	if now.Sub(last) < cooldown {
		return reject(CodeCooldown, fmt.Sprintf("rule %s fired %s ago, cooldown is %s", intent.RuleID, now.Sub(last).Round(time.Second), cooldown))
	}
	return allow()
}

// 2. Max drawdown: current value below assumedPeak*(1-maxDrawdownPct).
//
// The source spec's literal heuristic recomputes assumedPeak as
// currentValue*1.2 on every check — self-referential, since whenever
// multiplier*(1-maxDrawdownPct) > 1 (1.2*0.9 = 1.08 at the defaults) the
// floor (assumedPeak*(1-maxDrawdownPct)) exceeds currentValue and the
// check rejects unconditionally (Open
// Question #1 flags exactly this: "may under- or over-estimate
// drawdown... expose the peak source"). This implementation resolves
// it by defaulting RiskPeakSource to "highWaterMark": assumedPeak is
// the sum of every symbol's ratcheted baseline peak (internal/snapshot
// raises these on every capture that sets a new high), a real
// historical reference instead of a restatement of the current value.
// "heuristic" mode keeps the literal currentValue*RiskPeakMultiplier
// formula for parity with the source, with the caveat documented above
// — an owner who selects it should pick a multiplier under 1/(1-pct)
// if they want the check to ever pass.
func (g *Gate) checkMaxDrawdown(ctx context.Context, latest store.Snapshot) Decision {
	if g.cfg.RiskMaxDrawdownPct <= 0 || latest.TotalUSD.IsZero() {
		return allow()
	}

	currentValue := latest.TotalUSD
	var assumedPeak decimal.Decimal

	if g.cfg.RiskPeakSource == "heuristic" {
		mult := g.cfg.RiskPeakMultiplier
		if mult <= 0 {
			mult = 1.2
		}
		assumedPeak = currentValue.Mul(decimal.NewFromFloat(mult))
	} else {
		// highWaterMark: no historical peak yet means nothing to measure
		// drawdown against, so the check passes rather than fabricating
		// a reference out of the current value (which would make every
		// fresh deployment reject its first trades unconditionally).
		baselines, err := g.store.Baselines(ctx)
		if err != nil || len(baselines) == 0 {
			return allow()
		}
		sum := decimal.Zero
		for _, b := range baselines {
			sum = sum.Add(b.PeakUSD)
		}
		if !sum.IsPositive() {
			return allow()
		}
		assumedPeak = sum
	}

	floor := assumedPeak.Mul(decimal.NewFromFloat(1 - g.cfg.RiskMaxDrawdownPct))
	if currentValue.LessThan(floor) {
		return reject(CodeDrawdown, fmt.Sprintf("portfolio value %s below drawdown floor %s (assumed peak %s)", currentValue, floor, assumedPeak))
	}
	return allow()
}

// 3. Daily loss limit: |dailyLoss|/totalValue >= maxDrawdownPct rejects.
// Uses the same configured percentage the drawdown check does, per spec
// §4.5.3; the gate's running dailyLoss resets on UTC date rollover.
func (g *Gate) checkDailyLoss(snap snapshot, latest store.Snapshot) Decision {
	if g.cfg.RiskMaxDrawdownPct <= 0 || latest.TotalUSD.IsZero() || snap.dailyLoss.IsZero() {
		return allow()
	}
	ratio := snap.dailyLoss.Abs().Div(latest.TotalUSD)
	r, _ := ratio.Float64()
	if r >= g.cfg.RiskMaxDrawdownPct {
		return reject(CodeDailyLoss, fmt.Sprintf("daily loss %s is %.1f%% of portfolio, limit is %.1f%%", snap.dailyLoss, r*100, g.cfg.RiskMaxDrawdownPct*100))
	}
	return allow()
}

// 4. Velocity throttle: executions in the last hour >= maxTradesHour.
func (g *Gate) checkVelocity(snap snapshot) Decision {
	if g.cfg.RiskMaxTradesHour <= 0 {
		return allow()
	}
	if snap.tradesLastHour >= g.cfg.RiskMaxTradesHour {
		return reject(CodeVelocity, fmt.Sprintf("%d trades in the last hour, limit is %d", snap.tradesLastHour, g.cfg.RiskMaxTradesHour))
	}
	return allow()
}

// 5. Baseline protection: a sell of BTC or XRP may not bring the
// holding below its seeded baseline (XRP additionally floors at
// minBaselineTokens, matching internal/snapshot's seeding floor).
func (g *Gate) checkBaselineProtection(ctx context.Context, intent rules.Intent, latest store.Snapshot) (Decision, error) {
	if intent.Side != "sell" || !rules.IsCoreAsset(intent.Symbol) {
		return allow(), nil
	}

	baseline, err := g.store.Baseline(ctx, intent.Symbol)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return allow(), nil // nothing seeded yet, nothing to protect
		}
		return Decision{}, fmt.Errorf("load baseline for %s: %w", intent.Symbol, err)
	}

	holding := latest.Balances[intent.Symbol]
	remaining := holding.Sub(intent.Qty)

	floor := baseline.Qty
	if min, ok := minBaselineTokens[intent.Symbol]; ok && min.GreaterThan(floor) {
		floor = min
	}

	if remaining.LessThan(floor) {
		return reject(baselineCode(intent.Symbol), fmt.Sprintf("selling %s %s would leave %s, below protected baseline %s", intent.Symbol, intent.Qty, remaining, floor)), nil
	}
	return allow(), nil
}

// 6. Collateral protection: a BTC sell is rejected if the last observed
// collateral health ratio is already below the configured minimum. The
// brokerage capability exposes collateral as a health ratio rather than
// a raw locked quantity (spot venues carry no margin/locked-collateral
// concept — see internal/adapters.Brokerage.CollateralHealth), so this
// check reads the same persisted reading C7's breach check uses.
func (g *Gate) checkCollateral(ctx context.Context, intent rules.Intent) (Decision, error) {
	if intent.Symbol != "BTC" || intent.Side != "sell" {
		return allow(), nil
	}

	reading, err := g.store.LatestCollateral(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return allow(), nil
		}
		return Decision{}, fmt.Errorf("load collateral reading: %w", err)
	}

	if reading.HealthRatio < g.cfg.RiskCollateralMinHealth {
		return reject(CodeCollateral, fmt.Sprintf("collateral health %.2f below minimum %.2f", reading.HealthRatio, g.cfg.RiskCollateralMinHealth)), nil
	}
	return allow(), nil
}

// 7. Max position: for entries (buys), currentExposurePct + allocPct
// must not exceed maxPositionPct.
func (g *Gate) checkMaxPosition(intent rules.Intent, latest store.Snapshot) Decision {
	if intent.Side != "buy" || g.cfg.RiskMaxPositionPct <= 0 || latest.TotalUSD.IsZero() {
		return allow()
	}

	currentValue := decimal.Zero
	if qty, ok := latest.Balances[intent.Symbol]; ok {
		if price, ok := latest.Prices[intent.Symbol]; ok {
			currentValue = qty.Mul(price)
		}
	}

	currentPct, _ := currentValue.Div(latest.TotalUSD).Mul(decimal.NewFromInt(100)).Float64()
	allocPct, _ := intent.EstUSD.Div(latest.TotalUSD).Mul(decimal.NewFromInt(100)).Float64()

	if currentPct+allocPct > g.cfg.RiskMaxPositionPct {
		return reject(CodeMaxPosition, fmt.Sprintf("%s exposure would reach %.1f%%, limit is %.1f%%", intent.Symbol, currentPct+allocPct, g.cfg.RiskMaxPositionPct))
	}
	return allow()
}

// logRejection is the gate's single logging seam, grounded on the
// teacher's bracketed log.Printf idiom ("[Strategy %s] ...").
func logRejection(intent rules.Intent, d Decision) {
	log.Printf("[risk] rejected rule=%s symbol=%s code=%s reason=%s", intent.RuleID, intent.Symbol, d.Code, d.Reason)
}
