// Package killswitch is the Kill-Switch / Throttle Controller (spec
// §4.7): a periodic breach check the Scheduler Supervisor invokes every
// 60 seconds, generalized from the teacher's per-position stop-loss
// (observe a reading, decide, act) into one global trading-halt flag.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/adapters"
	"sentinel/internal/apperr"
	"sentinel/internal/risk"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

// Controller holds the one piece of state C7 owns beyond what's already
// persisted: the moment a continuous no-breach streak began, so recovery
// can require RISK_RECOVERY_GRACE_MIN of sustained calm rather than
// flipping back on at the first clean tick.
type Controller struct {
	cfg   *config.Config
	store *store.Store
	risk  *risk.Gate
	clock adapters.Clock

	mu            sync.Mutex
	recoveryStart time.Time // zero value means "no streak in progress"
}

func New(cfg *config.Config, st *store.Store, gate *risk.Gate, clock adapters.Clock) *Controller {
	if clock == nil {
		clock = adapters.SystemClock{}
	}
	return &Controller{cfg: cfg, store: st, risk: gate, clock: clock}
}

// CheckBreach is the task the Scheduler runs on a 60s cadence. It never
// self-ticks; the Supervisor is its caller.
func (c *Controller) CheckBreach(ctx context.Context) error {
	tradesLastHour, dailyLoss := c.risk.Snapshot()

	var collateralHealth float64
	haveCollateral := false
	if reading, err := c.store.LatestCollateral(ctx); err == nil {
		collateralHealth = reading.HealthRatio
		haveCollateral = true
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("load collateral reading: %w", err)
	}

	var reasons []string
	if c.cfg.RiskMaxTradesHour > 0 && tradesLastHour >= c.cfg.RiskMaxTradesHour {
		reasons = append(reasons, fmt.Sprintf("%d trades in the last hour >= limit %d", tradesLastHour, c.cfg.RiskMaxTradesHour))
	}
	if c.cfg.RiskDailyLossLimit < 0 {
		loss, _ := dailyLoss.Float64()
		if loss <= c.cfg.RiskDailyLossLimit {
			reasons = append(reasons, fmt.Sprintf("daily loss %.2f <= limit %.2f", loss, c.cfg.RiskDailyLossLimit))
		}
	}
	if haveCollateral && collateralHealth < c.cfg.RiskCollateralMinHealth {
		reasons = append(reasons, fmt.Sprintf("collateral health %.2f below minimum %.2f", collateralHealth, c.cfg.RiskCollateralMinHealth))
	}

	if len(reasons) > 0 {
		return c.engage(ctx, reasons)
	}
	return c.considerRecovery(ctx)
}

// engage trips the switch (idempotent — re-engaging just refreshes the
// reason) and resets any recovery streak in progress.
func (c *Controller) engage(ctx context.Context, reasons []string) error {
	c.mu.Lock()
	c.recoveryStart = time.Time{}
	c.mu.Unlock()

	reason := reasons[0]
	for _, r := range reasons[1:] {
		reason += "; " + r
	}

	current, err := c.store.ReadKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	}
	if current.Engaged && current.SetBy == store.ActorOwner {
		return nil // a manual halt stands regardless of what C7 observes
	}

	return c.store.SetKillSwitch(ctx, true, store.ActorSystemRisk, reason)
}

// considerRecovery runs when this tick observed no breach. It only ever
// releases a switch it finds engaged with SetBy == system:risk — an
// owner-engaged switch is never auto-released, per spec §4.7.
func (c *Controller) considerRecovery(ctx context.Context) error {
	current, err := c.store.ReadKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	}
	if !current.Engaged || current.SetBy != store.ActorSystemRisk {
		c.mu.Lock()
		c.recoveryStart = time.Time{}
		c.mu.Unlock()
		return nil
	}

	now := c.clock.Now()
	grace := time.Duration(c.cfg.RiskRecoveryGraceMin) * time.Minute

	c.mu.Lock()
	if c.recoveryStart.IsZero() {
		c.recoveryStart = now
	}
	elapsed := now.Sub(c.recoveryStart)
	c.mu.Unlock()

	if elapsed < grace {
		return nil
	}

	return c.store.SetKillSwitch(ctx, false, store.ActorSystemRisk, fmt.Sprintf("auto-recovered after %s clear", grace))
}
