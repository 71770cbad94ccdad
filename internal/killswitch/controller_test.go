package killswitch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sentinel/internal/risk"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestController(t *testing.T, cfg *config.Config) (*Controller, *store.Store, *fakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "killswitch.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{now: time.Now()}
	gate := risk.New(cfg, st, clock)
	return New(cfg, st, gate, clock), st, clock
}

func testConfig() *config.Config {
	return &config.Config{
		RiskMaxTradesHour:       4,
		RiskDailyLossLimit:      -1000,
		RiskCollateralMinHealth: 1.2,
		RiskRecoveryGraceMin:    15,
	}
}

// No breach observed: a clear tick with no prior kill-switch state leaves
// the switch disengaged.
func TestCheckBreachNoBreachStaysClear(t *testing.T) {
	c, st, _ := newTestController(t, testConfig())
	ctx := context.Background()

	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach: %v", err)
	}
	state, err := st.ReadKillSwitch(ctx)
	if err != nil {
		t.Fatalf("read kill switch: %v", err)
	}
	if state.Engaged {
		t.Fatalf("expected switch to remain disengaged")
	}
}

// A collateral health reading below the configured minimum engages the
// switch with SetBy system:risk.
func TestCheckBreachEngagesOnLowCollateral(t *testing.T) {
	c, st, _ := newTestController(t, testConfig())
	ctx := context.Background()

	if err := st.RecordCollateral(ctx, store.CollateralReading{HealthRatio: 1.0, RecordedAt: time.Now()}); err != nil {
		t.Fatalf("record collateral: %v", err)
	}

	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach: %v", err)
	}
	state, err := st.ReadKillSwitch(ctx)
	if err != nil {
		t.Fatalf("read kill switch: %v", err)
	}
	if !state.Engaged || state.SetBy != store.ActorSystemRisk {
		t.Fatalf("expected system:risk engaged switch, got %+v", state)
	}
}

// An owner-engaged switch is never auto-recovered, even after the grace
// period elapses with no breach observed.
func TestCheckBreachNeverRecoversManualEngagement(t *testing.T) {
	cfg := testConfig()
	cfg.RiskRecoveryGraceMin = 1
	c, st, clock := newTestController(t, cfg)
	ctx := context.Background()

	if err := st.SetKillSwitch(ctx, true, store.ActorOwner, "owner halted trading"); err != nil {
		t.Fatalf("engage manually: %v", err)
	}

	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach: %v", err)
	}
	clock.now = clock.now.Add(2 * time.Minute)
	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach: %v", err)
	}

	state, err := st.ReadKillSwitch(ctx)
	if err != nil {
		t.Fatalf("read kill switch: %v", err)
	}
	if !state.Engaged || state.SetBy != store.ActorOwner {
		t.Fatalf("expected owner engagement to stand, got %+v", state)
	}
}

// A system:risk engagement clears automatically once the recovery grace
// period elapses with continuous no-breach ticks.
func TestCheckBreachRecoversAfterGraceElapses(t *testing.T) {
	cfg := testConfig()
	cfg.RiskRecoveryGraceMin = 1
	c, st, clock := newTestController(t, cfg)
	ctx := context.Background()

	if err := st.SetKillSwitch(ctx, true, store.ActorSystemRisk, "prior breach"); err != nil {
		t.Fatalf("engage: %v", err)
	}

	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach (streak start): %v", err)
	}
	state, err := st.ReadKillSwitch(ctx)
	if err != nil {
		t.Fatalf("read kill switch: %v", err)
	}
	if !state.Engaged {
		t.Fatalf("expected switch to remain engaged before grace elapses")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if err := c.CheckBreach(ctx); err != nil {
		t.Fatalf("check breach (after grace): %v", err)
	}
	state, err = st.ReadKillSwitch(ctx)
	if err != nil {
		t.Fatalf("read kill switch: %v", err)
	}
	if state.Engaged {
		t.Fatalf("expected switch to auto-recover after grace period")
	}
}
