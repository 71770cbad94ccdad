package risk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/rules"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestGate(t *testing.T, cfg *config.Config) (*Gate, *store.Store, *fakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "risk.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{now: time.Now()}
	return New(cfg, st, clock), st, clock
}

func testConfig() *config.Config {
	return &config.Config{
		RiskMaxTradesHour:       4,
		RiskDailyLossLimit:      -1000,
		RiskCollateralMinHealth: 1.2,
		RiskRecoveryGraceMin:    15,
		RiskPeakSource:          "highWaterMark",
		RiskPeakMultiplier:      1.2,
		RiskMaxDrawdownPct:      0.1,
		RiskMaxPositionPct:      25,
		RiskDefaultCooldownSecs: 60,
	}
}

func seedSnapshot(t *testing.T, st *store.Store, balances, prices map[string]decimal.Decimal, total decimal.Decimal) {
	t.Helper()
	_, err := st.SaveSnapshot(context.Background(), store.Snapshot{
		CapturedAt: time.Now(),
		Balances:   balances,
		Prices:     prices,
		TotalUSD:   total,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// S1 from the scenario table: baseline protection blocks a sell that
// would dip BTC below its seeded floor.
func TestCheckBaselineProtectionBlocksSell(t *testing.T) {
	gate, st, _ := newTestGate(t, testConfig())
	ctx := context.Background()

	if err := st.SeedBaseline(ctx, store.Baseline{Symbol: "BTC", Qty: d("1.0"), PeakUSD: d("70000"), SeededAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
	seedSnapshot(t, st,
		map[string]decimal.Decimal{"BTC": d("1.5"), "XRP": d("12")},
		map[string]decimal.Decimal{"BTC": d("70000"), "XRP": d("0.5")},
		d("111000"),
	)

	intent := rules.Intent{RuleID: "r1", Side: "sell", Symbol: "BTC", Qty: d("0.6"), EstUSD: d("42000")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected rejection, got allowed")
	}
	if dec.Code != "BASELINE_BTC" {
		t.Fatalf("Code=%q, expected BASELINE_BTC", dec.Code)
	}
}

// A sell that keeps the holding at or above baseline passes.
func TestCheckBaselineProtectionAllowsSmallSell(t *testing.T) {
	gate, st, _ := newTestGate(t, testConfig())
	ctx := context.Background()

	if err := st.SeedBaseline(ctx, store.Baseline{Symbol: "BTC", Qty: d("1.0"), PeakUSD: d("70000"), SeededAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
	seedSnapshot(t, st,
		map[string]decimal.Decimal{"BTC": d("1.5")},
		map[string]decimal.Decimal{"BTC": d("70000")},
		d("105000"),
	)

	intent := rules.Intent{RuleID: "r2", Side: "sell", Symbol: "BTC", Qty: d("0.2"), EstUSD: d("14000")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got reject code=%s reason=%s", dec.Code, dec.Reason)
	}
}

func TestCheckCooldownRejectsRepeatWithinWindow(t *testing.T) {
	cfg := testConfig()
	gate, st, clock := newTestGate(t, cfg)
	ctx := context.Background()
	seedSnapshot(t, st, map[string]decimal.Decimal{"ETH": d("1")}, map[string]decimal.Decimal{"ETH": d("2000")}, d("20000"))

	intent := rules.Intent{RuleID: "r3", Side: "buy", Symbol: "ETH", Qty: d("0.1"), EstUSD: d("200"), CooldownSecs: 300}

	first, err := gate.Check(ctx, intent)
	if err != nil || !first.Allowed {
		t.Fatalf("first check should pass: allowed=%v err=%v", first.Allowed, err)
	}

	clock.now = clock.now.Add(30 * time.Second)
	second, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("second check returned error: %v", err)
	}
	if second.Allowed {
		t.Fatalf("expected cooldown rejection")
	}
	if second.Code != CodeCooldown {
		t.Fatalf("Code=%q, expected %s", second.Code, CodeCooldown)
	}

	clock.now = clock.now.Add(300 * time.Second)
	third, err := gate.Check(ctx, intent)
	if err != nil || !third.Allowed {
		t.Fatalf("third check after cooldown elapsed should pass: allowed=%v err=%v", third.Allowed, err)
	}
}

// S4 from the scenario table: velocity throttle rejects a further trade
// once 4 have executed in the hour when RiskMaxTradesHour=4.
func TestCheckVelocityThrottle(t *testing.T) {
	cfg := testConfig()
	gate, st, clock := newTestGate(t, cfg)
	ctx := context.Background()
	seedSnapshot(t, st, map[string]decimal.Decimal{"ETH": d("1")}, map[string]decimal.Decimal{"ETH": d("2000")}, d("20000"))

	for i := 0; i < 4; i++ {
		gate.RecordExecution("", "ETH", "buy", decimal.Zero)
	}

	intent := rules.Intent{RuleID: "r4", Side: "buy", Symbol: "ETH", Qty: d("0.05"), EstUSD: d("100")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected velocity rejection at 4 trades/hour limit")
	}
	if dec.Code != CodeVelocity {
		t.Fatalf("Code=%q, expected %s", dec.Code, CodeVelocity)
	}
	_ = clock
}

func TestCheckDailyLossLimit(t *testing.T) {
	cfg := testConfig()
	gate, st, _ := newTestGate(t, cfg)
	ctx := context.Background()
	seedSnapshot(t, st, map[string]decimal.Decimal{"ETH": d("1")}, map[string]decimal.Decimal{"ETH": d("2000")}, d("1000"))

	// A 150 loss against a 1000 portfolio is 15%, above the 10% floor.
	gate.RecordExecution("", "ETH", "sell", d("-150"))

	intent := rules.Intent{RuleID: "r5", Side: "buy", Symbol: "ETH", Qty: d("0.01"), EstUSD: d("20")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected daily-loss rejection")
	}
	if dec.Code != CodeDailyLoss {
		t.Fatalf("Code=%q, expected %s", dec.Code, CodeDailyLoss)
	}
}

func TestCheckMaxPositionRejectsOversizedEntry(t *testing.T) {
	cfg := testConfig()
	gate, st, _ := newTestGate(t, cfg)
	ctx := context.Background()
	seedSnapshot(t, st,
		map[string]decimal.Decimal{"SOL": d("10")},
		map[string]decimal.Decimal{"SOL": d("100")},
		d("4000"),
	)

	// Current SOL exposure is 1000/4000 = 25%; any further buy breaches
	// the 25% cap.
	intent := rules.Intent{RuleID: "r6", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("100")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected max-position rejection")
	}
	if dec.Code != CodeMaxPosition {
		t.Fatalf("Code=%q, expected %s", dec.Code, CodeMaxPosition)
	}
}

func TestCheckCollateralBlocksBTCSellBelowMinHealth(t *testing.T) {
	cfg := testConfig()
	gate, st, _ := newTestGate(t, cfg)
	ctx := context.Background()
	seedSnapshot(t, st,
		map[string]decimal.Decimal{"BTC": d("2")},
		map[string]decimal.Decimal{"BTC": d("70000")},
		d("140000"),
	)
	if err := st.RecordCollateral(ctx, store.CollateralReading{HealthRatio: 0.9, RecordedAt: time.Now()}); err != nil {
		t.Fatalf("record collateral: %v", err)
	}

	intent := rules.Intent{RuleID: "r7", Side: "sell", Symbol: "BTC", Qty: d("0.1"), EstUSD: d("7000")}
	dec, err := gate.Check(ctx, intent)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected collateral rejection")
	}
	if dec.Code != CodeCollateral {
		t.Fatalf("Code=%q, expected %s", dec.Code, CodeCollateral)
	}
}
