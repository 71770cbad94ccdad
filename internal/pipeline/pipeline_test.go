package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters"
	"sentinel/internal/apperr"
	"sentinel/internal/bus"
	"sentinel/internal/risk"
	"sentinel/internal/rules"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func baseConfig() *config.Config {
	return &config.Config{
		MFAThresholdUSD:           100,
		AutoExecuteEnabled:        true,
		AutoExecuteMaxPerTick:     1,
		AutoExecuteRiskMaxTrades:  4,
		AutoExecuteDailyLossLimit: -1000,
		MaxSlippagePct:            0.02,
		RiskMaxTradesHour:         4,
		RiskDailyLossLimit:        -1000,
		RiskCollateralMinHealth:   1.2,
		RiskPeakSource:            "highWaterMark",
		RiskMaxDrawdownPct:        0.1,
		RiskMaxPositionPct:        25,
		RiskDefaultCooldownSecs:   60,
		DryRun:                    false,
		OwnerID:                   "owner-1",
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *store.Store, *fakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{now: time.Now()}
	gate := risk.New(cfg, st, clock)
	brokerage := adapters.NewMockBrokerage(
		map[string]decimal.Decimal{"SOL": decimal.NewFromInt(100)},
		map[string]decimal.Decimal{"SOL": decimal.NewFromInt(100), "BTC": decimal.NewFromInt(70000)},
	)
	b := bus.New()
	return New(cfg, st, gate, brokerage, b, clock, nil), st, clock
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Core-asset intents always land in pending approval, never auto-execute,
// regardless of AUTO_EXECUTE_ENABLED (rules.IsCoreAsset's protective
// inversion of the source's literal "symbol is non-core" clause).
func TestIntakeCoreAssetNeverAutoExecutes(t *testing.T) {
	p, st, _ := newTestPipeline(t, baseConfig())
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r1", Side: "buy", Symbol: "BTC", Qty: d("0.01"), EstUSD: d("70"), CoreAsset: true}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	approvals, err := st.Approvals(ctx, store.ApprovalPending)
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(approvals) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(approvals))
	}
}

// A satellite (non-core) intent under the MFA threshold auto-executes
// through to a terminal state within the per-tick bound.
func TestIntakeAutoExecutesEligibleSatelliteIntent(t *testing.T) {
	p, st, _ := newTestPipeline(t, baseConfig())
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r2", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("50")}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	all, err := st.Approvals(ctx, "")
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 approval, got %d", len(all))
	}
	if all[0].Status != store.ApprovalExecuted {
		t.Fatalf("expected executed, got %s", all[0].Status)
	}

	execs, err := st.RecentExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("recent executions: %v", err)
	}
	if len(execs) != 1 || !execs[0].Success {
		t.Fatalf("expected 1 successful execution, got %+v", execs)
	}
}

// Only AutoExecuteMaxPerTick candidates auto-execute per tick; the rest
// stay pending for a later tick or the owner.
func TestIntakeRespectsAutoExecuteBound(t *testing.T) {
	cfg := baseConfig()
	cfg.AutoExecuteMaxPerTick = 1
	p, st, _ := newTestPipeline(t, cfg)
	ctx := context.Background()

	intents := []rules.Intent{
		{RuleID: "r3", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("50")},
		{RuleID: "r4", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("50")},
	}
	if err := p.Intake(ctx, intents); err != nil {
		t.Fatalf("intake: %v", err)
	}

	executed, err := st.Approvals(ctx, store.ApprovalExecuted)
	if err != nil {
		t.Fatalf("list executed: %v", err)
	}
	pending, err := st.Approvals(ctx, store.ApprovalPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(executed) != 1 {
		t.Fatalf("expected exactly 1 auto-executed approval, got %d", len(executed))
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 approval still pending, got %d", len(pending))
	}
}

// A rejected intent never reaches an approval row at all.
func TestIntakeSkipsRiskRejectedIntent(t *testing.T) {
	p, st, _ := newTestPipeline(t, baseConfig())
	ctx := context.Background()

	if err := st.SeedBaseline(ctx, store.Baseline{Symbol: "BTC", Qty: d("1.0"), PeakUSD: d("70000"), SeededAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
	if _, err := st.SaveSnapshot(ctx, store.Snapshot{
		CapturedAt: time.Now(),
		Balances:   map[string]decimal.Decimal{"BTC": d("1.2")},
		Prices:     map[string]decimal.Decimal{"BTC": d("70000")},
		TotalUSD:   d("84000"),
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	// Selling 0.5 BTC would leave 0.7, below the 1.0 baseline.
	intent := rules.Intent{RuleID: "r5", Side: "sell", Symbol: "BTC", Qty: d("0.5"), EstUSD: d("35000"), CoreAsset: true}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	all, err := st.Approvals(ctx, "")
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no approval created for a risk-rejected intent, got %d", len(all))
	}
}

// Above the MFA threshold, intake creates a pending approval requiring
// MFA; Execute with no code issues a challenge, and the matching code
// completes the trade. Replaying the same code afterward fails because
// the approval is now terminal, not because the code was rejected as
// already used — that path requires the approval to still be pending,
// see TestGateMFARejectsReplayedCodeOnPendingApproval.
func TestExecuteMFAHandshakeThenReplayFails(t *testing.T) {
	cfg := baseConfig()
	p, st, _ := newTestPipeline(t, cfg)
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r6", Side: "buy", Symbol: "SOL", Qty: d("5"), EstUSD: d("500")}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	pending, err := st.Approvals(ctx, store.ApprovalPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending MFA approval: approvals=%v err=%v", pending, err)
	}
	appr := pending[0]
	if !appr.RequiresMFA {
		t.Fatalf("expected RequiresMFA for a %.0f USD intent", 500.0)
	}

	first, err := p.Execute(ctx, appr.ID, "owner-1", "")
	if err != nil {
		t.Fatalf("first execute (challenge issue) returned error: %v", err)
	}
	if !first.MFARequired {
		t.Fatalf("expected MFARequired on first attempt")
	}

	challenge, err := st.MFAChallengeForApproval(ctx, appr.ID)
	if err != nil {
		t.Fatalf("load challenge: %v", err)
	}

	second, err := p.Execute(ctx, appr.ID, "owner-1", challenge.Code)
	if err != nil {
		t.Fatalf("second execute (correct code) returned error: %v", err)
	}
	if second.Status != store.ApprovalExecuted {
		t.Fatalf("expected executed, got %s", second.Status)
	}

	if _, err := p.Execute(ctx, appr.ID, "owner-1", challenge.Code); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected replay against an executed approval to fail with ErrInvalidState, got %v", err)
	}
}

// gateMFA's own "already used" reason is reachable while the approval
// is still pending — e.g. a crash between MarkMFAVerified and the
// pending-to-approved transition leaves exactly this state. This
// exercises that branch directly, since by the time Execute's terminal-
// state guard can fire the approval is no longer pending.
func TestGateMFARejectsReplayedCodeOnPendingApproval(t *testing.T) {
	cfg := baseConfig()
	p, st, _ := newTestPipeline(t, cfg)
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r6b", Side: "buy", Symbol: "SOL", Qty: d("5"), EstUSD: d("500")}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	pending, err := st.Approvals(ctx, store.ApprovalPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending MFA approval: approvals=%v err=%v", pending, err)
	}
	appr := pending[0]

	if _, _, err := p.gateMFA(ctx, appr, ""); err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	challenge, err := st.MFAChallengeForApproval(ctx, appr.ID)
	if err != nil {
		t.Fatalf("load challenge: %v", err)
	}

	if _, ok, err := p.gateMFA(ctx, appr, challenge.Code); err != nil || !ok {
		t.Fatalf("expected first use of the code to verify: ok=%v err=%v", ok, err)
	}

	// appr is still Pending here; only the challenge was consumed.
	_, _, err = p.gateMFA(ctx, appr, challenge.Code)
	if !errors.Is(err, apperr.ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "already used") {
		t.Fatalf("expected the already-used reason, got %v", err)
	}
}

// An engaged kill-switch blocks execution at pre-flight, after Execute
// has approved the pending trade, surfacing apperr.ErrKillSwitchEngaged
// and failing the approval.
func TestExecuteBlockedByKillSwitch(t *testing.T) {
	p, st, _ := newTestPipeline(t, baseConfig())
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r7", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("50")}
	appr := p.newApproval(intent)
	appr.RequiresMFA = false
	if err := st.CreateApproval(ctx, appr); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	if err := st.SetKillSwitch(ctx, true, store.ActorSystemRisk, "test breach"); err != nil {
		t.Fatalf("engage kill switch: %v", err)
	}

	if _, err := p.Execute(ctx, appr.ID, "owner-1", ""); !errors.Is(err, apperr.ErrKillSwitchEngaged) {
		t.Fatalf("expected ErrKillSwitchEngaged, got %v", err)
	}

	failed, err := st.Approval(ctx, appr.ID)
	if err != nil {
		t.Fatalf("reload approval: %v", err)
	}
	if failed.Status != store.ApprovalFailed {
		t.Fatalf("expected approval to transition to failed, got %s", failed.Status)
	}
}

// DRY_RUN forces every execution through simulation, even a satellite
// intent that would otherwise be auto-execute eligible.
func TestExecuteSimulatesWhenDryRun(t *testing.T) {
	cfg := baseConfig()
	cfg.DryRun = true
	p, st, _ := newTestPipeline(t, cfg)
	ctx := context.Background()

	intent := rules.Intent{RuleID: "r8", Side: "buy", Symbol: "SOL", Qty: d("1"), EstUSD: d("50")}
	if err := p.Intake(ctx, []rules.Intent{intent}); err != nil {
		t.Fatalf("intake: %v", err)
	}

	pending, err := st.Approvals(ctx, store.ApprovalPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending approval under DRY_RUN: %v err=%v", pending, err)
	}

	result, err := p.Execute(ctx, pending[0].ID, "owner-1", "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != store.ApprovalSimulated {
		t.Fatalf("expected simulated under DRY_RUN, got %s", result.Status)
	}
}
