package anomaly

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/store"
	"sentinel/pkg/config"
)

func newTestDetector(t *testing.T) (*Detector, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "anomaly.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{AnomalySingleStepPct: 2, AnomalyZThreshold: 3}
	return New(cfg, st, nil), st
}

func seed(t *testing.T, st *store.Store, at time.Time, total float64) {
	t.Helper()
	_, err := st.SaveSnapshot(context.Background(), store.Snapshot{
		CapturedAt: at,
		Balances:   map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)},
		Prices:     map[string]decimal.Decimal{"BTC": decimal.NewFromFloat(total)},
		TotalUSD:   decimal.NewFromFloat(total),
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

// A single-step jump past the configured threshold raises a high or
// critical alert depending on magnitude.
func TestCheckAnomaliesFlagsSingleStepJump(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	seed(t, st, base, 10000)
	seed(t, st, base.Add(time.Hour), 10500) // +5%, above the 2% threshold

	if err := d.CheckAnomalies(ctx); err != nil {
		t.Fatalf("check anomalies: %v", err)
	}

	alerts, err := st.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.Source == "anomaly" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an anomaly alert for a 5%% single-step jump, got %+v", alerts)
	}
}

// A quiet 24h window with gentle drift raises no alert at all.
func TestCheckAnomaliesStaysQuietOnStableSeries(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	base := time.Now().Add(-23 * time.Hour)

	for i := 0; i < 24; i++ {
		seed(t, st, base.Add(time.Duration(i)*time.Hour), 10000+float64(i))
	}

	if err := d.CheckAnomalies(ctx); err != nil {
		t.Fatalf("check anomalies: %v", err)
	}

	alerts, err := st.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	for _, a := range alerts {
		if a.Source == "anomaly" {
			t.Fatalf("expected no anomaly alert on a stable series, got %+v", a)
		}
	}
}

// The heuristic worker's preference recompute reflects the approved
// share and the most-approved symbol in the sample.
func TestRecomputePreferencesAggregatesApprovals(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	now := time.Now()

	approvals := []store.Approval{
		{ID: "a1", RuleID: "r1", Side: "buy", Symbol: "SOL", Qty: decimal.NewFromInt(1), EstUSD: decimal.NewFromInt(100), Status: store.ApprovalExecuted, CreatedAt: now, UpdatedAt: now},
		{ID: "a2", RuleID: "r2", Side: "buy", Symbol: "SOL", Qty: decimal.NewFromInt(1), EstUSD: decimal.NewFromInt(200), Status: store.ApprovalExecuted, CreatedAt: now, UpdatedAt: now},
		{ID: "a3", RuleID: "r3", Side: "buy", Symbol: "ADA", Qty: decimal.NewFromInt(1), EstUSD: decimal.NewFromInt(50), Status: store.ApprovalDeclined, CreatedAt: now, UpdatedAt: now},
	}
	for _, a := range approvals {
		if err := st.CreateApproval(ctx, a); err != nil {
			t.Fatalf("seed approval: %v", err)
		}
	}

	if err := d.RecomputePreferences(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	prefs, err := st.Preferences(ctx)
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	if prefs.FavoriteSymbol != "SOL" {
		t.Fatalf("expected SOL as favorite symbol, got %s", prefs.FavoriteSymbol)
	}
	if prefs.SampleSize != 3 {
		t.Fatalf("expected sample size 3, got %d", prefs.SampleSize)
	}
	wantRate := 2.0 / 3.0
	if diff := prefs.ApprovalRate - wantRate; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected approval rate ~%.3f, got %.3f", wantRate, prefs.ApprovalRate)
	}
}
