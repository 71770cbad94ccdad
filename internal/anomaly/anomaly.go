// Package anomaly is the Anomaly & Learning loop (spec §4.9): a 24h
// z-score and single-step outlier check over the portfolio's USD total,
// and a periodic recompute of owner trading preferences. Grounded on
// internal/indicators' stddev/mean helpers (the teacher's Bollinger-band
// math, reused here for the z-score) and internal/strategy's narrow
// worker request/response shape, generalized into a batch recompute.
package anomaly

import (
	"context"
	"fmt"
	"time"

	"sentinel/internal/adapters"
	"sentinel/internal/indicators"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

const (
	anomalyWindow  = 24 * time.Hour
	zScorePeriod   = 23 // 24 points = 23-point baseline + 1 latest
)

// Detector runs the anomaly check and the learning recompute on the
// cadences the Scheduler Supervisor assigns them (5 min and 60 min by
// default).
type Detector struct {
	cfg    *config.Config
	store  *store.Store
	worker adapters.LearningWorker
}

func New(cfg *config.Config, st *store.Store, worker adapters.LearningWorker) *Detector {
	if worker == nil {
		worker = HeuristicWorker{}
	}
	return &Detector{cfg: cfg, store: st, worker: worker}
}

// CheckAnomalies computes the USD total per snapshot over the trailing
// 24h and raises alerts for single-step jumps and statistical outliers.
// Both checks may fire on the same tick (spec §4.9).
func (d *Detector) CheckAnomalies(ctx context.Context) error {
	snaps, err := d.store.SnapshotsSince(ctx, time.Now().Add(-anomalyWindow))
	if err != nil {
		return fmt.Errorf("load snapshot window: %w", err)
	}
	if len(snaps) < 2 {
		return nil // nothing to compare yet
	}

	totals := make([]float64, len(snaps))
	for i, s := range snaps {
		totals[i], _ = s.TotalUSD.Float64()
	}

	if err := d.checkSingleStep(ctx, totals); err != nil {
		return err
	}
	return d.checkZScore(ctx, totals)
}

func (d *Detector) checkSingleStep(ctx context.Context, totals []float64) error {
	prev, latest := totals[len(totals)-2], totals[len(totals)-1]
	if prev == 0 {
		return nil
	}
	pct := (latest - prev) / prev * 100
	threshold := d.cfg.AnomalySingleStepPct
	if threshold <= 0 || abs(pct) < threshold {
		return nil
	}

	severity := store.SeverityHigh
	if abs(pct) >= threshold*2 {
		severity = store.SeverityCritical
	}
	return d.store.SaveAlert(ctx, store.Alert{
		Severity:  severity,
		Source:    "anomaly",
		Message:   fmt.Sprintf("portfolio value moved %.2f%% in one step (prev %.2f, latest %.2f)", pct, prev, latest),
		CreatedAt: time.Now(),
	})
}

func (d *Detector) checkZScore(ctx context.Context, totals []float64) error {
	period := zScorePeriod
	if len(totals)-1 < period {
		period = len(totals) - 1
	}
	if period < 2 {
		return nil
	}
	z := indicators.ZScore(totals, period)
	threshold := d.cfg.AnomalyZThreshold
	if threshold <= 0 || abs(z) < threshold {
		return nil
	}
	return d.store.SaveAlert(ctx, store.Alert{
		Severity:  store.SeverityWarning,
		Source:    "anomaly",
		Message:   fmt.Sprintf("portfolio value z-score %.2f against 24h window (threshold %.2f)", z, threshold),
		CreatedAt: time.Now(),
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
