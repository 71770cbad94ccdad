package anomaly

import (
	"context"
	"fmt"
	"time"

	"sentinel/internal/adapters"
	"sentinel/internal/store"
)

// maxDecisionSample bounds the learning recompute window (spec §4.9:
// "aggregate up to 5000 recent trade decisions").
const maxDecisionSample = 5000

// RecomputePreferences aggregates recent approval decisions and upserts
// the result to the preferences state record. Failure is logged and
// surfaced as an alert but never fatal — a bad recompute leaves the
// previous preferences row untouched (spec §4.9).
func (d *Detector) RecomputePreferences(ctx context.Context) error {
	decisions, err := d.recentDecisions(ctx)
	if err != nil {
		return d.alertRecomputeFailure(ctx, err)
	}
	if len(decisions) == 0 {
		return nil
	}

	result, err := d.worker.Recompute(ctx, decisions)
	if err != nil {
		return d.alertRecomputeFailure(ctx, err)
	}

	prefs := store.Preferences{
		PreferredSymbols: topSymbols(decisions),
		RiskAppetite:     result.RiskAppetite,
		ProfitTargetPct:  result.ProfitTargetPct,
		ApprovalRate:     result.ApprovalRate,
		FavoriteSymbol:   result.FavoriteSymbol,
		Confidence:       result.Confidence,
		SampleSize:       len(decisions),
		UpdatedAt:        time.Now(),
	}
	if err := d.store.SavePreferences(ctx, prefs); err != nil {
		return d.alertRecomputeFailure(ctx, err)
	}
	return nil
}

func (d *Detector) alertRecomputeFailure(ctx context.Context, cause error) error {
	_ = d.store.SaveAlert(ctx, store.Alert{
		Severity:  store.SeverityWarning,
		Source:    "learning",
		Message:   fmt.Sprintf("preference recompute failed: %v", cause),
		CreatedAt: time.Now(),
	})
	return nil // non-fatal per spec
}

// recentDecisions turns the last maxDecisionSample approvals (any
// terminal or pending status) into the worker's input rows. Approved
// covers executed, simulated, and approved-but-not-yet-executed rows;
// declined and failed count as not approved.
func (d *Detector) recentDecisions(ctx context.Context) ([]adapters.Decision, error) {
	approvals, err := d.store.Approvals(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	if len(approvals) > maxDecisionSample {
		approvals = approvals[:maxDecisionSample]
	}

	out := make([]adapters.Decision, len(approvals))
	for i, a := range approvals {
		out[i] = adapters.Decision{
			Symbol: a.Symbol,
			Side:   a.Side,
			EstUSD: a.EstUSD,
			Approved: a.Status == store.ApprovalApproved ||
				a.Status == store.ApprovalExecuted ||
				a.Status == store.ApprovalSimulated,
		}
	}
	return out, nil
}

func topSymbols(decisions []adapters.Decision) []string {
	counts := make(map[string]int)
	for _, dec := range decisions {
		if dec.Approved {
			counts[dec.Symbol]++
		}
	}
	var out []string
	for sym, n := range counts {
		if n > 0 {
			out = append(out, sym)
		}
	}
	return out
}

// HeuristicWorker is the built-in LearningWorker used when no external
// worker is configured: plain aggregate statistics over the decision
// sample rather than a trained model, matching spec §4.9's named output
// fields exactly (risk tolerance, profit target, approval rate, favorite
// symbol, confidence).
type HeuristicWorker struct{}

func (HeuristicWorker) Recompute(ctx context.Context, decisions []adapters.Decision) (adapters.Preferences, error) {
	if len(decisions) == 0 {
		return adapters.Preferences{}, nil
	}

	approved := 0
	var totalUSD float64
	bySymbol := make(map[string]int)
	for _, dec := range decisions {
		if dec.Approved {
			approved++
			bySymbol[dec.Symbol]++
		}
		v, _ := dec.EstUSD.Float64()
		totalUSD += v
	}

	approvalRate := float64(approved) / float64(len(decisions))
	avgUSD := totalUSD / float64(len(decisions))

	favorite := ""
	best := 0
	for sym, n := range bySymbol {
		if n > best || (n == best && sym < favorite) {
			favorite, best = sym, n
		}
	}

	confidence := float64(len(decisions)) / 100
	if confidence > 1 {
		confidence = 1
	}

	return adapters.Preferences{
		RiskAppetite:    approvalRate,
		ProfitTargetPct: avgUSD / 10000 * 100, // rough scale: larger average tickets imply a higher target
		ApprovalRate:    approvalRate,
		FavoriteSymbol:  favorite,
		Confidence:      confidence,
	}, nil
}
