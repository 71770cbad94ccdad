// Package rules is the Rule Evaluator (spec §4.4): a declarative
// condition/action DSL checked against the latest snapshot on every
// evaluation tick. Grounded on internal/strategy's OnTick signal shape,
// generalized from hardcoded Go strategies into data-driven rules so
// the owner can add one without a deploy.
package rules

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sentinel/internal/store"
)

// Evaluator checks every enabled rule against the latest snapshot and
// emits an Intent for each one whose conditions are satisfied.
type Evaluator struct {
	store *store.Store
}

// New builds a rule evaluator backed by the persistence gateway.
func New(st *store.Store) *Evaluator {
	return &Evaluator{store: st}
}

// Evaluate is the task the scheduler invokes once per tick.
func (e *Evaluator) Evaluate(ctx context.Context) ([]Intent, error) {
	rules, err := e.store.EnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	snap, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	ec := e.newEvalContext(snap)

	var intents []Intent
	for _, r := range rules {
		fired, err := e.fires(ctx, ec, r)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %s: %w", r.ID, err)
		}
		if !fired {
			continue
		}
		intents = append(intents, buildIntent(r, snap))
	}
	return intents, nil
}

// EvaluateDryRun checks a candidate rule (not necessarily persisted)
// against the latest snapshot without creating an intent or touching
// storage — the one-shot check the API's rule editor uses before the
// owner saves a new rule (spec §6.1 POST /rules/evaluate).
func (e *Evaluator) EvaluateDryRun(ctx context.Context, r store.Rule) (fired bool, intent *Intent, err error) {
	snap, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("latest snapshot: %w", err)
	}
	ec := e.newEvalContext(snap)

	fired, err = e.fires(ctx, ec, r)
	if err != nil {
		return false, nil, fmt.Errorf("evaluate rule: %w", err)
	}
	if !fired {
		return false, nil, nil
	}
	built := buildIntent(r, snap)
	return true, &built, nil
}

// fires reports whether rule r's conditions are satisfied given ec,
// honoring the rule's match mode ("all" requires every condition to
// hold, "any" requires at least one; "all" is the default for an empty
// or unrecognized match mode since a rule with one misconfigured
// condition should not fire by accident).
func (e *Evaluator) fires(ctx context.Context, ec evalContext, r store.Rule) (bool, error) {
	if len(r.Conditions) == 0 {
		return false, nil
	}

	matchAny := r.Match == "any"
	for _, c := range r.Conditions {
		ok, err := evaluateCondition(ctx, ec, c)
		if err != nil {
			return false, err
		}
		if ok && matchAny {
			return true, nil
		}
		if !ok && !matchAny {
			return false, nil
		}
	}
	return !matchAny, nil
}

func buildIntent(r store.Rule, snap store.Snapshot) Intent {
	qty := r.Action.QtyFixed
	if r.Action.QtyPct > 0 {
		if bal, ok := snap.Balances[r.Action.Symbol]; ok {
			qty = bal.Mul(decimal.NewFromFloat(r.Action.QtyPct / 100))
		}
	}

	estUSD := decimal.Zero
	if price, ok := snap.Prices[r.Action.Symbol]; ok {
		estUSD = qty.Mul(price)
	}

	return Intent{
		RuleID:           r.ID,
		RuleName:         r.Name,
		Side:             r.Action.Side,
		Symbol:           r.Action.Symbol,
		Qty:              qty,
		EstUSD:           estUSD,
		CoreAsset:        IsCoreAsset(r.Action.Symbol),
		Reason:           r.Action.RiskNotes,
		CooldownSecs:     r.Action.CooldownSecs,
		RequiresApproval: r.Action.RequiresApproval,
	}
}
