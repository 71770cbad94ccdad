package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/apperr"
	"sentinel/internal/bus"
	"sentinel/internal/store"
	"sentinel/pkg/exchanges/common"
)

// ExecutionMode mirrors the order type the owner (or an auto-executed
// rule) requests: market fills at the live price, limit bounds slippage.
type ExecutionMode string

const (
	ModeMarket ExecutionMode = "market"
	ModeLimit  ExecutionMode = "limit"
)

// staleCachedPrice bounds how old a cached last-known price may be
// before the slippage check refuses to trust it as a live-fetch fallback.
const staleCachedPrice = 10 * time.Second

// ExecuteParams are the inputs to an execution request (spec §4.6.3).
type ExecuteParams struct {
	Side       string
	Symbol     string
	Amount     decimal.Decimal
	Mode       ExecutionMode
	LimitPrice decimal.Decimal
	Reason     string
	RuleID     string
}

// ExecuteResult is the outcome of an execution request. MFARequired is
// set on the normal "first attempt, no code yet" path — not an error —
// per spec's "MFA flow is a normal return kind, not an exceptional path".
type ExecuteResult struct {
	OK          bool
	OrderID     string
	Status      store.ApprovalStatus
	MFARequired bool
	ExpiresAt   time.Time
}

// Execute is the owner-facing (or auto-execution) entry point: resolve
// the approval, gate it through MFA if required, then run the
// pre-flight checks and call the brokerage. code is the owner-supplied
// MFA digits, empty on the first attempt.
func (p *Pipeline) Execute(ctx context.Context, approvalID, actor, code string) (ExecuteResult, error) {
	appr, err := p.store.Approval(ctx, approvalID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("load approval %s: %w", approvalID, err)
	}
	if appr.Status != store.ApprovalPending && appr.Status != store.ApprovalApproved {
		return ExecuteResult{}, apperr.ErrInvalidState
	}

	if appr.RequiresMFA {
		result, ok, err := p.gateMFA(ctx, appr, code)
		if err != nil {
			return ExecuteResult{}, err
		}
		if !ok {
			return result, err
		}
	}

	if appr.Status == store.ApprovalPending {
		if err := p.store.TransitionApproval(ctx, appr.ID, store.ApprovalPending, store.ApprovalApproved, actor); err != nil {
			return ExecuteResult{}, fmt.Errorf("approve %s: %w", appr.ID, err)
		}
		appr.Status = store.ApprovalApproved
	}

	params := ExecuteParams{
		Side:   appr.Side,
		Symbol: appr.Symbol,
		Amount: appr.Qty,
		Mode:   ModeMarket,
		RuleID: appr.RuleID,
	}
	return p.executeApproval(ctx, appr, actor, params)
}

// Approve transitions a pending approval without executing it — the
// owner confirming intent before a subsequent explicit Execute call.
func (p *Pipeline) Approve(ctx context.Context, approvalID, actor string) error {
	return p.store.TransitionApproval(ctx, approvalID, store.ApprovalPending, store.ApprovalApproved, actor)
}

// Decline rejects a pending approval; terminal, write-once.
func (p *Pipeline) Decline(ctx context.Context, approvalID, actor string) error {
	return p.store.TransitionApproval(ctx, approvalID, store.ApprovalPending, store.ApprovalDeclined, actor)
}

// executeApproval runs the §4.6.3 pre-flight checks, simulates or calls
// the brokerage, records the outcome, and transitions the approval to
// its terminal state. Any pre-flight failure or brokerage error fails
// the approval to `failed` and is returned as an error, never leaving
// the row stuck in `approved`.
func (p *Pipeline) executeApproval(ctx context.Context, appr store.Approval, actor string, params ExecuteParams) (ExecuteResult, error) {
	if err := p.preflight(ctx, params); err != nil {
		p.fail(ctx, appr, actor, err)
		return ExecuteResult{}, err
	}

	simulate := p.cfg.DryRun || p.cfg.OwnerID == ""

	if simulate {
		orderID := "dry-run-" + uuid.NewString()
		p.complete(ctx, appr, actor, store.ApprovalSimulated, params, orderID, decimal.Zero, true, nil)
		return ExecuteResult{OK: true, OrderID: orderID, Status: store.ApprovalSimulated}, nil
	}

	req := common.OrderRequest{
		Symbol: params.Symbol,
		Side:   common.Side(strings.ToUpper(params.Side)),
		Type:   common.OrderTypeMarket,
		Qty:    mustFloat(params.Amount),
		Market: common.MarketSpot,
	}
	if params.Mode == ModeLimit {
		req.Type = common.OrderTypeLimit
		req.Price = mustFloat(params.LimitPrice)
		req.TimeInForce = common.TIFGTC
	}

	result, err := p.brokerage.SubmitOrder(ctx, req)
	if err != nil {
		wrapped := fmt.Errorf("submit order: %w", err)
		p.fail(ctx, appr, actor, wrapped)
		return ExecuteResult{}, wrapped
	}

	fillPrice := decimal.Zero
	if prices, perr := p.brokerage.Prices(ctx, []string{params.Symbol}); perr == nil {
		fillPrice = prices[params.Symbol]
	} else if p.prices != nil {
		if cached, _, ok := p.prices.GetWithAge(params.Symbol); ok {
			fillPrice = decimal.NewFromFloat(cached)
		}
	}

	p.complete(ctx, appr, actor, store.ApprovalExecuted, params, result.ExchangeOrderID, fillPrice, false, nil)
	return ExecuteResult{OK: true, OrderID: result.ExchangeOrderID, Status: store.ApprovalExecuted}, nil
}

// preflight re-evaluates the conditions an intent may have passed
// minutes ago, at the moment money actually moves (spec §4.6.3):
// kill-switch, slippage bound on limit orders, live sell-side balance,
// and a velocity/daily-loss re-check via the risk gate.
func (p *Pipeline) preflight(ctx context.Context, params ExecuteParams) error {
	ks, err := p.store.ReadKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	}
	if ks.Engaged {
		return apperr.ErrKillSwitchEngaged
	}

	if params.Mode == ModeLimit {
		if !params.LimitPrice.IsPositive() {
			return fmt.Errorf("limit order requires a positive limitPrice")
		}
		prices, err := p.brokerage.Prices(ctx, []string{params.Symbol})
		price := decimal.Zero
		switch {
		case err == nil:
			price = prices[params.Symbol]
		case p.prices != nil:
			if cached, age, ok := p.prices.GetWithAge(params.Symbol); ok && age < staleCachedPrice {
				price = decimal.NewFromFloat(cached)
			} else {
				return fmt.Errorf("fetch price for slippage check: %w", err)
			}
		default:
			return fmt.Errorf("fetch price for slippage check: %w", err)
		}
		if price.IsPositive() {
			slip := price.Sub(params.LimitPrice).Abs().Div(price)
			s, _ := slip.Float64()
			if s > p.cfg.MaxSlippagePct {
				return fmt.Errorf("slippage %.4f exceeds max %.4f", s, p.cfg.MaxSlippagePct)
			}
		}
	}

	if params.Side == "sell" {
		balances, err := p.brokerage.Balances(ctx)
		if err != nil {
			return fmt.Errorf("fetch balances for sell check: %w", err)
		}
		if balances[params.Symbol].LessThan(params.Amount) {
			return fmt.Errorf("live balance %s below sell amount %s", balances[params.Symbol], params.Amount)
		}
	}

	decision, err := p.risk.Preflight(ctx)
	if err != nil {
		return fmt.Errorf("risk preflight: %w", err)
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", apperr.ErrRiskRejected, decision.Reason)
	}

	return nil
}

// complete persists the Execution row, folds the result into the risk
// gate's running state, transitions the approval to its terminal
// status, and publishes the result on the bus — the same
// publish-then-persist-then-publish shape internal/order's Executor
// used around a real order fill.
func (p *Pipeline) complete(ctx context.Context, appr store.Approval, actor string, status store.ApprovalStatus, params ExecuteParams, orderID string, fillPrice decimal.Decimal, dryRun bool, execErr error) {
	now := p.clock.Now()
	p.bus.Publish(bus.TopicTradeSubmitted, map[string]any{"approvalId": appr.ID, "orderId": orderID})

	exec := store.Execution{
		ID:         uuid.NewString(),
		ApprovalID: appr.ID,
		Side:       params.Side,
		Symbol:     params.Symbol,
		Qty:        params.Amount,
		FillPrice:  fillPrice,
		DryRun:     dryRun,
		Success:    execErr == nil,
		ExecutedAt: now,
	}
	if execErr != nil {
		exec.Error = execErr.Error()
	}
	if err := p.store.SaveExecution(ctx, exec); err != nil {
		exec.Error = fmt.Sprintf("save execution: %v", err)
	}

	// pnl is left at zero here: this model has no per-fill realized
	// pnl signal (the exchange capability reports a fill, not a
	// closed round-trip). This is the only RecordExecution call in the
	// process and there is no profit-taking scanner, so live fills never
	// move the gate's daily-loss counter.
	p.risk.RecordExecution(params.RuleID, params.Symbol, params.Side, decimal.Zero)

	if err := p.store.TransitionApproval(ctx, appr.ID, appr.Status, status, actor); err != nil {
		_ = p.store.RecordAudit(ctx, store.AuditEntry{Actor: actor, Action: "transition_failed", Detail: err.Error(), CreatedAt: now})
	}

	_ = p.store.RecordAudit(ctx, store.AuditEntry{
		Actor:     actor,
		Action:    "execute",
		Detail:    fmt.Sprintf("approval=%s status=%s order=%s", appr.ID, status, orderID),
		CreatedAt: now,
	})

	p.bus.Publish(bus.TopicTradeResult, exec)
	p.bus.Publish(bus.TopicApprovalUpdated, map[string]any{"id": appr.ID, "status": status})
}

func (p *Pipeline) fail(ctx context.Context, appr store.Approval, actor string, cause error) {
	now := p.clock.Now()
	if err := p.store.TransitionApproval(ctx, appr.ID, appr.Status, store.ApprovalFailed, actor); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		_ = p.store.RecordAudit(ctx, store.AuditEntry{Actor: actor, Action: "transition_failed", Detail: err.Error(), CreatedAt: now})
	}
	_ = p.store.RecordAudit(ctx, store.AuditEntry{
		Actor:     actor,
		Action:    "execute_failed",
		Detail:    fmt.Sprintf("approval=%s cause=%s", appr.ID, cause),
		CreatedAt: now,
	})
	p.bus.Publish(bus.TopicApprovalUpdated, map[string]any{"id": appr.ID, "status": store.ApprovalFailed})
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
