// Package risk is the Risk Gate (spec §4.5): a stateful filter every
// intent the Rule Evaluator emits must pass before it reaches the
// Approval/Execution Pipeline. Checks run in a fixed order and the
// first failure short-circuits the rest, grounded on the teacher's
// EvaluateSignal ordered-check pipeline (RWMutex-copied config, early
// return with a Reason string per violated limit).
package risk

import "github.com/shopspring/decimal"

// Reason codes surfaced to the caller and, per S1, embedded verbatim in
// rejection alerts.
const (
	CodeCooldown    = "COOLDOWN"
	CodeDrawdown    = "DRAWDOWN"
	CodeDailyLoss   = "DAILY_LOSS"
	CodeVelocity    = "VELOCITY"
	CodeCollateral  = "COLLATERAL"
	CodeMaxPosition = "MAX_POSITION"
)

// baselineCode builds the per-symbol baseline-protection reason code
// used by S1 ("BASELINE_BTC").
func baselineCode(symbol string) string {
	return "BASELINE_" + symbol
}

// Decision is the gate's verdict on one intent. Rejection is a normal
// result kind (spec §7 "exceptions for control flow → explicit result
// kinds"), never an error return.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason}
}

// minBaselineTokens floors the protected baseline for symbols whose
// natural qty can be tiny and noisy — mirrors internal/snapshot's
// seeding floor so the two components never disagree about XRP's
// protected minimum.
var minBaselineTokens = map[string]decimal.Decimal{
	"XRP": decimal.NewFromInt(10),
}
