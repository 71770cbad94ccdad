package rules

import "github.com/shopspring/decimal"

// coreAssets are the holdings the owner treats as the portfolio's
// foundation. A rule firing against one of these is always routed
// through the approval pipeline, never auto-executed, regardless of
// AUTO_EXECUTE_ENABLED — losing BTC or XRP to a misfiring rule is a
// different order of mistake than losing a satellite position.
var coreAssets = map[string]bool{
	"BTC": true,
	"XRP": true,
}

// IsCoreAsset reports whether symbol is one of the protected core
// holdings.
func IsCoreAsset(symbol string) bool {
	return coreAssets[symbol]
}

// Intent is the trade the rule evaluator wants to make, before it has
// passed through risk gating or approval.
type Intent struct {
	RuleID           string
	RuleName         string
	Side             string
	Symbol           string
	Qty              decimal.Decimal
	EstUSD           decimal.Decimal
	CoreAsset        bool
	Reason           string
	CooldownSecs     int  // 0 = gate applies its configured default
	RequiresApproval bool // rule author demands a human in the loop regardless of thresholds
}
