package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one capture of the owner's portfolio at an instant (spec §4.3).
type Snapshot struct {
	ID         int64                      `json:"id"`
	CapturedAt time.Time                  `json:"capturedAt"`
	Balances   map[string]decimal.Decimal `json:"balances"`
	Prices     map[string]decimal.Decimal `json:"prices"`
	TotalUSD   decimal.Decimal            `json:"totalUsd"`
}

// Baseline is the reference point drawdown and exposure checks measure
// against (spec §4.3, §4.5).
type Baseline struct {
	Symbol    string          `json:"symbol"`
	Qty       decimal.Decimal `json:"qty"`
	PeakUSD   decimal.Decimal `json:"peakUsd"`
	SeededAt  time.Time       `json:"seededAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Condition is one leaf of a rule's boolean expression (spec §4.4).
type Condition struct {
	Kind      string  `json:"kind"` // portfolioExposure | priceChangePct | indicator
	Symbol    string  `json:"symbol,omitempty"`
	Indicator string  `json:"indicator,omitempty"` // rsi | sma | volatility
	Period    int     `json:"period,omitempty"`
	Operator  string  `json:"operator"` // gt | gte | lt | lte | eq
	Value     float64 `json:"value"`
}

// Action describes the trade intent a rule emits when it fires.
type Action struct {
	Side             string          `json:"side"` // buy | sell
	Symbol           string          `json:"symbol"`
	QtyPct           float64         `json:"qtyPct,omitempty"`
	QtyFixed         decimal.Decimal `json:"qtyFixed,omitempty"`
	RiskNotes        string          `json:"riskNotes,omitempty"`
	CooldownSecs     int             `json:"cooldownSecs,omitempty"` // 0 = gate default
	RequiresApproval bool            `json:"requiresApproval,omitempty"`
}

// Rule is a declarative condition-action pair evaluated against the
// latest snapshot (spec §4.4).
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Conditions []Condition `json:"conditions"`
	Match      string      `json:"match"` // "all" | "any"
	Action     Action      `json:"action"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ApprovalStatus is the state-machine status of an Approval.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalDeclined  ApprovalStatus = "declined"
	ApprovalExecuted  ApprovalStatus = "executed"
	ApprovalSimulated ApprovalStatus = "simulated"
	ApprovalFailed    ApprovalStatus = "failed"
)

// Approval is a trade intent awaiting owner or automatic confirmation
// before it is handed to the brokerage adapter (spec §4.6).
type Approval struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"ruleId"`
	Side        string          `json:"side"`
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"`
	EstUSD      decimal.Decimal `json:"estUsd"`
	Status      ApprovalStatus  `json:"status"`
	RequiresMFA bool            `json:"requiresMfa"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	DecidedBy   string          `json:"decidedBy,omitempty"`
}

// Execution records the outcome of carrying out an approval.
type Execution struct {
	ID         string          `json:"id"`
	ApprovalID string          `json:"approvalId"`
	Side       string          `json:"side"`
	Symbol     string          `json:"symbol"`
	Qty        decimal.Decimal `json:"qty"`
	FillPrice  decimal.Decimal `json:"fillPrice"`
	DryRun     bool            `json:"dryRun"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Severity levels an Alert can carry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing notice emitted by risk, kill-switch, or
// anomaly detection.
type Alert struct {
	ID        int64     `json:"id"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditEntry is an append-only record of a decision point (who decided
// what, and why) kept for post-hoc review.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// KillSwitchActor identifies who last changed kill-switch state.
type KillSwitchActor string

const (
	ActorOwner      KillSwitchActor = "owner"
	ActorSystemRisk KillSwitchActor = "system:risk"
)

// KillSwitchState is the current engaged/disengaged status.
type KillSwitchState struct {
	Engaged   bool            `json:"engaged"`
	SetBy     KillSwitchActor `json:"setBy"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MFAChallenge is a short-lived confirmation code gating a high-value
// execution (spec §4.6).
type MFAChallenge struct {
	ID         string    `json:"id"`
	ApprovalID string    `json:"approvalId"`
	Code       string    `json:"-"`
	Verified   bool      `json:"verified"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CollateralReading is a point-in-time health-ratio sample used by the
// collateral risk check.
type CollateralReading struct {
	HealthRatio float64   `json:"healthRatio"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Preferences holds the learning worker's periodically recomputed
// trading biases (spec §4.9): risk tolerance, preferred profit target,
// approval rate, favorite symbol, and a confidence figure that grows
// with sample size.
type Preferences struct {
	PreferredSymbols []string  `json:"preferredSymbols"`
	RiskAppetite     float64   `json:"riskAppetite"`
	ProfitTargetPct  float64   `json:"profitTargetPct"`
	ApprovalRate     float64   `json:"approvalRate"`
	FavoriteSymbol   string    `json:"favoriteSymbol"`
	Confidence       float64   `json:"confidence"`
	SampleSize       int       `json:"sampleSize"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
