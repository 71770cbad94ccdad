// Package adapters defines the capability boundaries the supervisor's
// core packages depend on, keeping rule evaluation, risk gating, and the
// approval pipeline free of direct I/O so they can be exercised with
// fakes in tests (spec §4.10). Concrete implementations live alongside
// these interfaces; generalized from pkg/exchanges/common.Gateway's
// single-method venue abstraction into the wider set of capabilities
// the supervisor needs.
package adapters

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/pkg/exchanges/common"
)

// Brokerage is the venue boundary: balances, prices, and order
// submission. The concrete implementation wraps pkg/exchanges/binance/spot;
// MockBrokerage backs dry-run and local development.
type Brokerage interface {
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error)
	CollateralHealth(ctx context.Context) (float64, error)
}

// Notifier delivers owner-facing alerts outside the HTTP/SSE surface
// (e.g. a future webhook or push channel). The supervisor only ever
// calls it fire-and-forget; failures are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, severity, message string) error
}

// Clock abstracts wall-clock time so scheduler and risk-window tests can
// control "now" instead of racing real timers.
type Clock interface {
	Now() time.Time
}

// SentimentFetcher retrieves an external market-sentiment score used as
// an optional, non-blocking rule input. A fetch failure is a neutral
// reading, not an error the caller must propagate.
type SentimentFetcher interface {
	Sentiment(ctx context.Context, symbol string) (score float64, ok bool)
}

// LearningWorker recomputes owner preferences from a window of recent
// trade decisions. Grounded on internal/strategy's WorkerClient.OnTick
// request/response shape (a narrow "hand over data, get a verdict back"
// RPC), generalized from a per-tick strategy signal to a periodic batch
// recompute; kept as a plain interface since no proto definitions for
// the gRPC wire format were part of the retrieval pack (see DESIGN.md).
type LearningWorker interface {
	Recompute(ctx context.Context, decisions []Decision) (Preferences, error)
}

// Decision is one input row to the learning worker: an approval's side,
// symbol, estimated value, and whether the owner (or an auto-execute
// rule) ultimately approved it.
type Decision struct {
	Symbol   string
	Side     string
	EstUSD   decimal.Decimal
	Approved bool
}

// Preferences is the learning worker's verdict, mirrored into
// store.Preferences by the caller.
type Preferences struct {
	RiskAppetite    float64
	ProfitTargetPct float64
	ApprovalRate    float64
	FavoriteSymbol  string
	Confidence      float64
}

// SystemClock is the real-time Clock used outside tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
