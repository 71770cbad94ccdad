package adapters

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"sentinel/pkg/exchanges/common"
)

// MockBrokerage is a synthetic venue for local development and DRY_RUN
// testing: a random-walk price generator with in-memory balances,
// adapted from the teacher's random-walk MockFeed.
type MockBrokerage struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	prices   map[string]decimal.Decimal
	step     float64
}

// NewMockBrokerage seeds balances and starting prices for symbols.
func NewMockBrokerage(balances map[string]decimal.Decimal, startPrices map[string]decimal.Decimal) *MockBrokerage {
	bal := make(map[string]decimal.Decimal, len(balances))
	for k, v := range balances {
		bal[k] = v
	}
	pr := make(map[string]decimal.Decimal, len(startPrices))
	for k, v := range startPrices {
		pr[k] = v
	}
	return &MockBrokerage{balances: bal, prices: pr, step: 0.01}
}

func (m *MockBrokerage) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

// Prices returns the current synthetic price for each symbol, advancing
// a bounded random walk (+/- step, a fraction of the price: 1% by
// default) on every call.
func (m *MockBrokerage) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		price, ok := m.prices[sym]
		if !ok {
			price = decimal.NewFromInt(100)
		}
		pct := (rand.Float64()*2 - 1) * m.step
		price = price.Add(price.Mul(decimal.NewFromFloat(pct)))
		m.prices[sym] = price
		out[sym] = price
	}
	return out, nil
}

// SubmitOrder simulates an immediate fill at the current synthetic
// price and updates in-memory balances.
func (m *MockBrokerage) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price := m.prices[req.Symbol]
	if price.IsZero() {
		price = decimal.NewFromFloat(req.Price)
	}
	qty := decimal.NewFromFloat(req.Qty)

	if req.Side == common.SideBuy {
		m.balances[req.Symbol] = m.balances[req.Symbol].Add(qty)
	} else {
		m.balances[req.Symbol] = m.balances[req.Symbol].Sub(qty)
	}

	return common.OrderResult{
		ExchangeOrderID: "mock-" + req.ClientID,
		Status:          common.StatusFilled,
		ClientID:        req.ClientID,
	}, nil
}

// CollateralHealth always reports a healthy ratio for the mock venue.
func (m *MockBrokerage) CollateralHealth(ctx context.Context) (float64, error) {
	return 999, nil
}

var _ Brokerage = (*MockBrokerage)(nil)
