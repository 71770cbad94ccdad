package rules

import (
	"context"
	"fmt"

	"sentinel/internal/indicators"
	"sentinel/internal/store"
)

// indicatorWindow is how many price samples are fetched to feed
// rsi/sma/volatility — generous enough for the default 14-period RSI
// plus headroom for ZScore's trailing-window requirement elsewhere.
const indicatorWindow = 200

// evalContext bundles everything a condition needs to evaluate itself
// without reaching back into the store directly.
type evalContext struct {
	snapshot store.Snapshot
	prices   func(ctx context.Context, symbol string, limit int) ([]float64, error)
}

func (e *Evaluator) newEvalContext(snap store.Snapshot) evalContext {
	return evalContext{snapshot: snap, prices: e.store.RecentPrices}
}

// evaluateCondition resolves a single condition to a boolean given the snapshot
// and recent price history.
func evaluateCondition(ctx context.Context, ec evalContext, c store.Condition) (bool, error) {
	switch c.Kind {
	case "portfolioExposure":
		return evalPortfolioExposure(ec, c)
	case "priceChangePct":
		return evalPriceChangePct(ctx, ec, c)
	case "indicator":
		return evalIndicator(ctx, ec, c)
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func evalPortfolioExposure(ec evalContext, c store.Condition) (bool, error) {
	if ec.snapshot.TotalUSD.IsZero() {
		return false, nil
	}
	qty, ok := ec.snapshot.Balances[c.Symbol]
	if !ok {
		return compareFloat(0, c.Operator, c.Value)
	}
	price, ok := ec.snapshot.Prices[c.Symbol]
	if !ok {
		return false, nil
	}
	value := qty.Mul(price)
	total, _ := ec.snapshot.TotalUSD.Float64()
	v, _ := value.Float64()
	exposure := v / total * 100
	return compareFloat(exposure, c.Operator, c.Value)
}

func evalPriceChangePct(ctx context.Context, ec evalContext, c store.Condition) (bool, error) {
	period := c.Period
	if period <= 0 {
		period = 2
	}
	series, err := ec.prices(ctx, c.Symbol, period+1)
	if err != nil {
		return false, fmt.Errorf("price history for %s: %w", c.Symbol, err)
	}
	if len(series) < 2 {
		return false, nil
	}
	first, last := series[0], series[len(series)-1]
	if first == 0 {
		return false, nil
	}
	changePct := (last - first) / first * 100
	return compareFloat(changePct, c.Operator, c.Value)
}

func evalIndicator(ctx context.Context, ec evalContext, c store.Condition) (bool, error) {
	period := c.Period
	if period <= 0 {
		period = 14
	}
	series, err := ec.prices(ctx, c.Symbol, indicatorWindow)
	if err != nil {
		return false, fmt.Errorf("price history for %s: %w", c.Symbol, err)
	}

	var value float64
	switch c.Indicator {
	case "rsi":
		value = indicators.RSI(series, period)
	case "sma":
		value = indicators.SMA(series, period)
	case "volatility":
		value = indicators.VolatilityPct(series, period)
	default:
		return false, fmt.Errorf("unknown indicator %q", c.Indicator)
	}
	return compareFloat(value, c.Operator, c.Value)
}

func compareFloat(actual float64, operator string, threshold float64) (bool, error) {
	switch operator {
	case "gt":
		return actual > threshold, nil
	case "gte":
		return actual >= threshold, nil
	case "lt":
		return actual < threshold, nil
	case "lte":
		return actual <= threshold, nil
	case "eq":
		return actual == threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}
