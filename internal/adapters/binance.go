package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/pkg/exchanges/binance/spot"
	"sentinel/pkg/exchanges/common"
)

// BinanceBrokerage adapts pkg/exchanges/binance/spot's signed client into
// the Brokerage capability, adding the public unsigned ticker-price
// endpoint the spot client does not expose. Collateral health calls no
// endpoint (see CollateralHealth).
type BinanceBrokerage struct {
	client     *spot.Client
	httpClient *http.Client
	baseURL    string
}

// NewBinanceBrokerage wraps a configured spot client.
func NewBinanceBrokerage(client *spot.Client, testnet bool) *BinanceBrokerage {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return &BinanceBrokerage{
		client:     client,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    base,
	}
}

// Balances returns free+locked balances per asset with a non-zero
// quantity.
func (b *BinanceBrokerage) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	info, err := b.client.GetAccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance balances: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(info.Balances))
	for _, bal := range info.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			continue
		}
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		out[bal.Asset] = total
	}
	return out, nil
}

// Prices fetches the latest ticker price for each symbol via Binance's
// unsigned /api/v3/ticker/price endpoint.
func (b *BinanceBrokerage) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		price, err := b.tickerPrice(ctx, sym+"USDT")
		if err != nil {
			continue // a single bad symbol shouldn't fail the whole snapshot tick
		}
		out[sym] = price
	}
	return out, nil
}

func (b *BinanceBrokerage) tickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/v3/ticker/price?symbol="+symbol, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("ticker price status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker price: %w", err)
	}
	return decimal.NewFromString(out.Price)
}

// SubmitOrder delegates straight to the signed client.
func (b *BinanceBrokerage) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return b.client.SubmitOrder(ctx, req)
}

// CollateralHealth reports the account-wide margin health ratio. Spot
// accounts have no margin concept, so a healthy constant is returned;
// this is the seam a future margin/futures brokerage would override.
func (b *BinanceBrokerage) CollateralHealth(ctx context.Context) (float64, error) {
	return 999, nil
}

var _ Brokerage = (*BinanceBrokerage)(nil)
