package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/apperr"
)

// SeedBaseline inserts a baseline only if one does not already exist for
// the symbol (spec §4.3: baseline is seeded once, not overwritten on
// every snapshot).
func (s *Store) SeedBaseline(ctx context.Context, b Baseline) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO baselines (symbol, qty, peak_usd, seeded_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.Symbol, b.Qty.String(), b.PeakUSD.String(), b.SeededAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("seed baseline: %w", err)
	}
	return nil
}

// UpdatePeak raises the recorded peak for a symbol if newPeak is higher.
func (s *Store) UpdatePeak(ctx context.Context, symbol string, newPeak decimal.Decimal) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE baselines SET peak_usd = ?, updated_at = ?
		WHERE symbol = ? AND CAST(peak_usd AS REAL) < CAST(? AS REAL)
	`, newPeak.String(), time.Now(), symbol, newPeak.String())
	if err != nil {
		return fmt.Errorf("update baseline peak: %w", err)
	}
	return nil
}

// Baseline returns the stored baseline for a symbol.
func (s *Store) Baseline(ctx context.Context, symbol string) (Baseline, error) {
	if err := s.guard(); err != nil {
		return Baseline{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, qty, peak_usd, seeded_at, updated_at FROM baselines WHERE symbol = ?
	`, symbol)

	var (
		b            Baseline
		qty, peakUSD string
	)
	if err := row.Scan(&b.Symbol, &qty, &peakUSD, &b.SeededAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Baseline{}, apperr.ErrNotFound
		}
		return Baseline{}, fmt.Errorf("scan baseline: %w", err)
	}

	q, err := decimal.NewFromString(qty)
	if err != nil {
		return Baseline{}, fmt.Errorf("parse baseline qty: %w", err)
	}
	p, err := decimal.NewFromString(peakUSD)
	if err != nil {
		return Baseline{}, fmt.Errorf("parse baseline peak: %w", err)
	}
	b.Qty, b.PeakUSD = q, p
	return b, nil
}

// Baselines returns every stored baseline.
func (s *Store) Baselines(ctx context.Context) ([]Baseline, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, qty, peak_usd, seeded_at, updated_at FROM baselines`)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		var (
			b            Baseline
			qty, peakUSD string
		)
		if err := rows.Scan(&b.Symbol, &qty, &peakUSD, &b.SeededAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("parse baseline qty: %w", err)
		}
		p, err := decimal.NewFromString(peakUSD)
		if err != nil {
			return nil, fmt.Errorf("parse baseline peak: %w", err)
		}
		b.Qty, b.PeakUSD = q, p
		out = append(out, b)
	}
	return out, rows.Err()
}
