package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/apperr"
)

// SaveSnapshot persists a new portfolio capture and refreshes the hot cache.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	balances, err := json.Marshal(decimalMap(snap.Balances))
	if err != nil {
		return 0, fmt.Errorf("marshal balances: %w", err)
	}
	prices, err := json.Marshal(decimalMap(snap.Prices))
	if err != nil {
		return 0, fmt.Errorf("marshal prices: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (captured_at, balances, prices, total_usd)
		VALUES (?, ?, ?, ?)
	`, snap.CapturedAt, string(balances), string(prices), snap.TotalUSD.String())
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}
	snap.ID = id
	s.snapshotCache.Set(snap)
	return id, nil
}

// LatestSnapshot returns the most recent capture, served from the <=1s
// hot-read cache when possible (spec §4.2).
func (s *Store) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	v, err := s.snapshotCache.GetOrLoad(func() (any, error) {
		return s.loadLatestSnapshot(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (s *Store) loadLatestSnapshot(ctx context.Context) (Snapshot, error) {
	if err := s.guard(); err != nil {
		return Snapshot{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, captured_at, balances, prices, total_usd
		FROM snapshots ORDER BY captured_at DESC LIMIT 1
	`)

	var (
		snap                  Snapshot
		balances, prices, usd string
	)
	if err := row.Scan(&snap.ID, &snap.CapturedAt, &balances, &prices, &usd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, apperr.ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	bal, err := parseDecimalMap(balances)
	if err != nil {
		return Snapshot{}, err
	}
	pr, err := parseDecimalMap(prices)
	if err != nil {
		return Snapshot{}, err
	}
	total, err := decimal.NewFromString(usd)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse total_usd: %w", err)
	}

	snap.Balances = bal
	snap.Prices = pr
	snap.TotalUSD = total
	return snap, nil
}

// SnapshotsSince returns captures at or after from, oldest first, used for
// 24h delta and anomaly z-score windows.
func (s *Store) SnapshotsSince(ctx context.Context, from time.Time) ([]Snapshot, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, captured_at, balances, prices, total_usd
		FROM snapshots WHERE captured_at >= ?
		ORDER BY captured_at ASC
	`, from)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap                  Snapshot
			balances, prices, usd string
		)
		if err := rows.Scan(&snap.ID, &snap.CapturedAt, &balances, &prices, &usd); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		bal, err := parseDecimalMap(balances)
		if err != nil {
			return nil, err
		}
		pr, err := parseDecimalMap(prices)
		if err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(usd)
		if err != nil {
			return nil, fmt.Errorf("parse total_usd: %w", err)
		}
		snap.Balances, snap.Prices, snap.TotalUSD = bal, pr, total
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RecentPrices returns up to limit of the most recent prices recorded
// for symbol, oldest first — the window the rule evaluator and anomaly
// detector compute indicators over.
func (s *Store) RecentPrices(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT prices FROM snapshots ORDER BY captured_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent prices: %w", err)
	}
	defer rows.Close()

	var reversed []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan recent price row: %w", err)
		}
		pm, err := parseDecimalMap(raw)
		if err != nil {
			return nil, err
		}
		price, ok := pm[symbol]
		if !ok {
			continue
		}
		f, _ := price.Float64()
		reversed = append(reversed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]float64, len(reversed))
	for i, v := range reversed {
		out[len(out)-1-i] = v
	}
	return out, nil
}

func decimalMap(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func parseDecimalMap(raw string) (map[string]decimal.Decimal, error) {
	var strs map[string]string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, fmt.Errorf("unmarshal decimal map: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(strs))
	for k, v := range strs {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}
