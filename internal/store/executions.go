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

// SaveExecution writes an execution record synchronously: executions and
// audit entries are never batched, because they are the record of what
// actually happened to money (spec §4.2).
func (s *Store) SaveExecution(ctx context.Context, e Execution) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, approval_id, side, symbol, qty, fill_price, dry_run, success, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ApprovalID, e.Side, e.Symbol, e.Qty.String(), e.FillPrice.String(), e.DryRun, e.Success, e.Error, e.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Execution returns one execution by id.
func (s *Store) Execution(ctx context.Context, id string) (Execution, error) {
	if err := s.guard(); err != nil {
		return Execution{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, approval_id, side, symbol, qty, fill_price, dry_run, success, COALESCE(error, ''), executed_at
		FROM executions WHERE id = ?
	`, id)
	return scanExecution(row)
}

// RecentExecutions returns up to limit of the most recent successful
// executions, newest first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_id, side, symbol, qty, fill_price, dry_run, success, COALESCE(error, ''), executed_at
		FROM executions WHERE success = 1
		ORDER BY executed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExecutionsSince returns executed fills at or after from, newest last.
// The risk gate does not read it: its velocity and daily-loss counters
// are kept in memory.
func (s *Store) ExecutionsSince(ctx context.Context, from time.Time) ([]Execution, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_id, side, symbol, qty, fill_price, dry_run, success, COALESCE(error, ''), executed_at
		FROM executions WHERE executed_at >= ? AND success = 1
		ORDER BY executed_at ASC
	`, from)
	if err != nil {
		return nil, fmt.Errorf("query executions since: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AverageBuyPrice computes the volume-weighted average buy price for a
// symbol from its execution history (Open Question decision: derived
// from fills, not stored baseline metadata).
func (s *Store) AverageBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := s.guard(); err != nil {
		return decimal.Zero, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT qty, fill_price FROM executions
		WHERE symbol = ? AND side = 'buy' AND success = 1
	`, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query buy executions: %w", err)
	}
	defer rows.Close()

	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for rows.Next() {
		var qtyStr, priceStr string
		if err := rows.Scan(&qtyStr, &priceStr); err != nil {
			return decimal.Zero, fmt.Errorf("scan buy execution: %w", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse qty: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse fill_price: %w", err)
		}
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(qty.Mul(price))
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	if totalQty.IsZero() {
		return decimal.Zero, nil
	}
	return totalCost.Div(totalQty), nil
}

func scanExecution(row rowScanner) (Execution, error) {
	var (
		e                    Execution
		qty, fillPrice, errS string
	)
	if err := row.Scan(&e.ID, &e.ApprovalID, &e.Side, &e.Symbol, &qty, &fillPrice, &e.DryRun, &e.Success, &errS, &e.ExecutedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Execution{}, apperr.ErrNotFound
		}
		return Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return Execution{}, fmt.Errorf("parse execution qty: %w", err)
	}
	p, err := decimal.NewFromString(fillPrice)
	if err != nil {
		return Execution{}, fmt.Errorf("parse execution fill_price: %w", err)
	}
	e.Qty, e.FillPrice, e.Error = q, p, errS
	return e, nil
}
