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

// CreateApproval inserts a new pending approval.
func (s *Store) CreateApproval(ctx context.Context, a Approval) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, rule_id, side, symbol, qty, est_usd, status, requires_mfa, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RuleID, a.Side, a.Symbol, a.Qty.String(), a.EstUSD.String(), a.Status, a.RequiresMFA, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Approval returns one approval by id.
func (s *Store) Approval(ctx context.Context, id string) (Approval, error) {
	if err := s.guard(); err != nil {
		return Approval{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, side, symbol, qty, est_usd, status, requires_mfa, COALESCE(decided_by, ''), created_at, updated_at
		FROM approvals WHERE id = ?
	`, id)
	return scanApproval(row)
}

// Approvals lists approvals, optionally filtered by status ("" = all).
func (s *Store) Approvals(ctx context.Context, status ApprovalStatus) ([]Approval, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	query := `SELECT id, rule_id, side, symbol, qty, est_usd, status, requires_mfa, COALESCE(decided_by, ''), created_at, updated_at FROM approvals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TransitionApproval performs a compare-and-set status change: it only
// succeeds if the row's current status matches from, so two concurrent
// callers (e.g. the owner clicking "approve" while the scheduler
// auto-declines on a stale intent) cannot both win.
func (s *Store) TransitionApproval(ctx context.Context, id string, from, to ApprovalStatus, decidedBy string) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, decided_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, decidedBy, time.Now(), id, from)
	if err != nil {
		return fmt.Errorf("transition approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition approval rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrInvalidState
	}
	return nil
}

func scanApproval(row rowScanner) (Approval, error) {
	var (
		a            Approval
		qty, estUSD  string
	)
	if err := row.Scan(&a.ID, &a.RuleID, &a.Side, &a.Symbol, &qty, &estUSD, &a.Status, &a.RequiresMFA, &a.DecidedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Approval{}, apperr.ErrNotFound
		}
		return Approval{}, fmt.Errorf("scan approval: %w", err)
	}

	q, err := decimal.NewFromString(qty)
	if err != nil {
		return Approval{}, fmt.Errorf("parse approval qty: %w", err)
	}
	e, err := decimal.NewFromString(estUSD)
	if err != nil {
		return Approval{}, fmt.Errorf("parse approval est_usd: %w", err)
	}
	a.Qty, a.EstUSD = q, e
	return a, nil
}
