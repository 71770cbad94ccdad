package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/apperr"
	"sentinel/internal/bus"
)

// -- Alerts -----------------------------------------------------------

// SaveAlert appends an operator-facing alert and publishes it on the bus.
func (s *Store) SaveAlert(ctx context.Context, a Alert) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (severity, source, message, created_at) VALUES (?, ?, ?, ?)
	`, a.Severity, a.Source, a.Message, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicAlert, a)
	}
	return nil
}

// RecentAlerts returns up to limit of the most recent alerts.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, severity, source, message, created_at FROM alerts
		ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.Source, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// -- Audit log ----------------------------------------------------------

// RecordAudit appends an entry to the append-only decision log. Like
// executions, audit writes are synchronous.
func (s *Store) RecordAudit(ctx context.Context, e AuditEntry) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, detail, created_at) VALUES (?, ?, ?, ?)
	`, e.Actor, e.Action, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// -- Kill switch ----------------------------------------------------------

// ReadKillSwitch returns the current engaged/disengaged state, served
// from the <=1s hot-read cache since the risk gate consults it on every
// intent.
func (s *Store) ReadKillSwitch(ctx context.Context) (KillSwitchState, error) {
	v, err := s.killSwitchCache.GetOrLoad(func() (any, error) {
		return s.loadKillSwitch(ctx)
	})
	if err != nil {
		return KillSwitchState{}, err
	}
	return v.(KillSwitchState), nil
}

func (s *Store) loadKillSwitch(ctx context.Context) (KillSwitchState, error) {
	if err := s.guard(); err != nil {
		return KillSwitchState{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT engaged, set_by, COALESCE(reason, ''), updated_at FROM kill_switch WHERE id = 1
	`)
	var st KillSwitchState
	if err := row.Scan(&st.Engaged, &st.SetBy, &st.Reason, &st.UpdatedAt); err != nil {
		return KillSwitchState{}, fmt.Errorf("scan kill switch: %w", err)
	}
	return st, nil
}

// SetKillSwitch updates engaged state and invalidates the hot cache so
// the next read (and the risk gate's next intent check) observes it
// immediately.
func (s *Store) SetKillSwitch(ctx context.Context, engaged bool, setBy KillSwitchActor, reason string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE kill_switch SET engaged = ?, set_by = ?, reason = ?, updated_at = ? WHERE id = 1
	`, engaged, setBy, reason, time.Now())
	if err != nil {
		return fmt.Errorf("update kill switch: %w", err)
	}
	s.killSwitchCache.Invalidate()
	if s.bus != nil {
		s.bus.Publish(bus.TopicKillSwitch, KillSwitchState{Engaged: engaged, SetBy: setBy, Reason: reason, UpdatedAt: time.Now()})
	}
	return nil
}

// -- MFA challenges ----------------------------------------------------

// SaveMFAChallenge persists a newly issued challenge.
func (s *Store) SaveMFAChallenge(ctx context.Context, c MFAChallenge) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, approval_id, code, verified, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ApprovalID, c.Code, c.Verified, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mfa challenge: %w", err)
	}
	return nil
}

// MFAChallenge returns a challenge by id.
func (s *Store) MFAChallenge(ctx context.Context, id string) (MFAChallenge, error) {
	if err := s.guard(); err != nil {
		return MFAChallenge{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, approval_id, code, verified, expires_at, created_at FROM mfa_challenges WHERE id = ?
	`, id)
	var c MFAChallenge
	if err := row.Scan(&c.ID, &c.ApprovalID, &c.Code, &c.Verified, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MFAChallenge{}, apperr.ErrNotFound
		}
		return MFAChallenge{}, fmt.Errorf("scan mfa challenge: %w", err)
	}
	return c, nil
}

// MFAChallengeForApproval returns the most recently issued challenge
// bound to approvalID — a challenge is not transferable between
// approvals, so callers resolve "the code for this trade" this way
// rather than by challenge id, which the caller never sees.
func (s *Store) MFAChallengeForApproval(ctx context.Context, approvalID string) (MFAChallenge, error) {
	if err := s.guard(); err != nil {
		return MFAChallenge{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, approval_id, code, verified, expires_at, created_at FROM mfa_challenges
		WHERE approval_id = ? ORDER BY created_at DESC LIMIT 1
	`, approvalID)
	var c MFAChallenge
	if err := row.Scan(&c.ID, &c.ApprovalID, &c.Code, &c.Verified, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MFAChallenge{}, apperr.ErrNotFound
		}
		return MFAChallenge{}, fmt.Errorf("scan mfa challenge: %w", err)
	}
	return c, nil
}

// MarkMFAVerified flips a challenge's verified flag exactly once: the
// compare-and-set on "verified = 0" makes replaying the same code a
// no-op instead of a second approval.
func (s *Store) MarkMFAVerified(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE mfa_challenges SET verified = 1 WHERE id = ? AND verified = 0 AND expires_at > ?
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("mark mfa verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mfa rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrMFAInvalid
	}
	return nil
}

// -- Collateral readings ------------------------------------------------

// RecordCollateral appends a new health-ratio sample.
func (s *Store) RecordCollateral(ctx context.Context, r CollateralReading) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collateral_readings (health_ratio, recorded_at) VALUES (?, ?)
	`, r.HealthRatio, r.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert collateral reading: %w", err)
	}
	return nil
}

// LatestCollateral returns the most recent health-ratio sample.
func (s *Store) LatestCollateral(ctx context.Context) (CollateralReading, error) {
	if err := s.guard(); err != nil {
		return CollateralReading{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT health_ratio, recorded_at FROM collateral_readings ORDER BY recorded_at DESC LIMIT 1
	`)
	var r CollateralReading
	if err := row.Scan(&r.HealthRatio, &r.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CollateralReading{}, apperr.ErrNotFound
		}
		return CollateralReading{}, fmt.Errorf("scan collateral reading: %w", err)
	}
	return r, nil
}

// -- Preferences ----------------------------------------------------------

// SavePreferences overwrites the singleton learning-worker output.
func (s *Store) SavePreferences(ctx context.Context, p Preferences) error {
	if err := s.guard(); err != nil {
		return err
	}
	symbols, err := json.Marshal(p.PreferredSymbols)
	if err != nil {
		return fmt.Errorf("marshal preferred symbols: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE preferences SET preferred_symbols = ?, risk_appetite = ?, profit_target_pct = ?,
			approval_rate = ?, favorite_symbol = ?, confidence = ?, sample_size = ?, updated_at = ?
		WHERE id = 1
	`, string(symbols), p.RiskAppetite, p.ProfitTargetPct, p.ApprovalRate, p.FavoriteSymbol, p.Confidence, p.SampleSize, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

// Preferences returns the current learning-worker output.
func (s *Store) Preferences(ctx context.Context) (Preferences, error) {
	if err := s.guard(); err != nil {
		return Preferences{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT preferred_symbols, risk_appetite, profit_target_pct, approval_rate,
			favorite_symbol, confidence, sample_size, updated_at
		FROM preferences WHERE id = 1
	`)
	var (
		p       Preferences
		symbols string
	)
	if err := row.Scan(&symbols, &p.RiskAppetite, &p.ProfitTargetPct, &p.ApprovalRate, &p.FavoriteSymbol, &p.Confidence, &p.SampleSize, &p.UpdatedAt); err != nil {
		return Preferences{}, fmt.Errorf("scan preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(symbols), &p.PreferredSymbols); err != nil {
		return Preferences{}, fmt.Errorf("unmarshal preferred symbols: %w", err)
	}
	return p, nil
}
