package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"sentinel/internal/apperr"
)

// yamlAction mirrors Action with QtyFixed as a string: shopspring/decimal's
// YAML (un)marshaler targets yaml.v2's interface, not yaml.v3's, so
// decimal fields are round-tripped as plain strings here instead.
type yamlAction struct {
	Side             string  `yaml:"side"`
	Symbol           string  `yaml:"symbol"`
	QtyPct           float64 `yaml:"qtyPct,omitempty"`
	QtyFixed         string  `yaml:"qtyFixed,omitempty"`
	RiskNotes        string  `yaml:"riskNotes,omitempty"`
	CooldownSecs     int     `yaml:"cooldownSecs,omitempty"`
	RequiresApproval bool    `yaml:"requiresApproval,omitempty"`
}

// ruleDefinition is the YAML-serialized body of a Rule: everything but
// its id/enabled flag/timestamps, which live in dedicated columns so
// they can be filtered and indexed without parsing the body.
type ruleDefinition struct {
	Name       string      `yaml:"name"`
	Conditions []Condition `yaml:"conditions"`
	Match      string      `yaml:"match"`
	Action     yamlAction  `yaml:"action"`
}

// SaveRule upserts a rule definition.
func (s *Store) SaveRule(ctx context.Context, r Rule) error {
	if err := s.guard(); err != nil {
		return err
	}

	def := ruleDefinition{
		Name:       r.Name,
		Conditions: r.Conditions,
		Match:      r.Match,
		Action: yamlAction{
			Side:             r.Action.Side,
			Symbol:           r.Action.Symbol,
			QtyPct:           r.Action.QtyPct,
			QtyFixed:         r.Action.QtyFixed.String(),
			RiskNotes:        r.Action.RiskNotes,
			CooldownSecs:     r.Action.CooldownSecs,
			RequiresApproval: r.Action.RequiresApproval,
		},
	}
	body, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, enabled, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.Enabled, string(body), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}

	s.rulesCache.Invalidate()
	return nil
}

// Rule returns a single rule by id.
func (s *Store) Rule(ctx context.Context, id string) (Rule, error) {
	if err := s.guard(); err != nil {
		return Rule{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, definition, created_at, updated_at FROM rules WHERE id = ?
	`, id)
	return scanRule(row)
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.rulesCache.Invalidate()
	return nil
}

// Rules returns every rule regardless of enabled state.
func (s *Store) Rules(ctx context.Context) ([]Rule, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, `SELECT id, name, enabled, definition, created_at, updated_at FROM rules`)
}

// EnabledRules returns only enabled rules, served from the <=1s hot-read
// cache (these are read on every evaluation tick).
func (s *Store) EnabledRules(ctx context.Context) ([]Rule, error) {
	v, err := s.rulesCache.GetOrLoad(func() (any, error) {
		return s.queryRules(ctx, `SELECT id, name, enabled, definition, created_at, updated_at FROM rules WHERE enabled = 1`)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Rule), nil
}

func (s *Store) queryRules(ctx context.Context, query string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (Rule, error) {
	var (
		r    Rule
		body string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Enabled, &body, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rule{}, apperr.ErrNotFound
		}
		return Rule{}, fmt.Errorf("scan rule: %w", err)
	}

	var def ruleDefinition
	if err := yaml.Unmarshal([]byte(body), &def); err != nil {
		return Rule{}, fmt.Errorf("unmarshal rule definition: %w", err)
	}

	qtyFixed := decimal.Zero
	if def.Action.QtyFixed != "" {
		parsed, err := decimal.NewFromString(def.Action.QtyFixed)
		if err != nil {
			return Rule{}, fmt.Errorf("parse action qtyFixed: %w", err)
		}
		qtyFixed = parsed
	}

	r.Conditions, r.Match = def.Conditions, def.Match
	r.Action = Action{
		Side:             def.Action.Side,
		Symbol:           def.Action.Symbol,
		QtyPct:           def.Action.QtyPct,
		QtyFixed:         qtyFixed,
		RiskNotes:        def.Action.RiskNotes,
		CooldownSecs:     def.Action.CooldownSecs,
		RequiresApproval: def.Action.RequiresApproval,
	}
	return r, nil
}
