package rules

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"sentinel/internal/store"
)

func parseQtyFixed(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// fileRule is the on-disk shape of one rule in a rules YAML file —
// mirrors store.Rule but keeps QtyFixed as a string for the same
// reason store.ruleDefinition does.
type fileRule struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Enabled    bool              `yaml:"enabled"`
	Conditions []store.Condition `yaml:"conditions"`
	Match      string            `yaml:"match"`
	Action     struct {
		Side             string  `yaml:"side"`
		Symbol           string  `yaml:"symbol"`
		QtyPct           float64 `yaml:"qtyPct,omitempty"`
		QtyFixed         string  `yaml:"qtyFixed,omitempty"`
		RiskNotes        string  `yaml:"riskNotes,omitempty"`
		CooldownSecs     int     `yaml:"cooldownSecs,omitempty"`
		RequiresApproval bool    `yaml:"requiresApproval,omitempty"`
	} `yaml:"action"`
}

type rulesFile struct {
	Rules []fileRule `yaml:"rules"`
}

// LoadFile reads a rules definition file and upserts every entry into
// the persistence gateway, the same bootstrap-from-YAML shape the
// teacher used for strategy instances.
func LoadFile(ctx context.Context, st *store.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rules file: %w", err)
	}

	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("parse rules file: %w", err)
	}

	now := time.Now()
	for _, fr := range parsed.Rules {
		qtyFixed, err := parseQtyFixed(fr.Action.QtyFixed)
		if err != nil {
			return 0, fmt.Errorf("rule %s qtyFixed: %w", fr.ID, err)
		}

		r := store.Rule{
			ID:         fr.ID,
			Name:       fr.Name,
			Enabled:    fr.Enabled,
			Conditions: fr.Conditions,
			Match:      fr.Match,
			Action: store.Action{
				Side:             fr.Action.Side,
				Symbol:           fr.Action.Symbol,
				QtyPct:           fr.Action.QtyPct,
				QtyFixed:         qtyFixed,
				RiskNotes:        fr.Action.RiskNotes,
				CooldownSecs:     fr.Action.CooldownSecs,
				RequiresApproval: fr.Action.RequiresApproval,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.SaveRule(ctx, r); err != nil {
			return 0, fmt.Errorf("save rule %s: %w", fr.ID, err)
		}
	}

	return len(parsed.Rules), nil
}
