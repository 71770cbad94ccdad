package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/store"
)

type conditionRequest struct {
	Kind      string  `json:"kind" binding:"required"`
	Symbol    string  `json:"symbol"`
	Indicator string  `json:"indicator"`
	Period    int     `json:"period"`
	Operator  string  `json:"operator" binding:"required"`
	Value     float64 `json:"value"`
}

type actionRequest struct {
	Side             string  `json:"side" binding:"required,oneof=buy sell"`
	Symbol           string  `json:"symbol" binding:"required"`
	QtyPct           float64 `json:"qtyPct"`
	QtyFixed         string  `json:"qtyFixed"`
	RiskNotes        string  `json:"riskNotes"`
	CooldownSecs     int     `json:"cooldownSecs"`
	RequiresApproval bool    `json:"requiresApproval"`
}

type saveRuleRequest struct {
	ID         string             `json:"id"`
	Name       string             `json:"name" binding:"required"`
	Enabled    bool               `json:"enabled"`
	Conditions []conditionRequest `json:"conditions" binding:"required,min=1"`
	Match      string             `json:"match"`
	Action     actionRequest      `json:"action" binding:"required"`
}

func (req saveRuleRequest) toRule() (store.Rule, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	qtyFixed := decimal.Zero
	if req.Action.QtyFixed != "" {
		parsed, err := decimal.NewFromString(req.Action.QtyFixed)
		if err != nil {
			return store.Rule{}, err
		}
		qtyFixed = parsed
	}

	conditions := make([]store.Condition, len(req.Conditions))
	for i, cr := range req.Conditions {
		conditions[i] = store.Condition{
			Kind: cr.Kind, Symbol: cr.Symbol, Indicator: cr.Indicator,
			Period: cr.Period, Operator: cr.Operator, Value: cr.Value,
		}
	}

	match := req.Match
	if match == "" {
		match = "all"
	}

	now := time.Now()
	return store.Rule{
		ID:         id,
		Name:       req.Name,
		Enabled:    req.Enabled,
		Conditions: conditions,
		Match:      match,
		Action: store.Action{
			Side: req.Action.Side, Symbol: req.Action.Symbol,
			QtyPct: req.Action.QtyPct, QtyFixed: qtyFixed,
			RiskNotes: req.Action.RiskNotes, CooldownSecs: req.Action.CooldownSecs,
			RequiresApproval: req.Action.RequiresApproval,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.store.Rules(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// saveRule upserts a rule (spec §6.1 POST /rules). An id in the body
// updates that rule; an empty id creates one.
func (s *Server) saveRule(c *gin.Context) {
	var req saveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	rule, err := req.toRule()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QTY_FIXED", "action.qtyFixed must be a decimal string")
		return
	}

	ctx := c.Request.Context()
	if req.ID != "" {
		if existing, err := s.store.Rule(ctx, req.ID); err == nil {
			rule.CreatedAt = existing.CreatedAt
		}
	}

	if err := s.store.SaveRule(ctx, rule); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type activateRuleRequest struct {
	Enabled *bool `json:"enabled"`
}

// activateRule flips a rule's enabled flag (spec §6.1 POST
// /rules/:id/activate). With no body it enables; {"enabled":false}
// deactivates the same rule this endpoint otherwise activates.
func (s *Server) activateRule(c *gin.Context) {
	id := c.Param("id")

	var req activateRuleRequest
	_ = c.ShouldBindJSON(&req)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx := c.Request.Context()
	rule, err := s.store.Rule(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now()
	if err := s.store.SaveRule(ctx, rule); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// evaluateRule is a one-shot dry evaluation of a candidate rule against
// the latest snapshot — no persistence, no approval (spec §6.1 POST
// /rules/evaluate).
func (s *Server) evaluateRule(c *gin.Context) {
	var req saveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	rule, err := req.toRule()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QTY_FIXED", "action.qtyFixed must be a decimal string")
		return
	}

	fired, intent, err := s.rules.EvaluateDryRun(c.Request.Context(), rule)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fired": fired, "intent": intent})
}
