package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sentinel/internal/store"
)

type createApprovalRequest struct {
	Side   string `json:"side" binding:"required,oneof=buy sell"`
	Symbol string `json:"symbol" binding:"required"`
	Qty    string `json:"qty" binding:"required"`
	EstUSD string `json:"estUsd" binding:"required"`
}

type decideApprovalRequest struct {
	Action string `json:"action" binding:"required,oneof=approve decline"`
}

type executeApprovalRequest struct {
	Code string `json:"code"`
}

func (s *Server) listApprovals(c *gin.Context) {
	status := store.ApprovalStatus(c.Query("status"))
	approvals, err := s.store.Approvals(c.Request.Context(), status)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, approvals)
}

// createApproval is the owner submitting a trade directly rather than
// waiting for a rule to fire (spec §6.1 POST /approvals).
func (s *Server) createApproval(c *gin.Context) {
	var req createApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QTY", "qty must be a decimal string")
		return
	}
	estUSD, err := decimal.NewFromString(req.EstUSD)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_EST_USD", "estUsd must be a decimal string")
		return
	}

	appr, err := s.pipeline.SubmitManual(c.Request.Context(), req.Side, req.Symbol, qty, estUSD)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, appr)
}

// decideApproval approves or declines a pending approval without
// executing it (spec §6.1 PATCH /approvals/:id).
func (s *Server) decideApproval(c *gin.Context) {
	id := c.Param("id")

	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Action {
	case "approve":
		err = s.pipeline.Approve(ctx, id, actor(c))
	case "decline":
		err = s.pipeline.Decline(ctx, id, actor(c))
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	appr, err := s.store.Approval(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, appr)
}

// executeApproval runs the owner-facing MFA + brokerage execution path
// (spec §6.1 POST /approvals/:id/execute). MFA-required is a normal 200
// response with mfaRequired=true, not an error — the caller comes back
// with the code on the next call.
func (s *Server) executeApproval(c *gin.Context) {
	id := c.Param("id")

	var req executeApprovalRequest
	_ = c.ShouldBindJSON(&req) // an empty body is the normal first attempt

	result, err := s.pipeline.Execute(c.Request.Context(), id, actor(c), req.Code)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
