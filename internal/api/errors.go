package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinel/internal/apperr"
)

// respondError writes the API's uniform error envelope.
func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

// respondErr is the only place result kinds (risk rejection, kill-switch
// engagement, MFA failure, invalid state, not-found) are translated to
// HTTP status codes (spec §6.1: "the HTTP adapter is the only place
// that translates result kinds to status codes"). Everywhere else in
// the supervisor these are plain sentinel errors, not control flow.
func respondErr(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, apperr.ErrDegraded):
		status, code = http.StatusServiceUnavailable, "DEGRADED"
	case errors.Is(err, apperr.ErrKillSwitchEngaged):
		status, code = http.StatusConflict, "KILL_SWITCH_ENGAGED"
	case errors.Is(err, apperr.ErrRiskRejected):
		status, code = http.StatusConflict, "RISK_REJECTED"
	case errors.Is(err, apperr.ErrMFAInvalid):
		status, code = http.StatusBadRequest, "MFA_INVALID"
	case errors.Is(err, apperr.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, apperr.ErrConfigInvalid):
		status, code = http.StatusBadRequest, "INVALID_CONFIG"
	}
	respondError(c, status, code, err.Error())
}
