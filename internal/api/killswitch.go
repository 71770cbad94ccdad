package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinel/internal/store"
)

func (s *Server) getKillSwitch(c *gin.Context) {
	ks, err := s.store.ReadKillSwitch(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ks)
}

type setKillSwitchRequest struct {
	Engaged bool   `json:"engaged"`
	Reason  string `json:"reason"`
}

// setKillSwitch is the owner's manual override (spec §6.1 POST
// /kill-switch) — independent of the automatic breach checks the
// scheduler runs.
func (s *Server) setKillSwitch(c *gin.Context) {
	var req setKillSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.store.SetKillSwitch(c.Request.Context(), req.Engaged, store.ActorOwner, req.Reason); err != nil {
		respondErr(c, err)
		return
	}

	ks, err := s.store.ReadKillSwitch(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ks)
}
