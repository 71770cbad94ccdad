package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// portfolioCurrent reports the latest snapshot, the most recent
// collateral health reading, and the trailing 24h delta in one call
// (spec §6.1 GET /portfolio/current).
func (s *Server) portfolioCurrent(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}

	collateral, err := s.store.LatestCollateral(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}

	deltaAbs, deltaPct, err := s.snapshot.Delta24h(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshot":   snap,
		"collateral": collateral,
		"delta24h": gin.H{
			"absolute": deltaAbs,
			"pct":      deltaPct,
		},
	})
}

// forceSnapshot triggers one out-of-cadence capture (spec §6.1 POST
// /portfolio/snapshot/force) — an owner who just moved funds and wants
// the dashboard to reflect it immediately rather than waiting out the
// scheduler's cadence.
func (s *Server) forceSnapshot(c *gin.Context) {
	snap, err := s.snapshot.Capture(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
