package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"sentinel/internal/bus"
)

var liveTopics = []bus.Topic{
	bus.TopicPortfolioUpdated,
	bus.TopicApprovalCreated,
	bus.TopicApprovalUpdated,
	bus.TopicTradeSubmitted,
	bus.TopicTradeResult,
	bus.TopicKillSwitch,
	bus.TopicAlert,
	bus.TopicCadence,
	bus.TopicSystemReconnect,
}

// live streams every domain event as server-sent events (spec §6.1 GET
// /live). The bus delivers a synthetic "connected" event on subscribe
// and a heartbeat every 30s, so the client can tell a quiet feed from a
// dead one without its own polling.
func (s *Server) live(c *gin.Context) {
	sub := s.bus.Subscribe(liveTopics, 64)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Topic), evt)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
