package bus

// Topic enumerates the event-bus subjects state changes are published on.
type Topic string

const (
	TopicConnected        Topic = "connected"
	TopicHeartbeat        Topic = "heartbeat"
	TopicPortfolioUpdated Topic = "portfolio:updated"
	TopicApprovalCreated  Topic = "approval:created"
	TopicApprovalUpdated  Topic = "approval:updated"
	TopicTradeSubmitted   Topic = "trade:submitted"
	TopicTradeResult      Topic = "trade:result"
	TopicKillSwitch       Topic = "kill_switch:changed"
	TopicAlert            Topic = "alert"
	TopicCadence          Topic = "cadence"
	TopicSystemReconnect  Topic = "system:reconnected"
)

// Event is the envelope published on the bus.
type Event struct {
	Topic     Topic `json:"topic"`
	Payload   any   `json:"payload,omitempty"`
	Timestamp int64 `json:"ts"`
}
