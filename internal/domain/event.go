package domain

import "time"

// Topic names an event stream on the engine's event channel.
type Topic string

const (
	TopicPricesUpdated      Topic = "pricesUpdated"
	TopicOrderPlaced        Topic = "orderPlaced"
	TopicOrderFilled        Topic = "orderFilled"
	TopicOrderCancelled     Topic = "orderCancelled"
	TopicOrderRejected      Topic = "orderRejected"
	TopicAgentStatusChanged Topic = "agentStatusChanged"
	TopicRiskAlert          Topic = "riskAlert"
	TopicEmergencyStop      Topic = "emergencyStop"
	TopicTradingResumed     Topic = "tradingResumed"

	// TopicAll subscribes to every topic.
	TopicAll Topic = "*"
)

// Topics lists every concrete topic in a stable order.
func Topics() []Topic {
	return []Topic{
		TopicPricesUpdated, TopicOrderPlaced, TopicOrderFilled, TopicOrderCancelled,
		TopicOrderRejected, TopicAgentStatusChanged, TopicRiskAlert,
		TopicEmergencyStop, TopicTradingResumed,
	}
}

// Event is one notification. Seq increases by one per event in commit
// order, so consumers can detect gaps after a lossy relay.
type Event struct {
	Seq     uint64    `json:"seq"`
	Topic   Topic     `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// PricesUpdated is the payload of TopicPricesUpdated.
type PricesUpdated struct {
	Tick   uint64        `json:"tick"`
	Prices []SymbolPrice `json:"prices"`
}

// OrderFilled is the payload of TopicOrderFilled. Portfolio is the agent's
// state after the fill and the revaluation that follows it.
type OrderFilled struct {
	Tick      uint64    `json:"tick"`
	Order     Order     `json:"order"`
	Fill      Fill      `json:"fill"`
	Portfolio Portfolio `json:"portfolio"`
}

// OrderUpdate is the payload of placement, cancellation and rejection
// topics.
type OrderUpdate struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason,omitempty"`
}

// AgentStatusChanged is the payload of TopicAgentStatusChanged. From is
// empty when the agent was just created.
type AgentStatusChanged struct {
	AgentID string      `json:"agent_id"`
	From    AgentStatus `json:"from"`
	To      AgentStatus `json:"to"`
	Reason  string      `json:"reason,omitempty"`
}

// TradingResumed is the payload of TopicTradingResumed.
type TradingResumed struct {
	ResumedAt   time.Time `json:"resumed_at"`
	HaltedSince time.Time `json:"halted_since"`
}
