package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskAlertKind identifies which limit an alert refers to.
type RiskAlertKind string

const (
	RiskAlertDrawdown      RiskAlertKind = "drawdown"
	RiskAlertMargin        RiskAlertKind = "margin"
	RiskAlertConcentration RiskAlertKind = "concentration"
	RiskAlertKillSwitch    RiskAlertKind = "kill_switch"
)

// RiskSeverity grades an alert.
type RiskSeverity string

const (
	RiskSeverityWarning  RiskSeverity = "warning"
	RiskSeverityCritical RiskSeverity = "critical"
)

// RiskAlert is raised when an agent enters breach of a limit and cleared
// when it leaves it.
type RiskAlert struct {
	ID       string          `json:"id"`
	AgentID  string          `json:"agent_id,omitempty"`
	Kind     RiskAlertKind   `json:"kind"`
	Severity RiskSeverity    `json:"severity"`
	Value    decimal.Decimal `json:"value"`
	Limit    decimal.Decimal `json:"limit"`
	Message  string          `json:"message"`
	Cleared  bool            `json:"cleared,omitempty"`
	RaisedAt time.Time       `json:"raised_at"`
}

// HaltSummary is the outcome of an emergency stop, and the payload of
// TopicEmergencyStop.
type HaltSummary struct {
	Reason          string    `json:"reason"`
	HaltedAt        time.Time `json:"halted_at"`
	AgentsPaused    int       `json:"agents_paused"`
	OrdersCancelled int       `json:"orders_cancelled"`
	AlreadyHalted   bool      `json:"already_halted,omitempty"`
}

// StressScenario describes a hypothetical price shock. Shocks are
// fractional moves, e.g. -0.2 for a 20% drop. Symbol shocks take
// precedence over class shocks, which take precedence over Default.
type StressScenario struct {
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	Default      decimal.Decimal            `json:"default"`
	ClassShocks  map[string]decimal.Decimal `json:"class_shocks,omitempty"`
	SymbolShocks map[string]decimal.Decimal `json:"symbol_shocks,omitempty"`
}

// AgentStressResult is one agent's valuation under a scenario.
type AgentStressResult struct {
	AgentID       string          `json:"agent_id"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ShockedValue  decimal.Decimal `json:"shocked_value"`
	Impact        decimal.Decimal `json:"impact"`
	ImpactPct     decimal.Decimal `json:"impact_pct"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	BreachesLimit bool            `json:"breaches_limit"`
}

// StressResult aggregates a scenario run. Running a scenario never mutates
// engine state.
type StressResult struct {
	Scenario      StressScenario             `json:"scenario"`
	ShockedPrices map[string]decimal.Decimal `json:"shocked_prices"`
	Agents        []AgentStressResult        `json:"agents"`
	CurrentValue  decimal.Decimal            `json:"current_value"`
	ShockedValue  decimal.Decimal            `json:"shocked_value"`
	Impact        decimal.Decimal            `json:"impact"`
	Breaches      int                        `json:"breaches"`
	RunAt         time.Time                  `json:"run_at"`
}

// EngineSummary is the dashboard overview across all agents.
type EngineSummary struct {
	Agents        int                 `json:"agents"`
	ByStatus      map[AgentStatus]int `json:"by_status"`
	TotalValue    decimal.Decimal     `json:"total_value"`
	TotalCash     decimal.Decimal     `json:"total_cash"`
	InitialValue  decimal.Decimal     `json:"initial_value"`
	TotalPnL      decimal.Decimal     `json:"total_pnl"`
	UnrealizedPnL decimal.Decimal     `json:"unrealized_pnl"`
	Exposure      decimal.Decimal     `json:"exposure"`
	OpenOrders    int                 `json:"open_orders"`
	TotalTrades   int                 `json:"total_trades"`
	WinRate       decimal.Decimal     `json:"win_rate"`
	ActiveAlerts  int                 `json:"active_alerts"`
	Halted        bool                `json:"halted"`
	Tick          uint64              `json:"tick"`
	AsOf          time.Time           `json:"as_of"`
}

// EngineStatus reports the engine's operational state.
type EngineStatus struct {
	Running    bool      `json:"running"`
	Halted     bool      `json:"halted"`
	HaltReason string    `json:"halt_reason,omitempty"`
	HaltedAt   time.Time `json:"halted_at,omitzero"`
	Tick       uint64    `json:"tick"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	Symbols    int       `json:"symbols"`
	Agents     int       `json:"agents"`
}
