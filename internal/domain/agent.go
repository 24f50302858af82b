package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus controls whether an agent may trade.
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusPaused  AgentStatus = "paused"
	AgentStatusStopped AgentStatus = "stopped"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusActive, AgentStatusPaused, AgentStatusStopped:
		return true
	}
	return false
}

// AgentConfig describes an agent to register.
type AgentConfig struct {
	ID          string          `json:"id,omitempty" toml:"id"`
	Name        string          `json:"name" toml:"name"`
	Strategy    string          `json:"strategy" toml:"strategy"`
	InitialCash decimal.Decimal `json:"initial_cash" toml:"initial_cash"`
	Paused      bool            `json:"paused,omitempty" toml:"paused"`
}

// Agent is a trading identity with its own portfolio.
type Agent struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Strategy  string      `json:"strategy"`
	Status    AgentStatus `json:"status"`
	Portfolio Portfolio   `json:"portfolio"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
