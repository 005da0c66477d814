package domain

import "time"

// TradingDateLayout is the UTC calendar-day format used for daily rollover.
const TradingDateLayout = "2006-01-02"

// DailyState accumulates per-UTC-day counters. It resets whenever the
// persisted TradingDate no longer matches the current UTC day at load time.
type DailyState struct {
	TradingDate string     `json:"trading_date"`
	PnL         float64    `json:"pnl"`
	TradeCount  int        `json:"trade_count"`
	Volume      float64    `json:"volume"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`
}

// CircuitBreakerState is the persisted portion of the circuit breaker.
type CircuitBreakerState struct {
	Paused              bool       `json:"paused"`
	Reason              string     `json:"reason,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AsymmetricCount     int        `json:"asymmetric_count"`
}

// BotState is the full durable process state written as one snapshot
// document. The state store owns the canonical Position set; everything else
// holding positions in memory is a denormalization of this.
type BotState struct {
	Daily               DailyState          `json:"daily"`
	CircuitBreaker      CircuitBreakerState `json:"circuit_breaker"`
	Positions           []Position          `json:"positions"`
	HypotheticalPnL     float64             `json:"hypothetical_pnl"`
	LastHeartbeat       time.Time           `json:"last_heartbeat"`
	LastSuccessfulTrade *time.Time          `json:"last_successful_trade,omitempty"`
}
