package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Portfolio is the simulated holdings of the system.
type Portfolio struct {
	BTC           float64   `json:"btc"`
	USD           float64   `json:"usd"`
	TotalValueUSD float64   `json:"total_value_usd"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Revalue recomputes TotalValueUSD at the given BTC price and bumps
// UpdatedAt, keeping it monotone nondecreasing.
func (p *Portfolio) Revalue(priceUSD float64, now time.Time) {
	p.TotalValueUSD = p.USD + p.BTC*priceUSD
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// MarketSnapshot is a point-in-time market read.
type MarketSnapshot struct {
	PriceUSD  float64   `json:"price_usd"`
	Volume24h float64   `json:"volume_24h"`
	Change24h float64   `json:"change_24h"` // percent
	FearGreed int       `json:"fear_greed"` // [0,100]
	At        time.Time `json:"at"`
}

// SourceKind identifies one of the market hunter's data sources. The kind
// doubles as the signal kind for signals the source produces.
type SourceKind string

const (
	SourceWhale         SourceKind = "WHALE"
	SourceNarrative     SourceKind = "NARRATIVE"
	SourceArbitrage     SourceKind = "ARBITRAGE"
	SourceInfluencer    SourceKind = "INFLUENCER"
	SourceTechnical     SourceKind = "TECHNICAL"
	SourceInstitutional SourceKind = "INSTITUTIONAL"
	SourceDerivative    SourceKind = "DERIVATIVE"
	SourceMacro         SourceKind = "MACRO"
)

// AllSourceKinds lists every source in a stable order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{
		SourceWhale, SourceNarrative, SourceArbitrage, SourceInfluencer,
		SourceTechnical, SourceInstitutional, SourceDerivative, SourceMacro,
	}
}

// Severity grades a signal.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Signal is a market hunter finding broadcast to target agents.
type Signal struct {
	Kind       SourceKind      `json:"kind"`
	Label      string          `json:"label"` // e.g. EXTREME_GREED, POSITIVE_NARRATIVE
	Severity   Severity        `json:"severity"`
	Confidence float64         `json:"confidence"` // [0,1]
	Targets    []AgentID       `json:"targets"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	At         time.Time       `json:"at"`
}

// SourceMetric carries the rolling per-source statistics that drive the
// hunter's source-selection policy.
type SourceMetric struct {
	Name             SourceKind `json:"name"`
	SuccessRate      float64    `json:"success_rate"`       // [0,1]
	AvgSignalQuality float64    `json:"avg_signal_quality"` // [0,1]
	TotalCalls       int64      `json:"total_calls"`
	SuccessfulCalls  int64      `json:"successful_calls"`
	SignalsGenerated int64      `json:"signals_generated"`
	LastUsedAt       time.Time  `json:"last_used_at"`
}

// Validate checks the counter invariants.
func (m SourceMetric) Validate() error {
	if m.SuccessfulCalls > m.TotalCalls {
		return fmt.Errorf("%w: source %s successful_calls %d > total_calls %d",
			ErrPolicy, m.Name, m.SuccessfulCalls, m.TotalCalls)
	}
	return nil
}

// TradeSide is the direction of a simulated trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Trade is one simulated portfolio execution.
type Trade struct {
	ID       string    `json:"id"`
	CycleID  string    `json:"cycle_id"`
	Side     TradeSide `json:"side"`
	BTC      float64   `json:"btc"`
	PriceUSD float64   `json:"price_usd"`
	ValueUSD float64   `json:"value_usd"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// PerformanceMetrics aggregates trading performance from the store.
type PerformanceMetrics struct {
	TotalTrades    int64     `json:"total_trades"`
	BuyTrades      int64     `json:"buy_trades"`
	SellTrades     int64     `json:"sell_trades"`
	TradedValueUSD float64   `json:"traded_value_usd"`
	PortfolioUSD   float64   `json:"portfolio_usd"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MessageKind types a bus message.
type MessageKind string

const (
	MsgSignal            MessageKind = "signal"
	MsgAdaptationRequest MessageKind = "adaptation_request"
	MsgCoordination      MessageKind = "coordination"
)

// Message is the typed envelope agents exchange over the bus.
type Message struct {
	ID      string          `json:"id"`
	From    AgentID         `json:"from"`
	To      AgentID         `json:"to"` // BroadcastID for fan-out
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}
