// Package store persists portfolio state, decisions, executions, signals,
// and source metrics. Two implementations share one interface: Postgres
// for production and an in-memory store for tests and store-less runs.
package store

import (
	"context"
	"time"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// Store is the persistence contract the drivers depend on. Implementations
// must be safe for concurrent use; all failures wrap models.ErrStore.
type Store interface {
	// Portfolio state. ReadPortfolio on an empty store returns the
	// zero-value portfolio, not an error.
	ReadPortfolio(ctx context.Context) (models.Portfolio, error)
	WritePortfolio(ctx context.Context, p models.Portfolio) error
	AppendPortfolioSnapshot(ctx context.Context, p models.Portfolio) error

	// Market reads.
	AppendMarketSnapshot(ctx context.Context, s models.MarketSnapshot) error
	LatestMarketSnapshot(ctx context.Context) (models.MarketSnapshot, error)

	// Append-only logs.
	AppendAgentExecution(ctx context.Context, e models.AgentExecution) error
	ListAgentExecutions(ctx context.Context, agentID models.AgentID, limit int) ([]models.AgentExecution, error)

	// AppendDecision records a decision with its execution outcome
	// atomically.
	AppendDecision(ctx context.Context, d models.Decision, r models.ExecutionResult) error

	// AppendSignal routes the record to the per-kind signal log.
	AppendSignal(ctx context.Context, sig models.Signal) error

	// Hunter source metrics, written as a whole map each hunt.
	ReadSourceMetrics(ctx context.Context) (map[models.SourceKind]models.SourceMetric, error)
	WriteSourceMetrics(ctx context.Context, m map[models.SourceKind]models.SourceMetric) error

	// Simulated trading.
	AppendTrade(ctx context.Context, t models.Trade) error
	ListRecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	ReadPerformanceMetrics(ctx context.Context) (models.PerformanceMetrics, error)

	// Cycle bookkeeping.
	AppendCycleSummary(ctx context.Context, s models.CycleSummary) error
	ListCycleSummaries(ctx context.Context, limit int) ([]models.CycleSummary, error)

	// Registered agent state used by the status command.
	WriteAgentState(ctx context.Context, st AgentState) error
	ListAgentStates(ctx context.Context) ([]AgentState, error)

	Ping(ctx context.Context) error
	Close()
}

// AgentState is the per-agent snapshot the orchestrator persists after
// each cycle so status can read live state.
type AgentState struct {
	AgentID      models.AgentID `json:"agent_id"`
	Autonomy     float64        `json:"autonomy"`
	Reputation   float64        `json:"reputation"`
	GoalProgress float64        `json:"goal_progress"`
	Adaptations  int            `json:"adaptations"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
