package store

import (
	"context"
	"sync"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and runs
// started without a DSN.
type Memory struct {
	mu          sync.RWMutex
	portfolio   models.Portfolio
	history     []models.Portfolio
	market      []models.MarketSnapshot
	executions  []models.AgentExecution
	decisions   []decisionRow
	signals     map[models.SourceKind][]models.Signal
	metrics     map[models.SourceKind]models.SourceMetric
	trades      []models.Trade
	cycles      []models.CycleSummary
	agentStates map[models.AgentID]AgentState
}

type decisionRow struct {
	d models.Decision
	r models.ExecutionResult
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		signals:     make(map[models.SourceKind][]models.Signal),
		metrics:     make(map[models.SourceKind]models.SourceMetric),
		agentStates: make(map[models.AgentID]AgentState),
	}
}

func (m *Memory) ReadPortfolio(ctx context.Context) (models.Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolio, nil
}

func (m *Memory) WritePortfolio(ctx context.Context, p models.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio = p
	return nil
}

func (m *Memory) AppendPortfolioSnapshot(ctx context.Context, p models.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, p)
	return nil
}

func (m *Memory) AppendMarketSnapshot(ctx context.Context, s models.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market = append(m.market, s)
	return nil
}

func (m *Memory) LatestMarketSnapshot(ctx context.Context) (models.MarketSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.market) == 0 {
		return models.MarketSnapshot{}, nil
	}
	return m.market[len(m.market)-1], nil
}

func (m *Memory) AppendAgentExecution(ctx context.Context, e models.AgentExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, e)
	return nil
}

func (m *Memory) ListAgentExecutions(ctx context.Context, agentID models.AgentID, limit int) ([]models.AgentExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AgentExecution
	for i := len(m.executions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := m.executions[i]
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) AppendDecision(ctx context.Context, d models.Decision, r models.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, decisionRow{d: d, r: r})
	return nil
}

// Decisions returns every recorded decision in append order. Test helper.
func (m *Memory) Decisions() []models.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Decision, len(m.decisions))
	for i, row := range m.decisions {
		out[i] = row.d
	}
	return out
}

// Results returns every recorded execution result in append order. Test
// helper.
func (m *Memory) Results() []models.ExecutionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ExecutionResult, len(m.decisions))
	for i, row := range m.decisions {
		out[i] = row.r
	}
	return out
}

func (m *Memory) AppendSignal(ctx context.Context, sig models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[sig.Kind] = append(m.signals[sig.Kind], sig)
	return nil
}

// Signals returns the per-kind signal log. Test helper.
func (m *Memory) Signals(kind models.SourceKind) []models.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Signal, len(m.signals[kind]))
	copy(out, m.signals[kind])
	return out
}

func (m *Memory) ReadSourceMetrics(ctx context.Context) (map[models.SourceKind]models.SourceMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.SourceKind]models.SourceMetric, len(m.metrics))
	for k, v := range m.metrics {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) WriteSourceMetrics(ctx context.Context, metrics map[models.SourceKind]models.SourceMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range metrics {
		m.metrics[k] = v
	}
	return nil
}

func (m *Memory) AppendTrade(ctx context.Context, t models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) ListRecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for i := len(m.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func (m *Memory) ReadPerformanceMetrics(ctx context.Context) (models.PerformanceMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pm models.PerformanceMetrics
	for _, t := range m.trades {
		pm.TotalTrades++
		if t.Side == models.TradeBuy {
			pm.BuyTrades++
		} else {
			pm.SellTrades++
		}
		pm.TradedValueUSD += t.ValueUSD
		if t.At.After(pm.UpdatedAt) {
			pm.UpdatedAt = t.At
		}
	}
	pm.PortfolioUSD = m.portfolio.TotalValueUSD
	return pm, nil
}

func (m *Memory) AppendCycleSummary(ctx context.Context, s models.CycleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, s)
	return nil
}

func (m *Memory) ListCycleSummaries(ctx context.Context, limit int) ([]models.CycleSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CycleSummary
	for i := len(m.cycles) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.cycles[i])
	}
	return out, nil
}

func (m *Memory) WriteAgentState(ctx context.Context, st AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentStates[st.AgentID] = st
	return nil
}

func (m *Memory) ListAgentStates(ctx context.Context) ([]AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentState, 0, len(m.agentStates))
	for _, st := range m.agentStates {
		out = append(out, st)
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}
