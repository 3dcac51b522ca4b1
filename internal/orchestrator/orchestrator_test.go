package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/decisionlog"
	"github.com/ajitpratap0/btcintel/internal/expert"
	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/models"
	"github.com/ajitpratap0/btcintel/internal/store"
)

type fakeMarket struct {
	snap     models.MarketSnapshot
	priceErr error
	candles  []marketdata.Candle
}

func (f *fakeMarket) FetchPrice(ctx context.Context) (models.MarketSnapshot, error) {
	return f.snap, f.priceErr
}

func (f *fakeMarket) FetchNews(ctx context.Context, limit int) ([]marketdata.NewsItem, error) {
	return nil, nil
}

func (f *fakeMarket) FetchSource(ctx context.Context, kind models.SourceKind) (*marketdata.SourceData, error) {
	return &marketdata.SourceData{Kind: kind, Candles: f.candles}, nil
}

type brokenStore struct {
	*store.Memory
}

func (b *brokenStore) ReadPortfolio(ctx context.Context) (models.Portfolio, error) {
	return models.Portfolio{}, models.ErrStore
}

type fixture struct {
	o      *Orchestrator
	st     *store.Memory
	b      *bus.Bus
	clk    *clock.Manual
	dlog   *decisionlog.Logger
	agents map[models.AgentID]*agent.Base
}

func newFixture(t *testing.T, market marketdata.Market) *fixture {
	t.Helper()
	b, err := bus.New(bus.Config{Embedded: true, Prefix: "test.orch.", InboxSize: 16}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	st := store.NewMemory()
	require.NoError(t, st.WritePortfolio(context.Background(), models.Portfolio{BTC: 0, USD: 10000}))

	agents, err := agent.NewStockAgents(b, clk, zerolog.Nop())
	require.NoError(t, err)
	byID := make(map[models.AgentID]*agent.Base, len(agents))
	for _, a := range agents {
		byID[a.ID()] = a
	}

	dlog := decisionlog.New(st, decisionlog.Config{BatchSize: 4, FlushInterval: 50 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(dlog.Close)

	cfg := config.OrchestratorConfig{
		CycleInterval:     10 * time.Minute,
		CycleSoftDeadline: 2 * time.Minute,
		AgentHookTimeout:  2 * time.Second,
	}
	o := New(cfg, agents, st, market, b, dlog, clk, zerolog.Nop())
	return &fixture{o: o, st: st, b: b, clk: clk, dlog: dlog, agents: byID}
}

func calmMarket() *fakeMarket {
	return &fakeMarket{snap: models.MarketSnapshot{PriceUSD: 64000, Change24h: 0.5, FearGreed: 50, At: time.Now()}}
}

func countByType(decisions []models.Decision, dt models.DecisionType) int {
	n := 0
	for _, d := range decisions {
		if d.Type == dt {
			n++
		}
	}
	return n
}

func TestFirstCycle(t *testing.T) {
	f := newFixture(t, calmMarket())

	report, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "c0", report.CycleID)
	assert.Equal(t, 1, countByType(report.Decisions, models.DecisionExpertIntegration),
		"exactly one methodology integration per cycle")
	assert.Zero(t, countByType(report.Decisions, models.DecisionAgentAdaptation),
		"fresh agents default to progress 0.7 and need no adaptation")

	// Autonomy untouched: every performance score sits between the
	// adjustment thresholds.
	want := map[models.AgentID]float64{
		agent.IDStrategicOrchestrator: 0.95,
		agent.IDMarketHunter:          0.85,
		agent.IDPerformanceAnalyst:    0.80,
		agent.IDRiskSentinel:          0.75,
		agent.IDNarrativeScout:        0.80,
	}
	for id, a := range f.agents {
		assert.InDelta(t, want[id], a.Autonomy(), 1e-9, string(id))
	}

	// Every decision reaches the logger tagged with this cycle.
	f.dlog.Close()
	require.NotEmpty(t, f.st.Decisions())
	for _, d := range f.st.Decisions() {
		assert.Equal(t, "c0", d.CycleID)
	}

	// Cycle ids are sequential.
	report2, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", report2.CycleID)
}

func TestLowProgressDrivesAdaptation(t *testing.T) {
	f := newFixture(t, calmMarket())
	target := f.agents[agent.IDStrategicOrchestrator]
	target.ObserveProgress(0.4)

	adaptations := 0
	for i := 0; i < 3; i++ {
		report, err := f.o.RunCycleOnce(context.Background())
		require.NoError(t, err)
		adaptations += countByType(report.Decisions, models.DecisionAgentAdaptation)
		f.clk.Advance(10 * time.Minute)
	}

	assert.Equal(t, 3, adaptations, "one adaptation decision per cycle while progress stays low")
	assert.Equal(t, 3, target.AdaptationCount())
	assert.GreaterOrEqual(t, target.Autonomy(), models.AutonomyMin)
}

func TestVolatilitySpikeDrivesRegimeAdaptation(t *testing.T) {
	market := &fakeMarket{snap: models.MarketSnapshot{PriceUSD: 58000, Change24h: -12, FearGreed: 20, At: time.Now()}}
	f := newFixture(t, market)

	report, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err)

	var regime *models.Decision
	for i := range report.Decisions {
		if report.Decisions[i].Type == models.DecisionExpertRegimeAdaptation {
			regime = &report.Decisions[i]
		}
	}
	require.NotNil(t, regime)
	assert.Equal(t, models.PriorityCritical, regime.Priority)
	assert.Equal(t, []models.ActionTag{
		models.ActionSwitchToPreservation,
		models.ActionReduceLeverage,
		models.ActionWaitForStability,
	}, regime.Actions)

	// Critical decisions execute first.
	require.NotEmpty(t, report.Results)
	assert.Equal(t, models.DecisionExpertRegimeAdaptation, report.Results[0].Type)

	// The fan-out leaves every agent in the waiting posture.
	for id, a := range f.agents {
		assert.Equal(t, agent.ModeWaiting, a.Mode(), string(id))
	}
}

func TestExecutionOrder(t *testing.T) {
	a := models.Decision{ID: uuid.New(), Type: models.DecisionSystemRealignment,
		Priority: models.PriorityHigh, ExpectedImprovement: 0.2, ExpectedDurationMS: 200}
	b := models.Decision{ID: uuid.New(), Type: models.DecisionConflictResolution,
		Priority: models.PriorityHigh, ExpectedImprovement: 0.1, ExpectedDurationMS: 100}
	c := models.Decision{ID: uuid.New(), Type: models.DecisionExpertRiskControl,
		Priority: models.PriorityCritical, ExpectedImprovement: 0.05, ExpectedDurationMS: 900}

	decisions := []models.Decision{b, a, c}
	sortDecisions(decisions)

	assert.Equal(t, c.ID, decisions[0].ID)
	assert.Equal(t, a.ID, decisions[1].ID)
	assert.Equal(t, b.ID, decisions[2].ID)
}

func TestExecutionOrderTieBreaks(t *testing.T) {
	slow := models.Decision{ID: uuid.New(), Priority: models.PriorityMedium,
		ExpectedImprovement: 0.1, ExpectedDurationMS: 900}
	fast := models.Decision{ID: uuid.New(), Priority: models.PriorityMedium,
		ExpectedImprovement: 0.1, ExpectedDurationMS: 100}

	decisions := []models.Decision{slow, fast}
	sortDecisions(decisions)
	assert.Equal(t, fast.ID, decisions[0].ID, "equal improvement breaks on shorter duration")
}

func TestUnknownDecisionTypeFails(t *testing.T) {
	f := newFixture(t, calmMarket())

	decisions := []models.Decision{{
		ID:      uuid.New(),
		AgentID: agent.IDStrategicOrchestrator,
		Type:    models.DecisionType("TIME_TRAVEL"),
	}}
	results := f.o.executeDecisions(context.Background(), decisions, expertHold(), models.MarketSnapshot{},
		models.Portfolio{}, "c0", zerolog.Nop())

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 0.2, results[0].Quality)
}

func TestPolicyViolationQuality(t *testing.T) {
	f := newFixture(t, calmMarket())

	decisions := []models.Decision{{
		ID:      uuid.New(),
		AgentID: models.AgentID("ghost"),
		Type:    models.DecisionAgentAdaptation,
	}}
	results := f.o.executeDecisions(context.Background(), decisions, expertHold(), models.MarketSnapshot{},
		models.Portfolio{}, "c0", zerolog.Nop())

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 0.3, results[0].Quality)
}

func TestLearningRateBoundaries(t *testing.T) {
	f := newFixture(t, calmMarket())

	allGood := []models.ExecutionResult{{Success: true}, {Success: true}, {Success: true}}
	f.o.mu.Lock()
	f.o.learningRate = learningRateCap
	f.o.mu.Unlock()
	assert.Equal(t, learningRateCap, f.o.updateLearning(allGood), "cap holds")

	allBad := []models.ExecutionResult{{Success: false}, {Success: false}}
	f.o.mu.Lock()
	f.o.learningRate = learningRateFloor
	f.o.mu.Unlock()
	assert.Equal(t, learningRateFloor, f.o.updateLearning(allBad), "floor holds")

	f.o.mu.Lock()
	f.o.learningRate = 0.1
	f.o.mu.Unlock()
	assert.InDelta(t, 0.11, f.o.updateLearning(allGood), 1e-9)
	f.o.mu.Lock()
	f.o.learningRate = 0.1
	f.o.mu.Unlock()
	assert.InDelta(t, 0.09, f.o.updateLearning(allBad), 1e-9)
}

func TestAutonomyAdjustmentBoundaries(t *testing.T) {
	f := newFixture(t, calmMarket())
	a := f.agents[agent.IDMarketHunter]
	a.UpdateAutonomy(0.80)

	// Exactly at the threshold: no change.
	f.o.adjustAutonomy([]agentEval{{ID: a.ID(), Autonomy: 0.80, PerformanceScore: 0.85}})
	assert.InDelta(t, 0.80, a.Autonomy(), 1e-9)

	// Strictly above: multiplied by 1.05.
	f.o.adjustAutonomy([]agentEval{{ID: a.ID(), Autonomy: 0.80, PerformanceScore: 0.86}})
	assert.InDelta(t, 0.84, a.Autonomy(), 1e-9)

	// Cap at 0.99.
	a.UpdateAutonomy(0.98)
	f.o.adjustAutonomy([]agentEval{{ID: a.ID(), Autonomy: 0.98, PerformanceScore: 0.9}})
	assert.InDelta(t, models.AutonomyMax, a.Autonomy(), 1e-9)

	// Below 0.5: multiplied by 0.95, floored at 0.30.
	a.UpdateAutonomy(0.31)
	f.o.adjustAutonomy([]agentEval{{ID: a.ID(), Autonomy: 0.31, PerformanceScore: 0.4}})
	assert.InDelta(t, models.AutonomyMin, a.Autonomy(), 1e-9)
}

func TestReputationDelta(t *testing.T) {
	f := newFixture(t, calmMarket())
	id := agent.IDNarrativeScout

	f.o.bumpReputation(id, 0.9)
	assert.InDelta(t, 0.70+0.4*0.05, f.o.Reputation(id), 1e-9)

	f.o.bumpReputation(id, 0.2)
	assert.InDelta(t, 0.72-0.3*0.05, f.o.Reputation(id), 1e-9)

	// Unknown agents are ignored.
	f.o.bumpReputation("ghost", 1.0)
	assert.Zero(t, f.o.Reputation("ghost"))
}

func TestCyclesDoNotOverlap(t *testing.T) {
	f := newFixture(t, calmMarket())
	f.o.busy.Store(true)

	_, err := f.o.RunCycleOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPolicy)
}

func TestPhase1FailureAbortsCycle(t *testing.T) {
	f := newFixture(t, calmMarket())
	f.o.st = &brokenStore{Memory: f.st}

	_, err := f.o.RunCycleOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStore)

	f.dlog.Close()
	assert.Empty(t, f.st.Decisions(), "an aborted cycle persists nothing")
}

func TestProviderFailureDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t, &fakeMarket{priceErr: errors.New("aggregator down")})

	report, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err, "phase 4 provider failure falls back and the cycle proceeds")
	assert.Equal(t, 1, countByType(report.Decisions, models.DecisionExpertIntegration))
}

func TestBuySignalExecutesTrade(t *testing.T) {
	// Clear uptrend with sentiment headroom: the expert buys.
	market := &fakeMarket{
		snap: models.MarketSnapshot{PriceUSD: 64000, Change24h: 4.0, FearGreed: 40, At: time.Now()},
	}
	f := newFixture(t, market)

	report, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err)

	trades, err := f.st.ListRecentTrades(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.TradeBuy, trades[0].Side)
	assert.Equal(t, report.CycleID, trades[0].CycleID)

	portfolio, err := f.st.ReadPortfolio(context.Background())
	require.NoError(t, err)
	assert.Positive(t, portfolio.BTC)
	assert.Less(t, portfolio.USD, 10000.0)
	// Hard cap: at most 2% of value traded.
	assert.LessOrEqual(t, trades[0].ValueUSD, 10000*0.02+1e-9)
}

func TestPersistCycleWritesSummaryAndStates(t *testing.T) {
	f := newFixture(t, calmMarket())

	_, err := f.o.RunCycleOnce(context.Background())
	require.NoError(t, err)

	summaries, err := f.st.ListCycleSummaries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "c0", summaries[0].CycleID)
	assert.Positive(t, summaries[0].Decisions)

	states, err := f.st.ListAgentStates(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 5)
}

func expertHold() expert.Decision {
	return expert.Decision{Regime: expert.RegimeChoppy, Action: expert.ActionHold}
}
