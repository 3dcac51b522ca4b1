package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/models"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.New(bus.Config{Embedded: true, Prefix: "test.agents.", InboxSize: 16}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newTestAgent(t *testing.T, spec Spec) *Base {
	t.Helper()
	a, err := New(spec, newTestBus(t), clock.NewManual(time.Unix(1700000000, 0)), zerolog.Nop())
	require.NoError(t, err)
	return a
}

func hunterSpec() Spec {
	for _, s := range StockSpecs() {
		if s.ID == IDMarketHunter {
			return s
		}
	}
	panic("market-hunter spec missing")
}

func TestStockSpecsMatchInitialState(t *testing.T) {
	b := newTestBus(t)
	agents, err := NewStockAgents(b, clock.NewManual(time.Unix(1700000000, 0)), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, agents, 5)

	want := map[models.AgentID]float64{
		IDStrategicOrchestrator: 0.95,
		IDMarketHunter:          0.85,
		IDPerformanceAnalyst:    0.80,
		IDRiskSentinel:          0.75,
		IDNarrativeScout:        0.80,
	}
	for _, a := range agents {
		assert.Equal(t, want[a.ID()], a.Autonomy(), string(a.ID()))
		assert.NoError(t, a.Goals().Validate())
		assert.NotNil(t, a.Inbox())
	}
}

func TestUpdateAutonomyClamps(t *testing.T) {
	a := newTestAgent(t, hunterSpec())

	a.UpdateAutonomy(1.5)
	assert.Equal(t, models.AutonomyMax, a.Autonomy())

	a.UpdateAutonomy(0.01)
	assert.Equal(t, models.AutonomyMin, a.Autonomy())

	// Clamping is idempotent at the rails.
	a.UpdateAutonomy(a.Autonomy())
	assert.Equal(t, models.AutonomyMin, a.Autonomy())
}

func TestFreshAgentDefaultsProgress(t *testing.T) {
	a := newTestAgent(t, hunterSpec())

	report, err := a.EvaluateGoalProgress(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.7, report.OverallProgress, 1e-9)
	assert.False(t, report.NeedsAdaptation)
}

func TestLowProgressFlagsAdaptation(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	a.ObserveProgress(0.4)

	report, err := a.EvaluateGoalProgress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.4, report.OverallProgress)
	assert.True(t, report.NeedsAdaptation)

	a.ObserveProgress(0.6)
	report, err = a.EvaluateGoalProgress(context.Background())
	require.NoError(t, err)
	assert.False(t, report.NeedsAdaptation, "0.6 is not below the threshold")
}

func TestAssessStateSnapshot(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	a.RecordPerf(models.PerfMetrics{Efficiency: 0.9, Accuracy: 0.8, Responsiveness: 0.85})
	a.ObserveProgress(0.75)

	s, err := a.AssessState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IDMarketHunter, s.AgentID)
	assert.Equal(t, 0.9, s.Perf.Efficiency)
	assert.Equal(t, 0.75, s.GoalProgress)
	assert.Equal(t, 0.85, s.Autonomy)
}

func TestEvolveGoalsOnlyTouchesModifiable(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	before := a.Goals()

	decision := models.Decision{Type: models.DecisionAgentAdaptation, AgentID: a.ID()}
	after, err := a.EvolveGoals(context.Background(), decision)
	require.NoError(t, err)

	assert.Equal(t, before.Primary, after.Primary, "immutable primary goal must not change")
	require.Len(t, after.Secondary, len(before.Secondary))
	for i, sg := range after.Secondary {
		assert.Equal(t, before.Secondary[i].ID, sg.ID, "goal ids are stable across evolution")
		if before.Secondary[i].AutonomouslyModifiable {
			assert.Greater(t, sg.Priority, before.Secondary[i].Priority)
		} else {
			assert.Equal(t, before.Secondary[i].Priority, sg.Priority)
		}
	}
	assert.Equal(t, 1, a.AdaptationCount())
	assert.NoError(t, after.Validate())
}

func TestEvolveGoalsRejectsWrongDecisionType(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	before := a.Goals()

	_, err := a.EvolveGoals(context.Background(), models.Decision{Type: models.DecisionSystemRealignment})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPolicy)
	assert.Equal(t, before, a.Goals(), "rejected evolution must leave goals untouched")
	assert.Zero(t, a.AdaptationCount())
}

func TestAdaptationCountMonotone(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	decision := models.Decision{Type: models.DecisionAgentAdaptation}

	for i := 1; i <= 3; i++ {
		_, err := a.EvolveGoals(context.Background(), decision)
		require.NoError(t, err)
		assert.Equal(t, i, a.AdaptationCount())
	}
}

func TestExecuteAdaptationActions(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	start := a.Autonomy()

	err := a.ExecuteAdaptation(context.Background(), []models.ActionTag{
		models.ActionIncreaseAutonomy,
		models.ActionSwitchToPreservation,
	})
	require.NoError(t, err)
	assert.InDelta(t, start*1.05, a.Autonomy(), 1e-9)
	assert.Equal(t, ModePreservation, a.Mode())

	err = a.ExecuteAdaptation(context.Background(), []models.ActionTag{models.ActionWaitForStability})
	require.NoError(t, err)
	assert.Equal(t, ModeWaiting, a.Mode())
}

func TestExecuteAdaptationUnknownTagIsNoOp(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	goals := a.Goals()
	autonomy := a.Autonomy()

	err := a.ExecuteAdaptation(context.Background(), []models.ActionTag{"DO_A_BACKFLIP"})
	require.NoError(t, err)
	assert.Equal(t, goals, a.Goals())
	assert.Equal(t, autonomy, a.Autonomy())
	assert.Equal(t, ModeNormal, a.Mode())
}

func TestHooksHonorCancelledContext(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.AssessState(ctx)
	assert.ErrorIs(t, err, models.ErrCancelled)
	_, err = a.EvaluateGoalProgress(ctx)
	assert.ErrorIs(t, err, models.ErrCancelled)
	_, err = a.EvolveGoals(ctx, models.Decision{Type: models.DecisionAgentAdaptation})
	assert.ErrorIs(t, err, models.ErrCancelled)
	err = a.ExecuteAdaptation(ctx, nil)
	assert.ErrorIs(t, err, models.ErrCancelled)
}

func TestDecisionHistoryBounded(t *testing.T) {
	a := newTestAgent(t, hunterSpec())
	for i := 0; i < historyCap+20; i++ {
		a.RecordDecision(models.Decision{CycleID: "c0"})
	}
	assert.Len(t, a.RecentDecisions(), historyCap)
}

func TestInvalidSpecRejected(t *testing.T) {
	spec := hunterSpec()
	spec.Traits[models.TraitCuriosity] = 140

	_, err := New(spec, newTestBus(t), clock.NewManual(time.Unix(1700000000, 0)), zerolog.Nop())
	assert.ErrorIs(t, err, models.ErrPolicy)
}
