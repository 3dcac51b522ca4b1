package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/models"
)

func stockGoals(t *testing.T, id models.AgentID) models.GoalTree {
	t.Helper()
	for _, s := range agent.StockSpecs() {
		if s.ID == id {
			return s.Goals
		}
	}
	t.Fatalf("no stock spec for %s", id)
	return models.GoalTree{}
}

func TestAnalyzeConflictContestedKPIs(t *testing.T) {
	growth := stockGoals(t, agent.IDStrategicOrchestrator)
	risk := stockGoals(t, agent.IDRiskSentinel)

	c := AnalyzeConflict(agent.IDStrategicOrchestrator, growth, agent.IDRiskSentinel, risk)
	assert.Greater(t, c.Severity, conflictThreshold,
		"growth and drawdown-minimization pull contested KPIs apart")
	assert.LessOrEqual(t, c.Severity, 1.0)
	assert.NotEmpty(t, c.Description)
}

func TestAnalyzeConflictDisjointKPIs(t *testing.T) {
	hunter := stockGoals(t, agent.IDMarketHunter)
	scout := stockGoals(t, agent.IDNarrativeScout)

	c := AnalyzeConflict(agent.IDMarketHunter, hunter, agent.IDNarrativeScout, scout)
	assert.Zero(t, c.Severity, "disjoint KPI sets cannot conflict")
}

func TestAnalyzeConflictNeutralOverlapStaysLow(t *testing.T) {
	analyst := stockGoals(t, agent.IDPerformanceAnalyst)
	growth := stockGoals(t, agent.IDStrategicOrchestrator)

	c := AnalyzeConflict(agent.IDPerformanceAnalyst, analyst, agent.IDStrategicOrchestrator, growth)
	assert.Less(t, c.Severity, conflictThreshold,
		"sharing only a neutral KPI is alignment, not conflict")
}
